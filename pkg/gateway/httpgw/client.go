// Package httpgw implements the gateway contract over the Seedling REST
// API. Every request goes through the resilient client (retry, backoff,
// circuit breaker, traceparent injection) and carries the session bearer
// token; error responses are RFC 7807 problem details.
package httpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/state"
	"github.com/seedling-social/likewire/pkg/util/resiliency"
)

// SupportedAPIVersions is the server version range this client speaks.
const SupportedAPIVersions = ">=1.2.0 <2.0.0"

// Config configures the HTTP gateway.
type Config struct {
	BaseURL      string
	SessionToken string
	Timeout      time.Duration // per-request; zero means 5s
}

// Client talks to the interactions endpoints of the Seedling API.
type Client struct {
	base       *url.URL
	token      string
	http       *resiliency.Client
	constraint *semver.Constraints
}

var _ gateway.Gateway = (*Client)(nil)

// New builds an HTTP gateway client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	constraint, err := semver.NewConstraint(SupportedAPIVersions)
	if err != nil {
		return nil, fmt.Errorf("parse version constraint: %w", err)
	}
	return &Client{
		base:       base,
		token:      cfg.SessionToken,
		http:       resiliency.NewClient("seedling-api", timeout, 5, 10*time.Second),
		constraint: constraint,
	}, nil
}

// problemDetail mirrors the API's RFC 7807 error body.
type problemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (p *problemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// wireEntry is the row shape the API returns. The profile block is
// optional; missing names fall back to the placeholder during mapping.
type wireEntry struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
	Profile   *struct {
		DisplayName string `json:"display_name"`
	} `json:"profile,omitempty"`
}

func (w wireEntry) toEntry(subjectID string) state.Entry {
	e := state.Entry{
		ID:        w.ID,
		SubjectID: w.SubjectID,
		ActorID:   w.ActorID,
		CreatedAt: w.CreatedAt,
	}
	if w.Profile != nil {
		e.ActorDisplayName = w.Profile.DisplayName
	}
	return gateway.NormalizeEntry(e, subjectID)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	u := *c.base
	if path, query, ok := strings.Cut(path, "?"); ok {
		u.Path = c.base.Path + path
		u.RawQuery = query
	} else {
		u.Path = c.base.Path + path
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		problem := &problemDetail{Status: resp.StatusCode, Title: resp.Status}
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/problem+json") {
			_ = json.NewDecoder(resp.Body).Decode(problem)
		}
		return problem
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CheckVersion verifies the server's reported API version satisfies the
// supported range. Called once at wiring time; a mismatch is fatal.
func (c *Client) CheckVersion(ctx context.Context) error {
	u := *c.base
	u.Path = c.base.Path + "/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw := resp.Header.Get("X-Api-Version")
	if raw == "" {
		return fmt.Errorf("server did not report an API version")
	}
	version, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("parse server version %q: %w", raw, err)
	}
	if !c.constraint.Check(version) {
		return fmt.Errorf("server API version %s outside supported range %s", version, SupportedAPIVersions)
	}
	return nil
}

// ToggleInteraction flips the actor's like on a subject server-side.
func (c *Client) ToggleInteraction(ctx context.Context, subjectID, actorID string) (*gateway.ToggleResult, error) {
	payload := strings.NewReader(fmt.Sprintf(`{"actor_id":%q}`, actorID))
	var res gateway.ToggleResult
	if err := c.do(ctx, http.MethodPost, "/v1/interactions/"+subjectID+"/toggle", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// InteractionCount returns the subject's total like count.
func (c *Client) InteractionCount(ctx context.Context, subjectID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/interactions/"+subjectID+"/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MyInteractionStatus reports whether the actor has liked the subject.
func (c *Client) MyInteractionStatus(ctx context.Context, subjectID, actorID string) (bool, error) {
	var out struct {
		IsLikedByMe bool `json:"is_liked_by_me"`
	}
	path := "/v1/interactions/" + subjectID + "/status?actor_id=" + url.QueryEscape(actorID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.IsLikedByMe, nil
}

// ListInteractionDetails returns every like record on the subject.
func (c *Client) ListInteractionDetails(ctx context.Context, subjectID string) ([]state.Entry, error) {
	var out struct {
		Entries []wireEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/interactions/"+subjectID, nil, &out); err != nil {
		return nil, err
	}
	entries := make([]state.Entry, 0, len(out.Entries))
	for _, w := range out.Entries {
		entries = append(entries, w.toEntry(subjectID))
	}
	return entries, nil
}
