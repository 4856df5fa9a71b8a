package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named environment overlay (local, staging, production).
// Zero-valued fields leave the env-derived configuration untouched.
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	GatewayKind string `yaml:"gateway" json:"gateway"`
	APIBaseURL  string `yaml:"api_base_url,omitempty" json:"api_base_url,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	PushTopic   string `yaml:"push_topic,omitempty" json:"push_topic,omitempty"`

	StreamFailureThreshold int `yaml:"stream_failure_threshold,omitempty" json:"stream_failure_threshold,omitempty"`
	StreamCooldownMs       int `yaml:"stream_cooldown_ms,omitempty" json:"stream_cooldown_ms,omitempty"`
	PollIntervalMs         int `yaml:"poll_interval_ms,omitempty" json:"poll_interval_ms,omitempty"`
	CallTimeoutMs          int `yaml:"call_timeout_ms,omitempty" json:"call_timeout_ms,omitempty"`
	ToggleDebounceMs       int `yaml:"toggle_debounce_ms,omitempty" json:"toggle_debounce_ms,omitempty"`
	StateTTLMs             int `yaml:"state_ttl_ms,omitempty" json:"state_ttl_ms,omitempty"`
}

// LoadProfile loads a profile YAML by name from the profiles directory.
// It searches for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// Overlay applies a profile's non-zero fields onto the configuration.
func (c *Config) Overlay(p *Profile) {
	if p == nil {
		return
	}
	if p.GatewayKind != "" {
		c.GatewayKind = p.GatewayKind
	}
	if p.APIBaseURL != "" {
		c.APIBaseURL = p.APIBaseURL
	}
	if p.PostgresDSN != "" {
		c.PostgresDSN = p.PostgresDSN
	}
	if p.RedisAddr != "" {
		c.RedisAddr = p.RedisAddr
	}
	if p.PushTopic != "" {
		c.PushTopic = p.PushTopic
	}
	if p.StreamFailureThreshold > 0 {
		c.StreamFailureThreshold = p.StreamFailureThreshold
	}
	if p.StreamCooldownMs > 0 {
		c.StreamCooldown = time.Duration(p.StreamCooldownMs) * time.Millisecond
	}
	if p.PollIntervalMs > 0 {
		c.PollInterval = time.Duration(p.PollIntervalMs) * time.Millisecond
	}
	if p.CallTimeoutMs > 0 {
		c.CallTimeout = time.Duration(p.CallTimeoutMs) * time.Millisecond
	}
	if p.ToggleDebounceMs > 0 {
		c.ToggleDebounce = time.Duration(p.ToggleDebounceMs) * time.Millisecond
	}
	if p.StateTTLMs > 0 {
		c.StateTTL = time.Duration(p.StateTTLMs) * time.Millisecond
	}
}
