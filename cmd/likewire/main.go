// Command likewire is a diagnostic client for the interaction sync engine:
// it wires a gateway and push bridge from the environment, then either
// toggles a like once or watches a subject's state reconcile live.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/seedling-social/likewire/pkg/config"
	"github.com/seedling-social/likewire/pkg/engine"
	"github.com/seedling-social/likewire/pkg/gateway"
	"github.com/seedling-social/likewire/pkg/gateway/httpgw"
	"github.com/seedling-social/likewire/pkg/gateway/pggw"
	"github.com/seedling-social/likewire/pkg/gateway/redisgw"
	"github.com/seedling-social/likewire/pkg/identity"
	"github.com/seedling-social/likewire/pkg/observability"
	"github.com/seedling-social/likewire/pkg/push"
	"github.com/seedling-social/likewire/pkg/state"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)

	switch args[1] {
	case "toggle":
		return runToggle(cfg, args[2:], stdout, stderr)
	case "watch":
		return runWatch(cfg, args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "likewire 1.0.0")
		return 0
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: likewire <toggle|watch|version> [flags] <subject-id>")
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func resolveActor(cfg *config.Config) (identity.Actor, error) {
	if cfg.SessionToken != "" && cfg.SessionSecret != "" {
		return identity.ParseSessionToken(cfg.SessionToken, []byte(cfg.SessionSecret))
	}
	// Local development shortcut: trust LIKEWIRE_ACTOR_ID directly.
	if id := os.Getenv("LIKEWIRE_ACTOR_ID"); id != "" {
		return identity.Actor{ID: id, DisplayName: os.Getenv("LIKEWIRE_ACTOR_NAME")}, nil
	}
	return identity.Actor{}, fmt.Errorf("no session token and no LIKEWIRE_ACTOR_ID set")
}

// buildStack wires store, gateway, engine and push source from config.
func buildStack(ctx context.Context, cfg *config.Config, actor identity.Actor) (*engine.Engine, push.Source, func(), error) {
	store := state.New(state.WithTTL(cfg.StateTTL))
	cleanup := func() { store.Close() }

	obs := observability.Disabled()
	if cfg.TelemetryEnabled {
		var err error
		obs, err = observability.New(ctx, &observability.Config{
			ServiceName:    "likewire-cli",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			BatchTimeout:   5 * time.Second,
			Enabled:        true,
			Insecure:       true,
		})
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("init telemetry: %w", err)
		}
		prev := cleanup
		cleanup = func() {
			_ = obs.Shutdown(context.Background())
			prev()
		}
	}

	var (
		gw     gateway.Gateway
		source push.Source
	)
	switch cfg.GatewayKind {
	case "http":
		client, err := httpgw.New(httpgw.Config{
			BaseURL:      cfg.APIBaseURL,
			SessionToken: cfg.SessionToken,
			Timeout:      cfg.CallTimeout,
		})
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		if err := client.CheckVersion(ctx); err != nil {
			slog.Warn("API version check failed", "error", err)
		}
		gw = client
		// The REST tier has no stream endpoint the CLI can hold open, so
		// watch mode pairs it with the redis pub/sub source.
		rgw := redisgw.New(cfg.RedisAddr, "", cfg.RedisDB, "")
		prev := cleanup
		cleanup = func() {
			_ = rgw.Close()
			prev()
		}
		source = redisgw.NewSource(rgw.Client())
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		prev := cleanup
		cleanup = func() {
			_ = db.Close()
			prev()
		}
		gw = pggw.New(db)
		source = pggw.NewListener(cfg.PostgresDSN)
	case "redis":
		rgw := redisgw.New(cfg.RedisAddr, "", cfg.RedisDB, cfg.PushTopic)
		prev := cleanup
		cleanup = func() {
			_ = rgw.Close()
			prev()
		}
		gw = rgw
		source = redisgw.NewSource(rgw.Client())
	default:
		cleanup()
		return nil, nil, nil, fmt.Errorf("unknown gateway kind %q", cfg.GatewayKind)
	}

	eng := engine.New(store, gw,
		engine.WithActor(actor),
		engine.WithLogger(slog.Default()),
		engine.WithObservability(obs),
		engine.WithCallTimeout(cfg.CallTimeout),
		engine.WithDebounce(cfg.ToggleDebounce),
	)
	return eng, source, cleanup, nil
}

func runToggle(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("toggle", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: likewire toggle <subject-id>")
		return 2
	}
	subjectID := fs.Arg(0)

	actor, err := resolveActor(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	eng, _, cleanup, err := buildStack(ctx, cfg, actor)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer cleanup()

	res, err := eng.Toggle(ctx, subjectID)
	if err != nil {
		fmt.Fprintln(stderr, "toggle failed:", err)
		return 1
	}
	fmt.Fprintf(stdout, "liked=%v count=%d\n", res.IsLikedByMe, res.Count)
	return 0
}

func runWatch(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: likewire watch <subject-id>")
		return 2
	}
	subjectID := fs.Arg(0)

	actor, err := resolveActor(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, source, cleanup, err := buildStack(ctx, cfg, actor)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer cleanup()

	bridge := push.New(source, eng,
		push.WithTopic(cfg.PushTopic),
		push.WithFailureThreshold(cfg.StreamFailureThreshold, cfg.StreamCooldown),
		push.WithPollInterval(cfg.PollInterval),
		push.WithLogger(slog.Default()),
	)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("bridge stopped", "error", err)
		}
	}()

	changes := eng.Store().Watch()
	if err := eng.OpenDetails(ctx, subjectID); err != nil {
		fmt.Fprintln(stderr, "open failed:", err)
		return 1
	}
	printState(stdout, eng, bridge, subjectID)

	for {
		select {
		case <-ctx.Done():
			eng.CloseDetails(subjectID)
			return 0
		case id, ok := <-changes:
			if !ok {
				return 0
			}
			if id == subjectID {
				printState(stdout, eng, bridge, subjectID)
			}
		}
	}
}

func printState(w io.Writer, eng *engine.Engine, bridge *push.Bridge, subjectID string) {
	snap := eng.Store().Snapshot(subjectID)
	fmt.Fprintf(w, "[%s] liked=%v count=%d entries=%d bridge=%s",
		time.Now().Format("15:04:05"), snap.IsLikedByMe, snap.Count, len(snap.Items), bridge.Status())
	if snap.Err != "" {
		fmt.Fprintf(w, " error=%q", snap.Err)
	}
	fmt.Fprintln(w)
}
