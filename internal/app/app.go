// Package app wires all Reverie subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the ops endpoints and the interactive conversation
// view, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithBackend, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reverie-voice/reverie/internal/config"
	"github.com/reverie-voice/reverie/internal/conversation"
	"github.com/reverie-voice/reverie/internal/health"
	"github.com/reverie-voice/reverie/internal/observe"
	"github.com/reverie-voice/reverie/internal/resilience"
	"github.com/reverie-voice/reverie/internal/tui"
	"github.com/reverie-voice/reverie/pkg/audio"
	"github.com/reverie-voice/reverie/pkg/audio/chime"
	"github.com/reverie-voice/reverie/pkg/audio/speaker"
	"github.com/reverie-voice/reverie/pkg/memory"
	"github.com/reverie-voice/reverie/pkg/memory/postgres"
)

// App owns all subsystem lifetimes for one Reverie client process.
type App struct {
	cfg *config.Config

	backend config.Backend
	gate    audio.CaptureGate
	store   memory.Store
	out     audio.Output
	chime   conversation.Feedback
	metrics *observe.Metrics

	controller *conversation.Controller

	// promptGate is set when permission prompts are answered in the TUI.
	promptGate *tui.PromptGate

	// ops serves /metrics, /healthz and /readyz. Nil when no listen address
	// is configured.
	ops *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a realtime backend instead of creating one from the
// provider registry.
func WithBackend(b config.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithStore injects a memory store instead of connecting to PostgreSQL.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithGate injects a microphone permission gate.
func WithGate(g audio.CaptureGate) Option {
	return func(a *App) { a.gate = g }
}

// WithChime injects a save-confirmation cue player.
func WithChime(f conversation.Feedback) Option {
	return func(a *App) { a.chime = f }
}

// WithOutput injects the audio output device used by the save-confirmation
// cue instead of opening the host's speaker.
func WithOutput(o audio.Output) Option {
	return func(a *App) { a.out = o }
}

// New creates an App by wiring all subsystems together. Backends are built
// through reg from the provider config; use Option functions to inject test
// doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// The OTel SDK is only stood up when its scrape endpoint is configured;
	// otherwise instruments bind to the no-op global provider.
	if cfg.Metrics.ListenAddr != "" {
		shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.closers = append(a.closers, shutdownObserve)
	}
	a.metrics = observe.DefaultMetrics()

	if a.backend == (config.Backend{}) {
		if err := a.initBackend(reg); err != nil {
			return nil, err
		}
	}
	if a.store == nil && cfg.Memory.PostgresDSN != "" {
		if err := a.initStore(ctx); err != nil {
			return nil, err
		}
	}
	a.initGate()
	a.initChime()

	a.controller = conversation.NewController(conversation.ControllerConfig{
		Tokens:   a.backend.Tokens,
		Provider: a.backend.Live,
		Gate:     a.gate,
		Store:    a.store,
		Chime:    a.chime,
		Metrics:  a.metrics,
	})

	if cfg.Metrics.ListenAddr != "" {
		a.initOps()
	}

	return a, nil
}

// initBackend builds the primary backend and, when fallback token endpoints
// are configured, wraps the token provider in a failover chain.
func (a *App) initBackend(reg *config.Registry) error {
	primary, err := reg.Create(a.cfg.Provider)
	if err != nil {
		return fmt.Errorf("app: create provider %q: %w", a.cfg.Provider.Name, err)
	}

	tokens := primary.Tokens
	if len(a.cfg.Provider.Fallbacks) > 0 {
		chain := resilience.NewTokenFallback(primary.Tokens, a.cfg.Provider.Name, resilience.ChainConfig{})
		for i, entry := range a.cfg.Provider.Fallbacks {
			if entry.Name == "" {
				entry.Name = a.cfg.Provider.Name
			}
			alt, err := reg.Create(entry)
			if err != nil {
				return fmt.Errorf("app: create fallback %d (%s): %w", i+1, entry.Name, err)
			}
			chain.Add(fmt.Sprintf("%s-fallback-%d", entry.Name, i+1), alt.Tokens)
		}
		tokens = chain
		slog.Info("token failover enabled", "endpoints", 1+len(a.cfg.Provider.Fallbacks))
	}

	a.backend = config.Backend{Tokens: tokens, Live: primary.Live}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	st, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: open memory store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error {
		st.Close()
		return nil
	})
	slog.Info("memory store connected")
	return nil
}

// initGate picks the permission gate: auto-grant for headless deployments,
// otherwise an interactive prompt rendered by the conversation view.
func (a *App) initGate() {
	if a.gate != nil {
		return
	}
	if a.cfg.Capture.AutoGrant {
		a.gate = audio.StaticGate{Decision: audio.Granted}
		return
	}
	pg := tui.NewPromptGate()
	a.gate = pg
	a.promptGate = pg
}

func (a *App) initChime() {
	if a.chime != nil {
		return
	}
	if a.out == nil {
		a.out = speaker.New()
	}
	a.chime = buildChime(a.cfg.Chime, a.out)
}

func buildChime(cfg config.ChimeConfig, out audio.Output) conversation.Feedback {
	if cfg.Disabled {
		return nil
	}
	var opts []chime.Option
	if cfg.FrequencyHz > 0 {
		opts = append(opts, chime.WithFrequency(cfg.FrequencyHz))
	}
	if cfg.DurationMs > 0 {
		opts = append(opts, chime.WithDuration(time.Duration(cfg.DurationMs)*time.Millisecond))
	}
	return chime.New(out, opts...)
}

// ApplyConfigChange applies hot-reloadable settings from a changed config.
// Sections that cannot change at runtime only produce a warning.
func (a *App) ApplyConfigChange(d config.ConfigDiff, next *config.Config) {
	if d.ChimeChanged {
		a.chime = buildChime(next.Chime, a.out)
		a.controller.SetChime(a.chime)
		slog.Info("save cue settings updated")
	}
	if d.RestartRequired {
		slog.Warn("agent, provider, memory or metrics changes require a restart")
	}
}

// initOps assembles the ops mux: Prometheus scrape endpoint plus liveness
// and readiness probes.
func (a *App) initOps() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	var probes []health.Probe
	if p, ok := a.store.(interface {
		Ping(ctx context.Context) error
	}); ok {
		probes = append(probes, health.Probe{Name: "database", Check: p.Ping})
	}
	health.NewHandler(probes...).Routes(mux)

	a.ops = &http.Server{
		Addr:              a.cfg.Metrics.ListenAddr,
		Handler:           observe.HTTPMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Controller exposes the conversation controller for alternate frontends.
func (a *App) Controller() *conversation.Controller {
	return a.controller
}

// Run starts the ops listener and then blocks in the interactive
// conversation view until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.ops != nil {
		go func() {
			if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops listener failed", "addr", a.ops.Addr, "err", err)
			}
		}()
		slog.Info("ops endpoints listening", "addr", a.ops.Addr)
	}

	return tui.Run(ctx, tui.Config{
		Controller: a.controller,
		AgentID:    a.cfg.Agent.ID,
		AgentName:  a.cfg.Agent.Name,
		Gate:       a.promptGate,
	})
}

// Shutdown tears down all subsystems in reverse-init order. A live
// conversation is ended first so the remote connection closes cleanly. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.controller.End(ctx); err != nil && !errors.Is(err, conversation.ErrNoActiveSession) {
			slog.Warn("end session on shutdown", "err", err)
		}

		if a.ops != nil {
			if err := a.ops.Shutdown(ctx); err != nil {
				slog.Warn("ops listener shutdown", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
