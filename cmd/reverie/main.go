// Command reverie is the interactive voice-conversation client: talk to a
// remote agent, then decide whether the transcript is worth keeping.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/reverie-voice/reverie/internal/app"
	"github.com/reverie-voice/reverie/internal/config"
	"github.com/reverie-voice/reverie/pkg/memory"
	"github.com/reverie-voice/reverie/pkg/memory/postgres"
	"github.com/reverie-voice/reverie/pkg/provider/realtime/elevenlabs"
	"github.com/reverie-voice/reverie/pkg/provider/realtime/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listFlag := flag.Bool("list", false, "list saved conversations and exit")
	searchFlag := flag.String("search", "", "full-text search saved conversations and exit")
	deleteFlag := flag.String("delete", "", "delete the saved conversation with this ID and exit")
	agentFlag := flag.String("agent", "", "restrict -list/-search results to one agent ID")
	limitFlag := flag.Int("limit", 20, "maximum number of -list/-search results")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reverie: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.LogLevel))
	slog.SetDefault(newLogger(levelVar))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Saved-memory commands (no live session) ───────────────────────────────
	if *listFlag || *searchFlag != "" || *deleteFlag != "" {
		return runMemoryCommand(ctx, cfg, memoryCommand{
			search:   *searchFlag,
			deleteID: *deleteFlag,
			agentID:  *agentFlag,
			limit:    *limitFlag,
		})
	}

	slog.Info("reverie starting",
		"config", *configPath,
		"agent", cfg.Agent.ID,
		"provider", cfg.Provider.Name,
		"log_level", cfg.LogLevel,
	)

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, 0, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		application.ApplyConfigChange(d, next)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the realtime backends that ship with Reverie
// into reg. Each factory receives a config.ProviderEntry and constructs the
// token provider and live dialer for that backend.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register("elevenlabs", func(entry config.ProviderEntry) (config.Backend, error) {
		var topts []elevenlabs.TokenOption
		if entry.BaseURL != "" {
			topts = append(topts, elevenlabs.WithAPIBaseURL(entry.BaseURL))
		}
		tokens, err := elevenlabs.NewTokenProvider(entry.APIKey, topts...)
		if err != nil {
			return config.Backend{}, err
		}
		return config.Backend{Tokens: tokens, Live: elevenlabs.New()}, nil
	})

	reg.Register("openai", func(entry config.ProviderEntry) (config.Backend, error) {
		var topts []openai.TokenOption
		if entry.BaseURL != "" {
			topts = append(topts, openai.WithAPIBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			topts = append(topts, openai.WithTokenModel(entry.Model))
		}
		tokens, err := openai.NewTokenProvider(entry.APIKey, topts...)
		if err != nil {
			return config.Backend{}, err
		}
		var popts []openai.Option
		if entry.Model != "" {
			popts = append(popts, openai.WithModel(entry.Model))
		}
		return config.Backend{Tokens: tokens, Live: openai.New(popts...)}, nil
	})
}

// ── Saved-memory commands ─────────────────────────────────────────────────────

type memoryCommand struct {
	search   string
	deleteID string
	agentID  string
	limit    int
}

func runMemoryCommand(ctx context.Context, cfg *config.Config, cmd memoryCommand) int {
	if cfg.Memory.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "reverie: memory.postgres_dsn is not configured")
		return 1
	}

	store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
		return 1
	}
	defer store.Close()

	opts := memory.ListOpts{AgentID: cmd.agentID, Limit: cmd.limit}

	switch {
	case cmd.deleteID != "":
		if err := store.DeleteMemory(ctx, cmd.deleteID); err != nil {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
			return 1
		}
		fmt.Printf("deleted %s\n", cmd.deleteID)

	case cmd.search != "":
		memories, err := store.SearchMemories(ctx, cmd.search, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
			return 1
		}
		printMemories(memories)

	default:
		memories, err := store.ListMemories(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
			return 1
		}
		printMemories(memories)
	}
	return 0
}

func printMemories(memories []memory.Memory) {
	if len(memories) == 0 {
		fmt.Println("no saved conversations")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tSAVED\tTURNS\tTITLE")
	for _, m := range memories {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.AgentID, m.SavedAt.Local().Format("2006-01-02 15:04"), len(m.Transcript), m.Title)
	}
	w.Flush()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
