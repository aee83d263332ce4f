// Command souffleur is the main entry point for the Souffleur advisor
// co-pilot backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/souffleur-ai/souffleur/internal/app"
	"github.com/souffleur-ai/souffleur/internal/config"
	"github.com/souffleur-ai/souffleur/internal/observe"
	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
	"github.com/souffleur-ai/souffleur/pkg/provider/llm/anyllm"
	oallm "github.com/souffleur-ai/souffleur/pkg/provider/llm/openai"
	"github.com/souffleur-ai/souffleur/pkg/provider/stt"
	"github.com/souffleur-ai/souffleur/pkg/provider/stt/realtimestt"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration (with hot reload) ──────────────────────────────────
	// The level var and app reference are wired into the reload callback up
	// front; the callback only fires from the watcher's poll goroutine, well
	// after both are populated.
	levelVar := new(slog.LevelVar)
	var appRef atomic.Pointer[app.App]

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, levelVar, &appRef)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "souffleur: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "souffleur: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("souffleur starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "souffleur",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	appRef.Store(application)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload reacts to a config file change picked up by the watcher. Log
// level changes apply immediately; session tuning applies to sessions started
// after the reload. Server address, providers, memory, and MCP changes need a
// restart.
func applyReload(d config.ConfigDiff, cfg *config.Config, levelVar *slog.LevelVar, appRef *atomic.Pointer[app.App]) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DispatchChanged || d.GuardChanged || d.MaxToolRoundsChanged {
		if a := appRef.Load(); a != nil {
			a.Reconfigure(cfg)
			slog.Info("session tuning reloaded, applies to newly started sessions")
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted providers reached through the any-llm gateway share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// openai uses the native SDK client rather than the gateway.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("realtimestt", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []realtimestt.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, realtimestt.WithLanguage(lang))
		}
		return realtimestt.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct. Both slots are mandatory:
// without transcription and a model there is no co-pilot.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	llmEntry := cfg.Providers.LLM
	if llmEntry.Name == "" {
		return nil, errors.New("no llm provider configured")
	}
	p, err := reg.CreateLLM(llmEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", llmEntry.Name, "model", llmEntry.Model)

	sttEntry := cfg.Providers.STT
	if sttEntry.Name == "" {
		return nil, errors.New("no stt provider configured")
	}
	s, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	ps.STT = s
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Souffleur — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	memoryKind := "in-process"
	if cfg.Memory.PostgresDSN != "" {
		memoryKind = "postgres"
	}
	fmt.Printf("║  Memory          : %-19s ║\n", memoryKind)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Copilot.Language)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
