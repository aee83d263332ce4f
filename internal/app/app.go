// Package app wires all Souffleur subsystems into a running backend.
//
// The App struct owns the full lifecycle: New creates and connects the
// memory store, tool host, and HTTP server; Run serves until the context
// ends; Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithMemoryStore, WithToolHost). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/souffleur-ai/souffleur/internal/agent"
	"github.com/souffleur-ai/souffleur/internal/config"
	"github.com/souffleur-ai/souffleur/internal/copilot"
	"github.com/souffleur-ai/souffleur/internal/health"
	"github.com/souffleur-ai/souffleur/internal/resilience"
	"github.com/souffleur-ai/souffleur/internal/server"
	"github.com/souffleur-ai/souffleur/internal/tools"
	"github.com/souffleur-ai/souffleur/internal/tools/products"
	"github.com/souffleur-ai/souffleur/internal/tools/toolhost"
	"github.com/souffleur-ai/souffleur/pkg/memory"
	"github.com/souffleur-ai/souffleur/pkg/memory/memstore"
	"github.com/souffleur-ai/souffleur/pkg/memory/postgres"
	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
	"github.com/souffleur-ai/souffleur/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// copilotMu guards copilotCfg, the only config section that can change
	// at runtime. sessionFactory reads it per start command.
	copilotMu  sync.RWMutex
	copilotCfg config.CopilotConfig

	// llm is the configured provider behind a circuit breaker, shared by all
	// sessions.
	llm *resilience.LLMProvider

	store  memory.Store
	host   tools.Host
	server *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemoryStore injects a conversation store instead of creating one from
// config.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithToolHost injects a tool host instead of creating one from config.
func WithToolHost(h tools.Host) Option {
	return func(a *App) { a.host = h }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); LLM and STT are
// both required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required")
	}
	if providers.STT == nil {
		return nil, fmt.Errorf("app: an STT provider is required")
	}

	a := &App{
		cfg:        cfg,
		providers:  providers,
		copilotCfg: cfg.Copilot,
		llm:        resilience.WrapLLM(providers.LLM),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// initMemory connects the conversation store: Postgres when a DSN is
// configured, in-process otherwise.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Info("using in-process conversation store")
		a.store = memstore.New()
		return nil
	}

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("connected durable conversation store")
	return nil
}

// initTools sets up the tool host with the built-in product search and any
// configured MCP servers.
func (a *App) initTools(ctx context.Context) error {
	if a.host == nil {
		host := toolhost.New()
		a.host = host
		a.closers = append(a.closers, host.Close)
	}

	catalogue, err := products.New()
	if err != nil {
		return fmt.Errorf("load product catalogue: %w", err)
	}
	if err := a.host.RegisterBuiltin(catalogue.Builtin()); err != nil {
		return fmt.Errorf("register product search: %w", err)
	}

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := tools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.host.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	return nil
}

// initServer builds the HTTP server around the per-connection session
// factory.
func (a *App) initServer() error {
	checkers := []health.Checker{
		{Name: "llm", Check: func(context.Context) error {
			if a.llm.Breaker().State() == resilience.StateOpen {
				return errors.New("model backend unavailable")
			}
			return nil
		}},
	}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.ForPinger("memory", p))
	}

	cfg := server.Config{
		Addr:            a.cfg.Server.ListenAddr,
		Factory:         a.sessionFactory,
		Health:          health.New(checkers...),
		DefaultLanguage: a.cfg.Copilot.Language,
	}
	if a.cfg.Server.TLS != nil {
		cfg.TLSCertFile = a.cfg.Server.TLS.CertFile
		cfg.TLSKeyFile = a.cfg.Server.TLS.KeyFile
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// sessionFactory builds one advisory session per start command. The agent is
// constructed per session so its system prompt matches the requested
// language; all sessions share the provider, store, and tool host.
func (a *App) sessionFactory(id, language string, sink copilot.Sink) (*copilot.Session, error) {
	cc := a.copilotConfig()

	agentOpts := []agent.Option{
		agent.WithTools(a.host),
		agent.WithLanguage(language),
		agent.WithGuard(copilot.NewGuard(guardOptions(cc.Guard)...)),
	}
	if cc.MaxToolRounds > 0 {
		agentOpts = append(agentOpts, agent.WithMaxToolRounds(cc.MaxToolRounds))
	}

	ag, err := agent.New(a.llm, a.store, agentOpts...)
	if err != nil {
		return nil, err
	}

	return copilot.NewSession(copilot.SessionConfig{
		ID:       id,
		Language: language,
		Policy:   newPolicy(cc.Dispatch),
		Agent:    ag,
		Sink:     sink,
		STT:      a.providers.STT,
	})
}

func (a *App) copilotConfig() config.CopilotConfig {
	a.copilotMu.RLock()
	defer a.copilotMu.RUnlock()
	return a.copilotCfg
}

// Reconfigure applies the hot-reloadable parts of cfg. Dispatch, guard, and
// tool round settings take effect for sessions started after the call;
// running sessions keep the tuning they started with.
func (a *App) Reconfigure(cfg *config.Config) {
	a.copilotMu.Lock()
	a.copilotCfg = cfg.Copilot
	a.copilotMu.Unlock()
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"addr", a.cfg.Server.ListenAddr,
		"tools", len(a.host.Tools()),
	)
	return a.server.Run(ctx)
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// newPolicy builds a dispatch policy from config. Fresh per session; the
// sentence policy carries per-session state.
func newPolicy(cfg config.DispatchConfig) copilot.Policy {
	if cfg.Policy == config.PolicySentences {
		return copilot.NewSentenceStridePolicy(cfg.SentenceStride)
	}
	return copilot.NewWordCountPolicy(cfg.MinWords)
}

// guardOptions converts config guard tuning into guard options. Empty lists
// keep the guard's built-in defaults.
func guardOptions(cfg config.GuardConfig) []copilot.GuardOption {
	var opts []copilot.GuardOption
	if len(cfg.BadPrefixes) > 0 {
		opts = append(opts, copilot.WithBadPrefixes(cfg.BadPrefixes...))
	}
	if len(cfg.BadMarkers) > 0 {
		opts = append(opts, copilot.WithBadMarkers(cfg.BadMarkers...))
	}
	if cfg.SimilarityThreshold > 0 {
		opts = append(opts, copilot.WithSimilarityThreshold(cfg.SimilarityThreshold))
	}
	return opts
}
