package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/souffleur-ai/souffleur/internal/tools"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"stt": {"realtimestt"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the insight agent cannot generate suggestions")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; sessions cannot receive transcripts")
	}

	// Copilot pipeline tuning
	if p := cfg.Copilot.Dispatch.Policy; p != "" && !p.IsValid() {
		errs = append(errs, fmt.Errorf("copilot.dispatch.policy %q is invalid; valid values: words, sentences", p))
	}
	if cfg.Copilot.Dispatch.MinWords < 0 {
		errs = append(errs, fmt.Errorf("copilot.dispatch.min_words %d must not be negative", cfg.Copilot.Dispatch.MinWords))
	}
	if cfg.Copilot.Dispatch.SentenceStride < 0 {
		errs = append(errs, fmt.Errorf("copilot.dispatch.sentence_stride %d must not be negative", cfg.Copilot.Dispatch.SentenceStride))
	}
	if t := cfg.Copilot.Guard.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("copilot.guard.similarity_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Copilot.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("copilot.max_tool_rounds %d must not be negative", cfg.Copilot.MaxToolRounds))
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation logs will not survive restarts")
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
