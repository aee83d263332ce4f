// Package toolhost provides a concrete implementation of the [tools.Host]
// interface.
//
// It connects to MCP servers via stdio or streamable-HTTP transports using
// the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk) and keeps
// a concurrent-safe in-memory tool registry. Built-in Go functions share the
// registry with external tools, so the agent sees one flat catalogue.
//
// Typical usage:
//
//	h := toolhost.New()
//
//	_ = h.RegisterBuiltin(products.Builtin())
//
//	err := h.RegisterServer(ctx, tools.ServerConfig{
//	    Name:      "crm",
//	    Transport: tools.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-crm-server",
//	})
//
//	result, err := h.Execute(ctx, "search_structured_products", `{"currency":"CHF"}`)
//
//	h.Close()
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/souffleur-ai/souffleur/internal/tools"
	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

// toolEntry holds the metadata for a single registered tool.
type toolEntry struct {
	def        llm.ToolDefinition
	serverName string

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// Host is a concrete implementation of [tools.Host].
// The zero value is not usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The official SDK
	// allows a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// Compile-time check that *Host implements tools.Host.
var _ tools.Host = (*Host)(nil)

// New creates and returns a ready-to-use Host.
func New() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "souffleur-toolhost", Version: "1.0.0"},
		nil,
	)
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer implements [tools.Host].
//
// For the stdio transport, cfg.Command is split on spaces into executable and
// arguments; cfg.Env is passed as additional environment variables.
func (h *Host) RegisterServer(ctx context.Context, cfg tools.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("toolhost: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("toolhost: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case tools.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("toolhost: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case tools.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("toolhost: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("toolhost: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Replace an existing connection under the same name.
	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: session}

	for _, mcpTool := range discovered {
		h.tools[mcpTool.Name] = toolEntry{
			def: llm.ToolDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  schemaToMap(mcpTool.InputSchema),
			},
			serverName: cfg.Name,
		}
	}

	return nil
}

// RegisterBuiltin implements [tools.Host].
func (h *Host) RegisterBuiltin(tool tools.Builtin) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("toolhost: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("toolhost: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:        tool.Definition,
		serverName: builtinServerName,
		builtinFn:  tool.Handler,
	}
	return nil
}

// Tools implements [tools.Host].
func (h *Host) Tools() []llm.ToolDefinition {
	h.mu.RLock()
	defs := make([]llm.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute implements [tools.Host].
func (h *Host) Execute(ctx context.Context, name string, args string) (*tools.Result, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("toolhost: tool %q not found", name)
	}

	start := time.Now()

	var result *tools.Result
	var execErr error

	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}

	if execErr != nil {
		return nil, execErr
	}
	result.Duration = time.Since(start).Milliseconds()
	return result, nil
}

// executeBuiltin calls the in-process handler for a builtin tool.
func (h *Host) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*tools.Result, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return &tools.Result{Content: output}, nil
}

// executeMCPTool routes the call to the appropriate server session.
func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args string) (*tools.Result, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("toolhost: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("toolhost: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("toolhost: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	return &tools.Result{
		Content: sb.String(),
		IsError: callResult.IsError,
	}, nil
}

// Close implements [tools.Host].
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("toolhost: close server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)

	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments,
// e.g. "/bin/foo --bar baz" becomes ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
