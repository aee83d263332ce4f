// Package tools defines the interface for the tool host used by the insight
// agent.
//
// The host maintains a catalogue of callable tools from two sources: built-in
// Go functions (such as the structured-product search) and external Model
// Context Protocol (MCP) servers. The agent enumerates the catalogue when
// building a model request and routes the model's tool calls back through
// [Host.Execute].
//
// Lifecycle:
//
//  1. Call [Host.RegisterBuiltin] / [Host.RegisterServer] during startup.
//  2. Use [Host.Tools] to enumerate definitions for the model.
//  3. Use [Host.Execute] to run tool calls on behalf of the agent.
//  4. Call [Host.Close] to release server connections.
//
// All methods must be safe for concurrent use.
package tools

import (
	"context"

	"github.com/souffleur-ai/souffleur/pkg/provider/llm"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP
	// protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is the human-readable identifier for this server. Must be unique
	// within a single [Host]. Used in log messages and errors.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable path and optional arguments used when
	// Transport is "stdio", e.g. "/usr/local/bin/mcp-crm --config /etc/crm.json".
	// Ignored for the streamable-http transport.
	Command string

	// URL is the endpoint address used when Transport is "streamable-http".
	// Ignored for the stdio transport.
	URL string

	// Env holds additional environment variables injected into the server
	// process when Transport is "stdio". May be nil.
	Env map[string]string
}

// Result holds the outcome of a single tool execution.
type Result struct {
	// Content is the tool's textual output, typically a JSON string ready
	// for insertion into the model's context window.
	Content string

	// IsError indicates that the tool returned an application-level error
	// (as opposed to a transport or protocol failure returned via the Go
	// error return value). When IsError is true, Content contains the error
	// message; the agent forwards it to the model as the tool result so the
	// model can recover or answer without the tool.
	IsError bool

	// Duration is the wall-clock time in milliseconds from dispatch until
	// the full response was received.
	Duration int64
}

// Builtin represents a tool implemented as a Go function that runs
// in-process, bypassing MCP protocol overhead.
type Builtin struct {
	// Definition is the tool's public descriptor presented to the model.
	Definition llm.ToolDefinition

	// Handler is the function invoked when Execute is called for this tool.
	// args is a JSON object string (e.g. "{}" or `{"currency":"CHF"}`).
	// Returning a non-nil error marks the result as an error.
	Handler func(ctx context.Context, args string) (string, error)
}

// Host manages the tool catalogue and routes tool calls.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue. If a server with the same Name is already
	// registered, the old connection is closed and replaced.
	//
	// Returns an error if the transport cannot be established or the initial
	// tool listing request fails.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// RegisterBuiltin adds an in-process tool. A tool with the same name
	// replaces any existing registration.
	RegisterBuiltin(tool Builtin) error

	// Tools returns the definitions of all registered tools, sorted by name.
	Tools() []llm.ToolDefinition

	// Execute calls the named tool with JSON-encoded args. name must exactly
	// match a definition returned by [Host.Tools]. args must be a valid JSON
	// object string; "{}" is valid for parameter-less tools.
	//
	// A non-nil *Result is returned even when [Result.IsError] is true. A Go
	// error is returned only on transport or protocol failure, or when the
	// tool is unknown.
	Execute(ctx context.Context, name string, args string) (*Result, error)

	// Close shuts down all server connections. After Close returns the Host
	// must not be used again.
	Close() error
}
