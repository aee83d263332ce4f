// Package stt defines the Provider interface for live transcription engines.
//
// An STT provider connects to a transcription engine that captures the
// advisor's call audio on its own (e.g., a RealtimeSTT server running next to
// the softphone) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session emits two streams of
// Snapshot values. Partials revise freely as the engine refines its guess;
// stabilized snapshots only ever grow by whole committed sentences and are
// the values the dispatch logic acts on.
//
// Unlike a raw speech API client there is no audio input surface. Audio
// capture happens inside the engine; the backend is a pure consumer.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously, one per advisory call.
package stt

import "context"

// StreamConfig carries recognition hints for a new transcription session.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "de", "en").
	// An empty string lets the engine use its configured default.
	Language string
}

// SessionHandle represents an open transcription session. It is an interface
// so that test code can provide scripted implementations without a live
// engine connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so leaks goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// Partials returns a read-only channel of low-latency interim snapshots.
	// Consecutive partials may revise or even shrink earlier text; they are
	// suitable for driving a live caption but must not trigger dispatch
	// decisions. The channel is closed when the session ends.
	Partials() <-chan Snapshot

	// Stabilized returns a read-only channel of committed snapshots. Each
	// value extends the previous one by at least one whole sentence. These
	// are the snapshots the co-pilot feeds into dispatch.
	// The channel is closed when the session ends.
	Stabilized() <-chan Snapshot

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Partials and Stabilized channels will be
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any transcription engine.
type Provider interface {
	// StartStream opens a new transcription session with the given
	// configuration. The returned SessionHandle emits snapshots as soon as
	// the engine hears speech.
	//
	// Returns an error if the provider cannot reach the engine or ctx is
	// already cancelled. The caller owns the SessionHandle and must call
	// Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
