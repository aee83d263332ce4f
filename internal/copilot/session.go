// Package copilot implements the incremental transcript-to-insight pipeline:
// the transcript buffer, the dispatch policies that gate how often the agent
// is invoked, the output guard that suppresses repetition and refusals, and
// the session orchestrator that wires them together over a live
// transcription stream.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/souffleur-ai/souffleur/internal/observe"
	"github.com/souffleur-ai/souffleur/pkg/provider/stt"
)

// ErrTranscriptionUnavailable indicates the transcription engine could not
// be started. Fatal to the session.
var ErrTranscriptionUnavailable = errors.New("copilot: transcription engine unavailable")

// State is the lifecycle state of a session.
type State int32

const (
	// StateIdle is the state before Run is called.
	StateIdle State = iota

	// StateListening means the session is consuming transcript events.
	StateListening

	// StateDispatching means an agent invocation is in flight.
	StateDispatching

	// StateFlushing means a stop signal was received and the session is
	// performing its final forced dispatch.
	StateFlushing

	// StateClosed is terminal; no further events are processed.
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateDispatching:
		return "DISPATCHING"
	case StateFlushing:
		return "FLUSHING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Agent produces an insight (or silence) for the newest transcript chunk of
// a session. Implementations own conversation memory and output filtering;
// the returned string is empty when the agent has nothing to whisper.
type Agent interface {
	Respond(ctx context.Context, sessionID, transcript string) (string, error)
}

// Sink receives the session's outbound events. Implementations are typically
// a WebSocket connection; methods must not block for long or they stall the
// session loop.
type Sink interface {
	Status(sessionID, status string)
	Transcript(sessionID, fullText string)
	Insight(sessionID, text string)
}

// Status values emitted through the Sink.
const (
	StatusStarting  = "starting"
	StatusListening = "listening"
	StatusError     = "error"
	StatusClosed    = "closed"
)

// defaultQueueSize bounds the event queue between the engine callbacks and
// the session loop. Snapshots carry the full transcript, so a dropped older
// snapshot is always superseded by the one replacing it.
const defaultQueueSize = 32

// SessionConfig carries everything a Session needs. ID, Agent, Sink and STT
// are required; zero values elsewhere select defaults.
type SessionConfig struct {
	// ID is the session identifier, also used as the memory key.
	ID string

	// Language is the recognition and output language (e.g., "de", "en").
	// Fixed at session creation; changing language means a new session.
	Language string

	// Policy gates agent dispatches. Defaults to NewWordCountPolicy(0).
	Policy Policy

	// Agent produces insights.
	Agent Agent

	// Sink receives status, transcript, and insight events.
	Sink Sink

	// STT provides the transcription stream.
	STT stt.Provider

	// QueueSize bounds the event queue. Defaults to 32.
	QueueSize int

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Session orchestrates one advisory call: it owns the transcription stream,
// the transcript buffer, the dispatch policy, and the serialisation of agent
// invocations.
//
// The event loop is single-threaded per session: transcript events are
// processed strictly in arrival order and at most one agent invocation is in
// flight at any time. Independent sessions run concurrently.
type Session struct {
	id       string
	language string
	buffer   TranscriptBuffer
	policy   Policy
	agent    Agent
	sink     Sink
	sttProv  stt.Provider
	log      *slog.Logger
	metrics  *observe.Metrics

	events chan stt.Snapshot
	stop   chan struct{}
	once   sync.Once

	state atomic.Int32

	// offset is the buffer length already dispatched to the agent. Loop-local.
	offset int
}

// NewSession creates a Session. It does not start the transcription engine;
// call Run.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("copilot: session ID must not be empty")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("copilot: session %q requires an agent", cfg.ID)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("copilot: session %q requires a sink", cfg.ID)
	}
	if cfg.STT == nil {
		return nil, fmt.Errorf("copilot: session %q requires an STT provider", cfg.ID)
	}
	if cfg.Policy == nil {
		cfg.Policy = NewWordCountPolicy(0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		id:       cfg.ID,
		language: cfg.Language,
		policy:   cfg.Policy,
		agent:    cfg.Agent,
		sink:     cfg.Sink,
		sttProv:  cfg.STT,
		log:      cfg.Logger.With(slog.String("session", cfg.ID)),
		metrics:  cfg.Metrics,
		events:   make(chan stt.Snapshot, cfg.QueueSize),
		stop:     make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stop signals the session to flush and close. Safe to call from any
// goroutine and more than once. A stop arriving while an agent call is in
// flight takes effect once that call returns.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// Run starts the transcription engine and processes events until the session
// is stopped, the context is cancelled, or the engine stream ends. It blocks
// for the session's lifetime and returns once the session is CLOSED.
//
// Engine startup failure is the only session-fatal error; anything that goes
// wrong inside an individual agent round is logged and the round simply
// yields no insight.
func (s *Session) Run(ctx context.Context) error {
	s.sink.Status(s.id, StatusStarting)

	handle, err := s.sttProv.StartStream(ctx, stt.StreamConfig{Language: s.language})
	if err != nil {
		s.setState(StateClosed)
		s.sink.Status(s.id, StatusError)
		return fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, err)
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	s.setState(StateListening)
	s.sink.Status(s.id, StatusListening)
	s.log.Info("session listening", slog.String("language", s.language))

	go s.feed(handle)

	for {
		select {
		case snap, ok := <-s.events:
			if !ok {
				// Engine stream ended on its own.
				s.shutdown(ctx, handle)
				return nil
			}
			s.handleSnapshot(ctx, snap)

		case <-s.stop:
			s.shutdown(ctx, handle)
			return nil

		case <-ctx.Done():
			s.shutdown(ctx, handle)
			return nil
		}
	}
}

// feed pumps engine snapshots into the bounded event queue. It runs on its
// own goroutine so the engine's delivery is never blocked by an in-flight
// agent call. Partial snapshots are drained and discarded; only stabilized
// text drives the pipeline.
func (s *Session) feed(handle stt.SessionHandle) {
	partials := handle.Partials()
	stabilized := handle.Stabilized()

	for partials != nil || stabilized != nil {
		select {
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case snap, ok := <-stabilized:
			if !ok {
				stabilized = nil
				continue
			}
			s.enqueue(snap)
		}
	}
	close(s.events)
}

// enqueue delivers a snapshot without ever blocking the engine callback
// path. When the queue is full the oldest entry is dropped: every snapshot
// carries the full transcript, so the newest strictly supersedes it.
func (s *Session) enqueue(snap stt.Snapshot) {
	for {
		select {
		case s.events <- snap:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

// handleSnapshot processes one stabilized transcript event: forwards the
// transcript to the sink, updates the buffer, and dispatches when the policy
// triggers.
func (s *Session) handleSnapshot(ctx context.Context, snap stt.Snapshot) {
	s.sink.Transcript(s.id, snap.Text)
	s.buffer.Update(snap.Text)

	suffix := s.buffer.NewSuffix(s.offset)
	if !s.policy.ShouldDispatch(suffix, s.buffer.Text()) {
		return
	}
	s.dispatch(ctx, suffix, "policy")
}

// dispatch runs one agent round with the given suffix. The dispatch offset
// and the policy reference point advance at dispatch time, before the call:
// the chunk has been handed to the agent whatever the round's outcome.
func (s *Session) dispatch(ctx context.Context, suffix, trigger string) {
	s.setState(StateDispatching)
	s.offset = s.buffer.Len()
	s.policy.Commit(s.buffer.Text())
	s.metrics.RecordDispatch(ctx, trigger)

	start := time.Now()
	insight, err := s.agent.Respond(ctx, s.id, suffix)
	s.metrics.RecordAgentRound(ctx, time.Since(start), err)

	switch {
	case err != nil:
		s.log.Error("agent round failed", slog.Any("error", err))
	case insight != "":
		s.metrics.RecordInsight(ctx)
		s.sink.Insight(s.id, insight)
	}

	s.setState(StateListening)
}

// shutdown performs the FLUSHING transition: it folds any queued events into
// the buffer, force-dispatches a remaining non-empty suffix past the policy
// gate, releases the engine, and moves the session to CLOSED.
func (s *Session) shutdown(ctx context.Context, handle stt.SessionHandle) {
	s.setState(StateFlushing)

	// Fold in whatever arrived while the stop was pending.
drain:
	for {
		select {
		case snap, ok := <-s.events:
			if !ok {
				break drain
			}
			s.sink.Transcript(s.id, snap.Text)
			s.buffer.Update(snap.Text)
		default:
			break drain
		}
	}

	if suffix := s.buffer.NewSuffix(s.offset); suffix != "" {
		// The surrounding context may already be cancelled when shutdown is
		// driven by process exit; the final round still deserves a chance.
		s.dispatch(context.WithoutCancel(ctx), suffix, "flush")
	}

	if err := handle.Close(); err != nil {
		s.log.Warn("closing transcription stream", slog.Any("error", err))
	}

	s.setState(StateClosed)
	s.sink.Status(s.id, StatusClosed)
	s.log.Info("session closed")
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}
