package copilot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/souffleur-ai/souffleur/pkg/provider/stt"
	sttmock "github.com/souffleur-ai/souffleur/pkg/provider/stt/mock"
)

// scriptAgent answers with a scripted respond function and records every
// transcript chunk it was handed.
type scriptAgent struct {
	mu      sync.Mutex
	calls   []string
	respond func(call int, transcript string) (string, error)
}

func (a *scriptAgent) Respond(ctx context.Context, sessionID, transcript string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, transcript)
	n := len(a.calls)
	fn := a.respond
	a.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(n, transcript)
}

func (a *scriptAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *scriptAgent) call(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

// recordSink captures everything the session emits. transcriptSeen receives
// one token per transcript event so tests can synchronise on delivery.
type recordSink struct {
	mu             sync.Mutex
	statuses       []string
	transcripts    []string
	insights       []string
	transcriptSeen chan struct{}
}

func newRecordSink() *recordSink {
	return &recordSink{transcriptSeen: make(chan struct{}, 64)}
}

func (s *recordSink) Status(sessionID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *recordSink) Transcript(sessionID, fullText string) {
	s.mu.Lock()
	s.transcripts = append(s.transcripts, fullText)
	s.mu.Unlock()
	select {
	case s.transcriptSeen <- struct{}{}:
	default:
	}
}

func (s *recordSink) Insight(sessionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, text)
}

func (s *recordSink) allInsights() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.insights...)
}

func (s *recordSink) allStatuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

func newTestSession(t *testing.T, policy Policy, agent Agent) (*Session, *sttmock.Session, *recordSink) {
	t.Helper()

	engine := &sttmock.Session{
		PartialsCh:   make(chan stt.Snapshot, 16),
		StabilizedCh: make(chan stt.Snapshot, 16),
	}
	sink := newRecordSink()

	s, err := NewSession(SessionConfig{
		ID:       "sess-1",
		Language: "de",
		Policy:   policy,
		Agent:    agent,
		Sink:     sink,
		STT:      &sttmock.Provider{Session: engine},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, engine, sink
}

func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func stabilized(text string) stt.Snapshot {
	return stt.Snapshot{Text: text, Stable: true, At: time.Now()}
}

func TestSessionNewValidation(t *testing.T) {
	t.Parallel()

	agent := &scriptAgent{}
	sink := newRecordSink()
	prov := &sttmock.Provider{}

	cases := []struct {
		name string
		cfg  SessionConfig
	}{
		{"missing ID", SessionConfig{Agent: agent, Sink: sink, STT: prov}},
		{"missing agent", SessionConfig{ID: "s", Sink: sink, STT: prov}},
		{"missing sink", SessionConfig{ID: "s", Agent: agent, STT: prov}},
		{"missing STT", SessionConfig{ID: "s", Agent: agent, Sink: sink}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSession(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSessionSentenceStrideDispatchesOnce(t *testing.T) {
	t.Parallel()

	agent := &scriptAgent{
		respond: func(int, string) (string, error) {
			return "Kunde möchte fortfahren, Bedarf klären.", nil
		},
	}
	s, engine, sink := newTestSession(t, NewSentenceStridePolicy(3), agent)
	done := runSession(t, s)

	engine.StabilizedCh <- stabilized("Hello")
	engine.StabilizedCh <- stabilized("Hello there")
	engine.StabilizedCh <- stabilized("Hello there, how are you today? I have a question. Let's continue.")
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := agent.callCount(); got != 1 {
		t.Fatalf("agent invoked %d times, want exactly 1", got)
	}
	want := "Hello there, how are you today? I have a question. Let's continue."
	if got := agent.call(0); got != want {
		t.Errorf("agent received %q, want %q", got, want)
	}
	if got := sink.allInsights(); len(got) != 1 {
		t.Errorf("got %d insights, want 1", len(got))
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
	if engine.Closes() != 1 {
		t.Errorf("engine closed %d times, want 1", engine.Closes())
	}
}

func TestSessionFlushOnStopBypassesPolicy(t *testing.T) {
	t.Parallel()

	agent := &scriptAgent{
		respond: func(int, string) (string, error) {
			return "Abschliessender Hinweis notiert.", nil
		},
	}
	// Two words never pass the default word gate.
	s, engine, sink := newTestSession(t, NewWordCountPolicy(0), agent)
	done := runSession(t, s)

	engine.StabilizedCh <- stabilized("final remark")
	select {
	case <-sink.transcriptSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("transcript was not delivered")
	}

	if got := agent.callCount(); got != 0 {
		t.Fatalf("policy dispatched a two-word suffix, %d calls", got)
	}

	s.Stop()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if got := agent.callCount(); got != 1 {
		t.Fatalf("flush dispatched %d times, want exactly 1", got)
	}
	if got := agent.call(0); got != "final remark" {
		t.Errorf("flush sent %q, want %q", got, "final remark")
	}
	if got := sink.allInsights(); len(got) != 1 {
		t.Errorf("got %d insights, want 1", len(got))
	}

	statuses := sink.allStatuses()
	if len(statuses) == 0 || statuses[len(statuses)-1] != StatusClosed {
		t.Errorf("statuses = %v, want final %q", statuses, StatusClosed)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestSessionSilentRoundEmitsNothing(t *testing.T) {
	t.Parallel()

	agent := &scriptAgent{} // always answers with silence
	s, engine, sink := newTestSession(t, NewWordCountPolicy(1), agent)
	done := runSession(t, s)

	engine.StabilizedCh <- stabilized("ich habe eine Frage")
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := agent.callCount(); got != 1 {
		t.Fatalf("agent invoked %d times, want 1", got)
	}
	if got := sink.allInsights(); len(got) != 0 {
		t.Errorf("silent round produced insights: %v", got)
	}
}

func TestSessionAgentErrorDoesNotKillSession(t *testing.T) {
	t.Parallel()

	agent := &scriptAgent{
		respond: func(call int, _ string) (string, error) {
			if call == 1 {
				return "", errors.New("model offline")
			}
			return "Zweiter Anlauf gelungen.", nil
		},
	}
	s, engine, sink := newTestSession(t, NewWordCountPolicy(1), agent)
	done := runSession(t, s)

	engine.StabilizedCh <- stabilized("eins zwei drei")
	engine.StabilizedCh <- stabilized("eins zwei drei vier fünf sechs")
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := agent.callCount(); got != 2 {
		t.Fatalf("agent invoked %d times, want 2", got)
	}
	insights := sink.allInsights()
	if len(insights) != 1 || insights[0] != "Zweiter Anlauf gelungen." {
		t.Errorf("insights = %v, want only the second round's", insights)
	}
}

func TestSessionStopDuringDispatchHonoredAfterReturn(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	agent := &scriptAgent{
		respond: func(int, string) (string, error) {
			close(entered)
			<-release
			return "Langsamer Gedanke.", nil
		},
	}
	s, engine, sink := newTestSession(t, NewWordCountPolicy(1), agent)
	done := runSession(t, s)

	engine.StabilizedCh <- stabilized("eins zwei drei")

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("agent call never started")
	}

	s.Stop()
	if got := s.State(); got != StateDispatching {
		t.Errorf("state during in-flight call = %v, want DISPATCHING", got)
	}
	close(release)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if got := agent.callCount(); got != 1 {
		t.Fatalf("agent invoked %d times, want 1", got)
	}
	insights := sink.allInsights()
	if len(insights) != 1 || insights[0] != "Langsamer Gedanke." {
		t.Errorf("in-flight insight lost, insights = %v", insights)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestSessionPartialsNeverDispatch(t *testing.T) {
	t.Parallel()

	agent := &scriptAgent{}
	s, engine, sink := newTestSession(t, NewWordCountPolicy(1), agent)
	done := runSession(t, s)

	engine.PartialsCh <- stt.Snapshot{Text: "halber Satz im Flug", At: time.Now()}
	engine.PartialsCh <- stt.Snapshot{Text: "halber Satz im Flug weiter", At: time.Now()}
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := agent.callCount(); got != 0 {
		t.Errorf("partials triggered %d agent calls", got)
	}
	if got := sink.allInsights(); len(got) != 0 {
		t.Errorf("partials produced insights: %v", got)
	}
}

func TestSessionEngineStartupFailure(t *testing.T) {
	t.Parallel()

	sink := newRecordSink()
	s, err := NewSession(SessionConfig{
		ID:    "sess-err",
		Agent: &scriptAgent{},
		Sink:  sink,
		STT:   &sttmock.Provider{StartStreamErr: errors.New("connection refused")},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	err = s.Run(context.Background())
	if !errors.Is(err, ErrTranscriptionUnavailable) {
		t.Fatalf("Run error = %v, want ErrTranscriptionUnavailable", err)
	}
	statuses := sink.allStatuses()
	if len(statuses) == 0 || statuses[len(statuses)-1] != StatusError {
		t.Errorf("statuses = %v, want final %q", statuses, StatusError)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s, engine, _ := newTestSession(t, NewWordCountPolicy(1), &scriptAgent{})
	done := runSession(t, s)

	s.Stop()
	s.Stop()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(engine.StabilizedCh)
	close(engine.PartialsCh)

	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := map[State]string{
		StateIdle:        "IDLE",
		StateListening:   "LISTENING",
		StateDispatching: "DISPATCHING",
		StateFlushing:    "FLUSHING",
		StateClosed:      "CLOSED",
		State(99):        "UNKNOWN",
	}
	for st, name := range want {
		if got := st.String(); got != name {
			t.Errorf("State(%d).String() = %q, want %q", st, got, name)
		}
	}
}
