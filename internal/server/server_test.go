package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/souffleur-ai/souffleur/internal/copilot"
	"github.com/souffleur-ai/souffleur/internal/health"
	"github.com/souffleur-ai/souffleur/pkg/provider/stt"
	sttmock "github.com/souffleur-ai/souffleur/pkg/provider/stt/mock"
)

// echoAgent answers every dispatch with a fixed insight.
type echoAgent struct {
	insight string
}

func (a *echoAgent) Respond(ctx context.Context, sessionID, transcript string) (string, error) {
	return a.insight, nil
}

// gateAgent blocks inside Respond until released, so tests can hold a
// session in its flush dispatch.
type gateAgent struct {
	entered chan struct{}
	release chan struct{}
}

func (a *gateAgent) Respond(ctx context.Context, sessionID, transcript string) (string, error) {
	a.entered <- struct{}{}
	<-a.release
	return "", nil
}

// factoryRig builds real sessions over mock transcription engines and keeps
// hold of the engines so tests can feed them.
type factoryRig struct {
	mu        sync.Mutex
	engines   []*sttmock.Session
	languages []string
	agent     copilot.Agent
}

func (r *factoryRig) factory(id, language string, sink copilot.Sink) (*copilot.Session, error) {
	engine := &sttmock.Session{
		PartialsCh:   make(chan stt.Snapshot, 16),
		StabilizedCh: make(chan stt.Snapshot, 16),
	}
	r.mu.Lock()
	r.engines = append(r.engines, engine)
	r.languages = append(r.languages, language)
	r.mu.Unlock()

	return copilot.NewSession(copilot.SessionConfig{
		ID:       id,
		Language: language,
		Policy:   copilot.NewWordCountPolicy(1),
		Agent:    r.agent,
		Sink:     sink,
		STT:      &sttmock.Provider{Session: engine},
	})
}

func (r *factoryRig) engine(i int) *sttmock.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[i]
}

func (r *factoryRig) engineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

func newTestServer(t *testing.T, rig *factoryRig) *httptest.Server {
	t.Helper()
	srv, err := New(Config{
		Factory: rig.factory,
		Health:  health.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write %q: %v", raw, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return ev
}

// readUntil reads events until one of the wanted type arrives and returns it.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	for range 32 {
		ev := readEvent(t, conn)
		if ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("no %q event within 32 reads", eventType)
	return Event{}
}

func TestNewRequiresFactory(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without factory")
	}
}

func TestPingPong(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &factoryRig{agent: &echoAgent{}})
	conn := dialWS(t, ts)

	send(t, conn, `{"action":"ping"}`)
	if ev := readEvent(t, conn); ev.Type != EventPong {
		t.Errorf("got %+v, want pong", ev)
	}
}

func TestMalformedAndUnknownCommandsIgnored(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &factoryRig{agent: &echoAgent{}})
	conn := dialWS(t, ts)

	send(t, conn, `this is not json`)
	send(t, conn, `{"action":"dance"}`)
	send(t, conn, `{"action":"ping"}`)

	if ev := readEvent(t, conn); ev.Type != EventPong {
		t.Errorf("got %+v, want pong after ignored commands", ev)
	}
}

func TestStartStreamsTranscriptAndInsight(t *testing.T) {
	t.Parallel()

	rig := &factoryRig{agent: &echoAgent{insight: "* Risikoprofil des Kunden klären."}}
	ts := newTestServer(t, rig)
	conn := dialWS(t, ts)

	send(t, conn, `{"action":"start","language":"de"}`)
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusStarting {
		t.Errorf("first status = %q, want starting", ev.Data)
	}
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusListening {
		t.Errorf("second status = %q, want listening", ev.Data)
	}

	rig.engine(0).StabilizedCh <- stt.Snapshot{
		Text:   "Ich hätte gerne eine Empfehlung.",
		Stable: true,
		At:     time.Now(),
	}

	if ev := readUntil(t, conn, EventTranscript); ev.Data != "Ich hätte gerne eine Empfehlung." {
		t.Errorf("transcript = %q", ev.Data)
	}
	if ev := readUntil(t, conn, EventInsight); ev.Data != "* Risikoprofil des Kunden klären." {
		t.Errorf("insight = %q", ev.Data)
	}

	send(t, conn, `{"action":"stop"}`)
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusClosed {
		t.Errorf("status after stop = %q, want closed", ev.Data)
	}
	if rig.engine(0).Closes() != 1 {
		t.Errorf("engine closed %d times, want 1", rig.engine(0).Closes())
	}
}

func TestStartUsesDefaultLanguage(t *testing.T) {
	t.Parallel()

	rig := &factoryRig{agent: &echoAgent{}}
	ts := newTestServer(t, rig)
	conn := dialWS(t, ts)

	send(t, conn, `{"action":"start"}`)
	readUntil(t, conn, EventStatus)

	rig.mu.Lock()
	defer rig.mu.Unlock()
	if len(rig.languages) != 1 || rig.languages[0] != "de" {
		t.Errorf("languages = %v, want [de]", rig.languages)
	}
}

func TestStartReplacesRunningSession(t *testing.T) {
	t.Parallel()

	rig := &factoryRig{agent: &echoAgent{}}
	ts := newTestServer(t, rig)
	conn := dialWS(t, ts)

	send(t, conn, `{"action":"start","language":"de"}`)
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusStarting {
		t.Fatalf("status = %q", ev.Data)
	}
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusListening {
		t.Fatalf("status = %q", ev.Data)
	}

	send(t, conn, `{"action":"start","language":"en"}`)
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusClosed {
		t.Errorf("expected first session to close, got status %q", ev.Data)
	}
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusStarting {
		t.Errorf("expected second session to start, got status %q", ev.Data)
	}

	if got := rig.engineCount(); got != 2 {
		t.Fatalf("engines created = %d, want 2", got)
	}
	if rig.engine(0).Closes() != 1 {
		t.Errorf("first engine closed %d times, want 1", rig.engine(0).Closes())
	}

	rig.mu.Lock()
	langs := append([]string(nil), rig.languages...)
	rig.mu.Unlock()
	if langs[0] != "de" || langs[1] != "en" {
		t.Errorf("languages = %v, want [de en]", langs)
	}
}

func TestStartAfterStopWaitsForFlush(t *testing.T) {
	t.Parallel()

	agent := &gateAgent{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	rig := &factoryRig{agent: agent}
	ts := newTestServer(t, rig)
	conn := dialWS(t, ts)

	send(t, conn, `{"action":"start","language":"de"}`)
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusStarting {
		t.Fatalf("status = %q", ev.Data)
	}
	if ev := readUntil(t, conn, EventStatus); ev.Data != copilot.StatusListening {
		t.Fatalf("status = %q", ev.Data)
	}

	// A single word stays under the dispatch gate, so the only agent round
	// is the forced one at stop.
	rig.engine(0).StabilizedCh <- stt.Snapshot{Text: "Hallo", Stable: true, At: time.Now()}
	readUntil(t, conn, EventTranscript)

	send(t, conn, `{"action":"stop"}`)
	select {
	case <-agent.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("flush dispatch never reached the agent")
	}

	// The first session is still flushing; a new start must not open a
	// second engine stream until it has fully closed.
	send(t, conn, `{"action":"start","language":"en"}`)
	time.Sleep(100 * time.Millisecond)
	if got := rig.engineCount(); got != 1 {
		t.Fatalf("engines created while first session still flushing = %d, want 1", got)
	}
	if got := rig.engine(0).Closes(); got != 0 {
		t.Fatalf("first engine closed %d times before its flush finished", got)
	}

	close(agent.release)

	deadline := time.Now().Add(5 * time.Second)
	for rig.engineCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second session never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := rig.engine(0).Closes(); got != 1 {
		t.Errorf("first engine closed %d times, want 1", got)
	}
}

func TestDisconnectStopsSession(t *testing.T) {
	t.Parallel()

	rig := &factoryRig{agent: &echoAgent{}}
	ts := newTestServer(t, rig)
	conn := dialWS(t, ts)

	send(t, conn, `{"action":"start"}`)
	readUntil(t, conn, EventStatus)
	readUntil(t, conn, EventStatus)

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for rig.engine(0).Closes() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("engine not closed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &factoryRig{agent: &echoAgent{}})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
