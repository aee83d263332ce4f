// Package realtimestt provides an stt.Provider backed by a RealtimeSTT
// WebSocket server. It connects to the server's data endpoint and turns the
// engine's per-sentence events into full-transcript snapshots.
//
// The RealtimeSTT server captures audio itself; this client only listens. It
// understands two message types on the data socket:
//
//	{"type": "realtime", "text": "..."}      interim text for the sentence in progress
//	{"type": "fullSentence", "text": "..."}  a committed sentence
//
// Committed sentences are accumulated into the stabilized transcript; interim
// text is appended to that transcript to form partial snapshots.
package realtimestt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/souffleur-ai/souffleur/pkg/provider/stt"
)

const (
	defaultEndpoint = "ws://localhost:8012"
	defaultLanguage = "de"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLanguage sets the default recognition language (e.g., "de", "en").
// A per-session StreamConfig.Language overrides it.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// Provider implements stt.Provider backed by a RealtimeSTT server.
type Provider struct {
	endpoint string
	language string
}

// Compile-time check that *Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// New creates a new Provider. endpoint is the ws:// or wss:// URL of the
// RealtimeSTT data socket; empty selects ws://localhost:8012.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("realtimestt: parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtimestt: endpoint scheme must be ws or wss, got %q", u.Scheme)
	}

	p := &Provider{
		endpoint: endpoint,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session against the RealtimeSTT server.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("realtimestt: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("realtimestt: dial %s: %w", wsURL, err)
	}

	sess := &session{
		conn:       conn,
		partials:   make(chan stt.Snapshot, 64),
		stabilized: make(chan stt.Snapshot, 64),
		done:       make(chan struct{}),
	}

	sess.wg.Add(1)
	go sess.readLoop(ctx)

	return sess, nil
}

// buildURL appends the recognition language as a query parameter.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("lang", lang)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// engineEvent is the JSON structure the RealtimeSTT server sends on the data
// socket.
type engineEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// session is a live RealtimeSTT session. It implements stt.SessionHandle.
type session struct {
	conn       *websocket.Conn
	partials   chan stt.Snapshot
	stabilized chan stt.Snapshot

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// sentences holds the committed sentences in arrival order. Only the
	// readLoop goroutine touches it.
	sentences []string
}

// Partials returns the channel of interim snapshots.
func (s *session) Partials() <-chan stt.Snapshot { return s.partials }

// Stabilized returns the channel of committed snapshots.
func (s *session) Stabilized() <-chan stt.Snapshot { return s.stabilized }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// readLoop receives engine events and converts them into snapshots.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.stabilized)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		snap, stable, ok := s.applyEvent(msg)
		if !ok {
			continue
		}

		out := s.partials
		if stable {
			out = s.stabilized
		}
		select {
		case out <- snap:
		case <-s.done:
			return
		}
	}
}

// applyEvent folds a raw engine message into the accumulated transcript and
// returns the resulting snapshot. Returns ok=false for messages that should
// be ignored.
func (s *session) applyEvent(data []byte) (snap stt.Snapshot, stable bool, ok bool) {
	var ev engineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return stt.Snapshot{}, false, false
	}

	text := strings.TrimSpace(ev.Text)

	switch ev.Type {
	case "fullSentence":
		if text == "" {
			return stt.Snapshot{}, false, false
		}
		s.sentences = append(s.sentences, text)
		return stt.Snapshot{
			Text:   strings.Join(s.sentences, " "),
			Stable: true,
			At:     time.Now(),
		}, true, true

	case "realtime":
		if text == "" {
			return stt.Snapshot{}, false, false
		}
		full := text
		if len(s.sentences) > 0 {
			full = strings.Join(s.sentences, " ") + " " + text
		}
		return stt.Snapshot{
			Text: full,
			At:   time.Now(),
		}, false, true

	default:
		return stt.Snapshot{}, false, false
	}
}
