package dialogflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultEventTimeout = 30 * time.Second
)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithDialTimeout bounds the time spent opening an exchange.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// WithEventTimeout bounds how long RecognizeEvent waits for the backend to
// reach a terminal status.
func WithEventTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.eventTimeout = d
		}
	}
}

// Bridge is a [Factory] that attaches calls to a recognition gateway over
// WebSocket. One exchange maps to one WebSocket connection: the session
// sends a JSON start (or event) message, streams µ-law audio as binary
// frames, and a background read loop accumulates JSON result messages until
// the gateway reports a terminal status.
type Bridge struct {
	endpoint     string
	authKey      string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	eventTimeout time.Duration
}

// NewBridge creates a Bridge targeting the given WebSocket endpoint
// (e.g. "wss://dfgw.example.com/v1/stream"). authKey is the default
// credential presented on exchange open; sessions may override both per
// call via SetEndpoint and SetAuthKey.
func NewBridge(endpoint, authKey string, opts ...Option) (*Bridge, error) {
	if endpoint == "" {
		return nil, errors.New("dialogflow: bridge endpoint must not be empty")
	}
	b := &Bridge{
		endpoint:     endpoint,
		authKey:      authKey,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		eventTimeout: defaultEventTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// NewSession creates a backend session for one call. No connection is opened
// until the first exchange starts.
func (b *Bridge) NewSession(sessionID string, sink EventSink) (Session, error) {
	if sink == nil {
		return nil, errors.New("dialogflow: event sink must not be nil")
	}
	return &bridgeSession{
		bridge:    b,
		sink:      sink,
		sessionID: sessionID,
		endpoint:  b.endpoint,
		authKey:   b.authKey,
	}, nil
}

// Compile-time assertion that Bridge satisfies Factory.
var _ Factory = (*Bridge)(nil)

// ── wire messages ─────────────────────────────────────────────────────────────

// clientMessage is the JSON envelope sent to the gateway on exchange open.
type clientMessage struct {
	Type      string `json:"type"` // "start", "event" or "stop"
	SessionID string `json:"session_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Language  string `json:"language,omitempty"`
	Event     string `json:"event,omitempty"`
}

// serverMessage is the JSON envelope received from the gateway.
type serverMessage struct {
	Type    string `json:"type"` // "response", "result", "end", "error"
	Slot    string `json:"slot,omitempty"`
	Value   string `json:"value,omitempty"`
	Binary  bool   `json:"binary,omitempty"` // value is base64 when set
	Score   int    `json:"score,omitempty"`
	Message string `json:"message,omitempty"`
}

// ── session ───────────────────────────────────────────────────────────────────

// bridgeSession implements [Session] over one WebSocket connection per
// exchange.
type bridgeSession struct {
	bridge *Bridge
	sink   EventSink

	mu        sync.Mutex
	sessionID string
	projectID string
	authKey   string
	endpoint  string

	conn      *websocket.Conn
	readDone  chan struct{}
	status    Status
	responses int
	results   []Result
	closed    bool
}

var (
	errNoExchange      = errors.New("dialogflow: no exchange in flight")
	errExchangeOpen    = errors.New("dialogflow: exchange already in flight")
	errSessionClosed   = errors.New("dialogflow: session is closed")
	errExchangeFailed  = errors.New("dialogflow: exchange reported an error")
	errExchangeTimeout = errors.New("dialogflow: timed out waiting for terminal status")
)

func (s *bridgeSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *bridgeSession) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *bridgeSession) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

func (s *bridgeSession) SetProjectID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = id
}

func (s *bridgeSession) SetAuthKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authKey = key
}

func (s *bridgeSession) SetEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if endpoint == "" {
		endpoint = s.bridge.endpoint
	}
	s.endpoint = endpoint
}

// StartRecognition dials the gateway and opens a streaming exchange.
func (s *bridgeSession) StartRecognition(language string) error {
	start := clientMessage{Type: "start", Language: language}
	return s.open(start)
}

// open dials the gateway with the currently bound identity, sends the
// opening message and launches the read loop. The lock is not held across
// the dial.
func (s *bridgeSession) open(msg clientMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return errExchangeOpen
	}
	endpoint := s.endpoint
	authKey := s.authKey
	msg.SessionID = s.sessionID
	msg.ProjectID = s.projectID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.bridge.dialTimeout)
	defer cancel()

	headers := http.Header{}
	if authKey != "" {
		headers.Set("Authorization", "Bearer "+authKey)
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("dialogflow: dial %s: %w", endpoint, err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal failure")
		return fmt.Errorf("dialogflow: marshal %s message: %w", msg.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		conn.Close(websocket.StatusProtocolError, "open write failure")
		return fmt.Errorf("dialogflow: send %s message: %w", msg.Type, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.readDone = done
	s.status = StatusRunning
	s.responses = 0
	s.results = nil
	s.mu.Unlock()

	go s.readLoop(conn, done)

	s.sink.BackendEvent("exchange_open", map[string]string{
		"endpoint":   endpoint,
		"project_id": msg.ProjectID,
		"language":   msg.Language,
		"type":       msg.Type,
	})
	return nil
}

// WriteAudio forwards one µ-law frame and reports the status observed after
// the write.
func (s *bridgeSession) WriteAudio(mulaw []byte) (Status, error) {
	s.mu.Lock()
	conn := s.conn
	status := s.status
	s.mu.Unlock()

	if conn == nil {
		return StatusError, errNoExchange
	}
	if status.Terminal() {
		return status, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.bridge.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, mulaw); err != nil {
		// A write can fail after the gateway already reported a terminal
		// status; keep that status if so.
		s.mu.Lock()
		if !s.status.Terminal() {
			s.status = StatusError
		}
		status = s.status
		s.mu.Unlock()
		return status, fmt.Errorf("dialogflow: write audio: %w", err)
	}

	s.mu.Lock()
	status = s.status
	s.mu.Unlock()
	return status, nil
}

// StopRecognition closes the streaming exchange, flushing pending audio.
func (s *bridgeSession) StopRecognition() error {
	s.mu.Lock()
	conn := s.conn
	done := s.readDone
	s.conn = nil
	s.readDone = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.bridge.writeTimeout)
	defer cancel()
	if payload, err := json.Marshal(clientMessage{Type: "stop"}); err == nil {
		// Best effort: the gateway flushes buffered audio on stop.
		_ = conn.Write(ctx, websocket.MessageText, payload)
	}
	conn.Close(websocket.StatusNormalClosure, "exchange stopped")
	if done != nil {
		<-done
	}

	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	s.sink.BackendEvent("exchange_end", map[string]string{"status": status.String()})
	return nil
}

// RecognizeEvent runs a one-shot event recognition exchange, blocking until
// the gateway reaches a terminal status.
func (s *bridgeSession) RecognizeEvent(event, language string) error {
	if event == "" {
		return errors.New("dialogflow: event name must not be empty")
	}
	if err := s.open(clientMessage{Type: "event", Event: event, Language: language}); err != nil {
		return err
	}

	s.mu.Lock()
	done := s.readDone
	s.mu.Unlock()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(s.bridge.eventTimeout):
		timedOut = true
	}

	if err := s.StopRecognition(); err != nil {
		slog.Warn("dialogflow: stopping event exchange", "err", err)
	}
	if timedOut {
		return errExchangeTimeout
	}

	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status == StatusError {
		return errExchangeFailed
	}
	return nil
}

func (s *bridgeSession) ResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses
}

func (s *bridgeSession) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *bridgeSession) Result(i int) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.results) {
		return Result{}, false
	}
	return s.results[i], true
}

// Close abandons any open exchange and releases the session.
func (s *bridgeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.StopRecognition()
}

// readLoop receives gateway messages for one exchange and folds them into
// the session until the connection closes or a terminal message arrives.
func (s *bridgeSession) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Normal close after stop, or transport failure: if no terminal
			// status was seen, the exchange is broken.
			s.mu.Lock()
			if !s.status.Terminal() {
				s.status = StatusError
			}
			s.mu.Unlock()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("dialogflow: ignoring malformed gateway message", "err", err)
			continue
		}

		switch msg.Type {
		case "response":
			s.mu.Lock()
			s.responses++
			s.mu.Unlock()

		case "result":
			value := []byte(msg.Value)
			if msg.Binary {
				decoded, err := base64.StdEncoding.DecodeString(msg.Value)
				if err != nil {
					slog.Warn("dialogflow: undecodable binary result", "slot", msg.Slot, "err", err)
					continue
				}
				value = decoded
			}
			s.mu.Lock()
			s.responses++
			s.results = append(s.results, Result{Slot: msg.Slot, Value: value, Score: msg.Score})
			s.mu.Unlock()

		case "end":
			s.mu.Lock()
			s.status = StatusFinished
			s.mu.Unlock()
			return

		case "error":
			s.mu.Lock()
			s.status = StatusError
			s.mu.Unlock()
			s.sink.BackendEvent("exchange_error", map[string]string{"message": msg.Message})
			return

		default:
			slog.Debug("dialogflow: unknown gateway message type", "type", msg.Type)
		}
	}
}

// Compile-time assertion that bridgeSession satisfies Session.
var _ Session = (*bridgeSession)(nil)
