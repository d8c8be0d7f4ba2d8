// Package dialogflow defines the capability contract between the per-call
// voice core and the cloud speech-recognition backend.
//
// The core never speaks the backend's wire protocol itself: it drives a
// [Session] — one per call, created alongside the call and closed at
// teardown — through a small synchronous surface: bind identity and
// credentials, start a streaming exchange, write µ-law audio and observe the
// exchange status, or fire a one-shot event recognition. Results accumulate
// on the session and are read back by index.
//
// Backend-originated structured events (exchange opened, intent matched,
// errors) are delivered through an [EventSink] supplied at session creation;
// the session calls it synchronously. Implementations live next to this
// package ([Bridge]) or in test code (the mock subpackage).
package dialogflow

// Status is the state of the current recognition exchange as reported by the
// backend. StatusFinished and StatusError are terminal: the exchange is over
// and a new one must be started for the next utterance.
type Status int

const (
	StatusRunning Status = iota
	StatusFinished
	StatusError
)

// Terminal reports whether the exchange has reached a final state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// String returns the status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is one recognition slot produced by the backend. Value holds raw
// bytes because some slots (output_audio) carry binary payloads; textual
// slots are UTF-8.
type Result struct {
	Slot  string
	Value []byte
	Score int
}

// EventSink receives structured call events emitted by a backend session.
// Implementations must tolerate being called from the session's delivery
// goroutine; the call is synchronous and must not block for long.
type EventSink interface {
	BackendEvent(event string, attrs map[string]string)
}

// Session is one recognition-capable backend attachment, owned 1:1 by a call.
//
// Identity and credential setters only affect exchanges opened after the
// call; an in-flight exchange keeps the binding it was opened with. All
// methods are safe for concurrent use.
type Session interface {
	// SessionID returns the current session identifier.
	SessionID() string

	// SetSessionID rebinds the session identifier used for subsequent
	// exchanges and artifact naming.
	SetSessionID(id string)

	// ProjectID returns the bound project identity.
	ProjectID() string

	// SetProjectID rebinds the target project identity.
	SetProjectID(id string)

	// SetAuthKey replaces the credential material presented on the next
	// exchange open.
	SetAuthKey(key string)

	// SetEndpoint replaces the backend network endpoint used on the next
	// exchange open. An empty endpoint selects the implementation default.
	SetEndpoint(endpoint string)

	// StartRecognition opens a streaming recognition exchange for one
	// utterance in the given language. It fails if an exchange is already
	// in flight.
	StartRecognition(language string) error

	// WriteAudio forwards one frame of µ-law audio to the open exchange and
	// returns the exchange status observed after the write. Returning a
	// terminal status obliges the caller to stop the exchange.
	WriteAudio(mulaw []byte) (Status, error)

	// StopRecognition closes the streaming exchange, flushing pending
	// audio. It is a no-op if no exchange is open.
	StopRecognition() error

	// RecognizeEvent runs a one-shot event recognition instead of streaming
	// audio, blocking until the backend answers or the exchange fails.
	RecognizeEvent(event, language string) error

	// ResponseCount returns the number of backend responses received during
	// the current exchange, including interim ones that carry no results.
	ResponseCount() int

	// ResultCount returns the number of results accumulated by the current
	// exchange.
	ResultCount() int

	// Result returns the i-th accumulated result. The second return is
	// false if i is out of range.
	Result(i int) (Result, bool)

	// Close releases the session. Any open exchange is abandoned. Close is
	// idempotent.
	Close() error
}

// Factory creates backend sessions. The hosting platform supplies one
// factory per process; the core calls it once per call.
type Factory interface {
	NewSession(sessionID string, sink EventSink) (Session, error)
}
