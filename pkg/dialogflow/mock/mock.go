// Package mock provides configurable in-memory implementations of the
// dialogflow contracts for tests.
package mock

import (
	"sync"

	"github.com/atoroc/res-speech-gdfe/pkg/dialogflow"
)

// Factory implements dialogflow.Factory and records every session it hands
// out.
type Factory struct {
	mu sync.Mutex

	// NewSessionErr, when set, is returned by NewSession instead of a session.
	NewSessionErr error

	// Sessions holds every session created, in creation order.
	Sessions []*Session
}

// NewSession returns a fresh mock session bound to the given sink.
func (f *Factory) NewSession(sessionID string, sink dialogflow.EventSink) (dialogflow.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewSessionErr != nil {
		return nil, f.NewSessionErr
	}
	s := &Session{sessionID: sessionID, Sink: sink}
	f.Sessions = append(f.Sessions, s)
	return s, nil
}

// Last returns the most recently created session, or nil.
func (f *Factory) Last() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sessions) == 0 {
		return nil
	}
	return f.Sessions[len(f.Sessions)-1]
}

// WriteAudioCall records one WriteAudio invocation.
type WriteAudioCall struct {
	Mulaw []byte
}

// RecognizeEventCall records one RecognizeEvent invocation.
type RecognizeEventCall struct {
	Event    string
	Language string
}

// Session implements dialogflow.Session with scripted behavior. Configure
// the exported error and status fields before use; inspect the recorded
// call slices afterwards. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	Sink dialogflow.EventSink

	sessionID string
	projectID string
	authKey   string
	endpoint  string

	// StartErr is returned by StartRecognition when set.
	StartErr error

	// WriteStatuses is consumed one per WriteAudio call; once exhausted the
	// last entry (or StatusRunning if empty) repeats.
	WriteStatuses []dialogflow.Status

	// WriteErr is returned alongside the status by every WriteAudio call.
	WriteErr error

	// StopErr is returned by StopRecognition when set.
	StopErr error

	// RecognizeEventErr is returned by RecognizeEvent when set.
	RecognizeEventErr error

	// Results are served by ResultCount and Result.
	Results []dialogflow.Result

	// Responses is the value reported by ResponseCount.
	Responses int

	StartCalls          []string
	WriteAudioCalls     []WriteAudioCall
	StopCalls           int
	RecognizeEventCalls []RecognizeEventCall
	CloseCalls          int

	writeIndex int
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

func (s *Session) SetProjectID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = id
}

func (s *Session) SetAuthKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authKey = key
}

// AuthKey returns the most recently bound credential.
func (s *Session) AuthKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authKey
}

func (s *Session) SetEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
}

// Endpoint returns the most recently bound endpoint.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Session) StartRecognition(language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls = append(s.StartCalls, language)
	return s.StartErr
}

func (s *Session) WriteAudio(mulaw []byte) (dialogflow.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(mulaw))
	copy(buf, mulaw)
	s.WriteAudioCalls = append(s.WriteAudioCalls, WriteAudioCall{Mulaw: buf})

	status := dialogflow.StatusRunning
	if len(s.WriteStatuses) > 0 {
		i := s.writeIndex
		if i >= len(s.WriteStatuses) {
			i = len(s.WriteStatuses) - 1
		}
		status = s.WriteStatuses[i]
		s.writeIndex++
	}
	return status, s.WriteErr
}

func (s *Session) StopRecognition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return s.StopErr
}

func (s *Session) RecognizeEvent(event, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecognizeEventCalls = append(s.RecognizeEventCalls, RecognizeEventCall{Event: event, Language: language})
	return s.RecognizeEventErr
}

func (s *Session) ResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Responses
}

func (s *Session) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Results)
}

func (s *Session) Result(i int) (dialogflow.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Results) {
		return dialogflow.Result{}, false
	}
	return s.Results[i], true
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

var (
	_ dialogflow.Factory = (*Factory)(nil)
	_ dialogflow.Session = (*Session)(nil)
)
