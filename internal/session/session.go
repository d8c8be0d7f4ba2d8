// Package session implements the per-call voice core: energy-based
// endpointing over the caller's audio, lifecycle control of the recognition
// backend, and the call's artifact sinks (JSONL event log and optional audio
// recordings).
//
// One [Session] exists per telephone call. Audio frames arrive from a single
// writer goroutine via [Session.WriteFrame]; control operations
// ([Session.Start], [Session.Change], [Session.Activate], [Session.Destroy])
// may be issued concurrently from the platform's control path. A single
// session mutex guards all shared state and is never held across blocking
// I/O: frame classification is pure arithmetic and runs as one step under
// the lock, file and network writes happen outside it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/atoroc/res-speech-gdfe/internal/config"
	"github.com/atoroc/res-speech-gdfe/internal/observe"
	"github.com/atoroc/res-speech-gdfe/pkg/audio"
	"github.com/atoroc/res-speech-gdfe/pkg/dialogflow"
	"github.com/atoroc/res-speech-gdfe/pkg/endpointer"
)

// State is the platform-visible recognition state of the call.
type State int

const (
	// StateNotReady means no recognition attempt is in progress and no
	// results are available.
	StateNotReady State = iota

	// StateReady means a recognition exchange is in flight.
	StateReady

	// StateDone means the current utterance has completed and results may be
	// read. A new utterance requires Start.
	StateDone
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Result is one recognition result exposed to the platform. Binary audio
// payloads have already been spilled to disk; Value is always text (for
// fulfillment audio, the file path).
type Result struct {
	Slot  string `json:"slot"`
	Value string `json:"value"`
	Score int    `json:"score"`
}

// Options holds the dependencies for a [Session].
type Options struct {
	// SessionID identifies the call in logs, artifacts, and the backend.
	SessionID string

	// Config is the configuration snapshot the call runs with. Later config
	// reloads do not affect an existing session.
	Config *config.Config

	// Factory creates the backend attachment for this call.
	Factory dialogflow.Factory

	// Metrics receives instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is the per-call voice core.
type Session struct {
	mu sync.Mutex

	id      string
	cfg     *config.Config
	backend dialogflow.Session
	metrics *observe.Metrics

	// endpointing
	detector endpointer.Detector
	epCfg    endpointer.Config

	// recognition binding
	agentName   string
	projectID   string
	language    string
	event       string
	application string
	logContext  string

	// platform-visible state
	state State
	spoke bool
	quiet bool

	utterance          int
	speakingMs         int
	utteranceFinalized bool

	// artifacts
	callLogsEnabled  bool
	callLogTemplate  string
	recordPre        bool
	recordPost       bool
	callLogAttempted bool
	callLog          *CallLog
	rec              *recorder

	lastAudioResponse string
	results           []Result
	closed            bool
}

// New creates a session for one call and attaches it to the recognition
// backend with the config's default binding.
func New(opts Options) (*Session, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session: session ID must not be empty")
	}
	if opts.Config == nil {
		return nil, errors.New("session: config must not be nil")
	}
	if opts.Factory == nil {
		return nil, errors.New("session: backend factory must not be nil")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	cfg := opts.Config
	s := &Session{
		id:      opts.SessionID,
		cfg:     cfg,
		metrics: metrics,
		epCfg: endpointer.Config{
			VoiceThreshold:       cfg.VAD.VoiceThreshold,
			VoiceMinDurationMs:   cfg.VAD.VoiceMinimumMs,
			SilenceMinDurationMs: cfg.VAD.SilenceMinimumMs,
		},
		language:        cfg.Backend.Language,
		application:     "unknown",
		callLogsEnabled: cfg.CallLogs.Enabled,
		callLogTemplate: cfg.CallLogs.Location,
		recordPre:       cfg.Recordings.PreEndpointed,
		recordPost:      cfg.Recordings.Endpointed,
	}

	backend, err := opts.Factory.NewSession(opts.SessionID, s)
	if err != nil {
		return nil, fmt.Errorf("session: create backend session: %w", err)
	}
	s.backend = backend

	if cfg.Backend.ServiceKey != "" {
		key, err := config.ResolveServiceKey(cfg.Backend.ServiceKey)
		if err != nil {
			slog.Warn("session: default service key unavailable", "session_id", s.id, "err", err)
		} else {
			backend.SetAuthKey(key)
		}
	}
	if cfg.Backend.Endpoint != "" {
		backend.SetEndpoint(cfg.Backend.Endpoint)
	}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the platform-visible recognition state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Spoke reports whether the backend produced results for the current
// utterance. Like Quiet it is derived from the backend's responses, not from
// the local detector.
func (s *Session) Spoke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spoke
}

// Quiet reports whether the backend answered the current utterance without
// producing any result.
func (s *Session) Quiet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiet
}

// BackendEvent routes backend-originated events into the call log. It
// implements [dialogflow.EventSink].
func (s *Session) BackendEvent(event string, attrs map[string]string) {
	s.logEvent(logTypeDialogflow, event, attrs)
}

// Start begins a new utterance: the endpointing detector resets, artifact
// gating resets, and, if an event was primed via Activate, the event
// recognition runs immediately and the session lands in StateDone with its
// results.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session: already destroyed")
	}
	s.utterance++
	n := s.utterance
	s.detector.Reset()
	s.state = StateNotReady
	s.spoke = false
	s.quiet = false
	s.utteranceFinalized = false
	s.speakingMs = 0
	s.results = nil
	event := s.event
	s.event = ""
	language := s.language
	agent := s.agentName
	projectID := s.projectID
	epCfg := s.epCfg
	s.mu.Unlock()

	startAttrs := map[string]string{
		"utterance": strconv.Itoa(n),
		"language":  language,
	}
	if agent != "" {
		startAttrs["agent"] = agent
	}
	if projectID != "" {
		startAttrs["project_id"] = projectID
	}
	if event != "" {
		startAttrs["event"] = event
	}
	s.logEvent(logTypeSession, "utterance_start", startAttrs)
	s.logEvent(logTypeEndpointer, "start", map[string]string{
		"voice_threshold":  strconv.Itoa(epCfg.VoiceThreshold),
		"voice_duration":   strconv.Itoa(epCfg.VoiceMinDurationMs),
		"silence_duration": strconv.Itoa(epCfg.SilenceMinDurationMs),
	})
	if rec := s.recorderRef(); rec != nil {
		rec.beginUtterance(n)
	}

	if event == "" {
		return nil
	}

	// Event priming: recognize the event instead of streaming audio.
	ctx := context.Background()
	s.logEvent(logTypeDialogflow, "event_recognition", map[string]string{
		"event":    event,
		"language": language,
	})
	if err := s.backend.RecognizeEvent(event, language); err != nil {
		s.metrics.RecordBackendError(ctx, "event")
		s.logEvent(logTypeDialogflow, "event_recognition_failed", map[string]string{
			"event": event,
			"error": err.Error(),
		})
		s.finalize(StateNotReady)
		return fmt.Errorf("session: recognize event %q: %w", event, err)
	}
	s.metrics.Utterances.Add(ctx, 1)
	s.collectResults(ctx)
	s.finalize(StateDone)
	return nil
}

// WriteFrame processes one frame of signed linear 16-bit 8 kHz caller audio.
// It runs the endpointing detector, opens the backend exchange when speech
// starts, and from then on forwards µ-law audio — through trailing silence —
// until the backend reports the exchange finished. The backend, not the
// detector, decides when the utterance is over; the detector only gates when
// forwarding starts. Frames arriving before Start or after the utterance
// completed are dropped.
func (s *Session) WriteFrame(pcm []byte) error {
	ctx := context.Background()
	samples := audio.DecodeSamples(pcm)
	if len(samples) == 0 {
		return nil
	}
	frameMs := audio.FrameDurationMs(len(samples))
	level := audio.Level(samples)

	// Classification and detector update are one step under the lock so a
	// concurrent Start cannot be interleaved with a stale detector.
	s.mu.Lock()
	if s.closed || s.utterance == 0 || s.utteranceFinalized {
		s.mu.Unlock()
		return nil
	}
	ev := s.detector.Process(s.epCfg, level, frameMs)
	vadState := s.detector.State
	if vadState == endpointer.StateSpeaking {
		s.speakingMs += frameMs
	}
	speakingMs := s.speakingMs
	language := s.language
	s.mu.Unlock()

	s.metrics.FramesProcessed.Add(ctx, 1)
	s.metrics.AudioMilliseconds.Add(ctx, int64(frameMs))

	switch ev {
	case endpointer.EventSpeechStart:
		s.metrics.RecordTransition(ctx, "speech_start")
		s.logEvent(logTypeEndpointer, "speech_start", map[string]string{
			"level": strconv.Itoa(level),
		})
		if err := s.backend.StartRecognition(language); err != nil {
			s.metrics.RecordBackendError(ctx, "start")
			s.logEvent(logTypeDialogflow, "recognition_start_failed", map[string]string{
				"error": err.Error(),
			})
			s.finalize(StateNotReady)
			return fmt.Errorf("session: start recognition: %w", err)
		}
		s.metrics.Utterances.Add(ctx, 1)
		s.mu.Lock()
		s.state = StateReady
		s.mu.Unlock()

	case endpointer.EventSpeechEnd:
		s.metrics.RecordTransition(ctx, "speech_end")
		s.metrics.UtteranceDuration.Record(ctx, float64(speakingMs)/1000)
		s.logEvent(logTypeEndpointer, "speech_end", map[string]string{
			"speech_ms": strconv.Itoa(speakingMs),
		})
	}

	rec := s.recorderRef()

	if vadState == endpointer.StatePreSpeech {
		if rec != nil {
			rec.recordPre(audio.EncodeUlaw(samples), vadState)
		}
		return nil
	}

	mulaw := audio.EncodeUlaw(samples)
	if rec != nil {
		rec.recordPre(mulaw, vadState)
		rec.recordPost(mulaw, vadState)
	}

	status, err := s.backend.WriteAudio(mulaw)
	if err != nil {
		s.metrics.RecordBackendError(ctx, "write")
		s.logEvent(logTypeDialogflow, "audio_write_failed", map[string]string{
			"error": err.Error(),
		})
	}
	if status.Terminal() {
		s.completeUtterance(ctx)
	}
	return nil
}

// Results returns the platform-facing results of the last completed
// utterance.
func (s *Session) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Destroy tears the call down: a live utterance is closed out, the backend
// attachment is released, any lingering fulfillment audio file is removed,
// and the call log is sealed. Destroy is idempotent.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	finalized := s.utteranceFinalized
	started := s.utterance > 0
	st := s.state
	s.mu.Unlock()

	if started && !finalized {
		if err := s.backend.StopRecognition(); err != nil {
			slog.Warn("session: stop recognition during destroy", "session_id", s.ID(), "err", err)
		}
		s.finalize(st)
	}

	err := s.backend.Close()

	s.mu.Lock()
	s.closed = true
	last := s.lastAudioResponse
	s.lastAudioResponse = ""
	log := s.callLog
	s.callLog = nil
	s.mu.Unlock()

	if last != "" {
		if rmErr := os.Remove(last); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("session: remove fulfillment audio", "path", last, "err", rmErr)
		}
	}
	if log != nil {
		log.Write(logTypeSession, "session_end", map[string]string{"session_id": s.idSnapshot()})
		if closeErr := log.Close(); closeErr != nil {
			slog.Warn("session: close call log", "path", log.Path(), "err", closeErr)
		}
	}
	return err
}

// completeUtterance stops the exchange, harvests its results, and finalizes
// the utterance in StateDone.
func (s *Session) completeUtterance(ctx context.Context) {
	if err := s.backend.StopRecognition(); err != nil {
		s.metrics.RecordBackendError(ctx, "stop")
		slog.Warn("session: stop recognition", "session_id", s.idSnapshot(), "err", err)
	}
	s.collectResults(ctx)
	s.finalize(StateDone)
}

// finalize closes the utterance exactly once: recordings are sealed, the end
// event is logged, and the platform state is set.
func (s *Session) finalize(st State) {
	s.mu.Lock()
	if s.utteranceFinalized {
		s.mu.Unlock()
		return
	}
	s.utteranceFinalized = true
	s.state = st
	n := s.utterance
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		rec.closeAll()
	}
	s.logEvent(logTypeSession, "utterance_end", map[string]string{
		"utterance": strconv.Itoa(n),
		"state":     st.String(),
	})
}

func (s *Session) idSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// logEvent writes one call log line, opening the log lazily on first use.
func (s *Session) logEvent(logType, event string, attrs map[string]string) {
	if log := s.ensureCallLog(); log != nil {
		log.Write(logType, event, attrs)
	}
}

// recorderRef returns the recording sink, creating it together with the call
// log on first use. Nil when call logging is disabled or the log could not
// be opened.
func (s *Session) recorderRef() *recorder {
	s.ensureCallLog()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// ensureCallLog opens the call log on first use. The location template is
// expanded with the application name bound at that moment; one failed open
// attempt disables call logging for the rest of the call.
func (s *Session) ensureCallLog() *CallLog {
	s.mu.Lock()
	if !s.callLogsEnabled {
		s.mu.Unlock()
		return nil
	}
	if s.callLogAttempted {
		log := s.callLog
		s.mu.Unlock()
		return log
	}
	s.callLogAttempted = true
	template := s.callLogTemplate
	app := s.application
	logCtx := s.logContext
	id := s.id
	recordPre := s.recordPre
	recordPost := s.recordPost
	s.mu.Unlock()

	now := time.Now()
	dir := expandLocation(template, app, now)
	basename := artifactBasename(id, now)
	log, err := openCallLog(dir, basename)
	if err != nil {
		slog.Warn("session: call log unavailable", "session_id", id, "dir", dir, "err", err)
		s.metrics.RecordingFailures.Add(context.Background(), 1)
		return nil
	}

	rec := newRecorder(dir, basename, recordPre, recordPost, log, s.metrics)

	s.mu.Lock()
	s.callLog = log
	s.rec = rec
	s.mu.Unlock()

	attrs := map[string]string{
		"session_id":  id,
		"application": app,
	}
	if logCtx != "" {
		attrs["context"] = logCtx
	}
	log.Write(logTypeSession, "session_start", attrs)
	return log
}
