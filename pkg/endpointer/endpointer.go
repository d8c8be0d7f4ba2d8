// Package endpointer implements the energy-based voice activity detector
// that drives recognition start/stop decisions for a call.
//
// The detector classifies a stream of (loudness, elapsed-ms) observations
// into three phases — pre-speech, speaking, and post-speech silence — with
// debouncing expressed in continuous disagreement time rather than frame
// count. A single outlier frame can never flip the phase: opposing evidence
// must accumulate past a minimum duration before a transition commits, and
// any reinforcing frame resets the accumulator.
//
// Detector is a plain value with no locks and no I/O. Process runs in
// constant time per frame, so callers sharing a detector across goroutines
// can invoke it while holding their own lock.
package endpointer

// State is the detector's classification of the call audio.
type State int

const (
	// StatePreSpeech covers everything before the caller starts talking.
	StatePreSpeech State = iota

	// StateSpeaking covers the detected utterance.
	StateSpeaking

	// StatePostSpeechSilence is entered once sustained silence follows
	// speech. It is terminal for the utterance; a new utterance resets the
	// detector to StatePreSpeech.
	StatePostSpeechSilence
)

// String returns the state name used in logs and call-log events.
func (s State) String() string {
	switch s {
	case StatePreSpeech:
		return "pre_speech"
	case StateSpeaking:
		return "speaking"
	case StatePostSpeechSilence:
		return "post_speech_silence"
	default:
		return "unknown"
	}
}

// Event is a committed transition emitted by Process.
type Event int

const (
	// EventNone means the frame did not commit a transition.
	EventNone Event = iota

	// EventSpeechStart is emitted on the frame that commits
	// StatePreSpeech -> StateSpeaking.
	EventSpeechStart

	// EventSpeechEnd is emitted on the frame that commits
	// StateSpeaking -> StatePostSpeechSilence.
	EventSpeechEnd
)

// Config holds the tunable thresholds evaluated on every frame. The values
// are read fresh per call to Process, so runtime changes take effect on the
// next frame and never retroactively.
type Config struct {
	// VoiceThreshold is the mean absolute sample magnitude at or above
	// which a frame counts as voice-like.
	VoiceThreshold int

	// VoiceMinDurationMs is the continuous voice-like time required to
	// commit the transition into StateSpeaking.
	VoiceMinDurationMs int

	// SilenceMinDurationMs is the continuous silence time required to
	// commit the transition into StatePostSpeechSilence.
	SilenceMinDurationMs int
}

// Detector accumulates per-utterance endpointing state. The zero value is a
// detector in StatePreSpeech with zeroed counters, ready for the first frame.
type Detector struct {
	// State is the current classification.
	State State

	// StateDurationMs is the cumulative time spent continuously in State.
	StateDurationMs int

	// PendingTransitionMs is the cumulative time of frames inconsistent
	// with State — votes toward a transition. It is reset to zero whenever
	// a frame reinforces the current state and on every committed
	// transition; it is never negative.
	PendingTransitionMs int
}

// Process advances the detector by one frame observation and returns the
// transition committed by that frame, if any.
//
// level is the frame loudness (see audio.Level) and elapsedMs the frame
// duration in milliseconds. Multiple milliseconds may be consumed per call;
// no overshoot correction is performed — the instant the accumulated
// disagreement meets or exceeds the configured minimum, the transition
// commits for this frame. A minimum duration of zero therefore commits on
// the first frame evaluated in that state.
func (d *Detector) Process(cfg Config, level, elapsedMs int) Event {
	d.StateDurationMs += elapsedMs

	voice := level >= cfg.VoiceThreshold
	if voice == (d.State == StateSpeaking) {
		d.PendingTransitionMs = 0
	} else {
		d.PendingTransitionMs += elapsedMs
	}

	switch d.State {
	case StatePreSpeech:
		if d.PendingTransitionMs >= cfg.VoiceMinDurationMs {
			d.State = StateSpeaking
			d.StateDurationMs = 0
			d.PendingTransitionMs = 0
			return EventSpeechStart
		}
	case StateSpeaking:
		if d.PendingTransitionMs >= cfg.SilenceMinDurationMs {
			d.State = StatePostSpeechSilence
			d.StateDurationMs = 0
			d.PendingTransitionMs = 0
			return EventSpeechEnd
		}
	}
	// StatePostSpeechSilence: the utterance is over; only an explicit Reset
	// starts a new one.
	return EventNone
}

// Reset returns the detector to StatePreSpeech with zeroed counters. Called
// at the start of every utterance.
func (d *Detector) Reset() {
	*d = Detector{}
}
