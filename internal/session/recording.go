package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/atoroc/res-speech-gdfe/internal/observe"
	"github.com/atoroc/res-speech-gdfe/pkg/endpointer"
)

// recorder captures per-utterance µ-law audio next to the call log. Two
// independent streams exist per utterance: the pre-endpointed stream holds
// the raw caller audio, the endpointed stream only what was forwarded to the
// backend after the start of speech.
//
// Files open lazily on the first qualifying frame. An open failure is
// attempted once per utterance and stream; afterwards the stream stays dark
// until the next utterance. The recorder has its own mutex so the session
// lock is never held across file I/O.
type recorder struct {
	mu sync.Mutex

	preEnabled  bool
	postEnabled bool

	dir      string
	basename string
	log      *CallLog
	metrics  *observe.Metrics

	utterance     int
	preAttempted  bool
	postAttempted bool
	pre           *os.File
	post          *os.File
}

func newRecorder(dir, basename string, preEnabled, postEnabled bool, log *CallLog, metrics *observe.Metrics) *recorder {
	return &recorder{
		preEnabled:  preEnabled,
		postEnabled: postEnabled,
		dir:         dir,
		basename:    basename,
		log:         log,
		metrics:     metrics,
	}
}

// beginUtterance resets the per-utterance open-attempt state. Any files left
// open from the previous utterance are closed first.
func (r *recorder) beginUtterance(n int) {
	r.closeAll()
	r.mu.Lock()
	r.utterance = n
	r.preAttempted = false
	r.postAttempted = false
	r.mu.Unlock()
}

// recordPre captures one frame of raw caller audio. While the detector is
// still in pre-speech the frame is written only if the file is already open;
// the one open attempt per utterance happens on the first frame at or past
// the start of speech.
func (r *recorder) recordPre(mulaw []byte, vadState endpointer.State) {
	if !r.preEnabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if vadState != endpointer.StatePreSpeech && !r.preAttempted {
		r.preAttempted = true
		r.pre = r.open("preendpointed")
	}
	r.write(r.pre, mulaw, "preendpointed")
}

// recordPost captures one frame of forwarded audio. Only frames observed
// while speaking are written; post-speech silence that is still flushed to
// the backend is not recorded.
func (r *recorder) recordPost(mulaw []byte, vadState endpointer.State) {
	if !r.postEnabled {
		return
	}
	if vadState != endpointer.StateSpeaking {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.postAttempted {
		r.postAttempted = true
		r.post = r.open("endpointed")
	}
	r.write(r.post, mulaw, "endpointed")
}

// open creates one recording file and logs the start event. Returns nil on
// failure. Caller holds r.mu.
func (r *recorder) open(kind string) *os.File {
	name := fmt.Sprintf("%s_%s_utterance_%d.ulaw", r.basename, kind, r.utterance)
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		slog.Warn("recording: open failed", "path", path, "err", err)
		r.metrics.RecordingFailures.Add(context.Background(), 1)
		if r.log != nil {
			r.log.Write(logTypeSession, "recording_open_failed", map[string]string{
				"recording": kind,
				"error":     err.Error(),
			})
		}
		return nil
	}
	if r.log != nil {
		r.log.Write(logTypeSession, "recording_start", map[string]string{
			"recording": kind,
			"path":      path,
		})
	}
	return f
}

// write appends one frame. Caller holds r.mu.
func (r *recorder) write(f *os.File, mulaw []byte, kind string) {
	if f == nil {
		return
	}
	n, err := f.Write(mulaw)
	if err != nil || n != len(mulaw) {
		slog.Warn("recording: short write", "recording", kind, "written", n, "len", len(mulaw), "err", err)
		r.metrics.RecordingFailures.Add(context.Background(), 1)
	}
}

// closeAll closes any open recording files and logs a stop event exactly
// once per file that was actually open.
func (r *recorder) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range []struct {
		f    **os.File
		kind string
	}{
		{&r.pre, "preendpointed"},
		{&r.post, "endpointed"},
	} {
		f := *s.f
		if f == nil {
			continue
		}
		path := f.Name()
		if err := f.Close(); err != nil {
			slog.Warn("recording: close failed", "path", path, "err", err)
		}
		*s.f = nil
		if r.log != nil {
			r.log.Write(logTypeSession, "recording_stop", map[string]string{
				"recording": s.kind,
				"path":      path,
			})
		}
	}
}
