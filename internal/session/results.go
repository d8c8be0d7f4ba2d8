package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
)

// slotOutputAudio is the backend result slot carrying synthesized response
// audio. Its binary payload is spilled to a temp file and exposed to the
// platform as a fulfillment_audio result holding the file path.
const slotOutputAudio = "output_audio"

// fulfillmentCounter names fallback fulfillment audio files when the
// system's temp file creation fails.
var fulfillmentCounter atomic.Int64

// collectResults harvests the completed exchange from the backend and maps
// it into platform-facing results. It also derives the spoke/quiet flags:
// a backend that responded at all either produced results (spoke) or
// explicitly heard nothing (quiet).
func (s *Session) collectResults(ctx context.Context) {
	responses := s.backend.ResponseCount()
	count := s.backend.ResultCount()

	out := make([]Result, 0, count)
	for i := 0; i < count; i++ {
		r, ok := s.backend.Result(i)
		if !ok {
			continue
		}
		if r.Slot == slotOutputAudio {
			path, err := writeFulfillmentAudio(r.Value)
			if err != nil {
				slog.Warn("session: spill fulfillment audio", "session_id", s.idSnapshot(), "err", err)
				s.metrics.RecordingFailures.Add(ctx, 1)
				continue
			}
			s.setLastAudioResponse(path)
			out = append(out, Result{Slot: "fulfillment_audio", Value: path, Score: 100})
			continue
		}
		out = append(out, Result{Slot: r.Slot, Value: string(r.Value), Score: r.Score})
	}

	s.logEvent(logTypeDialogflow, "results", map[string]string{
		"responses": strconv.Itoa(responses),
		"results":   strconv.Itoa(len(out)),
	})

	s.mu.Lock()
	s.results = out
	if responses > 0 {
		if len(out) > 0 {
			s.spoke = true
		} else {
			s.quiet = true
		}
	}
	s.mu.Unlock()
}

// setLastAudioResponse remembers the latest fulfillment audio file and
// removes the superseded one.
func (s *Session) setLastAudioResponse(path string) {
	s.mu.Lock()
	prev := s.lastAudioResponse
	s.lastAudioResponse = path
	s.mu.Unlock()

	if prev != "" && prev != path {
		if err := os.Remove(prev); err != nil && !os.IsNotExist(err) {
			slog.Warn("session: remove superseded fulfillment audio", "path", prev, "err", err)
		}
	}
}

// writeFulfillmentAudio spills one audio payload to a temp file and returns
// its path. When the unique temp file cannot be created, a counter-named
// file in the temp directory is used instead.
func writeFulfillmentAudio(data []byte) (string, error) {
	f, err := os.CreateTemp("", "res_speech_gdfe_fulfillment_*.wav")
	if err != nil {
		fallback := filepath.Join(os.TempDir(),
			fmt.Sprintf("res_speech_gdfe_fulfillment_%d.wav", fulfillmentCounter.Add(1)))
		if werr := os.WriteFile(fallback, data, 0o644); werr != nil {
			return "", fmt.Errorf("session: write fulfillment audio %q: %w", fallback, werr)
		}
		return fallback, nil
	}
	path := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr == nil {
			werr = cerr
		}
		return "", fmt.Errorf("session: write fulfillment audio %q: %w", path, werr)
	}
	return path, nil
}
