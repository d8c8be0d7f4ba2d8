package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log record types. Every call log line carries exactly one of these.
const (
	logTypeSession    = "SESSION"
	logTypeEndpointer = "ENDPOINTER"
	logTypeDialogflow = "DIALOGFLOW"
)

// CallLog is the per-call JSONL event log. One line per event, in arrival
// order, flushed per line. It carries its own mutex so writers never hold
// the session lock across file I/O.
type CallLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// openCallLog creates the call log file inside dir, creating the directory
// hierarchy as needed.
func openCallLog(dir, basename string) (*CallLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create call log directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, basename+"_log.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open call log %q: %w", path, err)
	}
	return &CallLog{f: f, path: path}, nil
}

// Path returns the call log file path.
func (l *CallLog) Path() string {
	return l.path
}

// Write appends one event line. attrs may be nil. Write failures are logged
// and swallowed: the call log must never break the audio path.
func (l *CallLog) Write(logType, event string, attrs map[string]string) {
	record := make(map[string]string, len(attrs)+3)
	for k, v := range attrs {
		record[k] = v
	}
	record["log_timestamp"] = time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	record["log_type"] = logType
	record["log_event"] = event

	// json.Marshal sorts map keys, so lines are deterministic for a given
	// record.
	line, err := json.Marshal(record)
	if err != nil {
		slog.Warn("call log: marshal record", "event", event, "err", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		slog.Warn("call log: write record", "path", l.path, "event", event, "err", err)
	}
}

// Close flushes and closes the log file. Writes after Close are dropped.
func (l *CallLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// expandLocation substitutes the artifact location template variables
// ${APPLICATION}, ${YEAR}, ${MONTH}, ${DAY} and ${HOUR} for the given
// application and time.
func expandLocation(template, application string, now time.Time) string {
	r := strings.NewReplacer(
		"${APPLICATION}", application,
		"${YEAR}", fmt.Sprintf("%04d", now.Year()),
		"${MONTH}", fmt.Sprintf("%02d", int(now.Month())),
		"${DAY}", fmt.Sprintf("%02d", now.Day()),
		"${HOUR}", fmt.Sprintf("%02d", now.Hour()),
	)
	return r.Replace(template)
}

// artifactBasename builds the shared prefix for all artifacts of one call:
// minute and second of the call start plus the session ID.
func artifactBasename(sessionID string, now time.Time) string {
	return fmt.Sprintf("%02d%02d_%s", now.Minute(), now.Second(), sessionID)
}
