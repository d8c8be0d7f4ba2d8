package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Change sets a runtime property of the call. Property names are matched
// case-insensitively; the endpointing tunables take effect on the next frame
// and never retroactively.
func (s *Session) Change(name, value string) error {
	switch strings.ToLower(name) {
	case "session_id", "name":
		if value == "" {
			return fmt.Errorf("session: session_id must not be empty")
		}
		s.backend.SetSessionID(value)
		s.mu.Lock()
		s.id = value
		s.mu.Unlock()

	case "project_id":
		if value == "" {
			return fmt.Errorf("session: project_id must not be empty")
		}
		s.backend.SetProjectID(value)
		s.mu.Lock()
		s.projectID = value
		s.mu.Unlock()

	case "language":
		s.mu.Lock()
		s.language = value
		s.mu.Unlock()

	case "application":
		s.mu.Lock()
		s.application = value
		s.mu.Unlock()

	case "log_context", "logcontext":
		s.mu.Lock()
		s.logContext = value
		s.mu.Unlock()

	case "voice_threshold":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("session: voice_threshold %q is not a non-negative integer", value)
		}
		s.mu.Lock()
		s.epCfg.VoiceThreshold = n
		s.mu.Unlock()

	case "voice_duration", "voice_minimum_duration":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("session: voice_duration %q is not a non-negative integer", value)
		}
		s.mu.Lock()
		s.epCfg.VoiceMinDurationMs = n
		s.mu.Unlock()

	case "silence_duration", "silence_minimum_duration":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("session: silence_duration %q is not a non-negative integer", value)
		}
		s.mu.Lock()
		s.epCfg.SilenceMinDurationMs = n
		s.mu.Unlock()

	default:
		return fmt.Errorf("session: unknown property %q", name)
	}

	s.logEvent(logTypeSession, "property_change", map[string]string{
		"property": strings.ToLower(name),
		"value":    value,
	})
	return nil
}

// Setting returns the current value of a runtime property.
func (s *Session) Setting(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToLower(name) {
	case "session_id", "name":
		return s.id, nil
	case "project_id":
		return s.projectID, nil
	case "language":
		return s.language, nil
	case "application":
		return s.application, nil
	case "log_context", "logcontext":
		return s.logContext, nil
	case "voice_threshold":
		return strconv.Itoa(s.epCfg.VoiceThreshold), nil
	case "voice_duration", "voice_minimum_duration":
		return strconv.Itoa(s.epCfg.VoiceMinDurationMs), nil
	case "silence_duration", "silence_minimum_duration":
		return strconv.Itoa(s.epCfg.SilenceMinDurationMs), nil
	default:
		return "", fmt.Errorf("session: unknown property %q", name)
	}
}
