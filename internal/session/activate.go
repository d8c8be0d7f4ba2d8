package session

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/atoroc/res-speech-gdfe/internal/config"
)

// Activation spec prefixes, matched case-insensitively.
const (
	eventPrefix   = "event:"
	grammarPrefix = "builtin:grammar/"
)

// Activate binds the session to a recognition target. Exactly two forms are
// accepted:
//
//	event:NAME                  prime the event NAME; the next Start runs an
//	                            event recognition instead of streaming audio
//	builtin:grammar/AGENT?EVENT bind the logical agent AGENT and optionally
//	                            prime EVENT
//
// Anything else is rejected without changing the session's binding. A
// logical agent resolves through the config's agents table; an unknown name
// is used directly as the backend project ID with the default credentials.
func (s *Session) Activate(spec string) error {
	if spec == "" {
		return fmt.Errorf("session: empty activation spec")
	}
	lower := strings.ToLower(spec)

	switch {
	case strings.HasPrefix(lower, eventPrefix):
		event := spec[len(eventPrefix):]
		if event == "" {
			return fmt.Errorf("session: activation %q names no event", spec)
		}
		s.primeEvent(event)
		return nil

	case strings.HasPrefix(lower, grammarPrefix):
		rest := spec[len(grammarPrefix):]
		name, event, _ := strings.Cut(rest, "?")
		if name == "" {
			return fmt.Errorf("session: activation %q names no agent", spec)
		}
		s.bindAgent(name)
		if event != "" {
			s.primeEvent(event)
		}
		return nil

	default:
		slog.Warn("session: unrecognized activation spec",
			"session_id", s.idSnapshot(), "spec", spec)
		return fmt.Errorf("session: unrecognized activation spec %q", spec)
	}
}

// primeEvent stores the event to fire on the next Start.
func (s *Session) primeEvent(event string) {
	s.mu.Lock()
	s.event = event
	s.mu.Unlock()
	s.logEvent(logTypeSession, "event_primed", map[string]string{"event": event})
}

// bindAgent resolves a logical agent name and rebinds the backend
// attachment. Fields the agent leaves empty keep the config defaults.
func (s *Session) bindAgent(name string) {
	agent, found := s.cfg.Agent(name)

	projectID := name
	serviceKey := s.cfg.Backend.ServiceKey
	endpoint := s.cfg.Backend.Endpoint
	language := s.cfg.Backend.Language
	if found {
		projectID = agent.ProjectID
		if agent.ServiceKey != "" {
			serviceKey = agent.ServiceKey
		}
		if agent.Endpoint != "" {
			endpoint = agent.Endpoint
		}
		if agent.Language != "" {
			language = agent.Language
		}
	} else {
		slog.Debug("session: unknown logical agent, using name as project",
			"session_id", s.idSnapshot(), "agent", name)
	}

	s.backend.SetProjectID(projectID)
	s.backend.SetEndpoint(endpoint)
	if serviceKey != "" {
		key, err := config.ResolveServiceKey(serviceKey)
		if err != nil {
			slog.Warn("session: agent service key unavailable",
				"session_id", s.idSnapshot(), "agent", name, "err", err)
		} else {
			s.backend.SetAuthKey(key)
		}
	}

	s.mu.Lock()
	s.agentName = name
	s.projectID = projectID
	s.language = language
	s.mu.Unlock()

	s.logEvent(logTypeSession, "agent_bound", map[string]string{
		"agent":      name,
		"project_id": projectID,
		"language":   language,
	})
}
