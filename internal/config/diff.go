package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; in-flight calls
// keep the settings they were created with unless retuned individually.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true if any default endpointing tunable changed. New
	// calls pick up the new defaults.
	VADChanged bool

	// CallLogsChanged is true if call logging or recording settings changed.
	CallLogsChanged bool

	AgentsChanged bool
	AgentChanges  []AgentDiff
}

// AgentDiff describes what changed for a single logical agent.
type AgentDiff struct {
	Name    string
	Changed bool
	Added   bool
	Removed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	if old.CallLogs != new.CallLogs || old.Recordings != new.Recordings {
		d.CallLogsChanged = true
	}

	// Build agent lookup maps keyed by name.
	oldAgents := make(map[string]*AgentConfig, len(old.Agents))
	for i := range old.Agents {
		oldAgents[old.Agents[i].Name] = &old.Agents[i]
	}
	newAgents := make(map[string]*AgentConfig, len(new.Agents))
	for i := range new.Agents {
		newAgents[new.Agents[i].Name] = &new.Agents[i]
	}

	// Detect modified and removed agents.
	for name, oldAgent := range oldAgents {
		newAgent, exists := newAgents[name]
		if !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Removed: true})
			d.AgentsChanged = true
			continue
		}
		if *oldAgent != *newAgent {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Changed: true})
			d.AgentsChanged = true
		}
	}

	// Detect added agents.
	for name := range newAgents {
		if _, exists := oldAgents[name]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Added: true})
			d.AgentsChanged = true
		}
	}

	return d
}
