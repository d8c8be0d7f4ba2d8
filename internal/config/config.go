// Package config provides the configuration schema, loader, and file watcher
// for the speech endpointing daemon.
package config

import (
	"log/slog"
	"strings"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding slog level. Unrecognised values map to
// info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the daemon.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backend    BackendConfig    `yaml:"backend"`
	VAD        VADConfig        `yaml:"vad"`
	CallLogs   CallLogsConfig   `yaml:"call_logs"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Agents     []AgentConfig    `yaml:"agents"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health endpoint listens on
	// (e.g., ":9120").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig holds the process-wide defaults for the recognition backend.
// Individual agents may override any of these.
type BackendConfig struct {
	// Endpoint is the recognition gateway address
	// (e.g., "wss://dfgw.example.com/v1/stream").
	Endpoint string `yaml:"endpoint"`

	// ServiceKey is either a path to a JSON credential file or, when the
	// value contains a '{', the literal JSON credential itself.
	ServiceKey string `yaml:"service_key"`

	// Language is the default recognition language tag (e.g., "en").
	Language string `yaml:"language"`
}

// VADConfig holds the default voice activity detection tunables. All three
// can be retuned per call at runtime.
type VADConfig struct {
	// VoiceThreshold is the mean absolute sample magnitude at or above which
	// a frame counts as voice.
	VoiceThreshold int `yaml:"voice_threshold"`

	// VoiceMinimumMs is the continuous voice time required to declare the
	// start of speech.
	VoiceMinimumMs int `yaml:"voice_minimum_ms"`

	// SilenceMinimumMs is the continuous silence time required to declare
	// the end of speech.
	SilenceMinimumMs int `yaml:"silence_minimum_ms"`
}

// CallLogsConfig controls the per-call JSONL event log.
type CallLogsConfig struct {
	// Enabled turns call logging on.
	Enabled bool `yaml:"enabled"`

	// Location is the directory template for call artifacts. It may contain
	// the variables ${APPLICATION}, ${YEAR}, ${MONTH}, ${DAY} and ${HOUR},
	// expanded per call when the log is opened.
	Location string `yaml:"location"`
}

// RecordingsConfig controls audio capture alongside the call log. Recordings
// land in the same location as the call log and are disabled by default.
type RecordingsConfig struct {
	// PreEndpointed records the raw caller audio from the start of each
	// utterance, before endpointing.
	PreEndpointed bool `yaml:"pre_endpointed"`

	// Endpointed records only the audio forwarded to the backend, i.e. after
	// the start of speech was declared.
	Endpointed bool `yaml:"endpointed"`
}

// AgentConfig binds a logical agent name to a backend project. Empty fields
// fall back to the [BackendConfig] defaults.
type AgentConfig struct {
	// Name is the logical agent name callers select (matched
	// case-insensitively).
	Name string `yaml:"name"`

	// ProjectID is the backend project the agent maps to.
	ProjectID string `yaml:"project_id"`

	// ServiceKey overrides the default credential for this agent.
	ServiceKey string `yaml:"service_key"`

	// Endpoint overrides the default gateway endpoint for this agent.
	Endpoint string `yaml:"endpoint"`

	// Language overrides the default recognition language for this agent.
	Language string `yaml:"language"`
}

// Defaults returns a Config prefilled with the built-in defaults. Loading
// decodes the YAML file over this value, so absent keys keep their default.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9120",
			LogLevel:   LogInfo,
		},
		Backend: BackendConfig{
			Language: "en",
		},
		VAD: VADConfig{
			VoiceThreshold:   512,
			VoiceMinimumMs:   40,
			SilenceMinimumMs: 500,
		},
		CallLogs: CallLogsConfig{
			Enabled:  true,
			Location: "/var/log/dialogflow/${APPLICATION}/${YEAR}/${MONTH}/${DAY}/${HOUR}",
		},
	}
}

// Agent returns the agent configuration for the given logical name, matched
// case-insensitively. The second return is false if no agent matches.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return AgentConfig{}, false
}
