package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the built-in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	// Backend
	if cfg.Backend.Endpoint != "" &&
		!strings.HasPrefix(cfg.Backend.Endpoint, "ws://") &&
		!strings.HasPrefix(cfg.Backend.Endpoint, "wss://") {
		errs = append(errs, fmt.Errorf("backend.endpoint %q must use a ws:// or wss:// scheme", cfg.Backend.Endpoint))
	}
	if cfg.Backend.ServiceKey == "" {
		slog.Warn("backend.service_key is empty; calls will fail unless every agent carries its own key")
	}

	// VAD
	if cfg.VAD.VoiceThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.voice_threshold %d must not be negative", cfg.VAD.VoiceThreshold))
	}
	if cfg.VAD.VoiceMinimumMs < 0 {
		errs = append(errs, fmt.Errorf("vad.voice_minimum_ms %d must not be negative", cfg.VAD.VoiceMinimumMs))
	}
	if cfg.VAD.SilenceMinimumMs < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_minimum_ms %d must not be negative", cfg.VAD.SilenceMinimumMs))
	}

	// Call logs
	if cfg.CallLogs.Enabled && cfg.CallLogs.Location == "" {
		errs = append(errs, errors.New("call_logs.location is required when call_logs.enabled is true"))
	}
	if (cfg.Recordings.PreEndpointed || cfg.Recordings.Endpointed) && !cfg.CallLogs.Enabled {
		slog.Warn("recordings are enabled but call_logs.enabled is false; recordings share the call log location and will be skipped")
	}

	// Agents: names must be unique case-insensitively since lookup folds case.
	agentNamesSeen := make(map[string]int, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			folded := strings.ToLower(agent.Name)
			if prev, ok := agentNamesSeen[folded]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, agent.Name, prev))
			}
			agentNamesSeen[folded] = i
		}
		if agent.ProjectID == "" {
			errs = append(errs, fmt.Errorf("%s.project_id is required", prefix))
		}
		if agent.Endpoint != "" &&
			!strings.HasPrefix(agent.Endpoint, "ws://") &&
			!strings.HasPrefix(agent.Endpoint, "wss://") {
			errs = append(errs, fmt.Errorf("%s.endpoint %q must use a ws:// or wss:// scheme", prefix, agent.Endpoint))
		}
	}

	return errors.Join(errs...)
}

// ResolveServiceKey turns a service_key config value into credential
// material. A value containing a '{' is treated as the literal JSON
// credential; anything else is read as a file path.
func ResolveServiceKey(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if strings.ContainsRune(value, '{') {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("config: read service key %q: %w", value, err)
	}
	return strings.TrimSpace(string(data)), nil
}
