// Command gdfed is the speech endpointing daemon: it terminates telephony
// media streams, runs voice activity detection and endpointing, and drives
// recognition exchanges against the Dialogflow gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/atoroc/res-speech-gdfe/internal/config"
	"github.com/atoroc/res-speech-gdfe/internal/engine"
	"github.com/atoroc/res-speech-gdfe/internal/health"
	"github.com/atoroc/res-speech-gdfe/internal/observe"
	"github.com/atoroc/res-speech-gdfe/internal/server"
	"github.com/atoroc/res-speech-gdfe/pkg/audio"
	"github.com/atoroc/res-speech-gdfe/pkg/dialogflow"
	"github.com/atoroc/res-speech-gdfe/pkg/endpointer"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "gdfe.yaml", "path to the YAML configuration file")
	analyzePath := flag.String("analyze", "", "run the endpointer over a raw 8 kHz signed-linear file and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if *analyzePath != "" && errors.Is(err, os.ErrNotExist) {
			// Offline analysis works fine on the built-in defaults.
			cfg = config.Defaults()
		} else if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gdfed: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
			return 1
		} else {
			fmt.Fprintf(os.Stderr, "gdfed: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *analyzePath != "" {
		return analyze(*analyzePath, cfg)
	}

	slog.Info("gdfed starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"endpoint", cfg.Backend.Endpoint,
		"agents", len(cfg.Agents),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "gdfed",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Live configuration ────────────────────────────────────────────────────
	store := config.NewStore(cfg)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.Slog())
		}
		store.Swap(new)
		slog.Info("configuration applied",
			"vad_changed", d.VADChanged,
			"call_logs_changed", d.CallLogsChanged,
			"agents_changed", d.AgentsChanged,
		)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Recognition backend ───────────────────────────────────────────────────
	if cfg.Backend.Endpoint == "" {
		slog.Error("backend.endpoint is not configured")
		return 1
	}
	authKey, err := config.ResolveServiceKey(cfg.Backend.ServiceKey)
	if err != nil {
		slog.Error("failed to resolve service key", "err", err)
		return 1
	}
	bridge, err := dialogflow.NewBridge(cfg.Backend.Endpoint, authKey)
	if err != nil {
		slog.Error("failed to create backend bridge", "err", err)
		return 1
	}

	// ── Call engine + HTTP surface ────────────────────────────────────────────
	eng, err := engine.New(store, bridge, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to create call engine", "err", err)
		return 1
	}

	checks := health.New(version,
		health.Probe{Name: "config", Run: func(context.Context) error {
			_, err := os.Stat(*configPath)
			return err
		}},
		health.Probe{Name: "call_logs", Run: func(context.Context) error {
			current := store.Current()
			if !current.CallLogs.Enabled {
				return nil
			}
			dir := expandedLogRoot(current.CallLogs.Location)
			return os.MkdirAll(dir, 0o755)
		}},
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/calls", server.NewHandler(eng))
	mux.Handle("/metrics", promhttp.Handler())
	checks.Register(mux)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		eng.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// expandedLogRoot returns the static prefix of the call log location
// template, i.e. everything before the first template variable. The
// readiness check probes that this root is writable.
func expandedLogRoot(location string) string {
	if i := strings.Index(location, "${"); i >= 0 {
		location = location[:i]
	}
	if location == "" {
		return "."
	}
	return filepath.Clean(location)
}

// analyze runs the endpointing detector over a raw audio file and prints the
// committed transitions. Useful for tuning thresholds against recorded
// calls.
func analyze(path string, cfg *config.Config) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gdfed: %v\n", err)
		return 1
	}

	epCfg := endpointer.Config{
		VoiceThreshold:       cfg.VAD.VoiceThreshold,
		VoiceMinDurationMs:   cfg.VAD.VoiceMinimumMs,
		SilenceMinDurationMs: cfg.VAD.SilenceMinimumMs,
	}

	const frameMs = 20
	frameBytes := frameMs * audio.SamplesPerMs * 2

	var det endpointer.Detector
	offsetMs := 0
	utterance := 1
	fmt.Printf("%s: %d ms of audio, threshold %d, voice %d ms, silence %d ms\n",
		path, len(data)/(2*audio.SamplesPerMs),
		epCfg.VoiceThreshold, epCfg.VoiceMinDurationMs, epCfg.SilenceMinDurationMs)

	for off := 0; off+frameBytes <= len(data); off += frameBytes {
		samples := audio.DecodeSamples(data[off : off+frameBytes])
		level := audio.Level(samples)
		switch det.Process(epCfg, level, frameMs) {
		case endpointer.EventSpeechStart:
			fmt.Printf("%8d ms  speech start (level %d)\n", offsetMs, level)
		case endpointer.EventSpeechEnd:
			fmt.Printf("%8d ms  speech end (utterance %d)\n", offsetMs, utterance)
			utterance++
			det.Reset()
		}
		offsetMs += frameMs
	}
	fmt.Printf("%8d ms  end of file (final state %s)\n", offsetMs, det.State)
	return 0
}
