package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) report {
	t.Helper()
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthzReportsVersion(t *testing.T) {
	h := New("1.4.2")

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Version != "1.4.2" {
		t.Errorf("body = %+v, want ok/1.4.2", body)
	}
}

func TestReadyzProbesFilesystem(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gdfe.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	h := New("dev",
		Probe{Name: "config", Run: func(context.Context) error {
			_, err := os.Stat(configPath)
			return err
		}},
		Probe{Name: "call_logs", Run: func(context.Context) error {
			return os.MkdirAll(filepath.Join(dir, "calls"), 0o755)
		}},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decode(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"config", "call_logs"} {
		if body.Probes[name] != "ok" {
			t.Errorf("probe %s = %q, want ok", name, body.Probes[name])
		}
	}
}

func TestReadyzFailsWhenConfigVanishes(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "gone.yaml")

	h := New("dev",
		Probe{Name: "config", Run: func(context.Context) error {
			_, err := os.Stat(configPath)
			return err
		}},
		Probe{Name: "call_logs", Run: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decode(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	// The failing probe carries the cause; the passing one still reports ok.
	if got := body.Probes["config"]; len(got) < 6 || got[:5] != "fail:" {
		t.Errorf("config probe = %q, want fail: prefix", got)
	}
	if body.Probes["call_logs"] != "ok" {
		t.Errorf("call_logs probe = %q, want ok", body.Probes["call_logs"])
	}
}

func TestReadyzWithoutProbes(t *testing.T) {
	rec := httptest.NewRecorder()
	New("dev").Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyzHonorsRequestCancellation(t *testing.T) {
	h := New("dev",
		Probe{Name: "slow", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyzCollectsEveryFailure(t *testing.T) {
	h := New("dev",
		Probe{Name: "config", Run: func(context.Context) error {
			return errors.New("config unreadable")
		}},
		Probe{Name: "call_logs", Run: func(context.Context) error {
			return errors.New("log root not writable")
		}},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	body := decode(t, rec)
	if body.Probes["config"] != "fail: config unreadable" {
		t.Errorf("config probe = %q", body.Probes["config"])
	}
	if body.Probes["call_logs"] != "fail: log root not writable" {
		t.Errorf("call_logs probe = %q", body.Probes["call_logs"])
	}
}

func TestRegisterMountsProbeRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New("dev", Probe{Name: "noop", Run: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
	// Probe endpoints are GET-only.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/readyz", nil))
	if rec.Code == http.StatusOK {
		t.Error("POST /readyz answered 200")
	}
}
