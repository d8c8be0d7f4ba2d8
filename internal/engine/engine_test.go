package engine_test

import (
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/atoroc/res-speech-gdfe/internal/config"
	"github.com/atoroc/res-speech-gdfe/internal/engine"
	"github.com/atoroc/res-speech-gdfe/internal/observe"
	"github.com/atoroc/res-speech-gdfe/pkg/dialogflow/mock"
)

func newEngine(t *testing.T) (*engine.Engine, *mock.Factory) {
	t.Helper()
	cfg := config.Defaults()
	cfg.CallLogs.Enabled = false

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	factory := &mock.Factory{}
	e, err := engine.New(config.NewStore(cfg), factory, metrics)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e, factory
}

func TestCreateAndDestroy(t *testing.T) {
	t.Parallel()

	e, factory := newEngine(t)

	s, err := e.Create("call-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID() != "call-1" {
		t.Errorf("ID = %q, want call-1", s.ID())
	}
	if e.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", e.ActiveCount())
	}
	if got, ok := e.Get("call-1"); !ok || got != s {
		t.Errorf("Get = %v, %v", got, ok)
	}

	if err := e.Destroy("call-1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", e.ActiveCount())
	}
	if factory.Last().CloseCalls != 1 {
		t.Errorf("backend CloseCalls = %d, want 1", factory.Last().CloseCalls)
	}
	if err := e.Destroy("call-1"); err == nil {
		t.Error("second Destroy succeeded")
	}
}

func TestCreateGeneratesID(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	s, err := e.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID() == "" {
		t.Error("generated session ID is empty")
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	if _, err := e.Create("dup"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Create("dup"); err == nil {
		t.Error("duplicate Create succeeded")
	}
}

func TestShutdownDestroysAll(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.Create(id); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	e.Shutdown()
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount after shutdown = %d, want 0", e.ActiveCount())
	}
}
