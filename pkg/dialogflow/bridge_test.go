package dialogflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/atoroc/res-speech-gdfe/pkg/dialogflow"
)

// recordingSink collects backend events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) BackendEvent(event string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

// gatewayScript is the behavior of the fake gateway for one connection.
type gatewayScript func(ctx context.Context, t *testing.T, conn *websocket.Conn)

func newGateway(t *testing.T, script gatewayScript) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		script(r.Context(), t, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Errorf("write: %v", err)
	}
}

func TestBridgeStreamingExchange(t *testing.T) {
	t.Parallel()

	var gotStart map[string]any
	var gotAudio []byte
	url := newGateway(t, func(ctx context.Context, t *testing.T, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read start: %v", err)
			return
		}
		if err := json.Unmarshal(data, &gotStart); err != nil {
			t.Errorf("decode start: %v", err)
			return
		}

		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read audio: %v", err)
			return
		}
		if typ != websocket.MessageBinary {
			t.Errorf("audio message type = %v, want binary", typ)
		}
		gotAudio = data

		send(ctx, t, conn, map[string]any{"type": "response"})
		send(ctx, t, conn, map[string]any{
			"type": "result", "slot": "fulfillment_text", "value": "hello there", "score": 87,
		})
		send(ctx, t, conn, map[string]any{"type": "end"})

		// Drain until the client closes so late audio frames never hit a
		// torn-down connection.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	bridge, err := dialogflow.NewBridge(url, "test-key")
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	sink := &recordingSink{}
	sess, err := bridge.NewSession("call-1", sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	sess.SetProjectID("proj-a")

	if err := sess.StartRecognition("en"); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}

	frame := []byte{0xFF, 0x7F, 0x00}
	status, err := sess.WriteAudio(frame)
	if err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	if status == dialogflow.StatusError {
		t.Fatalf("WriteAudio status = %v", status)
	}

	// The gateway answers asynchronously; poll until the terminal status
	// lands.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err = sess.WriteAudio(frame)
		if err != nil || status.Terminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status != dialogflow.StatusFinished {
		t.Fatalf("status = %v, err = %v, want finished", status, err)
	}

	if err := sess.StopRecognition(); err != nil {
		t.Fatalf("StopRecognition: %v", err)
	}

	if gotStart["type"] != "start" || gotStart["session_id"] != "call-1" ||
		gotStart["project_id"] != "proj-a" || gotStart["language"] != "en" {
		t.Errorf("start message = %v", gotStart)
	}
	if string(gotAudio) != string(frame) {
		t.Errorf("gateway received audio %v, want %v", gotAudio, frame)
	}

	if n := sess.ResultCount(); n != 1 {
		t.Fatalf("ResultCount = %d, want 1", n)
	}
	res, ok := sess.Result(0)
	if !ok || res.Slot != "fulfillment_text" || string(res.Value) != "hello there" || res.Score != 87 {
		t.Errorf("Result(0) = %+v, ok = %v", res, ok)
	}
	if sess.ResponseCount() < 2 {
		t.Errorf("ResponseCount = %d, want >= 2", sess.ResponseCount())
	}
	if !sink.has("exchange_open") || !sink.has("exchange_end") {
		t.Errorf("sink events = %v, want exchange_open and exchange_end", sink.events)
	}
}

func TestBridgeBinaryResultDecoding(t *testing.T) {
	t.Parallel()

	url := newGateway(t, func(ctx context.Context, t *testing.T, conn *websocket.Conn) {
		if _, _, err := conn.Read(ctx); err != nil {
			t.Errorf("read start: %v", err)
			return
		}
		// "UklGRg==" is base64 for the RIFF magic.
		send(ctx, t, conn, map[string]any{
			"type": "result", "slot": "output_audio", "value": "UklGRg==", "binary": true, "score": 100,
		})
		send(ctx, t, conn, map[string]any{"type": "end"})
	})

	bridge, err := dialogflow.NewBridge(url, "")
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	sess, err := bridge.NewSession("call-2", &recordingSink{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	if err := sess.RecognizeEvent("welcome", "en"); err != nil {
		t.Fatalf("RecognizeEvent: %v", err)
	}
	res, ok := sess.Result(0)
	if !ok {
		t.Fatal("Result(0) missing")
	}
	if string(res.Value) != "RIFF" {
		t.Errorf("decoded value = %q, want %q", res.Value, "RIFF")
	}
}

func TestBridgeGatewayError(t *testing.T) {
	t.Parallel()

	url := newGateway(t, func(ctx context.Context, t *testing.T, conn *websocket.Conn) {
		if _, _, err := conn.Read(ctx); err != nil {
			t.Errorf("read start: %v", err)
			return
		}
		send(ctx, t, conn, map[string]any{"type": "error", "message": "quota exceeded"})
	})

	bridge, err := dialogflow.NewBridge(url, "")
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	sink := &recordingSink{}
	sess, err := bridge.NewSession("call-3", sink)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	if err := sess.RecognizeEvent("welcome", "en"); err == nil {
		t.Fatal("RecognizeEvent succeeded, want error")
	}
	if !sink.has("exchange_error") {
		t.Errorf("sink events = %v, want exchange_error", sink.events)
	}
}

func TestBridgeRejectsDoubleStart(t *testing.T) {
	t.Parallel()

	url := newGateway(t, func(ctx context.Context, t *testing.T, conn *websocket.Conn) {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		// Hold the connection open until the client closes it.
		conn.Read(ctx)
	})

	bridge, err := dialogflow.NewBridge(url, "")
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	sess, err := bridge.NewSession("call-4", &recordingSink{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	if err := sess.StartRecognition("en"); err != nil {
		t.Fatalf("first StartRecognition: %v", err)
	}
	if err := sess.StartRecognition("en"); err == nil {
		t.Fatal("second StartRecognition succeeded, want error")
	}
	if err := sess.StopRecognition(); err != nil {
		t.Fatalf("StopRecognition: %v", err)
	}
	// Idempotent once no exchange is open.
	if err := sess.StopRecognition(); err != nil {
		t.Fatalf("second StopRecognition: %v", err)
	}
}

func TestBridgeWriteWithoutExchange(t *testing.T) {
	t.Parallel()

	bridge, err := dialogflow.NewBridge("ws://127.0.0.1:1/never", "")
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	sess, err := bridge.NewSession("call-5", &recordingSink{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	if _, err := sess.WriteAudio([]byte{0x7F}); err == nil {
		t.Fatal("WriteAudio without exchange succeeded, want error")
	}
}
