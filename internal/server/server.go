// Package server exposes the call engine to the telephony side over
// WebSocket. One connection carries one call: JSON text messages drive the
// session lifecycle, binary messages carry raw signed-linear 16-bit 8 kHz
// audio frames. The session is destroyed when the connection closes.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/atoroc/res-speech-gdfe/internal/engine"
	"github.com/atoroc/res-speech-gdfe/internal/session"
)

// command is a control message received from the telephony side.
type command struct {
	Op    string `json:"op"` // "start", "activate", "change", "setting", "state", "results"
	Spec  string `json:"spec,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// reply answers one command.
type reply struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	State   string           `json:"state,omitempty"`
	Spoke   bool             `json:"spoke,omitempty"`
	Quiet   bool             `json:"quiet,omitempty"`
	Value   string           `json:"value,omitempty"`
	Results []session.Result `json:"results,omitempty"`
}

// Handler serves the media WebSocket endpoint.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a Handler backed by eng.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{engine: eng}
}

// ServeHTTP upgrades the connection and runs the call loop. The optional
// session_id query parameter names the call; otherwise an ID is generated.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket accept", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess, err := h.engine.Create(r.URL.Query().Get("session_id"))
	if err != nil {
		slog.Warn("server: create call", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	sessionID := sess.ID()
	defer func() {
		if err := h.engine.Destroy(sessionID); err != nil {
			slog.Warn("server: destroy call", "session_id", sessionID, "err", err)
		}
	}()

	slog.Info("call connected", "session_id", sessionID, "remote", r.RemoteAddr)
	h.serve(r.Context(), conn, sess)
	conn.Close(websocket.StatusNormalClosure, "call ended")
}

// serve runs the per-call read loop until the connection drops.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if typ == websocket.MessageBinary {
			// Media path: no acknowledgement, errors surface via state.
			if err := sess.WriteFrame(data); err != nil {
				slog.Warn("server: frame processing", "session_id", sess.ID(), "err", err)
			}
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.send(ctx, conn, reply{OK: false, Error: "malformed command: " + err.Error()})
			continue
		}
		h.send(ctx, conn, h.dispatch(sess, cmd))
	}
}

// dispatch executes one control command against the session.
func (h *Handler) dispatch(sess *session.Session, cmd command) reply {
	switch cmd.Op {
	case "start":
		if err := sess.Start(); err != nil {
			return reply{OK: false, Error: err.Error(), State: sess.State().String()}
		}
		return h.stateReply(sess)

	case "activate":
		if err := sess.Activate(cmd.Spec); err != nil {
			return reply{OK: false, Error: err.Error()}
		}
		return reply{OK: true}

	case "change":
		if err := sess.Change(cmd.Name, cmd.Value); err != nil {
			return reply{OK: false, Error: err.Error()}
		}
		return reply{OK: true}

	case "setting":
		value, err := sess.Setting(cmd.Name)
		if err != nil {
			return reply{OK: false, Error: err.Error()}
		}
		return reply{OK: true, Value: value}

	case "state":
		return h.stateReply(sess)

	case "results":
		r := h.stateReply(sess)
		r.Results = sess.Results()
		return r

	default:
		return reply{OK: false, Error: "unknown op " + cmd.Op}
	}
}

func (h *Handler) stateReply(sess *session.Session) reply {
	return reply{
		OK:    true,
		State: sess.State().String(),
		Spoke: sess.Spoke(),
		Quiet: sess.Quiet(),
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, r reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		slog.Warn("server: marshal reply", "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		slog.Debug("server: write reply", "err", err)
	}
}
