// Package health serves the daemon's Kubernetes-style probe endpoints.
//
// GET /healthz is the liveness probe: it answers 200 with the daemon version
// for as long as the process serves HTTP. GET /readyz is the readiness
// probe: it runs the registered [Probe] functions — for gdfed these cover
// configuration readability and call-log root writability — and answers 503
// the moment any of them fails, which takes the instance out of media
// rotation without killing its live calls.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds one readiness probe so a hung filesystem cannot stall
// the endpoint past the platform's probe deadline.
const probeTimeout = 2 * time.Second

// Probe is one named readiness condition. Run returns nil while the
// condition holds and a describing error otherwise; it must honor context
// cancellation.
type Probe struct {
	Name string
	Run  func(ctx context.Context) error
}

// report is the body of both probe responses.
type report struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Probes  map[string]string `json:"probes,omitempty"`
}

// Handler answers the probe endpoints. The probe set is fixed at
// construction; Handler itself holds no mutable state.
type Handler struct {
	version string
	probes  []Probe
}

// New creates a Handler reporting the given daemon version. Probes run
// sequentially in the order given on every /readyz request.
func New(version string, probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{version: version, probes: p}
}

// Healthz answers the liveness probe. A process that reaches this handler is
// alive, so it always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, report{Status: "ok", Version: h.version})
}

// Readyz runs every registered probe and answers 503 if any fails. Each
// probe gets a [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	out := report{Status: "ok", Version: h.version, Probes: make(map[string]string, len(h.probes))}
	status := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Run(ctx)
		cancel()

		if err != nil {
			out.Probes[p.Name] = "fail: " + err.Error()
			out.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			out.Probes[p.Name] = "ok"
		}
	}

	h.write(w, status, out)
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) write(w http.ResponseWriter, status int, body report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
