// Package health serves the liveness and readiness probes exposed next to
// the metrics endpoint.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Check] passes, so an
//     orchestrator holds traffic until the chart source and model backend
//     are reachable.
//
// Responses are small JSON objects with a "status" field ("ok" or "fail")
// and a per-check breakdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness check.
const probeTimeout = 5 * time.Second

// Check is a named readiness probe. Probe returns nil when the dependency
// is usable and must respect context cancellation.
type Check struct {
	// Name keys this check in the JSON response, e.g. "chart" or
	// "backend".
	Name string

	// Probe tests the dependency.
	Probe func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The check list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checks []Check
}

// New builds a [Handler] that runs the given checks, in order, on every
// /readyz request.
func New(checks ...Check) *Handler {
	cs := make([]Check, len(checks))
	copy(cs, checks)
	return &Handler{checks: cs}
}

// Healthz always reports 200. A process that reached this handler is
// alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every check under a [probeTimeout] deadline and reports 503
// as soon as any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checks))
	ready := true

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Probe(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
