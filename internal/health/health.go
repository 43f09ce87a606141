// Package health serves the liveness and readiness endpoints of the ops
// listener.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; passes only when every registered [Probe] passes.
//
// Probes run concurrently, each under its own timeout, and the response
// reports per-probe status and latency as JSON.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is one named readiness check. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// probeResult is the per-probe entry in the /readyz response body.
type probeResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type readyResponse struct {
	Status string                 `json:"status"`
	Probes map[string]probeResult `json:"probes,omitempty"`
}

// Handler answers liveness and readiness requests. The probe set is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// NewHandler creates a Handler evaluating the given probes on each /readyz
// request.
func NewHandler(probes ...Probe) *Handler {
	h := &Handler{probes: make([]Probe, len(probes))}
	copy(h.probes, probes)
	return h
}

// Routes registers the health endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.liveness)
	mux.HandleFunc("GET /readyz", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, readyResponse{Status: "up"})
}

// readiness runs all probes in parallel and reports 503 when any fails.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(h.probes))
	)

	g, ctx := errgroup.WithContext(r.Context())
	for _, p := range h.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Check(pctx)
			res := probeResult{
				Status:     "up",
				DurationMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				res.Status = "down"
				res.Error = err.Error()
			}

			mu.Lock()
			results[p.Name] = res
			mu.Unlock()
			// Failures are reported in the body, not via the group, so every
			// probe always runs to completion.
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Status: "up", Probes: results}
	status := http.StatusOK
	for _, res := range results {
		if res.Status != "up" {
			resp.Status = "down"
			status = http.StatusServiceUnavailable
			break
		}
	}
	respond(w, status, resp)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"down"}`, http.StatusInternalServerError)
	}
}
