package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LeonardoBeccarini/sensordash/internal/services/controller"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /dashboard/state
func (g *Gateway) HandleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.cfg.Dashboard.Snapshot())
}

// POST /dashboard/retry
func (g *Gateway) HandleRetry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RetryTimeout)
	defer cancel()

	err := g.cfg.Controller.Retry(ctx)
	switch {
	case errors.Is(err, controller.ErrNotFailed):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		g.logger.Error("retry failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		g.logger.Info("retry requested", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, retryResponse{State: g.cfg.Controller.State().String()})
	}
}

// GET /healthz: ok when Ready with every dependency up, down when nothing
// works, degraded otherwise. Always 200 so it can be scraped.
func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	state := g.cfg.Controller.State()
	st := healthStatus{
		State: state.String(),
		Error: g.cfg.Controller.Err(),
	}

	allUp, anyUp := true, false
	if len(g.cfg.Dependencies) > 0 {
		st.Dependencies = make(map[string]bool, len(g.cfg.Dependencies))
	}
	for _, d := range g.cfg.Dependencies {
		ok := d.OK()
		st.Dependencies[d.Name] = ok
		allUp = allUp && ok
		anyUp = anyUp || ok
	}
	if len(g.cfg.Dependencies) == 0 {
		anyUp = true
	}

	switch {
	case state == controller.StateReady && allUp:
		st.Status = "ok"
	case state == controller.StateFailed && !anyUp:
		st.Status = "down"
	default:
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /readyz: 200 only once data is flowing.
func (g *Gateway) HandleReady(w http.ResponseWriter, _ *http.Request) {
	ready := g.cfg.Controller.State() == controller.StateReady
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse{Ready: ready})
}
