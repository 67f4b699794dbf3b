package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/dupewatch/internal/server/response"
	"github.com/agentstation/dupewatch/pkg/constants"
)

// HandleHealth handles GET /health (liveness probe).
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": constants.ServiceName,
		"version": h.app.Version(),
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// HandleReady handles GET {prefix}/ready. The service is ready once a
// catalog client can be built from the configuration; the catalog itself
// is not contacted.
func (h *Handlers) HandleReady(w http.ResponseWriter, _ *http.Request) {
	if _, err := h.app.Catalog(); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check failed")
		response.ErrorFromType(w, err)
		return
	}

	response.OK(w, map[string]any{
		"status":  "ready",
		"catalog": "configured",
	})
}

// HandleNotFound answers every path no route claims.
func (h *Handlers) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	response.NotFound(w, "Not found", "No route for "+r.URL.Path)
}
