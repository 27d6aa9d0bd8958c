package handler

import (
	"net/http"

	"github.com/sakif/code-sandbox/internal/executor"
)

// HealthHandler reports liveness together with the sandbox load.
type HealthHandler struct {
	stats func() executor.Stats
}

// NewHealthHandler creates a HealthHandler reading load from stats.
func NewHealthHandler(stats func() executor.Stats) *HealthHandler {
	return &HealthHandler{stats: stats}
}

type healthResponse struct {
	Status string `json:"status"`
	Live   int    `json:"live"`
	Queued int    `json:"queued"`
}

// HandleHealth handles GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.stats()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Live: st.Live, Queued: st.Queued})
}
