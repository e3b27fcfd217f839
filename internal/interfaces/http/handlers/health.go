package handlers

import (
	"net/http"
	"time"
)

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	store := h.model.Store()
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Model: ModelInfo{
			Name:             h.meta.Name,
			RunID:            h.model.RunID(),
			CreatedAt:        h.meta.CreatedAt,
			Fitted:           h.model.Fitted(),
			Segments:         store.Len(),
			Calibrated:       len(store.Calibrated()),
			DefaultThreshold: store.DefaultThreshold(),
		},
	}

	if h.db != nil {
		check := h.db.Health(r.Context())
		response.Database = &DatabaseCheck{
			Healthy:        check.Healthy,
			Errors:         check.Errors,
			Models:         check.Models,
			ResponseTimeMS: check.ResponseTimeMS,
		}
		if !check.Healthy {
			response.Status = "degraded"
		}
	}

	status := http.StatusOK
	if !response.Model.Fitted {
		response.Status = "unfitted"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}
