package handlers

import (
	"log"
	"net/http"

	"github.com/deskbridge/deskbridge/internal/api"
	"github.com/deskbridge/deskbridge/internal/services"
)

// SyncHandler pulls active problems from the alert source API on demand
type SyncHandler struct {
	pipeline *services.Pipeline
	source   services.SourceClient
}

// NewSyncHandler creates a new SyncHandler. source may be nil when no
// source API is configured.
func NewSyncHandler(pipeline *services.Pipeline, source services.SourceClient) *SyncHandler {
	return &SyncHandler{pipeline: pipeline, source: source}
}

// HandleSync handles POST /api/alerts/sync
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.source == nil {
		api.RespondError(w, http.StatusServiceUnavailable, "Alert source API is not configured")
		return
	}

	synced, err := h.pipeline.SyncFromSource(r.Context(), h.source)
	if err != nil {
		log.Printf("SyncHandler: sync failed: %v", err)
		api.RespondError(w, http.StatusBadGateway, "Failed to sync alerts from source")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.WebhookResponse{
		Success: true,
		Synced:  &synced,
	})
}
