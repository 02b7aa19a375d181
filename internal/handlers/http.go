package handlers

import (
	"net/http"

	"github.com/deskbridge/deskbridge/internal/api"
	"github.com/deskbridge/deskbridge/internal/database"
)

// HTTPHandler bundles all HTTP handlers and wires them onto a mux
type HTTPHandler struct {
	webhook *WebhookHandler
	sync    *SyncHandler
	alerts  *AlertsHandler
	auth    *AuthHandler
	feed    *FeedHandler
	store   *database.AlertStore
}

// NewHTTPHandler creates a new HTTPHandler
func NewHTTPHandler(
	webhook *WebhookHandler,
	sync *SyncHandler,
	alerts *AlertsHandler,
	auth *AuthHandler,
	feed *FeedHandler,
	store *database.AlertStore,
) *HTTPHandler {
	return &HTTPHandler{
		webhook: webhook,
		sync:    sync,
		alerts:  alerts,
		auth:    auth,
		feed:    feed,
		store:   store,
	}
}

// SetupRoutes registers all routes on the given mux
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	// Webhook ingestion (authenticated by shared secret, not JWT)
	mux.HandleFunc("/api/zabbix", h.webhook.HandleZabbix)
	mux.HandleFunc("/api/create-ticket", h.webhook.HandleCreateTicket)

	// Admin API
	mux.HandleFunc("/api/alerts", h.alerts.HandleList)
	mux.HandleFunc("/api/alerts/sync", h.sync.HandleSync)

	// Authentication
	mux.HandleFunc("/auth/login", h.auth.HandleLogin)
	mux.HandleFunc("/auth/verify", h.auth.HandleVerify)

	// Realtime feed
	mux.HandleFunc("/ws/alerts", h.feed.HandleFeed)

	mux.HandleFunc("/health", h.handleHealth)
}

// handleHealth handles GET /health
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if _, err := h.store.CountOpenAlerts(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	api.RespondJSON(w, code, map[string]string{
		"status":  status,
		"service": "deskbridge",
	})
}
