package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/alerts/adapters"
	"github.com/deskbridge/deskbridge/internal/api"
	"github.com/deskbridge/deskbridge/internal/database"
	"github.com/deskbridge/deskbridge/internal/services"
	"github.com/deskbridge/deskbridge/internal/ticket"
)

// WebhookHandler receives alert webhooks and runs them through the pipeline
type WebhookHandler struct {
	pipeline *services.Pipeline
	zabbix   *adapters.ZabbixAdapter
	otrs     *adapters.OTRSAdapter

	// Shared secret expected in X-Webhook-Secret, empty disables the check
	secret string
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(pipeline *services.Pipeline, secret string) *WebhookHandler {
	return &WebhookHandler{
		pipeline: pipeline,
		zabbix:   adapters.NewZabbixAdapter(),
		otrs:     adapters.NewOTRSAdapter(),
		secret:   secret,
	}
}

// HandleZabbix handles POST /api/zabbix (Zabbix event webhook shape)
func (h *WebhookHandler) HandleZabbix(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.zabbix)
}

// HandleCreateTicket handles POST /api/create-ticket (gateway-facing shape)
func (h *WebhookHandler) HandleCreateTicket(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.otrs)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, adapter alerts.Adapter) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.authorized(r) {
		api.RespondJSON(w, http.StatusUnauthorized, api.WebhookResponse{
			Success: false,
			Error:   "invalid webhook secret",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		api.RespondJSON(w, http.StatusBadRequest, api.WebhookResponse{
			Success: false,
			Error:   "failed to read request body",
		})
		return
	}

	delivery, err := adapter.Parse(body)
	if err != nil {
		h.respondError(w, adapter.SourceType(), err)
		return
	}

	result, err := h.pipeline.Process(r.Context(), delivery)
	if err != nil {
		h.respondError(w, adapter.SourceType(), err)
		return
	}

	h.respondResult(w, result)
}

// authorized checks the shared webhook secret when one is configured
func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	provided := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}

// respondResult maps a completed gateway pass onto the webhook envelope.
// A skipped recovery answers 404 so the source can tell nothing was closed.
func (h *WebhookHandler) respondResult(w http.ResponseWriter, result *ticket.Result) {
	if result.Action == ticket.ActionSkipped {
		api.RespondJSON(w, http.StatusNotFound, api.WebhookResponse{
			Success:   false,
			Action:    string(result.Action),
			TriggerID: result.TriggerID,
			Error:     "no open ticket found for recovered alert",
		})
		return
	}

	api.RespondJSON(w, http.StatusOK, api.WebhookResponse{
		Success:      true,
		Action:       string(result.Action),
		TicketID:     result.TicketID,
		TicketNumber: result.TicketNumber,
		Method:       result.Method,
		TriggerID:    result.TriggerID,
	})
}

// respondError maps pipeline failures onto the webhook envelope: validation
// problems are the caller's fault (400), storage and gateway failures are
// ours (500) and invite a redelivery.
func (h *WebhookHandler) respondError(w http.ResponseWriter, source string, err error) {
	var validationErr *alerts.ValidationError
	if errors.As(err, &validationErr) {
		log.Printf("WebhookHandler: rejected %s delivery: %v", source, validationErr)
		api.RespondJSON(w, http.StatusBadRequest, api.WebhookResponse{
			Success: false,
			Error:   validationErr.Message,
			Missing: validationErr.Missing,
		})
		return
	}

	var gatewayErr *ticket.GatewayError
	if errors.As(err, &gatewayErr) {
		log.Printf("WebhookHandler: gateway failure for %s delivery: %v", source, err)
		api.RespondJSON(w, http.StatusInternalServerError, api.WebhookResponse{
			Success:    false,
			Error:      err.Error(),
			OTRSStatus: gatewayErr.StatusCode,
			OTRSData:   gatewayErr.Body,
		})
		return
	}

	var storageErr *database.StorageError
	if errors.As(err, &storageErr) {
		log.Printf("WebhookHandler: storage failure for %s delivery: %v", source, err)
		api.RespondJSON(w, http.StatusInternalServerError, api.WebhookResponse{
			Success: false,
			Error:   "failed to store alert",
		})
		return
	}

	log.Printf("WebhookHandler: unexpected failure for %s delivery: %v", source, err)
	api.RespondJSON(w, http.StatusInternalServerError, api.WebhookResponse{
		Success: false,
		Error:   "internal error",
	})
}
