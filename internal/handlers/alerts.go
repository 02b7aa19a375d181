package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/api"
	"github.com/deskbridge/deskbridge/internal/database"
)

// AlertsHandler serves the stored alert inventory to admin clients
type AlertsHandler struct {
	store *database.AlertStore
}

// NewAlertsHandler creates a new AlertsHandler
func NewAlertsHandler(store *database.AlertStore) *AlertsHandler {
	return &AlertsHandler{store: store}
}

// AlertView is the JSON shape returned for one stored alert
type AlertView struct {
	UUID        string       `json:"uuid"`
	EventID     string       `json:"event_id"`
	TriggerID   string       `json:"trigger_id,omitempty"`
	TriggerName string       `json:"trigger_name,omitempty"`
	HostName    string       `json:"host_name,omitempty"`
	Status      string       `json:"status"`
	Severity    string       `json:"severity,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
	Tags        []alerts.Tag `json:"tags,omitempty"`
	TicketID    string       `json:"ticket_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HandleList handles GET /api/alerts
func (h *AlertsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := api.ParseLimit(r, 100, 1000)

	rows, err := h.store.ListAlerts(limit)
	if err != nil {
		log.Printf("AlertsHandler: list failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	views := make([]AlertView, 0, len(rows))
	for i := range rows {
		views = append(views, toAlertView(&rows[i]))
	}

	open, err := h.store.CountOpenAlerts()
	if err != nil {
		log.Printf("AlertsHandler: open count failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to count alerts")
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": views,
		"count":  len(views),
		"open":   open,
	})
}

func toAlertView(row *database.Alert) AlertView {
	return AlertView{
		UUID:        row.UUID,
		EventID:     row.EventID,
		TriggerID:   row.TriggerID,
		TriggerName: row.TriggerName,
		HostName:    row.HostName,
		Status:      row.Status,
		Severity:    row.Severity,
		OccurredAt:  row.OccurredAt,
		Tags:        alerts.SplitTags(row.Tags),
		TicketID:    row.TicketID,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
