package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/deskbridge/deskbridge/internal/alerts"
)

// Names of the dynamic fields every gateway-shaped delivery must carry
const (
	FieldState   = "ZabbixState"
	FieldTrigger = "ZabbixTrigger"
	FieldEvent   = "ZabbixEvent"
	FieldHost    = "ZabbixHost"
)

// OTRSAdapter parses the flatter gateway-facing webhook shape: a Ticket
// object plus a DynamicField list, as consumed by the ticket gateway itself
type OTRSAdapter struct{}

// NewOTRSAdapter creates a new gateway-shape adapter
func NewOTRSAdapter() *OTRSAdapter {
	return &OTRSAdapter{}
}

// OTRSPayload represents the gateway-facing webhook payload
type OTRSPayload struct {
	Ticket struct {
		Title        string `json:"Title"`
		Queue        string `json:"Queue"`
		QueueID      string `json:"QueueID"`
		Priority     string `json:"Priority"`
		State        string `json:"State"`
		CustomerUser string `json:"CustomerUser"`
		Type         string `json:"Type"`
		Service      string `json:"Service"`
	} `json:"Ticket"`
	DynamicField []struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	} `json:"DynamicField"`
	Article struct {
		Subject string `json:"Subject"`
		Body    string `json:"Body"`
	} `json:"Article"`
	Message         string          `json:"Message"`
	PreparedMessage string          `json:"PreparedMessage"`
	EventTime       string          `json:"EventTime"`
	TriggerClient   string          `json:"TriggerClient"`
	TriggerGroups   json.RawMessage `json:"TriggerGroups"`
}

// SourceType returns the shape name
func (a *OTRSAdapter) SourceType() string {
	return "otrs"
}

// Parse converts a gateway-shaped body into a normalized delivery. All four
// identity dynamic fields (state, trigger, event, host) are mandatory; the
// trigger/host pair is the dedup key for this shape.
func (a *OTRSAdapter) Parse(body []byte) (*alerts.Delivery, error) {
	var payload OTRSPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse gateway payload: %w", err)
	}

	fields := make(map[string]string, len(payload.DynamicField))
	for _, df := range payload.DynamicField {
		fields[df.Name] = df.Value
	}

	var missing []string
	for _, name := range []string{FieldState, FieldTrigger, FieldEvent, FieldHost} {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &alerts.ValidationError{
			Message: "gateway payload is missing required dynamic fields",
			Missing: missing,
		}
	}

	state, err := alerts.NormalizeState(fields[FieldState])
	if err != nil {
		return nil, err
	}

	var payloadMap map[string]interface{}
	if err := json.Unmarshal(body, &payloadMap); err != nil {
		payloadMap = nil
	}

	alert := alerts.CanonicalAlert{
		EventID:         fields[FieldEvent],
		TriggerID:       fields[FieldTrigger],
		TriggerName:     fields["ZabbixTriggerName"],
		HostName:        fields[FieldHost],
		State:           state,
		Severity:        alerts.SeverityLabel(fields["ZabbixSeverity"]),
		OccurredAt:      parseEventTime(payload.EventTime),
		Tags:            alerts.SplitTags(fields["ZabbixTags"]),
		HostTag:         fields["ZabbixHostTag"],
		HostGroup:       fields["ZabbixHostGroup"],
		ItemID:          fields["ZabbixItemID"],
		ItemName:        fields["ZabbixItemName"],
		ItemDescription: fields["ZabbixItemDescription"],
		LastValues:      fields["ZabbixLast5Values"],
		RawPayload:      payloadMap,
	}

	return &alerts.Delivery{
		Alert:    alert,
		Identity: alerts.IdentityTriggerHost,
		Overrides: alerts.Overrides{
			Subject:         firstNonEmpty(payload.Ticket.Title, payload.Article.Subject),
			PreparedMessage: payload.PreparedMessage,
			Message:         payload.Message,
			ArticleBody:     payload.Article.Body,
			EventTime:       payload.EventTime,
			TriggerClient:   payload.TriggerClient,
			TriggerGroups:   parseTriggerGroups(payload.TriggerGroups),
			QueueID:         payload.Ticket.QueueID,
			Queue:           payload.Ticket.Queue,
			Priority:        payload.Ticket.Priority,
			CustomerUser:    payload.Ticket.CustomerUser,
			TicketType:      payload.Ticket.Type,
			Service:         payload.Ticket.Service,
		},
	}, nil
}

// parseTriggerGroups accepts either a JSON array or a single string
func parseTriggerGroups(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var groups []string
	if err := json.Unmarshal(raw, &groups); err == nil {
		return groups
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
