package adapters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
)

// ZabbixAdapter parses the structured event/trigger/host/item webhook shape
type ZabbixAdapter struct{}

// NewZabbixAdapter creates a new Zabbix adapter
func NewZabbixAdapter() *ZabbixAdapter {
	return &ZabbixAdapter{}
}

// ZabbixPayload represents the structured webhook payload
type ZabbixPayload struct {
	Event struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Value  string `json:"value"`
		Time   string `json:"time"`
	} `json:"event"`
	Trigger struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Severity string `json:"severity"`
	} `json:"trigger"`
	Host struct {
		Name  string `json:"name"`
		Tag   string `json:"tag"`
		Group string `json:"group"`
	} `json:"host"`
	Item struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Last5Values string `json:"last5values"`
	} `json:"item"`
	Tags    json.RawMessage `json:"tags"`
	Subject string          `json:"subject"`
	Message string          `json:"message"`
}

// SourceType returns the shape name
func (a *ZabbixAdapter) SourceType() string {
	return "zabbix"
}

// Parse converts a Zabbix webhook body into a normalized delivery.
// The event id is the mandatory identity field for this shape.
func (a *ZabbixAdapter) Parse(body []byte) (*alerts.Delivery, error) {
	var payload ZabbixPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse zabbix payload: %w", err)
	}

	if payload.Event.ID == "" {
		return nil, &alerts.ValidationError{
			Message: "zabbix payload is missing the event id",
			Missing: []string{"event.id"},
		}
	}

	// Status string wins over the numeric value code when both are present
	rawState := payload.Event.Status
	if rawState == "" {
		rawState = payload.Event.Value
	}
	state, err := alerts.NormalizeState(rawState)
	if err != nil {
		return nil, err
	}

	tags, err := parseTags(payload.Tags)
	if err != nil {
		return nil, err
	}

	var payloadMap map[string]interface{}
	if err := json.Unmarshal(body, &payloadMap); err != nil {
		payloadMap = nil
	}

	alert := alerts.CanonicalAlert{
		EventID:         payload.Event.ID,
		TriggerID:       payload.Trigger.ID,
		TriggerName:     payload.Trigger.Name,
		HostName:        payload.Host.Name,
		State:           state,
		Severity:        alerts.SeverityLabel(payload.Trigger.Severity),
		OccurredAt:      parseEventTime(payload.Event.Time),
		Tags:            tags,
		HostTag:         payload.Host.Tag,
		HostGroup:       payload.Host.Group,
		ItemID:          payload.Item.ID,
		ItemName:        payload.Item.Name,
		ItemDescription: payload.Item.Description,
		LastValues:      payload.Item.Last5Values,
		RawPayload:      payloadMap,
	}

	return &alerts.Delivery{
		Alert:    alert,
		Identity: alerts.IdentityEventID,
		Overrides: alerts.Overrides{
			Subject: payload.Subject,
			Message: payload.Message,
		},
	}, nil
}

// parseTags accepts either an array of {tag,value} pairs or a pre-joined
// "tag:value,tag:value" string.
func parseTags(raw json.RawMessage) ([]alerts.Tag, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var pairs []alerts.Tag
	if err := json.Unmarshal(raw, &pairs); err == nil {
		return pairs, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return alerts.SplitTags(joined), nil
	}

	return nil, &alerts.ValidationError{Message: "tags must be a pair list or a delimited string"}
}

// parseEventTime parses the source event time, defaulting to ingestion time
func parseEventTime(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
