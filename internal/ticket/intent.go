package ticket

import (
	"strings"

	"github.com/deskbridge/deskbridge/internal/alerts"
)

// Ticket status values derived from the canonical alert state
const (
	StatusOpen     = "open"
	StatusRecovery = "Recovery"

	// StateNew is the gateway state assigned to freshly created tickets
	StateNew = "new"
)

// DynamicFields is the closed record of the known gateway dynamic fields.
// Only genuinely open-ended metadata stays out of it.
type DynamicFields struct {
	State   string
	Trigger string
	Event   string
	Host    string
}

// Field is one name/value pair in the gateway wire format
type Field struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// List renders the record in the gateway's DynamicField wire shape
func (f DynamicFields) List() []Field {
	return []Field{
		{Name: "ZabbixState", Value: f.State},
		{Name: "ZabbixTrigger", Value: f.Trigger},
		{Name: "ZabbixEvent", Value: f.Event},
		{Name: "ZabbixHost", Value: f.Host},
	}
}

// Intent is the ticket-creation/update intent computed per alert delivery.
// It is ephemeral: derived from the canonical alert plus overrides, never
// persisted.
type Intent struct {
	QueueID      string
	Queue        string
	Priority     string
	Status       string // "open" while the problem fires, "Recovery" after
	Subject      string
	Body         string
	CustomerUser string
	TicketType   string
	Service      string

	State         alerts.State
	DynamicFields DynamicFields
}

// Defaults carries the configured ticket field defaults applied when a
// delivery does not override them
type Defaults struct {
	QueueID      string
	Queue        string
	CustomerUser string
	TicketType   string
	Service      string
}

// BuildIntent derives the ticket intent for one delivery. Pure function:
// no network or storage side effects.
func BuildIntent(a alerts.CanonicalAlert, ov alerts.Overrides, def Defaults, priorities *PriorityMap) Intent {
	status := StatusOpen
	if a.State == alerts.StateRecovered {
		status = StatusRecovery
	}

	priority := ov.Priority
	if priority == "" {
		priority = priorities.Lookup(a.Severity)
	}

	return Intent{
		QueueID:      firstNonEmpty(ov.QueueID, def.QueueID),
		Queue:        firstNonEmpty(ov.Queue, def.Queue),
		Priority:     priority,
		Status:       status,
		Subject:      buildSubject(a, ov),
		Body:         buildBody(a, ov),
		CustomerUser: firstNonEmpty(ov.CustomerUser, def.CustomerUser),
		TicketType:   firstNonEmpty(ov.TicketType, def.TicketType),
		Service:      firstNonEmpty(ov.Service, def.Service),
		State:        a.State,
		DynamicFields: DynamicFields{
			State:   string(a.State),
			Trigger: a.TriggerID,
			Event:   a.EventID,
			Host:    a.HostName,
		},
	}
}

// buildSubject applies the subject fallback chain: explicit subject, else
// "{state}: {host} ({trigger})" with placeholders for absent fields.
func buildSubject(a alerts.CanonicalAlert, ov alerts.Overrides) string {
	if ov.Subject != "" {
		return ov.Subject
	}

	host := a.HostName
	if host == "" {
		host = "unknown-host"
	}
	trigger := firstNonEmpty(a.TriggerName, a.TriggerID)
	if trigger == "" {
		trigger = "unknown-trigger"
	}
	return string(a.State) + ": " + host + " (" + trigger + ")"
}

// buildBody applies the body fallback chain: first non-empty of the prepared
// message, plain message and article body, else a synthesized multi-line
// body from the alert fields.
func buildBody(a alerts.CanonicalAlert, ov alerts.Overrides) string {
	if body := firstNonEmpty(ov.PreparedMessage, ov.Message, ov.ArticleBody); body != "" {
		return body
	}

	headline := "Problem started"
	if a.State == alerts.StateRecovered {
		headline = "Problem recovered"
	}

	eventTime := ov.EventTime
	if eventTime == "" && !a.OccurredAt.IsZero() {
		eventTime = a.OccurredAt.Format("2006-01-02 15:04:05")
	}
	if eventTime != "" {
		headline = eventTime + " - " + headline
	}

	lines := []string{
		headline,
		"ZabbixState: " + orDash(string(a.State)),
		"ZabbixTrigger: " + orDash(a.TriggerID),
		"ZabbixEvent: " + orDash(a.EventID),
		"ZabbixHost: " + orDash(a.HostName),
	}
	if ov.TriggerClient != "" {
		lines = append(lines, "Client: "+ov.TriggerClient)
	}
	if len(ov.TriggerGroups) > 0 {
		lines = append(lines, "Groups: "+strings.Join(ov.TriggerGroups, ", "))
	}
	return strings.Join(lines, "\n")
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
