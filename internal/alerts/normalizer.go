package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/deskbridge/deskbridge/internal/database"
)

// State is the canonical problem lifecycle state
type State string

const (
	StateProblem   State = "PROBLEM"
	StateRecovered State = "RECOVERED"
)

// IdentityKind selects which dedup key a delivery carries
type IdentityKind int

const (
	// IdentityEventID dedups on the source event id (Zabbix webhook shape)
	IdentityEventID IdentityKind = iota
	// IdentityTriggerHost dedups on the trigger-id + host-name pair
	// (gateway-facing shape)
	IdentityTriggerHost
)

// Tag is one key/value metadata pair attached to an alert
type Tag struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// CanonicalAlert is the common alert record all adapters produce
type CanonicalAlert struct {
	EventID     string
	TriggerID   string
	TriggerName string
	HostName    string
	State       State
	Severity    string
	OccurredAt  time.Time
	Tags        []Tag

	// Optional descriptive context carried through to ticket templating
	HostTag         string
	HostGroup       string
	ItemID          string
	ItemName        string
	ItemDescription string
	LastValues      string

	RawPayload map[string]interface{}
}

// Overrides carries explicit ticket fields a delivery may provide in place
// of the synthesized subject/body and configured defaults.
type Overrides struct {
	Subject         string
	PreparedMessage string
	Message         string
	ArticleBody     string
	EventTime       string
	TriggerClient   string
	TriggerGroups   []string

	QueueID      string
	Queue        string
	Priority     string
	CustomerUser string
	TicketType   string
	Service      string
}

// Delivery is one normalized webhook delivery: the canonical alert plus
// which identity key it dedups on and any explicit ticket overrides.
type Delivery struct {
	Alert     CanonicalAlert
	Identity  IdentityKind
	Overrides Overrides
}

// Adapter parses one inbound webhook shape into a normalized delivery
type Adapter interface {
	// SourceType returns the shape name (e.g., "zabbix")
	SourceType() string

	// Parse converts the raw request body into a normalized delivery.
	// Returns *ValidationError when mandatory identity fields are absent.
	Parse(body []byte) (*Delivery, error)
}

// ValidationError reports malformed or missing required input. Surfaced to
// the webhook caller as a 400 with the machine-readable field list.
type ValidationError struct {
	Message string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing %s", e.Message, strings.Join(e.Missing, ", "))
	}
	return e.Message
}

// IdentityKey returns the dedup key string for logging and lock scoping
func (d *Delivery) IdentityKey() string {
	if d.Identity == IdentityTriggerHost {
		return "trigger:" + d.Alert.TriggerID + "/" + d.Alert.HostName
	}
	return "event:" + d.Alert.EventID
}

// NormalizeState maps heterogeneous source state fields onto the canonical
// state. Accepts case-insensitive PROBLEM/RECOVERED/RESOLVED keywords and
// the numeric codes "1" (problem) / "0" (resolved).
func NormalizeState(raw string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PROBLEM", "1":
		return StateProblem, nil
	case "RECOVERED", "RESOLVED", "OK", "0":
		return StateRecovered, nil
	}
	return "", &ValidationError{Message: fmt.Sprintf("unrecognized alert state %q", raw)}
}

// StatusCode returns the stored status code for a canonical state
func (s State) StatusCode() string {
	if s == StateRecovered {
		return database.AlertStatusRecovered
	}
	return database.AlertStatusProblem
}

// JoinTags flattens tags into the stored "tag:value,tag:value" form.
// Colons or commas inside a value are not escaped; SplitTags will not
// round-trip such values.
func JoinTags(tags []Tag) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.Tag+":"+t.Value)
	}
	return strings.Join(parts, ",")
}

// SplitTags re-splits a stored tag string into pairs, the inverse of
// JoinTags for values without embedded separators.
func SplitTags(joined string) []Tag {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	tags := make([]Tag, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		tags = append(tags, Tag{Tag: key, Value: value})
	}
	return tags
}

// SeverityLabel maps Zabbix numeric severity codes to their labels.
// Unknown codes are returned unchanged so raw labels pass through.
func SeverityLabel(code string) string {
	switch code {
	case "0":
		return "Not classified"
	case "1":
		return "Information"
	case "2":
		return "Warning"
	case "3":
		return "Average"
	case "4":
		return "High"
	case "5":
		return "Disaster"
	}
	return code
}

// ToStoredAlert maps a canonical alert onto the persistence model
func (a *CanonicalAlert) ToStoredAlert() *database.Alert {
	occurredAt := a.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return &database.Alert{
		EventID:         a.EventID,
		TriggerID:       a.TriggerID,
		TriggerName:     a.TriggerName,
		HostName:        a.HostName,
		Status:          a.State.StatusCode(),
		Severity:        a.Severity,
		OccurredAt:      occurredAt,
		Tags:            JoinTags(a.Tags),
		HostTag:         a.HostTag,
		HostGroup:       a.HostGroup,
		ItemID:          a.ItemID,
		ItemName:        a.ItemName,
		ItemDescription: a.ItemDescription,
		LastValues:      a.LastValues,
		RawPayload:      database.JSONB(a.RawPayload),
	}
}
