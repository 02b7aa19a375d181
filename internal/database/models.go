package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Stored alert status codes. "0" marks an open problem, "1" a recovered one.
const (
	AlertStatusProblem   = "0"
	AlertStatusRecovered = "1"
)

// Alert is one deduplicated alert row. Repeated deliveries of the same
// event converge onto a single row: rows from the Zabbix webhook shape are
// keyed by EventID, rows from the gateway-facing shape by TriggerID+HostName.
type Alert struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;not null" json:"uuid"`

	// Identity keys. The two key spaces are independent: a delivery keyed by
	// event id and one keyed by trigger/host may legitimately share an event
	// id, so event_id is indexed but not unique. Per-key uniqueness comes
	// from the upsert's keyed lookup.
	EventID   string `gorm:"index;size:64;not null" json:"event_id"`
	TriggerID string `gorm:"index:idx_alerts_trigger_host;size:64" json:"trigger_id"`
	HostName  string `gorm:"index:idx_alerts_trigger_host;size:255" json:"host_name"`

	Status      string    `gorm:"type:varchar(8);not null" json:"status"` // "0" problem, "1" recovered
	Severity    string    `gorm:"type:varchar(32)" json:"severity"`
	TriggerName string    `gorm:"type:varchar(255)" json:"trigger_name"`
	OccurredAt  time.Time `gorm:"not null" json:"occurred_at"`

	// Tags flattened to "tag:value,tag:value" for storage
	Tags string `gorm:"type:text" json:"tags"`

	// Descriptive context carried through to ticket body templating
	HostTag         string `gorm:"type:varchar(255)" json:"host_tag"`
	HostGroup       string `gorm:"type:varchar(255)" json:"host_group"`
	ItemID          string `gorm:"size:64" json:"item_id"`
	ItemName        string `gorm:"type:varchar(255)" json:"item_name"`
	ItemDescription string `gorm:"type:text" json:"item_description"`
	LastValues      string `gorm:"type:text" json:"last_values"`

	// External ticket linkage, written back after a successful create
	TicketID string `gorm:"size:64;index" json:"ticket_id"`

	RawPayload JSONB `gorm:"type:jsonb" json:"raw_payload"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Alert) TableName() string {
	return "alerts"
}
