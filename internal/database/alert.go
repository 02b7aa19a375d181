package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StorageError wraps alert-store read/write failures. Callers surface it as
// a 500 to the webhook source, which is expected to redeliver.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("alert store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// AlertStore provides persistence operations for alert rows
type AlertStore struct {
	db *gorm.DB
}

// NewAlertStore creates a new AlertStore
func NewAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{db: db}
}

// UpsertByEventID creates or updates the alert row keyed by event id.
// N deliveries of the same event id converge to one row reflecting the
// latest delivery.
func (s *AlertStore) UpsertByEventID(alert *Alert) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing Alert
		result := tx.Where("event_id = ?", alert.EventID).First(&existing)
		if result.Error != nil {
			if result.Error != gorm.ErrRecordNotFound {
				return result.Error
			}
			alert.UUID = uuid.New().String()
			return tx.Create(alert).Error
		}
		return s.applyUpdate(tx, &existing, alert)
	})
	if err != nil {
		return &StorageError{Op: "upsert by event id", Err: err}
	}
	return nil
}

// UpsertByTriggerHost creates or updates the alert row keyed by the
// trigger-id + host-name pair. Used by the gateway-facing webhook shape,
// where successive events for the same trigger/host replace the stored
// event id.
func (s *AlertStore) UpsertByTriggerHost(alert *Alert) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing Alert
		result := tx.Where("trigger_id = ? AND host_name = ?", alert.TriggerID, alert.HostName).First(&existing)
		if result.Error != nil {
			if result.Error != gorm.ErrRecordNotFound {
				return result.Error
			}
			alert.UUID = uuid.New().String()
			return tx.Create(alert).Error
		}
		return s.applyUpdate(tx, &existing, alert)
	})
	if err != nil {
		return &StorageError{Op: "upsert by trigger/host", Err: err}
	}
	return nil
}

// applyUpdate overwrites the mutable fields of an existing row with the
// latest delivery. TicketID is preserved: linkage is written only by
// SetTicketID after a gateway create.
func (s *AlertStore) applyUpdate(tx *gorm.DB, existing, alert *Alert) error {
	updates := map[string]interface{}{
		"event_id":         alert.EventID,
		"trigger_id":       alert.TriggerID,
		"host_name":        alert.HostName,
		"status":           alert.Status,
		"severity":         alert.Severity,
		"trigger_name":     alert.TriggerName,
		"occurred_at":      alert.OccurredAt,
		"tags":             alert.Tags,
		"host_tag":         alert.HostTag,
		"host_group":       alert.HostGroup,
		"item_id":          alert.ItemID,
		"item_name":        alert.ItemName,
		"item_description": alert.ItemDescription,
		"last_values":      alert.LastValues,
		"raw_payload":      alert.RawPayload,
	}
	if err := tx.Model(existing).Updates(updates).Error; err != nil {
		return err
	}
	alert.ID = existing.ID
	alert.UUID = existing.UUID
	alert.TicketID = existing.TicketID
	return nil
}

// SetTicketIDByEventID writes the external ticket id onto the alert row.
// Called after the gateway reports a created ticket; update results leave
// the linkage alone since the id is already known.
func (s *AlertStore) SetTicketIDByEventID(eventID, ticketID string) error {
	result := s.db.Model(&Alert{}).Where("event_id = ?", eventID).Update("ticket_id", ticketID)
	if result.Error != nil {
		return &StorageError{Op: "ticket linkage", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &StorageError{Op: "ticket linkage", Err: gorm.ErrRecordNotFound}
	}
	return nil
}

// SetTicketIDByTriggerHost writes the external ticket id onto the alert row
// keyed by the trigger/host pair.
func (s *AlertStore) SetTicketIDByTriggerHost(triggerID, hostName, ticketID string) error {
	result := s.db.Model(&Alert{}).
		Where("trigger_id = ? AND host_name = ?", triggerID, hostName).
		Update("ticket_id", ticketID)
	if result.Error != nil {
		return &StorageError{Op: "ticket linkage", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &StorageError{Op: "ticket linkage", Err: gorm.ErrRecordNotFound}
	}
	return nil
}

// GetByEventID retrieves an alert row by event id
func (s *AlertStore) GetByEventID(eventID string) (*Alert, error) {
	var alert Alert
	if err := s.db.Where("event_id = ?", eventID).First(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlerts returns stored alerts, newest first
func (s *AlertStore) ListAlerts(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var alerts []Alert
	if err := s.db.Order("occurred_at DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return alerts, nil
}

// CountOpenAlerts returns the number of alerts still in problem state
func (s *AlertStore) CountOpenAlerts() (int64, error) {
	var count int64
	if err := s.db.Model(&Alert{}).Where("status = ?", AlertStatusProblem).Count(&count).Error; err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return count, nil
}
