package testhelpers

import (
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
)

// ========================================
// Alert Builder
// ========================================

// AlertBuilder builds CanonicalAlert instances for testing
type AlertBuilder struct {
	alert alerts.CanonicalAlert
}

// NewAlertBuilder creates a new alert builder with defaults
func NewAlertBuilder() *AlertBuilder {
	return &AlertBuilder{
		alert: alerts.CanonicalAlert{
			EventID:     "10001",
			TriggerID:   "20001",
			TriggerName: "CPU high",
			HostName:    "srv-1",
			State:       alerts.StateProblem,
			Severity:    "High",
			OccurredAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

// WithEventID sets the event id
func (b *AlertBuilder) WithEventID(id string) *AlertBuilder {
	b.alert.EventID = id
	return b
}

// WithTrigger sets the trigger id and name
func (b *AlertBuilder) WithTrigger(id, name string) *AlertBuilder {
	b.alert.TriggerID = id
	b.alert.TriggerName = name
	return b
}

// WithHost sets the host name
func (b *AlertBuilder) WithHost(name string) *AlertBuilder {
	b.alert.HostName = name
	return b
}

// WithSeverity sets the severity label
func (b *AlertBuilder) WithSeverity(severity string) *AlertBuilder {
	b.alert.Severity = severity
	return b
}

// Recovered marks the alert as recovered
func (b *AlertBuilder) Recovered() *AlertBuilder {
	b.alert.State = alerts.StateRecovered
	return b
}

// WithTags sets the alert tags
func (b *AlertBuilder) WithTags(tags ...alerts.Tag) *AlertBuilder {
	b.alert.Tags = tags
	return b
}

// Build returns the constructed alert
func (b *AlertBuilder) Build() alerts.CanonicalAlert {
	return b.alert
}

// ========================================
// Delivery Builder
// ========================================

// DeliveryBuilder builds Delivery instances for testing
type DeliveryBuilder struct {
	delivery alerts.Delivery
}

// NewDeliveryBuilder creates a delivery builder around a default alert
func NewDeliveryBuilder() *DeliveryBuilder {
	return &DeliveryBuilder{
		delivery: alerts.Delivery{
			Alert:    NewAlertBuilder().Build(),
			Identity: alerts.IdentityEventID,
		},
	}
}

// WithAlert sets the canonical alert
func (b *DeliveryBuilder) WithAlert(a alerts.CanonicalAlert) *DeliveryBuilder {
	b.delivery.Alert = a
	return b
}

// KeyedByTriggerHost switches the identity to the trigger/host pair
func (b *DeliveryBuilder) KeyedByTriggerHost() *DeliveryBuilder {
	b.delivery.Identity = alerts.IdentityTriggerHost
	return b
}

// WithOverrides sets the ticket overrides
func (b *DeliveryBuilder) WithOverrides(ov alerts.Overrides) *DeliveryBuilder {
	b.delivery.Overrides = ov
	return b
}

// Build returns the constructed delivery
func (b *DeliveryBuilder) Build() *alerts.Delivery {
	d := b.delivery
	return &d
}
