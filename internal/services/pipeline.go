package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/database"
	"github.com/deskbridge/deskbridge/internal/ticket"
)

// FeedEvent is one alert lifecycle notification pushed to the realtime feed
type FeedEvent struct {
	Type      string    `json:"type"` // "alert_upserted", "ticket_created", "ticket_updated", "ticket_skipped"
	EventID   string    `json:"event_id"`
	TriggerID string    `json:"trigger_id,omitempty"`
	HostName  string    `json:"host_name,omitempty"`
	State     string    `json:"state"`
	TicketID  string    `json:"ticket_id,omitempty"`
	At        time.Time `json:"at"`
}

// FeedPublisher pushes events to connected realtime clients. May be nil.
type FeedPublisher interface {
	PublishAlertEvent(event FeedEvent)
}

// Notifier reports ticket outcomes to a chat channel. May be nil.
type Notifier interface {
	NotifyTicketResult(alert alerts.CanonicalAlert, result *ticket.Result)
	NotifyFailure(alert alerts.CanonicalAlert, err error)
}

// Pipeline runs one webhook delivery end to end: upsert the canonical alert,
// derive the ticket intent, call the gateway and reconcile the ticket id
// back onto the stored row.
type Pipeline struct {
	store      *database.AlertStore
	gateway    ticket.Gateway
	priorities *ticket.PriorityMap
	defaults   ticket.Defaults
	feed       FeedPublisher
	notifier   Notifier

	// Serializes the search-decide-create sequence per identity key so two
	// near-simultaneous deliveries of the same event cannot both create a
	// ticket. Cross-shape dedup (event id vs trigger/host) stays
	// unreconciled, matching the upstream sources.
	locks keyedMutex
}

// NewPipeline creates a pipeline. feed and notifier are optional.
func NewPipeline(
	store *database.AlertStore,
	gateway ticket.Gateway,
	priorities *ticket.PriorityMap,
	defaults ticket.Defaults,
	feed FeedPublisher,
	notifier Notifier,
) *Pipeline {
	return &Pipeline{
		store:      store,
		gateway:    gateway,
		priorities: priorities,
		defaults:   defaults,
		feed:       feed,
		notifier:   notifier,
	}
}

// Process handles one normalized delivery. Storage failures surface as
// *database.StorageError, gateway exhaustion as *ticket.GatewayError and
// missing fields as *alerts.ValidationError; the handler maps each onto the
// webhook response.
func (p *Pipeline) Process(ctx context.Context, d *alerts.Delivery) (*ticket.Result, error) {
	key := d.IdentityKey()
	unlock := p.locks.lock(key)
	defer unlock()

	stored := d.Alert.ToStoredAlert()
	var err error
	if d.Identity == alerts.IdentityTriggerHost {
		err = p.store.UpsertByTriggerHost(stored)
	} else {
		err = p.store.UpsertByEventID(stored)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("Pipeline: upserted alert %s (state=%s severity=%s)", key, d.Alert.State, d.Alert.Severity)

	p.publish(FeedEvent{
		Type:      "alert_upserted",
		EventID:   d.Alert.EventID,
		TriggerID: d.Alert.TriggerID,
		HostName:  d.Alert.HostName,
		State:     string(d.Alert.State),
		At:        time.Now(),
	})

	intent := ticket.BuildIntent(d.Alert, d.Overrides, p.defaults, p.priorities)

	result, err := p.gateway.Process(ctx, intent)
	if err != nil {
		if p.notifier != nil {
			go p.notifier.NotifyFailure(d.Alert, err)
		}
		return nil, err
	}

	p.reconcile(d, result)

	p.publish(FeedEvent{
		Type:      "ticket_" + string(result.Action),
		EventID:   d.Alert.EventID,
		TriggerID: d.Alert.TriggerID,
		HostName:  d.Alert.HostName,
		State:     string(d.Alert.State),
		TicketID:  result.TicketID,
		At:        time.Now(),
	})
	if p.notifier != nil {
		go p.notifier.NotifyTicketResult(d.Alert, result)
	}

	return result, nil
}

// reconcile writes the external ticket id back onto the alert row after a
// create. Updates leave the linkage alone; a failed write is logged but
// never unwinds the ticket that already exists on the gateway side.
func (p *Pipeline) reconcile(d *alerts.Delivery, result *ticket.Result) {
	if result.Action != ticket.ActionCreated || result.TicketID == "" {
		return
	}

	var err error
	if d.Identity == alerts.IdentityTriggerHost {
		err = p.store.SetTicketIDByTriggerHost(d.Alert.TriggerID, d.Alert.HostName, result.TicketID)
	} else {
		err = p.store.SetTicketIDByEventID(d.Alert.EventID, result.TicketID)
	}
	if err != nil {
		log.Printf("Warning: ticket %s created but linkage write failed for %s: %v", result.TicketID, d.IdentityKey(), err)
		return
	}
	log.Printf("Pipeline: linked alert %s to ticket %s", d.IdentityKey(), result.TicketID)
}

// SourceClient pulls current problems from the alert source API
type SourceClient interface {
	FetchProblems(ctx context.Context) ([]alerts.CanonicalAlert, error)
}

// SyncFromSource pulls the source's active problems and upserts them into
// the alert store. No gateway calls are made; sync only refreshes local
// state.
func (p *Pipeline) SyncFromSource(ctx context.Context, source SourceClient) (int, error) {
	problems, err := source.FetchProblems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch problems from source: %w", err)
	}

	synced := 0
	for i := range problems {
		a := problems[i]
		unlock := p.locks.lock("event:" + a.EventID)
		err := p.store.UpsertByEventID(a.ToStoredAlert())
		unlock()
		if err != nil {
			log.Printf("Warning: failed to sync alert %s: %v", a.EventID, err)
			continue
		}
		synced++
		p.publish(FeedEvent{
			Type:      "alert_upserted",
			EventID:   a.EventID,
			TriggerID: a.TriggerID,
			HostName:  a.HostName,
			State:     string(a.State),
			At:        time.Now(),
		})
	}

	log.Printf("Pipeline: synced %d/%d alerts from source", synced, len(problems))
	return synced, nil
}

func (p *Pipeline) publish(event FeedEvent) {
	if p.feed != nil {
		p.feed.PublishAlertEvent(event)
	}
}

// keyedMutex hands out one mutex per identity key, dropping entries once
// the last holder releases.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
