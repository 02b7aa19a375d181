package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/database"
	"github.com/deskbridge/deskbridge/internal/testhelpers"
	"github.com/deskbridge/deskbridge/internal/ticket"
)

// fakeGateway returns a canned result or error and records the intents it saw
type fakeGateway struct {
	mu      sync.Mutex
	result  *ticket.Result
	err     error
	intents []ticket.Intent
}

func (g *fakeGateway) Process(ctx context.Context, intent ticket.Intent) (*ticket.Result, error) {
	g.mu.Lock()
	g.intents = append(g.intents, intent)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

// fakeFeed records published events
type fakeFeed struct {
	mu     sync.Mutex
	events []FeedEvent
}

func (f *fakeFeed) PublishAlertEvent(event FeedEvent) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeFeed) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

type fakeSource struct {
	problems []alerts.CanonicalAlert
	err      error
}

func (s *fakeSource) FetchProblems(ctx context.Context) ([]alerts.CanonicalAlert, error) {
	return s.problems, s.err
}

func newTestPipeline(t *testing.T, gateway ticket.Gateway, feed FeedPublisher) (*Pipeline, *database.AlertStore) {
	t.Helper()
	store := database.NewAlertStore(testhelpers.SetupTestDB(t))
	defaults := ticket.Defaults{
		QueueID:      "12",
		CustomerUser: "monitoring",
		TicketType:   "Incident",
		Service:      "Monitoring",
	}
	return NewPipeline(store, gateway, ticket.DefaultPriorityMap(), defaults, feed, nil), store
}

func TestPipelineProcess_CreateLinksTicket(t *testing.T) {
	gateway := &fakeGateway{result: &ticket.Result{
		Action:   ticket.ActionCreated,
		TicketID: "77",
	}}
	feed := &fakeFeed{}
	pipeline, store := newTestPipeline(t, gateway, feed)

	delivery := testhelpers.NewDeliveryBuilder().Build()
	result, err := pipeline.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Action != ticket.ActionCreated {
		t.Errorf("action = %q", result.Action)
	}

	stored, err := store.GetByEventID(delivery.Alert.EventID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.TicketID != "77" {
		t.Errorf("ticket linkage = %q, want 77", stored.TicketID)
	}

	types := feed.types()
	if len(types) != 2 || types[0] != "alert_upserted" || types[1] != "ticket_created" {
		t.Errorf("feed events = %v", types)
	}
}

func TestPipelineProcess_UpdateLeavesLinkageAlone(t *testing.T) {
	gateway := &fakeGateway{result: &ticket.Result{
		Action:   ticket.ActionUpdated,
		TicketID: "55",
	}}
	pipeline, store := newTestPipeline(t, gateway, nil)

	delivery := testhelpers.NewDeliveryBuilder().Build()
	if _, err := pipeline.Process(context.Background(), delivery); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	stored, err := store.GetByEventID(delivery.Alert.EventID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.TicketID != "" {
		t.Errorf("ticket linkage = %q, update must not write it", stored.TicketID)
	}
}

func TestPipelineProcess_SkippedResult(t *testing.T) {
	gateway := &fakeGateway{result: &ticket.Result{
		Action:    ticket.ActionSkipped,
		TriggerID: "20001",
	}}
	feed := &fakeFeed{}
	pipeline, store := newTestPipeline(t, gateway, feed)

	alert := testhelpers.NewAlertBuilder().Recovered().Build()
	delivery := testhelpers.NewDeliveryBuilder().WithAlert(alert).Build()

	result, err := pipeline.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Action != ticket.ActionSkipped {
		t.Errorf("action = %q", result.Action)
	}

	// The alert row is stored even when the ticket pass is skipped
	stored, err := store.GetByEventID(alert.EventID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != database.AlertStatusRecovered {
		t.Errorf("status = %q", stored.Status)
	}

	types := feed.types()
	if len(types) != 2 || types[1] != "ticket_skipped" {
		t.Errorf("feed events = %v", types)
	}
}

func TestPipelineProcess_GatewayFailureStillStoresAlert(t *testing.T) {
	gateway := &fakeGateway{err: &ticket.GatewayError{Op: "search", StatusCode: 503}}
	pipeline, store := newTestPipeline(t, gateway, nil)

	delivery := testhelpers.NewDeliveryBuilder().Build()
	_, err := pipeline.Process(context.Background(), delivery)

	var gatewayErr *ticket.GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}

	if _, err := store.GetByEventID(delivery.Alert.EventID); err != nil {
		t.Errorf("alert should be stored before the gateway pass: %v", err)
	}
}

func TestPipelineProcess_IntentDerivedFromDelivery(t *testing.T) {
	gateway := &fakeGateway{result: &ticket.Result{Action: ticket.ActionCreated, TicketID: "77"}}
	pipeline, _ := newTestPipeline(t, gateway, nil)

	alert := testhelpers.NewAlertBuilder().WithSeverity("Disaster").Build()
	delivery := testhelpers.NewDeliveryBuilder().WithAlert(alert).Build()

	if _, err := pipeline.Process(context.Background(), delivery); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(gateway.intents) != 1 {
		t.Fatalf("gateway saw %d intents", len(gateway.intents))
	}
	intent := gateway.intents[0]
	if intent.Priority != "1 Critical" {
		t.Errorf("priority = %q, want severity-mapped", intent.Priority)
	}
	if intent.DynamicFields.Event != alert.EventID || intent.DynamicFields.Host != alert.HostName {
		t.Errorf("dynamic fields = %+v", intent.DynamicFields)
	}
	if intent.QueueID != "12" || intent.Service != "Monitoring" {
		t.Errorf("defaults not applied: %+v", intent)
	}
}

func TestPipelineProcess_TriggerHostIdentity(t *testing.T) {
	gateway := &fakeGateway{result: &ticket.Result{Action: ticket.ActionCreated, TicketID: "88"}}
	pipeline, store := newTestPipeline(t, gateway, nil)

	delivery := testhelpers.NewDeliveryBuilder().KeyedByTriggerHost().Build()
	if _, err := pipeline.Process(context.Background(), delivery); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	stored, err := store.GetByEventID(delivery.Alert.EventID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.TicketID != "88" {
		t.Errorf("ticket linkage = %q, want written via trigger/host key", stored.TicketID)
	}
}

func TestSyncFromSource(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeGateway{}, nil)

	source := &fakeSource{problems: []alerts.CanonicalAlert{
		testhelpers.NewAlertBuilder().WithEventID("1").Build(),
		testhelpers.NewAlertBuilder().WithEventID("2").WithHost("srv-2").Build(),
	}}

	synced, err := pipeline.SyncFromSource(context.Background(), source)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if synced != 2 {
		t.Errorf("synced = %d, want 2", synced)
	}

	rows, err := store.ListAlerts(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("row count = %d", len(rows))
	}

	// Sync never touches the ticket gateway
	gateway := pipeline.gateway.(*fakeGateway)
	if len(gateway.intents) != 0 {
		t.Errorf("gateway saw %d intents during sync", len(gateway.intents))
	}

	// Re-syncing the same problems is idempotent
	if _, err := pipeline.SyncFromSource(context.Background(), source); err != nil {
		t.Fatalf("re-sync failed: %v", err)
	}
	rows, _ = store.ListAlerts(10)
	if len(rows) != 2 {
		t.Errorf("row count after re-sync = %d", len(rows))
	}
}

func TestSyncFromSource_FetchError(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &fakeGateway{}, nil)

	source := &fakeSource{err: errors.New("connection refused")}
	if _, err := pipeline.SyncFromSource(context.Background(), source); err == nil {
		t.Error("expected fetch error to surface")
	}
}
