package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/deskbridge/deskbridge/internal/database"
	"github.com/deskbridge/deskbridge/internal/testhelpers"
)

func TestHandleList(t *testing.T) {
	store := database.NewAlertStore(testhelpers.SetupTestDB(t))
	handler := NewAlertsHandler(store)

	seed := &database.Alert{
		EventID:     "4711",
		TriggerID:   "900",
		TriggerName: "CPU high",
		HostName:    "srv-1",
		Status:      database.AlertStatusProblem,
		Severity:    "High",
		OccurredAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Tags:        "env:prod,team:infra",
	}
	if err := store.UpsertByEventID(seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var resp struct {
		Alerts []AlertView `json:"alerts"`
		Count  int         `json:"count"`
		Open   int64       `json:"open"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/alerts", nil).
		ExecuteFunc(handler.HandleList).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Count != 1 || resp.Open != 1 {
		t.Errorf("count = %d, open = %d", resp.Count, resp.Open)
	}
	if len(resp.Alerts) != 1 {
		t.Fatalf("alerts = %v", resp.Alerts)
	}

	view := resp.Alerts[0]
	if view.EventID != "4711" || view.HostName != "srv-1" || view.Status != database.AlertStatusProblem {
		t.Errorf("view = %+v", view)
	}
	if len(view.Tags) != 2 || view.Tags[0].Tag != "env" {
		t.Errorf("tags = %v", view.Tags)
	}
	if view.UUID == "" {
		t.Error("expected UUID in view")
	}
}

func TestHandleList_LimitApplied(t *testing.T) {
	store := database.NewAlertStore(testhelpers.SetupTestDB(t))
	handler := NewAlertsHandler(store)

	for i, id := range []string{"1", "2", "3"} {
		alert := &database.Alert{
			EventID:    id,
			HostName:   "srv-1",
			Status:     database.AlertStatusProblem,
			OccurredAt: time.Date(2024, 3, 1, 10+i, 0, 0, 0, time.UTC),
		}
		if err := store.UpsertByEventID(alert); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	var resp struct {
		Alerts []AlertView `json:"alerts"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/alerts?limit=2", nil).
		ExecuteFunc(handler.HandleList).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if len(resp.Alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(resp.Alerts))
	}
	// Newest first
	if resp.Alerts[0].EventID != "3" {
		t.Errorf("first alert = %q", resp.Alerts[0].EventID)
	}
}

func TestHandleList_MethodNotAllowed(t *testing.T) {
	handler := NewAlertsHandler(database.NewAlertStore(testhelpers.SetupTestDB(t)))

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/alerts", nil).
		ExecuteFunc(handler.HandleList).
		AssertStatus(http.StatusMethodNotAllowed)
}
