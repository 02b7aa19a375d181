package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.OTRSConfig{
		BaseURL:       baseURL,
		Login:         "api",
		Password:      "secret",
		RetryAttempts: 5,
		RetryBaseWait: time.Millisecond,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func testIntent(state alerts.State) Intent {
	status := StatusOpen
	if state == alerts.StateRecovered {
		status = StatusRecovery
	}
	return Intent{
		QueueID:      "12",
		Priority:     "2 High",
		Status:       status,
		Subject:      "PROBLEM: srv-1 (CPU high)",
		Body:         "Problem started",
		CustomerUser: "monitoring",
		TicketType:   "Incident",
		Service:      "Monitoring",
		State:        state,
		DynamicFields: DynamicFields{
			State:   string(state),
			Trigger: "900",
			Event:   "4711",
			Host:    "srv-1",
		},
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode request body: %v", err)
	}
	return body
}

func TestProcess_CreatesTicketWhenNoneOpen(t *testing.T) {
	var createBody map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/TicketSearch", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["UserLogin"] != "api" || body["Password"] != "secret" {
			t.Error("search request missing credentials")
		}
		filter, _ := body["DynamicField_ZabbixTrigger"].(map[string]interface{})
		if filter["Equals"] != "900" {
			t.Errorf("search trigger filter = %v", filter)
		}
		w.Write([]byte(`{"TicketID": []}`))
	})
	mux.HandleFunc("/Ticket", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("create method = %s", r.Method)
		}
		createBody = decodeBody(t, r)
		w.Write([]byte(`{"TicketID": "77", "TicketNumber": "2024030100001"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateProblem))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Action != ActionCreated {
		t.Errorf("action = %q, want created", result.Action)
	}
	if result.TicketID != "77" || result.TicketNumber != "2024030100001" {
		t.Errorf("ticket identity = %q/%q", result.TicketID, result.TicketNumber)
	}
	if result.Method != http.MethodPost {
		t.Errorf("method = %q", result.Method)
	}

	wireTicket, _ := createBody["Ticket"].(map[string]interface{})
	if wireTicket["State"] != "new" {
		t.Errorf("created ticket state = %v, want new", wireTicket["State"])
	}
	if wireTicket["Title"] != "PROBLEM: srv-1 (CPU high)" || wireTicket["Priority"] != "2 High" {
		t.Errorf("created ticket = %v", wireTicket)
	}
	fields, _ := createBody["DynamicField"].([]interface{})
	if len(fields) != 4 {
		t.Errorf("dynamic fields = %v", fields)
	}
}

func TestProcess_UpdatesOpenTicket(t *testing.T) {
	var updateBody map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/TicketSearch", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TicketID": ["55"]}`))
	})
	mux.HandleFunc("/Ticket/55", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("update method = %s, want PATCH", r.Method)
		}
		updateBody = decodeBody(t, r)
		w.Write([]byte(`{"TicketID": "55"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateProblem))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Action != ActionUpdated || result.TicketID != "55" {
		t.Errorf("result = %+v", result)
	}
	if result.Method != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", result.Method)
	}

	wireTicket, _ := updateBody["Ticket"].(map[string]interface{})
	if wireTicket["Status"] != StatusOpen {
		t.Errorf("update status = %v, want %q", wireTicket["Status"], StatusOpen)
	}
}

func TestProcess_RecoveryStatusOnUpdate(t *testing.T) {
	var updateBody map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/TicketSearch", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TicketID": ["55"]}`))
	})
	mux.HandleFunc("/Ticket/55", func(w http.ResponseWriter, r *http.Request) {
		updateBody = decodeBody(t, r)
		w.Write([]byte(`{"TicketID": "55"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateRecovered))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wireTicket, _ := updateBody["Ticket"].(map[string]interface{})
	if wireTicket["Status"] != StatusRecovery {
		t.Errorf("update status = %v, want %q", wireTicket["Status"], StatusRecovery)
	}
}

func TestProcess_SkipsRecoveryWithoutOpenTicket(t *testing.T) {
	var createCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/TicketSearch", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TicketID": []}`))
	})
	mux.HandleFunc("/Ticket", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&createCalls, 1)
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateRecovered))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Action != ActionSkipped {
		t.Errorf("action = %q, want skipped", result.Action)
	}
	if result.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", result.StatusCode)
	}
	if result.TriggerID != "900" {
		t.Errorf("trigger id = %q", result.TriggerID)
	}
	if atomic.LoadInt32(&createCalls) != 0 {
		t.Error("create should not be called for a skipped recovery")
	}
}

func TestProcess_PutFallbackAfterMethodRejected(t *testing.T) {
	var patchCalls, putCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/TicketSearch", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TicketID": ["55"]}`))
	})
	mux.HandleFunc("/Ticket/55", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			atomic.AddInt32(&patchCalls, 1)
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodPut:
			atomic.AddInt32(&putCalls, 1)
			w.Write([]byte(`{"TicketID": "55"}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateProblem))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Method != http.MethodPut {
		t.Errorf("method = %q, want PUT after fallback", result.Method)
	}
	if atomic.LoadInt32(&patchCalls) != 1 || atomic.LoadInt32(&putCalls) != 1 {
		t.Errorf("calls = %d PATCH / %d PUT, want exactly one each",
			atomic.LoadInt32(&patchCalls), atomic.LoadInt32(&putCalls))
	}
}

func TestProcess_RetryBoundOnServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateProblem))
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Errorf("attempts = %d, want exactly 5", got)
	}
	if !strings.Contains(err.Error(), "after 5 attempts") {
		t.Errorf("error = %v, want attempt count in message", err)
	}
}

func TestProcess_PermanentClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateProblem))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("attempts = %d, want 1 for a permanent error", got)
	}

	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if gatewayErr.StatusCode != http.StatusBadRequest || !gatewayErr.Permanent {
		t.Errorf("error = %+v", gatewayErr)
	}
}

func TestProcess_GatewayErrorBodyIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"Error": {"ErrorCode": "TicketSearch.AuthFail", "ErrorMessage": "auth failed"}}`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Process(context.Background(), testIntent(alerts.StateProblem))
	if err == nil {
		t.Fatal("expected error for gateway-reported failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestProcess_MissingCreateFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TicketID": []}`))
	}))
	defer srv.Close()

	intent := testIntent(alerts.StateProblem)
	intent.Service = ""
	intent.CustomerUser = ""

	_, err := testClient(t, srv.URL).Process(context.Background(), intent)
	var validationErr *alerts.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validationErr.Missing) != 2 || validationErr.Missing[0] != "Service" || validationErr.Missing[1] != "CustomerUser" {
		t.Errorf("missing = %v", validationErr.Missing)
	}
}

func TestRetryableStatusClassification(t *testing.T) {
	retryable := []int{500, 502, 503, 429}
	for _, code := range retryable {
		if !retryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	permanent := []int{400, 401, 403, 404, 422}
	for _, code := range permanent {
		if retryableStatus(code) {
			t.Errorf("status %d should be permanent", code)
		}
	}
}
