package adapters

import (
	"errors"
	"testing"

	"github.com/deskbridge/deskbridge/internal/alerts"
)

func TestOTRSAdapterParse(t *testing.T) {
	body := []byte(`{
		"Ticket": {
			"Title": "DB down on db-1",
			"QueueID": "12",
			"Priority": "1 Critical",
			"CustomerUser": "ops",
			"Type": "Incident",
			"Service": "Databases"
		},
		"DynamicField": [
			{"Name": "ZabbixState", "Value": "PROBLEM"},
			{"Name": "ZabbixTrigger", "Value": "900"},
			{"Name": "ZabbixEvent", "Value": "4711"},
			{"Name": "ZabbixHost", "Value": "db-1"},
			{"Name": "ZabbixTriggerName", "Value": "DB down"},
			{"Name": "ZabbixSeverity", "Value": "5"},
			{"Name": "ZabbixTags", "Value": "env:prod"}
		],
		"Article": {"Subject": "article subject", "Body": "article body"},
		"PreparedMessage": "prepared body",
		"EventTime": "2024-03-01 12:00:00",
		"TriggerClient": "ACME",
		"TriggerGroups": ["DBA", "Linux"]
	}`)

	delivery, err := NewOTRSAdapter().Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := delivery.Alert
	if a.EventID != "4711" || a.TriggerID != "900" || a.HostName != "db-1" {
		t.Errorf("identity fields = %q/%q/%q", a.EventID, a.TriggerID, a.HostName)
	}
	if a.State != alerts.StateProblem {
		t.Errorf("state = %q", a.State)
	}
	if a.TriggerName != "DB down" {
		t.Errorf("trigger name = %q", a.TriggerName)
	}
	if a.Severity != "Disaster" {
		t.Errorf("severity = %q, want Disaster", a.Severity)
	}
	if len(a.Tags) != 1 || a.Tags[0].Tag != "env" {
		t.Errorf("tags = %v", a.Tags)
	}

	if delivery.Identity != alerts.IdentityTriggerHost {
		t.Error("expected trigger/host identity")
	}

	ov := delivery.Overrides
	if ov.Subject != "DB down on db-1" {
		t.Errorf("subject override = %q, want ticket title", ov.Subject)
	}
	if ov.PreparedMessage != "prepared body" || ov.ArticleBody != "article body" {
		t.Errorf("body overrides = %q/%q", ov.PreparedMessage, ov.ArticleBody)
	}
	if ov.QueueID != "12" || ov.Priority != "1 Critical" || ov.Service != "Databases" {
		t.Errorf("ticket overrides = %+v", ov)
	}
	if ov.TriggerClient != "ACME" || len(ov.TriggerGroups) != 2 {
		t.Errorf("client/groups = %q/%v", ov.TriggerClient, ov.TriggerGroups)
	}
}

func TestOTRSAdapterParse_MissingHost(t *testing.T) {
	body := []byte(`{
		"DynamicField": [
			{"Name": "ZabbixState", "Value": "PROBLEM"},
			{"Name": "ZabbixTrigger", "Value": "900"},
			{"Name": "ZabbixEvent", "Value": "4711"}
		]
	}`)

	_, err := NewOTRSAdapter().Parse(body)
	var validationErr *alerts.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validationErr.Missing) != 1 || validationErr.Missing[0] != FieldHost {
		t.Errorf("missing = %v, want [%s]", validationErr.Missing, FieldHost)
	}
}

func TestOTRSAdapterParse_AllFieldsMissing(t *testing.T) {
	_, err := NewOTRSAdapter().Parse([]byte(`{}`))
	var validationErr *alerts.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validationErr.Missing) != 4 {
		t.Errorf("missing = %v, want all four dynamic fields", validationErr.Missing)
	}
}

func TestOTRSAdapterParse_ArticleSubjectFallback(t *testing.T) {
	body := []byte(`{
		"DynamicField": [
			{"Name": "ZabbixState", "Value": "0"},
			{"Name": "ZabbixTrigger", "Value": "900"},
			{"Name": "ZabbixEvent", "Value": "4711"},
			{"Name": "ZabbixHost", "Value": "db-1"}
		],
		"Article": {"Subject": "from article"}
	}`)

	delivery, err := NewOTRSAdapter().Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivery.Alert.State != alerts.StateRecovered {
		t.Errorf("state = %q, want RECOVERED for code 0", delivery.Alert.State)
	}
	if delivery.Overrides.Subject != "from article" {
		t.Errorf("subject = %q, want article fallback", delivery.Overrides.Subject)
	}
}

func TestParseTriggerGroups(t *testing.T) {
	if got := parseTriggerGroups([]byte(`["a","b"]`)); len(got) != 2 {
		t.Errorf("array form = %v", got)
	}
	if got := parseTriggerGroups([]byte(`"single"`)); len(got) != 1 || got[0] != "single" {
		t.Errorf("string form = %v", got)
	}
	if got := parseTriggerGroups(nil); got != nil {
		t.Errorf("nil form = %v", got)
	}
	if got := parseTriggerGroups([]byte(`null`)); got != nil {
		t.Errorf("null form = %v", got)
	}
}
