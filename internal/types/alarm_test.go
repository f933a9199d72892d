package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleAlarm() *AlarmEvent {
	return &AlarmEvent{
		Name:      "Motion Detected",
		Timestamp: 1691000000000,
		Triggers: []Trigger{
			{Key: "motion", Device: "28704E113F64", EventID: "evt_123456789"},
		},
		Sources:   []Source{{Device: "28704E113F64", Type: "include"}},
		Conditions: []Condition{
			{Condition: ConditionDetail{Type: "is", Source: "motion"}},
		},
		EventPath: "/protect/events/evt_123456789",
	}
}

func TestValidateNilAlarm(t *testing.T) {
	var alarm *AlarmEvent

	err := alarm.Validate()
	if err == nil {
		t.Fatal("expected validation error for nil alarm")
	}
	if err.Code != ErrCodeValidationNilAlarm {
		t.Errorf("unexpected code %s", err.Code)
	}
}

func TestValidateNoTriggers(t *testing.T) {
	tests := []struct {
		name  string
		alarm *AlarmEvent
	}{
		{"nil triggers", &AlarmEvent{Timestamp: 1691000000000}},
		{"empty triggers", &AlarmEvent{Timestamp: 1691000000000, Triggers: []Trigger{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.alarm.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Code != ErrCodeValidationNoTriggers {
				t.Errorf("unexpected code %s", err.Code)
			}
		})
	}
}

func TestValidateAcceptsAnyTimestamp(t *testing.T) {
	for _, ts := range []int64{0, -1, 1691000000000} {
		alarm := sampleAlarm()
		alarm.Timestamp = ts
		if err := alarm.Validate(); err != nil {
			t.Errorf("timestamp %d rejected: %v", ts, err)
		}
	}
}

func TestSanitizedStripsAuxiliaryMetadata(t *testing.T) {
	alarm := sampleAlarm()
	alarm.Triggers[0].EventKey = "2023-08-02/evt_123456789_28704E113F64_1691000000000.json"

	clean := alarm.Sanitized()

	if clean.Sources != nil {
		t.Error("expected sources to be stripped")
	}
	if clean.Conditions != nil {
		t.Error("expected conditions to be stripped")
	}
	if clean.Name != alarm.Name || clean.Timestamp != alarm.Timestamp {
		t.Error("expected identity fields to be preserved")
	}
	if clean.Triggers[0].EventKey != alarm.Triggers[0].EventKey {
		t.Error("expected populated trigger fields to be preserved")
	}

	// The trigger slice must be an independent copy.
	clean.Triggers[0].Device = "mutated"
	if alarm.Triggers[0].Device == "mutated" {
		t.Error("sanitized copy shares trigger backing array with the original")
	}
}

func TestSanitizedSerialization(t *testing.T) {
	alarm := sampleAlarm()

	raw, err := json.Marshal(alarm.Sanitized())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	body := string(raw)
	if strings.Contains(body, "sources") || strings.Contains(body, "conditions") {
		t.Errorf("sanitized artifact still carries auxiliary metadata: %s", body)
	}
	if !strings.Contains(body, `"eventId":"evt_123456789"`) {
		t.Errorf("expected trigger identity in artifact: %s", body)
	}
}

func TestAlarmEventWireDecoding(t *testing.T) {
	payload := `{
		"name": "Doorbell Ring",
		"timestamp": 1691000000000,
		"triggers": [{"key": "ring", "device": "AA11BB22CC33", "eventId": "evt_ring_1"}],
		"eventPath": "/protect/events/evt_ring_1"
	}`

	var alarm AlarmEvent
	if err := json.Unmarshal([]byte(payload), &alarm); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := alarm.Validate(); err != nil {
		t.Fatalf("decoded alarm failed validation: %v", err)
	}
	if alarm.Triggers[0].Device != "AA11BB22CC33" {
		t.Errorf("unexpected device %q", alarm.Triggers[0].Device)
	}
}
