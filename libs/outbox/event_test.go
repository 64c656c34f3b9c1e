package outbox

import (
	"encoding/json"
	"testing"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("appointment", "appt-1", "booking.appointment.created.v1", map[string]any{
		"business_id": "biz-1",
	})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if evt.EventType != "booking.appointment.created.v1" || evt.AggregateID != "appt-1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["business_id"] != "biz-1" {
		t.Fatalf("unexpected payload %s (%v)", evt.Payload, err)
	}

	if _, err := NewEvent("x", "y", "z", func() {}); err == nil {
		t.Fatal("expected marshal error for func payload")
	}
}
