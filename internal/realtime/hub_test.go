package realtime

import (
	"log/slog"
	"testing"

	"github.com/workpact/workpact/internal/events"
)

func testEvent(eventType string, data map[string]interface{}) *events.Event {
	return &events.Event{Type: eventType, Data: data}
}

func TestShouldSend_AllEvents(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{AllEvents: true}}

	ev := testEvent(events.TypeEscrowReleased, map[string]interface{}{"escrowId": "esc_1"})
	if !h.shouldSend(c, ev) {
		t.Error("AllEvents subscription should receive everything")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{EventTypes: []string{events.TypeDisputeOpened}}}

	if h.shouldSend(c, testEvent(events.TypeEscrowReleased, nil)) {
		t.Error("filtered event type should not be sent")
	}
	if !h.shouldSend(c, testEvent(events.TypeDisputeOpened, map[string]interface{}{"escrowId": "esc_1"})) {
		t.Error("matching event type should be sent")
	}
}

func TestShouldSend_EngagementFilter(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{EngagementIDs: []string{"eng_1"}}}

	match := testEvent(events.TypeEscrowReleased, map[string]interface{}{"engagementId": "eng_1"})
	other := testEvent(events.TypeEscrowReleased, map[string]interface{}{"engagementId": "eng_2"})

	if !h.shouldSend(c, match) {
		t.Error("matching engagement should be sent")
	}
	if h.shouldSend(c, other) {
		t.Error("non-matching engagement should not be sent")
	}
}

func TestShouldSend_MinAmount(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{MinAmountMinor: 5000}}

	small := testEvent(events.TypeEscrowCaptured, map[string]interface{}{"grossAmount": int64(1000)})
	large := testEvent(events.TypeEscrowCaptured, map[string]interface{}{"grossAmount": int64(10000)})

	if h.shouldSend(c, small) {
		t.Error("amount below minimum should not be sent")
	}
	if !h.shouldSend(c, large) {
		t.Error("amount above minimum should be sent")
	}
}
