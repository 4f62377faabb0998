package events

import (
	"testing"

	"go.uber.org/zap"
)

func TestManagerDeliversToAllSubscribers(t *testing.T) {
	m := NewManager(zap.NewNop())
	var got []Type
	m.Subscribe(func(e Event) { got = append(got, e.Type) })
	m.Subscribe(func(e Event) { got = append(got, e.Type) })

	m.RunStarted("a1")

	if len(got) != 2 || got[0] != TypeRunStarted || got[1] != TypeRunStarted {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestManagerPropagatesHandlerPanic(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Subscribe(func(Event) { panic("boom") })

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected the handler panic to propagate")
		}
	}()
	m.RunStarted("a1")
}

func TestStatusManagerNoOpWhenDisabled(t *testing.T) {
	m := NewManager(zap.NewNop())
	var delivered bool
	m.Subscribe(func(Event) { delivered = true })

	sm := NewStatusManager(m, false)
	sm.EmitStatus("a1", "title", nil, nil, nil)

	if delivered {
		t.Fatalf("expected no event when EmitPublicStatus is false")
	}
}

func TestStatusManagerForwardsWhenEnabled(t *testing.T) {
	m := NewManager(zap.NewNop())
	var payload StatusUpdatePayload
	m.Subscribe(func(e Event) {
		if e.Type == TypeStatusUpdate {
			payload = e.Payload.(StatusUpdatePayload)
		}
	})

	sm := NewStatusManager(m, true)
	details := "details"
	sm.EmitStatus("a1", "title", &details, nil, nil)

	if payload.Title != "title" || payload.Details == nil || *payload.Details != "details" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestStatusManagerStatusAdapterOmitsEmptyDetails(t *testing.T) {
	m := NewManager(zap.NewNop())
	var payload StatusUpdatePayload
	m.Subscribe(func(e Event) { payload = e.Payload.(StatusUpdatePayload) })

	sm := NewStatusManager(m, true)
	sm.Status("a1", "title", "")

	if payload.Details != nil {
		t.Fatalf("expected nil details for empty string, got %v", *payload.Details)
	}
}
