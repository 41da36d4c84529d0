package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"hotlympics/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewMutationEvent(core.EventPhotoDeleted, core.StatusReconciled, "bob", "img1")
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventPhotoDeleted {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)
	ev := core.NewMutationEvent(core.EventUserDeleted, core.StatusReconciled, "u", "")
	h.Broadcast(context.Background(), ev)
	h.Broadcast(context.Background(), ev)
	if h.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", h.Dropped())
	}
	<-ch
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewPoolToggled(core.PoolToggled{ImageID: "img1", UserID: "alice", IsInPool: true})
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.InPool == nil || !*out.InPool {
		t.Fatalf("unexpected pool flag: %v", out.InPool)
	}
}
