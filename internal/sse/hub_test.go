package sse

import (
	"strings"
	"testing"
)

func TestPublishReachesTopicOnly(t *testing.T) {
	h := NewHub()
	a, unsubA := h.Subscribe("campaign-a")
	defer unsubA()
	b, unsubB := h.Subscribe("campaign-b")
	defer unsubB()

	if err := h.Publish("campaign-a", "progress", map[string]int{"sent": 3}); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-a:
		got := string(frame)
		if !strings.HasPrefix(got, "event: progress\n") || !strings.Contains(got, `data: {"sent":3}`) {
			t.Fatalf("unexpected frame %q", got)
		}
	default:
		t.Fatal("subscriber of campaign-a got nothing")
	}
	select {
	case frame := <-b:
		t.Fatalf("campaign-b should not receive %q", frame)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	_, unsub := h.Subscribe("x")
	if h.Subscribers("x") != 1 {
		t.Fatal("expected one subscriber")
	}
	unsub()
	unsub()
	if h.Subscribers("x") != 0 {
		t.Fatal("expected no subscribers")
	}
	h.Broadcast("x", []byte("ignored"))
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("x")
	defer unsub()
	for i := 0; i < 100; i++ {
		h.Broadcast("x", []byte("e"))
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected buffer full at %d, got %d", cap(ch), len(ch))
	}
}
