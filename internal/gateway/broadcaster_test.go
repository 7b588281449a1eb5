package gateway

import (
	"testing"
	"time"

	"beamcode/internal/message"
	"beamcode/internal/session"
)

func TestBroadcasterDeliversToAttachedConsumer(t *testing.T) {
	b := NewBroadcaster(10, 20, nil)
	o := b.Attach(session.ConsumerHandle(1))

	env := message.Sequenced[message.Unified]{Seq: 1, Payload: message.Unified{Type: message.TypeStreamEvent}}
	b.Publish("s1", env)

	select {
	case got := <-o.Chan():
		if got.Seq != 1 {
			t.Errorf("got seq %d, want 1", got.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestBroadcasterDropsNonCriticalAboveHighWaterMark(t *testing.T) {
	b := NewBroadcaster(1, 5, nil)
	o := b.Attach(session.ConsumerHandle(1))

	for i := 0; i < 3; i++ {
		b.Publish("s1", message.Sequenced[message.Unified]{
			Seq:     uint64(i + 1),
			Payload: message.Unified{Type: message.TypeStreamEvent},
		})
	}
	if len(o.ch) != 1 {
		t.Errorf("got %d queued, want 1 (above high water mark dropped)", len(o.ch))
	}
}

func TestBroadcasterCriticalMessagesNotDroppedAtHighWaterMark(t *testing.T) {
	b := NewBroadcaster(1, 5, nil)
	o := b.Attach(session.ConsumerHandle(1))

	b.Publish("s1", message.Sequenced[message.Unified]{Seq: 1, Payload: message.Unified{Type: message.TypeStreamEvent}})
	b.Publish("s1", message.Sequenced[message.Unified]{Seq: 2, Payload: message.Unified{Type: message.TypeResult}})

	if len(o.ch) != 2 {
		t.Errorf("got %d queued, want 2 (critical message must bypass high water mark)", len(o.ch))
	}
}

func TestBroadcasterOverflowCallsOnOverflow(t *testing.T) {
	var overflowed bool
	b := NewBroadcaster(5, 2, func(sessionID string, handle session.ConsumerHandle) {
		overflowed = true
	})
	b.Attach(session.ConsumerHandle(1))

	for i := 0; i < 5; i++ {
		b.Publish("s1", message.Sequenced[message.Unified]{
			Seq:     uint64(i + 1),
			Payload: message.Unified{Type: message.TypeResult},
		})
	}
	if !overflowed {
		t.Error("expected onOverflow to fire once queue exceeded maxQueueSize")
	}
}

func TestBroadcasterDetachClosesChannel(t *testing.T) {
	b := NewBroadcaster(10, 20, nil)
	o := b.Attach(session.ConsumerHandle(1))
	b.Detach(session.ConsumerHandle(1))

	_, ok := <-o.Chan()
	if ok {
		t.Error("expected channel to be closed after Detach")
	}
}
