package session

import "testing"

func TestValidIDAcceptsUUIDShape(t *testing.T) {
	if !ValidID("11111111-1111-1111-1111-111111111111") {
		t.Error("expected a well-formed UUID to validate")
	}
}

func TestValidIDRejectsTraversalAttempt(t *testing.T) {
	for _, bad := range []string{"../../etc/passwd", "not-a-uuid", "", "11111111-1111-1111-1111-11111111111"} {
		if ValidID(bad) {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestQueuedMessageSlotRoundTrips(t *testing.T) {
	rtm := NewRuntime("11111111-1111-1111-1111-111111111111", "claude", 0)
	if rtm.QueuedMessage() != nil {
		t.Fatal("expected no queued message on a fresh runtime")
	}

	rtm.SetQueuedMessage(&QueuedMessage{Content: "hi"})
	got := rtm.QueuedMessage()
	if got == nil || got.Content != "hi" {
		t.Fatalf("got %+v, want queued message with content hi", got)
	}

	rtm.SetQueuedMessage(nil)
	if rtm.QueuedMessage() != nil {
		t.Error("expected cancel to clear the queued message slot")
	}
}
