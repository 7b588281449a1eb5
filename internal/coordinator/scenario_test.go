package coordinator

import (
	"context"
	"net"
	"testing"
	"time"

	"beamcode/internal/backend"
	"beamcode/internal/gateway"
	"beamcode/internal/message"
	"beamcode/internal/ratelimit"
	"beamcode/internal/session"
)

// Scenario tests S1-S6 from spec §8, following the teacher's split
// between narrow unit tests (per-package _test.go) and these broader
// lifecycle tests that exercise several components wired together.

func TestScenarioS1MultiAdapterSessionLifecycle(t *testing.T) {
	cfg := testConfig(t)
	coord, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	backend.Register("fake-test-b", func() backend.Adapter { return fakeAdapter{} }, false)

	a, err := coord.CreateSession(ctx, "", nil)
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	b, err := coord.CreateSession(ctx, "fake-test-b", nil)
	if err != nil {
		t.Fatalf("create B: %v", err)
	}
	if a.AdapterName() != "fake-test" || b.AdapterName() != "fake-test-b" {
		t.Fatalf("got adapters %q and %q, want fake-test and fake-test-b", a.AdapterName(), b.AdapterName())
	}

	if _, ok := coord.Lookup(a.ID()); !ok {
		t.Fatal("expected session A to be listed")
	}
	if _, ok := coord.Lookup(b.ID()); !ok {
		t.Fatal("expected session B to be listed")
	}

	if err := coord.DeleteSession(b.ID()); err != nil {
		t.Fatalf("delete B: %v", err)
	}
	if _, ok := coord.Lookup(b.ID()); ok {
		t.Fatal("expected session B to be gone")
	}

	if err := coord.DeleteSession(a.ID()); err != nil {
		t.Fatalf("delete A: %v", err)
	}
	if _, ok := coord.Lookup(a.ID()); ok {
		t.Fatal("expected session A to be gone")
	}
}

func TestScenarioS2RateLimitBurstThenRefill(t *testing.T) {
	l := ratelimit.NewFromWindow(10, 10, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		if !l.Allow() {
			t.Fatalf("token %d: expected burst capacity up front", i)
		}
	}
	if l.TryConsume(1) {
		t.Fatal("expected the bucket to be empty immediately after the burst")
	}
	time.Sleep(150 * time.Millisecond)
	if !l.TryConsume(1) {
		t.Fatal("expected a fresh token after the refill window elapses")
	}
}

func TestScenarioS3ConsumerReconnectReplay(t *testing.T) {
	rtm := session.NewRuntime("s3", "fake-test", time.Second)
	for i := uint64(1); i <= 50; i++ {
		rtm.AppendHistory(i, message.Unified{Type: message.TypeStreamEvent})
	}

	b := gateway.NewBroadcaster(1000, 1000, nil)
	handle := session.ConsumerHandle(1)
	outbox := b.Attach(handle)

	if err := b.Replay("s3", rtm, handle, 20); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	var got []uint64
	for len(got) < 30 {
		select {
		case env := <-outbox.Chan():
			got = append(got, env.Seq)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replay, got %d of 30", len(got))
		}
	}
	for i, seq := range got {
		if want := uint64(21 + i); seq != want {
			t.Fatalf("got seq %d at position %d, want %d", seq, i, want)
		}
	}

	live := message.Sequenced[message.Unified]{Seq: 51, Payload: message.Unified{Type: message.TypeStreamEvent}}
	b.Publish("s3", live)
	select {
	case env := <-outbox.Chan():
		if env.Seq != 51 {
			t.Fatalf("got live seq %d, want 51", env.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the live message after replay")
	}
}

func TestScenarioS4CapabilitiesHandshake(t *testing.T) {
	policy := session.NewCapabilitiesPolicy(time.Second)

	id1, started1 := policy.SendInitializeRequest()
	if !started1 || id1 == "" {
		t.Fatal("expected the first initialize to start a new request")
	}
	if !policy.HasPending() {
		t.Fatal("expected a pending initialize after starting one")
	}

	id2, started2 := policy.SendInitializeRequest()
	if started2 {
		t.Fatal("expected a second initialize before response to be a no-op")
	}
	if id2 != id1 {
		t.Fatalf("expected the no-op to return the same request id, got %q want %q", id2, id1)
	}

	if !policy.MatchControlResponse(id1) {
		t.Fatal("expected the matching control response to clear the pending request")
	}
	if policy.HasPending() {
		t.Fatal("expected no pending initialize after the response arrives")
	}
}

func TestScenarioS5InvertedCLIDeliveryOrdersFrames(t *testing.T) {
	adapter, err := backend.NewResolver("fake-test").Resolve("sdk-url")
	if err != nil {
		t.Fatalf("resolve sdk-url: %v", err)
	}
	inv := adapter.(backend.InvertedAdapter)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	connectDone := make(chan struct{})
	var sess backend.Session
	var connectErr error
	go func() {
		sess, connectErr = inv.Connect(context.Background(), backend.ConnectOptions{SessionID: "s5"})
		close(connectDone)
	}()

	// Give Connect a moment to register its waiter before delivery, so
	// DeliverSocket exercises the real rendezvous path rather than a race.
	time.Sleep(20 * time.Millisecond)
	if !inv.DeliverSocket("s5", serverConn) {
		t.Fatal("expected DeliverSocket to find the waiting session")
	}

	<-connectDone
	if connectErr != nil {
		t.Fatalf("Connect: %v", connectErr)
	}

	go func() {
		clientConn.Write(append([]byte(`{"type":"user_message"}`), '\n'))
		clientConn.Write(append([]byte(`{"type":"result"}`), '\n'))
	}()

	first := <-sess.Messages()
	if first.Type != message.TypeUserMessage {
		t.Fatalf("got first message type %q, want user_message", first.Type)
	}
	second := <-sess.Messages()
	if second.Type != message.TypeResult {
		t.Fatalf("got second message type %q, want result", second.Type)
	}
}

func TestScenarioS5CancelPendingRejectsLateDelivery(t *testing.T) {
	adapter, err := backend.NewResolver("fake-test").Resolve("sdk-url")
	if err != nil {
		t.Fatalf("resolve sdk-url: %v", err)
	}
	inv := adapter.(backend.InvertedAdapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_, _ = inv.Connect(ctx, backend.ConnectOptions{SessionID: "s5-cancel"})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	inv.CancelPending("s5-cancel")
	<-done

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	if inv.DeliverSocket("s5-cancel", serverConn) {
		t.Fatal("expected DeliverSocket to reject a session no longer waiting")
	}
}

func TestScenarioS6TeamToolCorrelationIsIdempotent(t *testing.T) {
	state := session.NewState("s6")
	buf := session.NewCorrelationBuffer()
	now := time.Now()

	toolUse := message.Unified{
		Type: message.TypeUserMessage,
		Content: []message.Block{{
			Type:      message.BlockToolUse,
			ToolUseID: "tu-alpha-1",
			ToolName:  "Task",
			ToolInput: map[string]any{"team_name": "alpha", "name": "agent1"},
		}},
	}
	state = session.Reduce(state, toolUse, buf, now)
	member, ok := state.Team.Members["agent1"]
	if !ok || member.Status != "active" {
		t.Fatalf("expected agent1 to appear active after the first tool_use, got %+v ok=%v", member, ok)
	}

	toolResult := message.Unified{
		Type: message.TypeUserMessage,
		Content: []message.Block{{
			Type:            message.BlockToolResult,
			ToolResultForID: "tu-alpha-1",
			ToolResultText:  `{}`,
		}},
	}
	afterResult := session.Reduce(state, toolResult, buf, now.Add(5*time.Second))
	if len(afterResult.Team.Members) != len(state.Team.Members) {
		t.Fatal("expected the correlated tool_result to leave team membership unchanged")
	}

	secondToolUse := message.Unified{
		Type: message.TypeUserMessage,
		Content: []message.Block{{
			Type:      message.BlockToolUse,
			ToolUseID: "tu-alpha-2",
			ToolName:  "Task",
			ToolInput: map[string]any{"team_name": "alpha", "name": "agent1"},
		}},
	}
	final := session.Reduce(afterResult, secondToolUse, buf, now.Add(5*time.Second))
	if len(final.Team.Members) != 1 {
		t.Fatalf("expected no duplicate member for a repeated tool_use, got %d members", len(final.Team.Members))
	}
}
