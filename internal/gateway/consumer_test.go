package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"beamcode/internal/auth"
	"beamcode/internal/message"
	"beamcode/internal/session"
	"beamcode/internal/slashcmd"
)

type fakeHub struct {
	sent    []message.Unified
	slashed []string
}

func (f *fakeHub) Send(ctx context.Context, rtm *session.Runtime, msg message.Unified) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeHub) ExecuteSlash(ctx context.Context, rtm *session.Runtime, command, args string) (slashcmd.Result, error) {
	f.slashed = append(f.slashed, command)
	return slashcmd.Result{Handler: "local"}, nil
}

func TestConsumerGatewayRoutesUserMessageToHub(t *testing.T) {
	rtm := session.NewRuntime("11111111-1111-1111-1111-111111111111", "claude", 10*time.Second)
	broadcaster := NewBroadcaster(10, 20, nil)
	hub := &fakeHub{}
	gw := NewConsumerGateway(auth.NewChain(true), broadcaster, hub, []string{"*"}, 20, 20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.ServeSession(w, r, rtm, 0)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	frame := inboundFrame{Type: string(message.TypeUserMessage), Content: []message.Block{{Type: message.BlockText, Text: "hi"}}}
	data, _ := json.Marshal(frame)
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.sent) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(hub.sent) != 1 {
		t.Fatalf("got %d sent messages, want 1", len(hub.sent))
	}
	if hub.sent[0].Content[0].Text != "hi" {
		t.Errorf("got text %q, want hi", hub.sent[0].Content[0].Text)
	}
}

func TestConsumerGatewayReplaysHistoryOnAttach(t *testing.T) {
	rtm := session.NewRuntime("22222222-2222-2222-2222-222222222222", "claude", 10*time.Second)
	rtm.AppendHistory(1, message.Unified{Type: message.TypeStatusChange})
	rtm.AppendHistory(2, message.Unified{Type: message.TypeStreamEvent})

	broadcaster := NewBroadcaster(10, 20, nil)
	hub := &fakeHub{}
	gw := NewConsumerGateway(auth.NewChain(true), broadcaster, hub, []string{"*"}, 20, 20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.ServeSession(w, r, rtm, 0)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	// Handshake (spec §4.8/§5): identity, then session_init, precede replay.
	for _, wantType := range []message.Type{message.TypeIdentity, message.TypeSessionInit} {
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("read handshake %s: %v", wantType, err)
		}
		var env message.Sequenced[message.Unified]
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Payload.Type != wantType {
			t.Fatalf("got handshake type %q, want %q", env.Payload.Type, wantType)
		}
	}

	for i := 0; i < 2; i++ {
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var env message.Sequenced[message.Unified]
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Seq != uint64(i+1) {
			t.Errorf("got seq %d, want %d", env.Seq, i+1)
		}
	}
}
