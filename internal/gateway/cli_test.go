package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"beamcode/internal/backend"
	_ "beamcode/internal/backend/sdkadapter"
)

func TestCLIGatewayRejectsUnknownSession(t *testing.T) {
	resolver := backend.NewResolver("claude")
	gw := NewCLIGateway(resolver, []string{"*"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.ServeDialIn(w, r, "nobody-is-waiting")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	_, _, err = ws.Read(ctx)
	if err == nil {
		t.Fatal("expected the gateway to close the socket for an unknown session")
	}
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("got close status %v, want StatusPolicyViolation", websocket.CloseStatus(err))
	}
}

func TestRejectInvalidSessionIDClosesWithPolicyViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RejectInvalidSessionID(w, r, []string{"*"}, "not-a-uuid")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	_, _, err = ws.Read(ctx)
	if err == nil {
		t.Fatal("expected the socket to be closed for an invalid session id")
	}
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("got close status %v, want StatusPolicyViolation", websocket.CloseStatus(err))
	}
}

func TestSessionIDFromPath(t *testing.T) {
	got := SessionIDFromPath("/cli/dial/11111111-1111-1111-1111-111111111111")
	want := "11111111-1111-1111-1111-111111111111"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
