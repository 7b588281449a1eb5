package slashcmd

import (
	"context"
	"testing"
	"time"

	"beamcode/internal/backend"
	"beamcode/internal/session"
)

// fakeExecutor answers only "/compact".
type fakeExecutor struct{}

func (fakeExecutor) Handles(command string) bool { return command == "/compact" }
func (fakeExecutor) Execute(ctx context.Context, command string) (backend.SlashResult, error) {
	return backend.SlashResult{Content: "compacted", Source: "emulated"}, nil
}

type fakeAdapterFactory struct {
	backend.Adapter
}

func (fakeAdapterFactory) CreateSlashExecutor(sess backend.Session) (backend.SlashExecutor, error) {
	return fakeExecutor{}, nil
}

func newRuntime(t *testing.T) *session.Runtime {
	t.Helper()
	return session.NewRuntime("11111111-1111-1111-1111-111111111111", "claude", 10*time.Second)
}

func TestChainLocalHandlerShortCircuits(t *testing.T) {
	rtm := newRuntime(t)
	chain := NewChain(BuiltinHelp)

	res, err := chain.Execute(context.Background(), rtm, nil, "/help", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Handler != "local" {
		t.Errorf("got handler %q, want local", res.Handler)
	}
}

func TestChainUnsupportedWhenNoLinkClaimsCommand(t *testing.T) {
	rtm := newRuntime(t)
	chain := NewChain(BuiltinHelp)

	_, err := chain.Execute(context.Background(), rtm, fakeAdapterFactory{}, "/nope", "")
	if err != backend.ErrUnsupported {
		t.Errorf("got err %v, want ErrUnsupported", err)
	}
}

func TestChainPassthroughForKnownRegistryCommand(t *testing.T) {
	rtm := newRuntime(t)
	rtm.Registry().RegisterReported([]string{"/review"})
	chain := NewChain(BuiltinHelp)

	res, err := chain.Execute(context.Background(), rtm, fakeAdapterFactory{}, "/review", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Handler != "passthrough" {
		t.Errorf("got handler %q, want passthrough", res.Handler)
	}
}
