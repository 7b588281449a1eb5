package launcher

import (
	"context"
	"testing"
	"time"
)

func TestLaunchAndShutdown(t *testing.T) {
	h, err := Launch(context.Background(), Spec{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if h.PID() == 0 {
		t.Fatal("expected nonzero PID")
	}

	done := make(chan error, 1)
	go func() { done <- h.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}
}

func TestMergeEnvAppendsOverrides(t *testing.T) {
	base := []string{"PATH=/usr/bin"}
	out := mergeEnv(base, map[string]string{"FOO": "bar"})
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
	if out[1] != "FOO=bar" {
		t.Errorf("got %q, want FOO=bar", out[1])
	}
}
