package backend

import (
	"context"
	"testing"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Name() string               { return s.name }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) Connect(ctx context.Context, opts ConnectOptions) (Session, error) {
	return nil, nil
}

func TestResolverFallsBackToDefaultName(t *testing.T) {
	Register("resolver-test-default", func() Adapter { return &stubAdapter{name: "resolver-test-default"} }, false)
	r := NewResolver("resolver-test-default")
	a, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\"): %v", err)
	}
	if a.Name() != "resolver-test-default" {
		t.Errorf("got %q, want resolver-test-default", a.Name())
	}
}

func TestResolverUnknownNameErrors(t *testing.T) {
	r := NewResolver("resolver-test-default")
	if _, err := r.Resolve("does-not-exist"); err == nil {
		t.Fatal("expected an error resolving an unregistered adapter")
	}
}

func TestResolverSharesInvertedSingleton(t *testing.T) {
	Register("resolver-test-inverted", func() Adapter { return &stubAdapter{name: "resolver-test-inverted"} }, true)
	r := NewResolver("resolver-test-default")
	a1, err := r.Resolve("resolver-test-inverted")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a2, err := r.Resolve("resolver-test-inverted")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a1 != a2 {
		t.Error("expected the inverted adapter to resolve to the same singleton instance")
	}
}

func TestResolverFreshInstancePerCallForNonInverted(t *testing.T) {
	Register("resolver-test-fresh", func() Adapter { return &stubAdapter{name: "resolver-test-fresh"} }, false)
	r := NewResolver("resolver-test-default")
	a1, _ := r.Resolve("resolver-test-fresh")
	a2, _ := r.Resolve("resolver-test-fresh")
	if a1 == a2 {
		t.Error("expected a fresh instance per Resolve call for a non-inverted adapter")
	}
}
