package graph

import (
	"context"
	"testing"
)

type fakeAction struct{}

func (fakeAction) Run(ctx context.Context, n *Node) error { return nil }

func TestResolveWiresDependencies(t *testing.T) {
	a := New("a", nil, []string{"/tmp/a"}, fakeAction{})
	b := New("b", []string{"/tmp/a"}, []string{"/tmp/b"}, fakeAction{})
	nodes := []*Node{a, b}

	if err := Resolve(nodes, []string{"/tmp/b"}, None); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !a.Activated() || !b.Activated() {
		t.Fatalf("expected both nodes activated, got a=%v b=%v", a.activated, b.activated)
	}
	if got := b.InitialPrereqCount(); got != 1 {
		t.Fatalf("b.outstandingPrereqCount = %d, want 1", got)
	}
	if got := a.InitialPrereqCount(); got != 0 {
		t.Fatalf("a.outstandingPrereqCount = %d, want 0", got)
	}
	deps := b.Dependencies()
	if len(deps) != 1 || deps[0] != a {
		t.Fatalf("b.Dependencies() = %v, want [a]", deps)
	}
}

func TestResolveRejectsDuplicateProducers(t *testing.T) {
	a := New("a", nil, []string{"/tmp/out"}, fakeAction{})
	b := New("b", nil, []string{"/tmp/out"}, fakeAction{})
	err := Resolve([]*Node{a, b}, []string{"/tmp/out"}, None)
	if err == nil {
		t.Fatal("expected error for duplicate producers, got nil")
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	a := New("a", []string{"/tmp/b"}, []string{"/tmp/a"}, fakeAction{})
	b := New("b", []string{"/tmp/a"}, []string{"/tmp/b"}, fakeAction{})
	err := Resolve([]*Node{a, b}, []string{"/tmp/a"}, None)
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestResolveUnknownGoal(t *testing.T) {
	a := New("a", nil, []string{"/tmp/a"}, fakeAction{})
	if err := Resolve([]*Node{a}, []string{"/tmp/missing"}, None); err == nil {
		t.Fatal("expected error for unknown goal, got nil")
	}
}

func TestResolveUnrequestedNodeNotActivated(t *testing.T) {
	// c is never a dependency of anything requested, so it stays inert.
	a := New("a", []string{"/tmp/ext"}, []string{"/tmp/a"}, fakeAction{})
	c := New("c", nil, []string{"/tmp/c"}, fakeAction{})
	if err := Resolve([]*Node{a, c}, []string{"/tmp/a"}, None); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !a.Activated() {
		t.Fatal("expected a activated")
	}
	if c.Activated() {
		t.Fatal("expected c not activated")
	}
}

func TestResolveAllDependantsActivatesDownstream(t *testing.T) {
	a := New("a", nil, []string{"/tmp/a"}, fakeAction{})
	b := New("b", []string{"/tmp/a"}, []string{"/tmp/b"}, fakeAction{})
	c := New("c", []string{"/tmp/b"}, []string{"/tmp/c"}, fakeAction{})
	if err := Resolve([]*Node{a, b, c}, []string{"/tmp/a"}, AllDependants); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !a.Activated() || !b.Activated() || !c.Activated() {
		t.Fatal("expected a, b, c all activated under AllDependants")
	}
}
