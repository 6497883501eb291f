package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mbld/mbld/graph"
)

// recordingAction appends its own name to a shared, mutex-guarded log when
// run, letting tests assert ordering and invocation counts without sleeps.
type recordingAction struct {
	name string
	mu   *sync.Mutex
	log  *[]string
	hits *int32hits
}

type int32hits struct {
	mu sync.Mutex
	n  int
}

func (h *int32hits) inc() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.n++
	return h.n
}

func (a *recordingAction) Run(ctx context.Context, n *graph.Node) error {
	a.hits.inc()
	a.mu.Lock()
	*a.log = append(*a.log, a.name)
	a.mu.Unlock()
	return nil
}

func buildChain(t *testing.T) (nodes []*graph.Node, log *[]string, hits map[string]*int32hits) {
	t.Helper()
	var mu sync.Mutex
	logSlice := []string{}
	hits = map[string]*int32hits{"a": {}, "b": {}, "c": {}}

	a := graph.New("a", nil, []string{"/tmp/p6-a"}, &recordingAction{name: "a", mu: &mu, log: &logSlice, hits: hits["a"]})
	b := graph.New("b", []string{"/tmp/p6-a"}, []string{"/tmp/p6-b"}, &recordingAction{name: "b", mu: &mu, log: &logSlice, hits: hits["b"]})
	c := graph.New("c", []string{"/tmp/p6-b"}, []string{"/tmp/p6-c"}, &recordingAction{name: "c", mu: &mu, log: &logSlice, hits: hits["c"]})
	nodes = []*graph.Node{a, b, c}
	if err := graph.Resolve(nodes, []string{"/tmp/p6-c"}, graph.None); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return nodes, &logSlice, hits
}

func TestSchedulerOrdersDependenciesBeforeDependents(t *testing.T) {
	nodes, log, _ := buildChain(t)
	sched := New(4, false, nil)
	res, err := sched.Run(context.Background(), nodes)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ran != 3 {
		t.Fatalf("Ran = %d, want 3", res.Ran)
	}
	got := *log
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("execution order = %v, want [a b c]", got)
	}
}

func TestSchedulerInvokesEachActionAtMostOnce(t *testing.T) {
	nodes, _, hits := buildChain(t)
	sched := New(8, false, nil)
	if _, err := sched.Run(context.Background(), nodes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for name, h := range hits {
		if h.n != 1 {
			t.Fatalf("node %s ran %d times, want 1", name, h.n)
		}
	}
}

type failingAction struct{}

func (failingAction) Run(ctx context.Context, n *graph.Node) error {
	return context.DeadlineExceeded
}

func TestSchedulerSkipsDependentsOfFailureWithoutKeepGoing(t *testing.T) {
	a := graph.New("a", nil, []string{"/tmp/p6-fa"}, failingAction{})
	b := graph.New("b", []string{"/tmp/p6-fa"}, []string{"/tmp/p6-fb"}, &recordingAction{
		name: "b", mu: &sync.Mutex{}, log: &[]string{}, hits: &int32hits{},
	})
	nodes := []*graph.Node{a, b}
	if err := graph.Resolve(nodes, []string{"/tmp/p6-fb"}, graph.None); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sched := New(2, false, nil)
	res, err := sched.Run(context.Background(), nodes)
	if err == nil {
		t.Fatal("expected error from failing node")
	}
	if res.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", res.Skipped)
	}
	_, skipped, _ := b.Outcome()
	if !skipped {
		t.Fatal("expected b to be marked skipped")
	}
}

func TestSchedulerSkipsDependentSubtreeOfFailureWithKeepGoing(t *testing.T) {
	a := graph.New("a", nil, []string{"/tmp/p6-kga"}, failingAction{})
	b := graph.New("b", []string{"/tmp/p6-kga"}, []string{"/tmp/p6-kgb"}, &recordingAction{
		name: "b", mu: &sync.Mutex{}, log: &[]string{}, hits: &int32hits{},
	})
	c := graph.New("c", []string{"/tmp/p6-kgb"}, []string{"/tmp/p6-kgc"}, &recordingAction{
		name: "c", mu: &sync.Mutex{}, log: &[]string{}, hits: &int32hits{},
	})
	nodes := []*graph.Node{a, b, c}
	if err := graph.Resolve(nodes, []string{"/tmp/p6-kgc"}, graph.None); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sched := New(2, true, nil)
	res, err := sched.Run(context.Background(), nodes)
	if err == nil {
		t.Fatal("expected error from failing node a")
	}
	if res.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2 (b and c)", res.Skipped)
	}
	for _, n := range []*graph.Node{b, c} {
		done, skipped, runErr := n.Outcome()
		if !done || !skipped || runErr != nil {
			t.Fatalf("node %s Outcome = (done=%v, skipped=%v, err=%v), want (true, true, nil)", n.GoalName, done, skipped, runErr)
		}
	}
}

func TestSchedulerSameOutcomeAcrossWorkerCounts(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		nodes, _, _ := buildChain(t)
		sched := New(workers, false, nil)
		res, err := sched.Run(context.Background(), nodes)
		if err != nil {
			t.Fatalf("workers=%d: Run: %v", workers, err)
		}
		if res.Ran != 3 || res.Skipped != 0 {
			t.Fatalf("workers=%d: Ran=%d Skipped=%d, want 3/0", workers, res.Ran, res.Skipped)
		}
	}
}

func TestSchedulerRunFinishesWithinDeadline(t *testing.T) {
	nodes, _, _ := buildChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sched := New(4, false, nil)
	res, err := sched.Run(ctx, nodes)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ran != 3 || res.Skipped != 0 {
		t.Fatalf("Ran=%d Skipped=%d, want 3/0 before the deadline", res.Ran, res.Skipped)
	}
}
