// Package scheduler implements the parallel build executor: a fixed-size
// worker pool draining a single shared ready queue, coordinated by one
// mutex and a condition variable rather than channels — the same shape a
// make-clone scheduler uses for its job queue, adapted here to drive
// graph.Node instead of in-process job records.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/mbld/mbld/graph"
)

// Result summarizes one Run.
type Result struct {
	Ran     int
	Skipped int
	Failed  []NodeError
}

// NodeError pairs a failing node's goal name with its action error.
type NodeError struct {
	GoalName string
	Err      error
}

// Scheduler runs a resolved, activated set of graph.Nodes with bounded
// concurrency.
type Scheduler struct {
	numWorkers int
	keepGoing  bool

	progress io.Writer
	isTTY    bool
}

// New constructs a Scheduler with the given worker count (at least 1) and
// keepGoing policy (whether a failing node aborts the whole run or only its
// own dependents). progress receives a carriage-return live status line when
// it is a terminal (checked via go-isatty); a non-terminal progress writer
// (e.g. a log file) gets one plain newline-terminated line per started node
// instead, so captured output holds no carriage-return updates.
func New(numWorkers int, keepGoing bool, progress io.Writer) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	isTTY := false
	if f, ok := progress.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd())
	}
	return &Scheduler{numWorkers: numWorkers, keepGoing: keepGoing, progress: progress, isTTY: isTTY}
}

type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ready    []*graph.Node
	inFlight int
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Run executes every activated node in nodes, respecting dependency order,
// until all have completed/been skipped or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, nodes []*graph.Node) (*Result, error) {
	q := newQueue()
	var activated []*graph.Node
	for _, n := range nodes {
		if !n.Activated() {
			continue
		}
		activated = append(activated, n)
		if n.InitialPrereqCount() == 0 {
			q.ready = append(q.ready, n)
		}
	}

	var (
		resultMu sync.Mutex
		failed   []NodeError
		ran      int
	)
	var stopFlag int32 // atomic; true once a failure with !keepGoing has occurred, or ctx is done

	stopDone := make(chan struct{})
	defer close(stopDone)
	go func() {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&stopFlag, 1)
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stopDone:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			for {
				q.mu.Lock()
				for (len(q.ready) == 0 || atomic.LoadInt32(&stopFlag) != 0) && q.inFlight > 0 {
					q.cond.Wait()
				}
				if len(q.ready) == 0 || atomic.LoadInt32(&stopFlag) != 0 {
					// Either genuinely drained, or stopping with no
					// in-flight work left (stopFlag prevents *new* work
					// from starting; already-running actions always run
					// to completion, which the wait condition above
					// ensures happened before we get here).
					q.mu.Unlock()
					return
				}
				n := q.ready[0]
				q.ready = q.ready[1:]
				q.inFlight++
				q.mu.Unlock()

				var runErr error
				if n.MarkStarted() {
					s.logProgress(workerID, n)
					runErr = n.Action.Run(ctx, n)
				}
				n.MarkDone(runErr)

				resultMu.Lock()
				if runErr != nil {
					failed = append(failed, NodeError{GoalName: n.GoalName, Err: runErr})
					if !s.keepGoing {
						atomic.StoreInt32(&stopFlag, 1)
					}
				} else {
					ran++
				}
				keepGoingNow := atomic.LoadInt32(&stopFlag) == 0
				resultMu.Unlock()

				// Lock ordering rule: never hold the queue mutex and a
				// node mutex at once. Decrement each dependent
				// in its own node-mutex critical section first, then take
				// the queue mutex once to enqueue whichever became ready
				// and to record this node leaving flight.
				//
				// A failed node's dependents are never decremented: their
				// prerequisite count simply never reaches zero, so they
				// (and everything transitively downstream of them) are
				// never enqueued and surface as skipped in the final
				// sweep below, even under keepGoing.
				var newlyReady []*graph.Node
				if runErr == nil && keepGoingNow {
					for _, dep := range n.Dependents() {
						if !dep.Activated() {
							continue
						}
						if dep.DecrementPrereq() == 0 {
							newlyReady = append(newlyReady, dep)
						}
					}
				}

				q.mu.Lock()
				q.inFlight--
				q.ready = append(q.ready, newlyReady...)
				q.cond.Broadcast()
				q.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	skipped := 0
	for _, n := range activated {
		done, _, _ := n.Outcome()
		if !done {
			n.MarkSkipped()
			skipped++
		}
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].GoalName < failed[j].GoalName })

	if len(failed) > 0 {
		return &Result{Ran: ran, Skipped: skipped, Failed: failed}, xerrors.Errorf("%d node(s) failed, first: %s: %w", len(failed), failed[0].GoalName, failed[0].Err)
	}
	return &Result{Ran: ran, Skipped: skipped}, nil
}

func (s *Scheduler) logProgress(workerID int, n *graph.Node) {
	if s.progress == nil {
		return
	}
	if s.isTTY {
		fmt.Fprintf(s.progress, "\r\033[K[worker %d] %s", workerID, n.GoalName)
		return
	}
	fmt.Fprintf(s.progress, "[worker %d] %s\n", workerID, n.GoalName)
}
