// Package graph implements the build node model: the unit of work in the
// build graph (inputs, outputs, action, dependency links) and the
// invariants that bind a set of nodes into a DAG.
package graph

import (
	"context"
	"sync"
)

// Action is the opaque effect a Node performs when executed. Actions are
// supplied by the caller that constructs a Node (a script builtin, in this
// repo); the graph and scheduler packages never inspect what an Action
// actually does.
type Action interface {
	// Run executes the action for the given node. Implementations decide
	// their own staleness predicate; Run is only called for nodes the
	// scheduler has determined need to run (see scheduler.Scheduler).
	Run(ctx context.Context, n *Node) error
}

// Node is one unit of work in the build graph: a file to be produced from
// some inputs by some action.
type Node struct {
	// GoalName is a human-readable identifier, typically the primary
	// output path.
	GoalName string

	// InputPaths and OutputPaths are ordered lists of absolute paths.
	// Invariant: every output path is produced by at most one node across
	// the whole graph (enforced by Resolve, not by Node itself).
	InputPaths  []string
	OutputPaths []string

	Action Action

	perNodeMutex sync.Mutex

	dependencies map[*Node]struct{}
	dependents   map[*Node]struct{}

	// outstandingPrereqCount is the number of not-yet-completed
	// dependencies; invariant: equals |dependencies ∩ notYetCompleted| at
	// all times. Guarded by perNodeMutex.
	outstandingPrereqCount int

	// activated is true iff this node is reachable from the requested
	// goal set. Guarded by perNodeMutex.
	activated bool

	// started and err record scheduling state transitions guarded by
	// perNodeMutex: started flips to true the moment a worker claims the
	// node (at most once per run), err records the terminal outcome once
	// the action has run.
	started bool
	done    bool
	err     error
	skipped bool
}

// New constructs a Node with no dependency wiring; call graph.Resolve to
// wire dependencies/dependents from a set of nodes' input/output paths.
func New(goalName string, inputPaths, outputPaths []string, action Action) *Node {
	return &Node{
		GoalName:     goalName,
		InputPaths:   append([]string(nil), inputPaths...),
		OutputPaths:  append([]string(nil), outputPaths...),
		Action:       action,
		dependencies: make(map[*Node]struct{}),
		dependents:   make(map[*Node]struct{}),
	}
}

// Activated reports whether the node is reachable from the requested goal
// set.
func (n *Node) Activated() bool {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	return n.activated
}

// Dependencies returns a snapshot slice of the node's dependency set.
func (n *Node) Dependencies() []*Node {
	out := make([]*Node, 0, len(n.dependencies))
	for d := range n.dependencies {
		out = append(out, d)
	}
	return out
}

// Dependents returns a snapshot slice of the node's dependent set.
func (n *Node) Dependents() []*Node {
	out := make([]*Node, 0, len(n.dependents))
	for d := range n.dependents {
		out = append(out, d)
	}
	return out
}

// Outcome reports whether the node has finished (successfully, with an
// error, or skipped due to an upstream failure) and, if so, its error (nil
// on success or skip).
func (n *Node) Outcome() (done, skipped bool, err error) {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	return n.done, n.skipped, n.err
}

// DecrementPrereq records that one of n's dependencies has completed,
// returning the remaining outstandingPrereqCount. The scheduler enqueues n
// when this reaches zero. Guarded by n's own mutex, never taken alongside
// the ready-queue mutex (lock ordering rule: a worker holds either the
// queue mutex or at most one node mutex, never both at once).
func (n *Node) DecrementPrereq() int {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	n.outstandingPrereqCount--
	return n.outstandingPrereqCount
}

// InitialPrereqCount reports the outstandingPrereqCount Resolve computed,
// i.e. whether n is immediately ready with no activated dependencies.
func (n *Node) InitialPrereqCount() int {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	return n.outstandingPrereqCount
}

// MarkStarted claims the node for execution, returning true the first time
// it is called for this node and false on every subsequent call, so that
// each node's action is invoked at most once per run.
func (n *Node) MarkStarted() bool {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	if n.started {
		return false
	}
	n.started = true
	return true
}

// MarkDone records the terminal outcome of having run (or not needed to
// run) n's action.
func (n *Node) MarkDone(err error) {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	n.done = true
	n.err = err
}

// MarkSkipped records that n will never run because a dependency failed
// and keepGoing was false, or because keepGoing allowed the run to
// continue but this node's own prerequisite ultimately failed.
func (n *Node) MarkSkipped() {
	n.perNodeMutex.Lock()
	defer n.perNodeMutex.Unlock()
	n.done = true
	n.skipped = true
}
