// Package mbld is the top-level build context: it owns the root scope,
// evaluates the initial script into a node set, resolves the build graph,
// and drives the scheduler. cmd/mbld is the only caller; everything else
// lives in script, graph and scheduler.
package mbld

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"

	"github.com/protocolbuffers/txtpbfmt/parser"
	"golang.org/x/xerrors"

	"github.com/mbld/mbld/graph"
	"github.com/mbld/mbld/scheduler"
	"github.com/mbld/mbld/script"
)

// ExecutionMode selects whether a Run actually executes stale nodes or only
// reports what would run.
type ExecutionMode int

const (
	// Execute runs every stale activated node.
	Execute ExecutionMode = iota
	// PrintOnly resolves and reports the activated subgraph without
	// invoking any action.
	PrintOnly
)

// Config is the single struct an external driver builds and passes in;
// mbld itself never reads flags, files, or environment variables.
type Config struct {
	InitialScriptText string
	ScriptFile        string // absolute path; seeds .FILE/.PWD. May be empty for inline scripts.
	Goals             []string
	ExecutionMode     ExecutionMode
	DependencyMode    graph.DependencyMode
	AlwaysMake        bool
	KeepGoing         bool
	NumThreads        int

	// Log receives diagnostics and print output. Defaults to a discarding
	// logger if nil, matching the rest of this repo's constructor-injected
	// *log.Logger convention.
	Log *log.Logger
}

// Result summarizes one Run.
type Result struct {
	Ran      int
	Skipped  int
	WouldRun int // populated only for ExecutionMode == PrintOnly
	Failed   []scheduler.NodeError
}

// nodeCollector implements script.NodeSink, gathering every node a script
// registers under a mutex so touch-node/run-node calls made from
// EvalSiblingsConcurrently's goroutines (if a future builtin uses it) are
// safe too.
type nodeCollector struct {
	mu    sync.Mutex
	nodes []*graph.Node
}

func (c *nodeCollector) AddNode(n *graph.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, n)
	return nil
}

// Context is a build context: configuration plus the node set it discovers
// by evaluating the script, per Run.
type Context struct {
	cfg Config
	log *log.Logger
}

// New constructs a Context from cfg. A nil cfg.Log gets a logger that
// writes to io.Discard, not os.Stderr, so a library caller that never
// wants output doesn't get any by surprise.
func New(cfg Config) *Context {
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	return &Context{cfg: cfg, log: cfg.Log}
}

// Run evaluates the configured script, resolves the build graph against the
// requested goals, and either executes it or reports the activated subgraph,
// depending on cfg.ExecutionMode.
func (c *Context) Run(ctx context.Context) (*Result, error) {
	sink := &nodeCollector{}
	ev := script.NewEvaluator(c.log.Writer(), sink, c.cfg.AlwaysMake)
	pc := script.NewRootContext()

	pwd := "/"
	file := "<inline>"
	if c.cfg.ScriptFile != "" {
		file = c.cfg.ScriptFile
		pwd = filepath.Dir(file)
	}
	pc.Scope().SetReserved(".PWD", pwd)
	pc.Scope().SetReserved(".FILE", file)
	pc.Scope().SetReserved(".LINE", "1")
	pc.Scope().SetReserved(".COL", "1")

	if err := ev.Eval(pc, file, []byte(c.cfg.InitialScriptText)); err != nil {
		return nil, err
	}

	if err := graph.Resolve(sink.nodes, c.cfg.Goals, c.cfg.DependencyMode); err != nil {
		return nil, err
	}

	if c.cfg.ExecutionMode == PrintOnly {
		return c.printOnly(sink.nodes)
	}

	sched := scheduler.New(c.cfg.NumThreads, c.cfg.KeepGoing, c.log.Writer())
	res, err := sched.Run(ctx, sink.nodes)
	if res == nil {
		return &Result{}, err
	}
	return &Result{Ran: res.Ran, Skipped: res.Skipped, Failed: res.Failed}, err
}

// printOnly reports the activated subgraph as a deterministic textproto-
// shaped buffer (field: value lines) run through txtpbfmt's formatter, and
// the count of nodes that would actually run (i.e. are stale right now)
// without invoking a single action.
func (c *Context) printOnly(nodes []*graph.Node) (*Result, error) {
	var activated []*graph.Node
	for _, n := range nodes {
		if n.Activated() {
			activated = append(activated, n)
		}
	}
	sort.Slice(activated, func(i, j int) bool { return activated[i].GoalName < activated[j].GoalName })

	var buf bytes.Buffer
	for _, n := range activated {
		fmt.Fprintf(&buf, "node: {\n")
		fmt.Fprintf(&buf, "  goal: %q\n", n.GoalName)
		for _, in := range n.InputPaths {
			fmt.Fprintf(&buf, "  input: %q\n", in)
		}
		for _, out := range n.OutputPaths {
			fmt.Fprintf(&buf, "  output: %q\n", out)
		}
		var depNames []string
		for _, dep := range n.Dependencies() {
			depNames = append(depNames, dep.GoalName)
		}
		sort.Strings(depNames)
		for _, name := range depNames {
			fmt.Fprintf(&buf, "  depends_on: %q\n", name)
		}
		fmt.Fprintf(&buf, "}\n")
	}

	formatted, err := parser.Format(buf.Bytes())
	if err != nil {
		return nil, xerrors.Errorf("formatting graph report: %w", err)
	}
	c.log.Print(string(formatted))

	wouldRun := 0
	for _, n := range activated {
		reporter, ok := n.Action.(scheduler.StalenessReporter)
		if !ok {
			wouldRun++
			continue
		}
		stale, err := reporter.WouldRun(n)
		if err != nil {
			return nil, err
		}
		if stale {
			wouldRun++
		}
	}
	return &Result{WouldRun: wouldRun}, nil
}
