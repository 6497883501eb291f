package mbld

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mbld/mbld/graph"
)

func TestEmptyScriptProducesNoNodes(t *testing.T) {
	c := New(Config{InitialScriptText: ""})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ran != 0 || res.Skipped != 0 || len(res.Failed) != 0 {
		t.Fatalf("Result = %+v, want all zero", res)
	}
}

func TestWhitespaceOnlyScriptProducesNoNodes(t *testing.T) {
	c := New(Config{InitialScriptText: "   \n\n  "})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ran != 0 {
		t.Fatalf("Ran = %d, want 0", res.Ran)
	}
}

func TestRunBuildsStaleTouchNode(t *testing.T) {
	dir := t.TempDir()
	src := `(touch-node 'out.txt')`
	c := New(Config{
		InitialScriptText: src,
		ScriptFile:        filepath.Join(dir, "build.mbld"),
		Goals:             []string{filepath.Join(dir, "out.txt")},
		NumThreads:        2,
	})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ran != 1 {
		t.Fatalf("Ran = %d, want 1", res.Ran)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Fatalf("output not created: %v", err)
	}
}

func TestPrintOnlyReportsWouldRunWithoutTouchingDisk(t *testing.T) {
	dir := t.TempDir()
	src := `(touch-node 'out.txt')`
	c := New(Config{
		InitialScriptText: src,
		ScriptFile:        filepath.Join(dir, "build.mbld"),
		Goals:             []string{filepath.Join(dir, "out.txt")},
		ExecutionMode:     PrintOnly,
	})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.WouldRun != 1 {
		t.Fatalf("WouldRun = %d, want 1", res.WouldRun)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err == nil {
		t.Fatal("PrintOnly must not create the output")
	}
}

func TestDuplicateProducerIsAGraphError(t *testing.T) {
	dir := t.TempDir()
	src := `(touch-node 'out.txt')(touch-node 'out.txt')`
	c := New(Config{
		InitialScriptText: src,
		ScriptFile:        filepath.Join(dir, "build.mbld"),
		Goals:             []string{filepath.Join(dir, "out.txt")},
	})
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected a duplicate-producer error")
	}
}

func TestDependencyModeAllDependantsActivatesDownstream(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	src := `(touch-node 'a.txt')(touch-node 'b.txt' 'a.txt')`
	c := New(Config{
		InitialScriptText: src,
		ScriptFile:        filepath.Join(dir, "build.mbld"),
		Goals:             []string{a},
		DependencyMode:    graph.AllDependants,
	})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ran != 2 {
		t.Fatalf("Ran = %d, want 2 (a.txt plus its dependant b.txt)", res.Ran)
	}
	if _, err := os.Stat(b); err != nil {
		t.Fatalf("dependant output not created: %v", err)
	}
}
