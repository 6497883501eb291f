package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mbld/mbld/graph"
)

func TestTouchNodeActionCreatesMissingOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	n := graph.New(out, nil, []string{out}, nil)
	a := NewTouchNodeAction(false)
	if err := a.Run(context.Background(), n); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output not created: %v", err)
	}
}

func TestTouchNodeActionSkipsFreshOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	writeFile(t, in, "old")
	writeFile(t, out, "")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(in, past, past); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	n := graph.New(out, []string{in}, []string{out}, nil)
	a := NewTouchNodeAction(false)
	if err := a.Run(context.Background(), n); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if !before.ModTime().Equal(after.ModTime()) {
		t.Fatalf("output mtime changed even though it was newer than its input")
	}
}

func TestTouchNodeActionRewritesStaleOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	writeFile(t, out, "")
	writeFile(t, in, "new")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(out, past, past); err != nil {
		t.Fatal(err)
	}
	n := graph.New(out, []string{in}, []string{out}, nil)
	a := NewTouchNodeAction(false)
	if err := a.Run(context.Background(), n); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fi, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if fi.ModTime().Before(past.Add(time.Minute)) {
		t.Fatalf("output mtime not advanced past stale input")
	}
}

func TestRunNodeActionSkipsWhenOutputIsFresh(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	marker := filepath.Join(dir, "ran")
	writeFile(t, in, "old")
	writeFile(t, out, "")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(in, past, past); err != nil {
		t.Fatal(err)
	}
	n := graph.New(out, []string{in}, []string{out}, nil)
	a := NewRunNodeAction(dir, "/usr/bin/touch", []string{marker}, []string{in}, false)
	if err := a.Run(context.Background(), n); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("program ran even though the output was already fresh")
	}
}

func TestRunNodeActionAlwaysMakeForcesRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	marker := filepath.Join(dir, "ran")
	writeFile(t, out, "")
	n := graph.New(out, nil, []string{out}, nil)
	a := NewRunNodeAction(dir, "/usr/bin/touch", []string{marker}, nil, true)
	if err := a.Run(context.Background(), n); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("program did not run under AlwaysMake: %v", err)
	}
}

func TestRunNodeActionProvidesScratchTMPDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	tmpdirMarker := filepath.Join(dir, "tmpdir.txt")
	n := graph.New(out, nil, []string{out}, nil)
	a := NewRunNodeAction(dir, "/bin/sh", []string{"-c", "printf %s \"$TMPDIR\" > " + tmpdirMarker}, nil, true)
	if err := a.Run(context.Background(), n); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(tmpdirMarker)
	if err != nil {
		t.Fatalf("reading tmpdir marker: %v", err)
	}
	scratch := string(got)
	if !strings.HasPrefix(scratch, dir) {
		t.Fatalf("TMPDIR = %q, want a path under %q", scratch, dir)
	}
	if fi, err := os.Stat(scratch); err != nil || !fi.IsDir() {
		t.Fatalf("TMPDIR %q is not an existing directory: %v", scratch, err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
