package scheduler

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/mbld/mbld/graph"
	"github.com/mbld/mbld/internal/cliutil"
)

// StalenessReporter is implemented by actions whose staleness predicate can
// be queried without running the action, e.g. for a PrintOnly dry-run
// count. Actions that don't implement it are reported as always needing to
// run.
type StalenessReporter interface {
	WouldRun(n *graph.Node) (bool, error)
}

// TouchNodeAction is the default action family: ensure the output file
// exists, and rewrite it when any input's mtime is newer than the output's.
// AlwaysMake forces the rewrite regardless of mtimes; it is a per-action
// field rather than a Scheduler-level gate so that a non-mtime action
// family can ignore it entirely.
type TouchNodeAction struct {
	AlwaysMake bool
}

// NewTouchNodeAction constructs the action touch-node registers.
func NewTouchNodeAction(alwaysMake bool) *TouchNodeAction {
	return &TouchNodeAction{AlwaysMake: alwaysMake}
}

func (a *TouchNodeAction) Run(ctx context.Context, n *graph.Node) error {
	for _, out := range n.OutputPaths {
		stale, err := isStale(out, n.InputPaths, a.AlwaysMake)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if err := renameio.WriteFile(out, []byte{}, 0o644); err != nil {
			return xerrors.Errorf("touch-node: writing %s: %w", out, err)
		}
		now := time.Now()
		if err := os.Chtimes(out, now, now); err != nil {
			return xerrors.Errorf("touch-node: setting mtime on %s: %w", out, err)
		}
	}
	return nil
}

// WouldRun reports whether any of n's outputs are currently stale, without
// writing anything.
func (a *TouchNodeAction) WouldRun(n *graph.Node) (bool, error) {
	for _, out := range n.OutputPaths {
		stale, err := isStale(out, n.InputPaths, a.AlwaysMake)
		if err != nil {
			return false, err
		}
		if stale {
			return true, nil
		}
	}
	return false, nil
}

// isStale implements the mtime-based staleness predicate shared by
// touch-node and run-node: a symlink at the output position is returned as
// an error naming it an internal invariant violation (the script must never
// write through a symlink output); like any other action error it fails the
// node and does not abort the process; a non-regular, non-missing output is
// an action error; otherwise the output
// is stale if it doesn't exist, alwaysMake is set, or any input is strictly
// newer.
func isStale(output string, inputs []string, alwaysMake bool) (bool, error) {
	var lst unix.Stat_t
	if err := unix.Lstat(output, &lst); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, xerrors.Errorf("lstat %s: %w", output, err)
	}
	if lst.Mode&unix.S_IFMT == unix.S_IFLNK {
		return false, xerrors.Errorf("%s is a symlink; the build script must never produce a symlink at an output position (internal invariant violation)", output)
	}
	if lst.Mode&unix.S_IFMT != unix.S_IFREG {
		return false, xerrors.Errorf("%s exists and is not a regular file", output)
	}
	if alwaysMake {
		return true, nil
	}
	outMTime := statTime(lst)
	for _, in := range inputs {
		var ist unix.Stat_t
		if err := unix.Stat(in, &ist); err != nil {
			return false, xerrors.Errorf("input %s: %w", in, err)
		}
		if statTime(ist).After(outMTime) {
			return true, nil
		}
	}
	return false, nil
}

func statTime(st unix.Stat_t) time.Time {
	return time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
}

// RunNodeAction executes an external command as the node's effect, but only
// when the node's single output is stale with respect to its inputs: the
// same mtime predicate touch-node uses, rather than a separate rule for
// "should this command run".
type RunNodeAction struct {
	Dir        string
	Program    string
	Args       []string
	Inputs     []string
	AlwaysMake bool
}

// NewRunNodeAction constructs the action run-node registers.
func NewRunNodeAction(dir, program string, args, inputs []string, alwaysMake bool) *RunNodeAction {
	return &RunNodeAction{
		Dir:        dir,
		Program:    program,
		Args:       append([]string(nil), args...),
		Inputs:     append([]string(nil), inputs...),
		AlwaysMake: alwaysMake,
	}
}

// WouldRun reports whether n's output is currently stale against a.Inputs,
// without launching the program.
func (a *RunNodeAction) WouldRun(n *graph.Node) (bool, error) {
	for _, out := range n.OutputPaths {
		stale, err := isStale(out, a.Inputs, a.AlwaysMake)
		if err != nil {
			return false, err
		}
		if stale {
			return true, nil
		}
	}
	return false, nil
}

func (a *RunNodeAction) Run(ctx context.Context, n *graph.Node) error {
	for _, out := range n.OutputPaths {
		stale, err := isStale(out, a.Inputs, a.AlwaysMake)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}

		// Give the program its own scratch directory (surfaced via
		// TMPDIR) instead of letting it drop intermediate files into
		// a.Dir directly, and register its removal for the end of the
		// whole run rather than cleaning up per-action: concurrent
		// run-node invocations may still be using the shared build
		// directory while this one finishes.
		scratch, err := os.MkdirTemp(a.Dir, ".mbld-run-node-*")
		if err != nil {
			return xerrors.Errorf("run-node: creating scratch directory: %w", err)
		}
		cliutil.RegisterAtExit(func() error { return os.RemoveAll(scratch) })

		cmd := exec.Command(a.Program, a.Args...)
		cmd.Dir = a.Dir
		cmd.Env = append(os.Environ(), "TMPDIR="+scratch)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return xerrors.Errorf("run-node %s %v: %w", a.Program, a.Args, err)
		}
	}
	return nil
}
