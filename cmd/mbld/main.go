// Command mbld runs the build orchestrator: read a script, build the node
// graph it describes, and execute (or, with -n, merely report) it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mbld/mbld"
	"github.com/mbld/mbld/graph"
	"github.com/mbld/mbld/internal/cliutil"
)

var (
	jobs       = flag.Int("j", runtime.NumCPU(), "number of build actions to run in parallel")
	printOnly  = flag.Bool("n", false, "don't run any action; print the activated build graph")
	keepGoing  = flag.Bool("k", false, "keep building unrelated goals after a failure")
	alwaysMake = flag.Bool("B", false, "unconditionally treat every activated node as stale")
	dependants = flag.Bool("dependants", false, "also activate every transitive dependant of each goal")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mbld [-flags] <script> [goal ...]\n")
	flag.PrintDefaults()
}

func funcmain() error {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	scriptPath, goals := args[0], args[1:]

	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", scriptPath, err)
	}
	text, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading %s: %w", scriptPath, err)
	}

	depMode := graph.None
	if *dependants {
		depMode = graph.AllDependants
	}
	execMode := mbld.Execute
	if *printOnly {
		execMode = mbld.PrintOnly
	}

	cfg := mbld.Config{
		InitialScriptText: string(text),
		ScriptFile:        abs,
		Goals:             goals,
		ExecutionMode:     execMode,
		DependencyMode:    depMode,
		AlwaysMake:        *alwaysMake,
		KeepGoing:         *keepGoing,
		NumThreads:        *jobs,
		Log:               log.New(os.Stderr, "", 0),
	}

	ctx, canc := cliutil.InterruptibleContext()
	defer canc()

	c := mbld.New(cfg)
	res, err := c.Run(ctx)
	if err != nil {
		return err
	}
	if *printOnly {
		fmt.Fprintf(os.Stderr, "would run %d node(s)\n", res.WouldRun)
	} else {
		fmt.Fprintf(os.Stderr, "ran %d, skipped %d\n", res.Ran, res.Skipped)
	}

	return cliutil.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
