package script

import (
	"context"
	"fmt"
	"io"
	"log"

	"golang.org/x/sync/errgroup"
)

// EvalSiblingsConcurrently forks one child ParserContext per region via
// Split() and evaluates each region's text as an independent top-level
// argument stream on its own goroutine, gathering the results in input
// order. It exercises ParserContext.split() as the one concurrency hook
// inside the interpreter, enabling a parallel script-region evaluator
// without requiring any single-threading change to ordinary function-body
// or include evaluation, since no builtin calls this helper itself.
//
// The first region to fail determines the returned error; errgroup.Wait
// collects every goroutine before returning, so a mid-run failure in one
// region never leaves the others' result slots half-written.
func EvalSiblingsConcurrently(ctx context.Context, parent *ParserContext, regions []string, w io.Writer, sink NodeSink) ([][]string, error) {
	results := make([][]string, len(regions))
	builtins := registerBuiltins()
	shared := log.New(w, "", 0) // *log.Logger serializes writes internally

	g, _ := errgroup.WithContext(ctx)
	for i, region := range regions {
		i, region := i, region
		child := parent.Split()
		g.Go(func() error {
			ev := &Evaluator{
				builtins: builtins,
				log:      shared,
				nodes:    sink,
				cur:      NewCursor(fmt.Sprintf("<region %d>", i), []byte(region)),
			}
			args, _, err := ev.parseArguments(child, false, 0, nil)
			if err != nil {
				return err
			}
			results[i] = args
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
