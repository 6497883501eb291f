// Package cliutil holds the small pieces of process lifecycle plumbing the
// command-line driver needs but the core build engine does not: signal
// handling and at-exit cleanup registration.
package cliutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the program
// is interrupted (i.e. receiving SIGINT or SIGTERM). The scheduler's
// stopFlag prevents new actions from starting once the context is done;
// already-running actions still run to completion, per the no-mid-action-
// cancellation design.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals result in immediate termination, useful in
		// case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
