package main

import (
	"context"
	"os/signal"
)

// notifyContext returns a context canceled on the first shutdown signal.
// Inputs still queued in the batch then fail with context.Canceled and the
// run exits with ExitAborted.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}
