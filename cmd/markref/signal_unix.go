//go:build !windows

package main

import (
	"os"
	"syscall"
)

// SIGHUP is included so a batch started from a closed terminal stops.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
