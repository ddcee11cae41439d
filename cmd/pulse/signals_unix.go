//go:build !windows

package main

import (
	"os"
	"syscall"
)

// visibilitySignals report that the process resumed after being stopped.
var visibilitySignals = []os.Signal{syscall.SIGCONT}
