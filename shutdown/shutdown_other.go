//go:build !windows

// Package shutdown registers the per-platform termination signals that end
// a check-in cleanly.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
