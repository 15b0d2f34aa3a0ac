//go:build windows

package doctor

import (
	"os"
	"os/signal"
)

func resetTerminal() {
	// The Windows console does not need a raw-mode reset.
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		println("\ninterrupted")
		os.Exit(1)
	}()
}
