package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/datamap/datamap-cli/cmd/root"
	"github.com/datamap/datamap-cli/pkg/logging"
)

func main() {
	logging.SetupLogger()

	// An interrupt cancels the batch context; in-flight transfers flush
	// their partial files and report Paused rather than Failed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCMD := root.GetCommand()
	if err := rootCMD.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
