// File: main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wyatt727/BSTI/cmd"
	"github.com/wyatt727/BSTI/internal/observability"
)

func main() {
	// Interrupt signals cancel the context; in-flight uploads finish or fail
	// cleanly before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
