// -- cmd/fitcheck/main.go --
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fitchecklabs/fitcheck-cli/cmd"
	"github.com/fitchecklabs/fitcheck-cli/internal/observability"
)

func main() {
	// A context that cancels on SIGINT/SIGTERM so an in-flight session
	// can detach from the page and close the browser cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
