package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/eric2788/webcamrec/cmd/webcamctl/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := commands.Root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
