// Command devinctl inspects and manages stored sessions from a shell.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"devin-backend/internal/shared/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	root := newRootCmd(storeOpener(cfg), issuesOpener(cfg))
	if err := root.ExecuteContext(ctx); err != nil {
		log.Printf("devinctl: %v", err)
		os.Exit(1)
	}
}
