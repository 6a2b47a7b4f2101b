package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"quotesync/internal/commands"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := commands.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
