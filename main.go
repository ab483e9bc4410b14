package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clickup-metrics/cli"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is fine; the environment and config.json still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(cli.NewApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
