package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clickup-metrics/cli"
	"clickup-metrics/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := config.DefaultFile
	cmd := cli.NewServeCmd(cli.NewApp(), &configPath)
	cmd.Use = "clickup-metrics-web"
	cmd.Flags().StringVar(&configPath, "config", config.DefaultFile, "configuration file")

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to start server: %v\n", err)
		os.Exit(1)
	}
}
