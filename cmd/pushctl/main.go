package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-push-service/internal/cli"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func main() {
	level := slog.LevelWarn
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	_ = godotenv.Load()

	var root *cobra.Command
	open := func(ctx context.Context) (*cli.Backend, func() error, error) {
		path, _ := root.PersistentFlags().GetString("config")
		var raw []byte
		if path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read config: %w", err)
			}
			raw = data
		}
		cfg, err := config.Load(raw, logger)
		if err != nil {
			return nil, nil, err
		}
		components, err := pushservice.NewComponents(ctx, cfg, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		b := &cli.Backend{
			Reconciler: components.Reconciler,
			Dispatcher: components.Dispatcher,
			Store:      components.Store,
		}
		return b, func() error { return components.Close(context.Background()) }, nil
	}

	root = cli.NewRoot(open)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
