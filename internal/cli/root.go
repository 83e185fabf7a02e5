// Package cli contains the Cobra commands of the pushctl operator tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-push-service/internal/dispatcher"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Backend is what the commands operate on.
type Backend struct {
	Reconciler *reconciler.Reconciler
	Dispatcher *dispatcher.Dispatcher
	Store      push.EndpointStore
}

// BackendFunc opens a Backend for one command run and returns its closer.
type BackendFunc func(ctx context.Context) (*Backend, func() error, error)

// NewRoot constructs the pushctl root command.
func NewRoot(open BackendFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "pushctl",
		Short:         "Operate push endpoint registrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file (env overrides still apply)")

	root.AddCommand(
		newRegisterCommand(open),
		newSendCommand(open),
		newTargetsCommand(open),
	)
	return root
}

func withBackend(cmd *cobra.Command, open BackendFunc, fn func(ctx context.Context, b *Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return fn(ctx, b)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
