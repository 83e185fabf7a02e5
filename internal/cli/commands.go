package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type registerOutput struct {
	Outcome string           `json:"outcome"`
	Target  *push.PushTarget `json:"target,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// newRegisterCommand constructs the `register` command.
func newRegisterCommand(open BackendFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Reconcile a device's push endpoint as if the user had logged in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			username, _ := cmd.Flags().GetString("username")
			platform, _ := cmd.Flags().GetString("platform")
			device, _ := cmd.Flags().GetString("device")

			return withBackend(cmd, open, func(ctx context.Context, b *Backend) error {
				res, err := b.Reconciler.Register(ctx, push.User{ID: userID, Username: username}, platform, device)
				if err != nil {
					return err
				}
				out := registerOutput{Outcome: string(res.Outcome), Target: res.Target}
				if res.Err != nil {
					out.Error = res.Err.Error()
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if res.Err != nil {
					return errors.New("registration failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "user id")
	cmd.Flags().String("username", "", "username (\"anonymous\" is never registered)")
	cmd.Flags().String("platform", "", "platform name")
	cmd.Flags().String("device", "", "device token")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

type deliveryOutput struct {
	DeviceID  string `json:"device_id"`
	Platform  string `json:"platform"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// newSendCommand constructs the `send` command.
func newSendCommand(open BackendFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Push a message to every device of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			message, _ := cmd.Flags().GetString("message")
			badge, _ := cmd.Flags().GetInt("badge")
			entries, _ := cmd.Flags().GetStringToString("data")
			if badge < 0 {
				return errors.New("--badge must not be negative")
			}

			var data map[string]any
			if len(entries) > 0 {
				data = make(map[string]any, len(entries))
				for k, v := range entries {
					data[k] = v
				}
			}

			return withBackend(cmd, open, func(ctx context.Context, b *Backend) error {
				deliveries, err := b.Dispatcher.Send(ctx, push.User{ID: userID}, message, data, badge)
				if err != nil {
					return err
				}
				out := make([]deliveryOutput, 0, len(deliveries))
				for _, d := range deliveries {
					o := deliveryOutput{DeviceID: d.Target.DeviceID, Platform: d.Target.Platform, MessageID: d.MessageID}
					if d.Err != nil {
						o.Error = d.Err.Error()
					}
					out = append(out, o)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().String("user", "", "user id")
	cmd.Flags().String("message", "", "alert text")
	cmd.Flags().Int("badge", 0, "iOS badge count (0 omits it)")
	cmd.Flags().StringToString("data", nil, "custom payload entries, e.g. --data chat=42")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// newTargetsCommand constructs the `targets` command.
func newTargetsCommand(open BackendFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List a user's push targets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			return withBackend(cmd, open, func(ctx context.Context, b *Backend) error {
				targets, err := b.Store.FindAllByUser(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), targets)
			})
		},
	}
	cmd.Flags().String("user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
