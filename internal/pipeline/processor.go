package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-service/internal/dispatcher"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// LoginHandler is the reconciler entry point used by the login pipeline.
type LoginHandler interface {
	OnLogin(ctx context.Context, user push.User, args *reconciler.LoginArgs) (reconciler.Result, error)
}

// Sender is the dispatcher entry point used by the send pipeline.
type Sender interface {
	Send(ctx context.Context, user push.User, message string, data map[string]any, badge int) ([]dispatcher.Delivery, error)
}

// NewLoginProcessor reconciles the device carried by each login event. It
// always acks: a failed registration is retried by the next login, and an
// unknown platform is a configuration error that redelivery cannot fix.
func NewLoginProcessor(handler LoginHandler, logger *slog.Logger) messagepipeline.StreamProcessor[LoginEvent] {
	logger = logger.With("component", "LoginProcessor")

	return func(ctx context.Context, original messagepipeline.Message, event *LoginEvent) error {
		procLogger := logger.With("user_id", event.User.ID, "pubsub_msg_id", original.ID)

		res, err := handler.OnLogin(ctx, event.User, event.Args)
		switch {
		case errors.Is(err, push.ErrUnknownPlatform):
			procLogger.Error("Login event names an unconfigured platform; dropping", "err", err)
		case err != nil:
			procLogger.Error("Login reconciliation returned an error", "err", err)
		case res.Err != nil:
			procLogger.Warn("Push registration failed; will retry on next login", "err", res.Err)
		default:
			procLogger.Debug("Login processed", "outcome", res.Outcome)
		}
		return nil
	}
}

// NewSendProcessor fans a send request out to the user's devices. A failure
// to load targets is returned for redelivery; per-device failures are not.
func NewSendProcessor(sender Sender, logger *slog.Logger) messagepipeline.StreamProcessor[SendRequest] {
	logger = logger.With("component", "SendProcessor")

	return func(ctx context.Context, original messagepipeline.Message, req *SendRequest) error {
		procLogger := logger.With("user_id", req.UserID, "pubsub_msg_id", original.ID)

		deliveries, err := sender.Send(ctx, push.User{ID: req.UserID}, req.Message, req.Data, req.Badge)
		if err != nil {
			procLogger.Error("Failed to send push message", "err", err)
			return err
		}
		if len(deliveries) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		}

		for _, d := range deliveries {
			if d.Err != nil {
				procLogger.Warn("Delivery failed", "device_id", d.Target.DeviceID, "platform", d.Target.Platform, "err", d.Err)
			}
		}
		return nil
	}
}
