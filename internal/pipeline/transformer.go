// Package pipeline contains the message processing stages for the login and
// send subscriptions.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// LoginEvent is published by the host application after a user logs in.
// Args is absent for clients that predate push registration.
type LoginEvent struct {
	User push.User             `json:"user"`
	Args *reconciler.LoginArgs `json:"args,omitempty"`
}

// SendRequest asks for a message to be pushed to every device of a user.
type SendRequest struct {
	UserID  string         `json:"user_id"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Badge   int            `json:"badge,omitempty"`
}

// LoginEventTransformer decodes and validates a login event. Invalid payloads
// are skipped so the subscription's dead-letter policy can take them.
func LoginEventTransformer(_ context.Context, msg *messagepipeline.Message) (*LoginEvent, bool, error) {
	var event LoginEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal login event from message %s: %w", msg.ID, err)
	}
	if event.User.ID == "" {
		return nil, true, fmt.Errorf("login event %s has no user id", msg.ID)
	}
	return &event, false, nil
}

// SendRequestTransformer decodes and validates a send request.
func SendRequestTransformer(_ context.Context, msg *messagepipeline.Message) (*SendRequest, bool, error) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid send request %s: %w", msg.ID, err)
	}
	return &req, false, nil
}

func (r *SendRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.Message == "" {
		return errors.New("message is required")
	}
	if r.Badge < 0 {
		return errors.New("badge must not be negative")
	}
	return nil
}
