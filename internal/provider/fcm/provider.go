// Package fcm implements push.Provider directly on Firebase Cloud Messaging.
// FCM has no server-side endpoint object: the registration token is its own
// endpoint reference.
package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, msg *messaging.Message) (string, error)
}

type Provider struct {
	client MessagingClient
	logger *slog.Logger
}

func NewProvider(client MessagingClient, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With("component", "FCMProvider"),
	}
}

// gcmBody is the GCM-keyed payload produced by the dispatcher.
type gcmBody struct {
	Data map[string]string `json:"data"`
}

func (p *Provider) CreateEndpoint(_ context.Context, deviceID string, _ string) (string, error) {
	return deviceID, nil
}

// DeleteEndpoint is a no-op: FCM tokens are revoked by the client app.
func (p *Provider) DeleteEndpoint(_ context.Context, _ string) error {
	return nil
}

// QueryEndpoint validates the token with a dry-run send.
func (p *Provider) QueryEndpoint(ctx context.Context, endpointRef string) (push.EndpointState, error) {
	_, err := p.client.SendDryRun(ctx, &messaging.Message{Token: endpointRef})
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) {
			return push.EndpointState{Enabled: false}, nil
		}
		return push.EndpointState{}, fmt.Errorf("fcm dry run failed: %w", err)
	}
	return push.EndpointState{Enabled: true}, nil
}

func (p *Provider) Publish(ctx context.Context, endpointRef string, msg push.WireMessage) (string, error) {
	raw, ok := msg[registry.AndroidPayloadKey]
	if !ok {
		return "", fmt.Errorf("fcm publish: message has no %q payload", registry.AndroidPayloadKey)
	}
	var body gcmBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return "", fmt.Errorf("fcm publish: invalid payload: %w", err)
	}

	id, err := p.client.Send(ctx, &messaging.Message{Token: endpointRef, Data: body.Data})
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			p.logger.Warn("FCM rejected token", "err", err)
			return "", fmt.Errorf("%w: %w", push.ErrEndpointDisabled, err)
		}
		return "", fmt.Errorf("fcm transport failed: %w", err)
	}
	return id, nil
}
