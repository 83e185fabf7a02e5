// Package apns implements push.Provider directly on the Apple Push
// Notification Service. The device token is the endpoint reference.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// Provider pushes raw APNS payloads. APNs has no endpoint query API, so
// tokens rejected as dead are remembered and reported as disabled.
type Provider struct {
	client APNSClient
	topic  string
	logger *slog.Logger

	mu   sync.Mutex
	dead map[string]struct{}
}

// NewProvider parses the P8 key immediately to fail fast on bad credentials.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	}
	return NewProviderWithClient(client, cfg.BundleID, logger), nil
}

func NewProviderWithClient(client APNSClient, topic string, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSProvider"),
		dead:   make(map[string]struct{}),
	}
}

// CreateEndpoint clears any dead mark so a fresh registration gets a retry.
func (p *Provider) CreateEndpoint(_ context.Context, deviceID string, _ string) (string, error) {
	p.mu.Lock()
	delete(p.dead, deviceID)
	p.mu.Unlock()
	return deviceID, nil
}

func (p *Provider) DeleteEndpoint(_ context.Context, endpointRef string) error {
	p.mu.Lock()
	delete(p.dead, endpointRef)
	p.mu.Unlock()
	return nil
}

func (p *Provider) QueryEndpoint(_ context.Context, endpointRef string) (push.EndpointState, error) {
	p.mu.Lock()
	_, isDead := p.dead[endpointRef]
	p.mu.Unlock()
	return push.EndpointState{Enabled: !isDead}, nil
}

// Publish sends the single payload carried by msg as the raw APNs body.
func (p *Provider) Publish(ctx context.Context, endpointRef string, msg push.WireMessage) (string, error) {
	if len(msg) != 1 {
		return "", fmt.Errorf("apns publish: expected one payload, got %d", len(msg))
	}
	var body string
	for _, v := range msg {
		body = v
	}

	notification := &apns2.Notification{
		ApnsID:      uuid.NewString(),
		DeviceToken: endpointRef,
		Topic:       p.topic,
		Payload:     []byte(body),
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return "", fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		return res.ApnsID, nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		p.mu.Lock()
		p.dead[endpointRef] = struct{}{}
		p.mu.Unlock()
		return "", fmt.Errorf("%w: apns reason %s", push.ErrEndpointDisabled, res.Reason)
	default:
		p.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return "", fmt.Errorf("apns rejected notification: %s (status %d)", res.Reason, res.StatusCode)
	}
}
