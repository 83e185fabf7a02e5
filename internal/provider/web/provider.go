// Package web implements push.Provider on the W3C Web Push protocol. The
// device ID is the browser's serialized PushSubscription and doubles as the
// endpoint reference.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// VapidConfig holds the application server keys.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int
}

type Provider struct {
	cfg        VapidConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	dead map[string]struct{}
}

func NewProvider(cfg VapidConfig, httpClient *http.Client, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("component", "WebPushProvider"),
		dead:       make(map[string]struct{}),
	}
}

func parseSubscription(ref string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(ref), &sub); err != nil {
		return nil, fmt.Errorf("invalid web push subscription: %w", err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, fmt.Errorf("invalid web push subscription: missing endpoint or keys")
	}
	return &sub, nil
}

// CreateEndpoint validates the subscription; there is nothing to create remotely.
func (p *Provider) CreateEndpoint(_ context.Context, deviceID string, _ string) (string, error) {
	if _, err := parseSubscription(deviceID); err != nil {
		return "", err
	}
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

// Publish sends the GCM-keyed body unchanged as the encrypted push payload.
func (p *Provider) Publish(ctx context.Context, endpointRef string, msg push.WireMessage) (string, error) {
	body, ok := msg[registry.AndroidPayloadKey]
	if !ok {
		return "", fmt.Errorf("web push publish: message has no %q payload", registry.AndroidPayloadKey)
	}
	sub, err := parseSubscription(endpointRef)
	if err != nil {
		return "", err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, []byte(body), sub, &webpush.Options{
		Subscriber:      p.cfg.SubscriberEmail,
		VAPIDPublicKey:  p.cfg.PublicKey,
		VAPIDPrivateKey: p.cfg.PrivateKey,
		TTL:             p.cfg.TTL,
		HTTPClient:      p.httpClient,
	})
	if err != nil {
		return "", fmt.Errorf("web push transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc, nil
		}
		return uuid.NewString(), nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		p.mu.Lock()
		p.dead[endpointRef] = struct{}{}
		p.mu.Unlock()
		return "", fmt.Errorf("%w: push service returned %d", push.ErrEndpointDisabled, resp.StatusCode)
	default:
		p.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return "", fmt.Errorf("web push rejected with status %d", resp.StatusCode)
	}
}
