// Package dispatcher fans a notification out to every endpoint of a user.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// DefaultProviderTimeout bounds each publish when no timeout is configured.
const DefaultProviderTimeout = 10 * time.Second

// PlatformLookup resolves a platform by name.
type PlatformLookup interface {
	Lookup(name string) (*registry.Platform, error)
}

// Delivery is the outcome of publishing to a single target.
type Delivery struct {
	Target    push.PushTarget
	MessageID string
	Err       error
}

// Dispatcher publishes notifications to all of a user's push targets.
type Dispatcher struct {
	store     push.EndpointStore
	platforms PlatformLookup
	events    push.EventSink
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Dispatcher. A nil sink discards events and a non-positive
// timeout falls back to DefaultProviderTimeout.
func New(
	store push.EndpointStore,
	platforms PlatformLookup,
	events push.EventSink,
	providerTimeout time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	if events == nil {
		events = push.NopSink{}
	}
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	return &Dispatcher{
		store:     store,
		platforms: platforms,
		events:    events,
		timeout:   providerTimeout,
		logger:    logger.With("component", "Dispatcher"),
	}
}

// Send publishes message to every target of user concurrently and returns one
// Delivery per target. Only a failure to load the targets is returned as an
// error; publish failures are reported on their Delivery.
func (d *Dispatcher) Send(ctx context.Context, user push.User, message string, data map[string]any, badge int) ([]Delivery, error) {
	targets, err := d.store.FindAllByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load push targets: %w", err)
	}
	if len(targets) == 0 {
		d.logger.Debug("No push targets for user", "user_id", user.ID)
		return []Delivery{}, nil
	}

	deliveries := make([]Delivery, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliveries[i] = d.sendToTarget(ctx, target, message, data, badge)
		}()
	}
	wg.Wait()

	failed := 0
	for _, del := range deliveries {
		if del.Err != nil {
			failed++
		}
	}
	d.logger.Info("Push fan-out complete", "user_id", user.ID, "targets", len(targets), "failed", failed)
	return deliveries, nil
}

func (d *Dispatcher) sendToTarget(ctx context.Context, target push.PushTarget, message string, data map[string]any, badge int) (del Delivery) {
	del.Target = target
	defer func() {
		if r := recover(); r != nil {
			del.Err = fmt.Errorf("publish to %s panicked: %v", target.EndpointRef, r)
			d.logger.Error("Recovered from publish panic", "endpoint", target.EndpointRef, "panic", r)
		}
	}()

	platform, err := d.platforms.Lookup(target.Platform)
	if err != nil {
		d.logger.Error("Stored target has no platform", "device_id", target.DeviceID, "err", err)
		del.Err = err
		return del
	}

	wire, err := ShapeMessage(platform, message, data, badge)
	if err != nil {
		del.Err = err
		return del
	}

	del.MessageID, del.Err = d.publish(ctx, platform, target.EndpointRef, wire)
	return del
}

// publish sends one wire message and reports the result to the event sink.
// Failures are returned, never retried.
func (d *Dispatcher) publish(ctx context.Context, platform *registry.Platform, endpointRef string, wire push.WireMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	messageID, err := platform.Provider.Publish(callCtx, endpointRef, wire)
	if err != nil {
		d.logger.Warn("Push publish failed", "platform", platform.Name, "endpoint", endpointRef, "err", err)
		d.events.Emit(ctx, push.Event{
			Name:        push.EventSendFailed,
			Platform:    platform.Name,
			EndpointRef: endpointRef,
			Error:       err.Error(),
			At:          time.Now().UTC(),
		})
		return "", fmt.Errorf("failed to publish to %s: %w", endpointRef, err)
	}

	d.logger.Debug("Message pushed to endpoint", "platform", platform.Name, "endpoint", endpointRef, "message_id", messageID)
	d.events.Emit(ctx, push.Event{
		Name:        push.EventMessageSent,
		Platform:    platform.Name,
		EndpointRef: endpointRef,
		MessageID:   messageID,
		At:          time.Now().UTC(),
	})
	return messageID, nil
}
