// Package reconciler aligns a device's stored push target with its latest
// login and with the remote state of its endpoint.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// DefaultProviderTimeout bounds each provider call when no timeout is configured.
const DefaultProviderTimeout = 10 * time.Second

// Outcome describes what a registration did.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeFailed    Outcome = "failed"
)

// Result is the resolved outcome of a registration. Err is set when Outcome is
// OutcomeFailed.
type Result struct {
	Outcome Outcome
	Target  *push.PushTarget
	Err     error
}

// LoginArgs are the optional push fields of a login event.
type LoginArgs struct {
	Platform string `json:"platform"`
	DeviceID string `json:"device_id"`
}

// PlatformLookup resolves a platform by name.
type PlatformLookup interface {
	Lookup(name string) (*registry.Platform, error)
}

// Reconciler creates, keeps or replaces a device's endpoint on login.
type Reconciler struct {
	store     push.EndpointStore
	platforms PlatformLookup
	events    push.EventSink
	timeout   time.Duration
	locks     *deviceLocks
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Reconciler. A nil sink discards events and a non-positive
// timeout falls back to DefaultProviderTimeout.
func New(
	store push.EndpointStore,
	platforms PlatformLookup,
	events push.EventSink,
	providerTimeout time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if events == nil {
		events = push.NopSink{}
	}
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	return &Reconciler{
		store:     store,
		platforms: platforms,
		events:    events,
		timeout:   providerTimeout,
		locks:     newDeviceLocks(),
		now:       time.Now,
		logger:    logger.With("component", "Reconciler"),
	}
}

// OnLogin handles a host login event. Events without push arguments come from
// older clients and are accepted as a no-op.
func (r *Reconciler) OnLogin(ctx context.Context, user push.User, args *LoginArgs) (Result, error) {
	if args == nil {
		r.logger.Warn("Login event carried no arguments; client may predate push registration", "user_id", user.ID)
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if args.Platform == "" || args.DeviceID == "" {
		r.logger.Debug("Login event has no push device", "user_id", user.ID)
		return Result{Outcome: OutcomeSkipped}, nil
	}
	return r.Register(ctx, user, args.Platform, args.DeviceID)
}

// Register reconciles the push target of deviceID for user.
//
// The returned error is non-nil only for configuration errors (unknown
// platform). Store and provider failures are logged and reported through
// Result.Err so that a broken push channel never fails the login path.
func (r *Reconciler) Register(ctx context.Context, user push.User, platformName, deviceID string) (Result, error) {
	if user.IsAnonymous() {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	platform, err := r.platforms.Lookup(platformName)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}, err
	}

	unlock := r.locks.Lock(deviceID)
	defer unlock()

	log := r.logger.With("user_id", user.ID, "device_id", deviceID, "platform", platform.Name)
	res, err := r.reconcile(ctx, log, user, platform, deviceID)
	if err != nil {
		log.Error("Push registration failed", "err", err)
		return Result{Outcome: OutcomeFailed, Err: err}, nil
	}
	log.Debug("Push registration reconciled", "outcome", res.Outcome)
	return res, nil
}

func (r *Reconciler) reconcile(
	ctx context.Context,
	log *slog.Logger,
	user push.User,
	platform *registry.Platform,
	deviceID string,
) (Result, error) {
	existing, err := r.store.FindByDevice(ctx, deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up device: %w", err)
	}

	if existing == nil {
		target, err := r.create(ctx, user, platform, deviceID)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCreated, Target: target}, nil
	}

	// The stored row keeps the platform its endpoint was created on.
	owner := r.platformFor(existing, platform)

	if existing.UserID == user.ID {
		// A failed query, including "not found", leaves the enabled state unknown.
		state, err := r.queryEndpoint(ctx, owner, existing.EndpointRef)
		if err != nil {
			return Result{}, err
		}
		if state.Enabled {
			return Result{Outcome: OutcomeUnchanged, Target: existing}, nil
		}
		log.Info("Stored endpoint disabled by provider; replacing", "endpoint", existing.EndpointRef)
	} else {
		log.Info("Device changed owner; replacing endpoint", "previous_user_id", existing.UserID)
	}

	target, err := r.replace(ctx, log, user, owner, platform, existing)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeReplaced, Target: target}, nil
}

// replace tears down the existing endpoint and row, then creates fresh ones.
// Steps run strictly in order and the first failure aborts the rest.
func (r *Reconciler) replace(
	ctx context.Context,
	log *slog.Logger,
	user push.User,
	owner, platform *registry.Platform,
	existing *push.PushTarget,
) (*push.PushTarget, error) {
	if err := r.deleteEndpoint(ctx, owner, existing.EndpointRef); err != nil {
		if !errors.Is(err, push.ErrEndpointNotFound) {
			return nil, err
		}
		log.Debug("Remote endpoint already gone", "endpoint", existing.EndpointRef)
	}

	if err := r.store.DeleteByDevice(ctx, existing.DeviceID); err != nil {
		return nil, fmt.Errorf("failed to delete stored target: %w", err)
	}
	r.emit(ctx, push.Event{Name: push.EventUserDeleted, Platform: owner.Name, EndpointRef: existing.EndpointRef})

	return r.create(ctx, user, platform, existing.DeviceID)
}

// create registers a remote endpoint and only then stores the row, so the
// store never references an endpoint that was not confirmed.
func (r *Reconciler) create(ctx context.Context, user push.User, platform *registry.Platform, deviceID string) (*push.PushTarget, error) {
	userData, err := json.Marshal(map[string]string{"userId": user.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode endpoint user data: %w", err)
	}

	endpointRef, err := r.createEndpoint(ctx, platform, deviceID, string(userData))
	if err != nil {
		r.emit(ctx, push.Event{Name: push.EventAddUserFailed, Platform: platform.Name, Error: err.Error()})
		return nil, err
	}

	target := push.PushTarget{
		UserID:      user.ID,
		DeviceID:    deviceID,
		EndpointRef: endpointRef,
		Platform:    platform.Name,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.store.Insert(ctx, target); err != nil {
		// The write may have landed before the error was raised.
		if stored, findErr := r.store.FindByDevice(ctx, deviceID); findErr == nil && stored != nil && stored.EndpointRef == endpointRef {
			r.logger.Warn("Store reported an insert error but the target was persisted", "device_id", deviceID, "err", err)
			r.emit(ctx, push.Event{Name: push.EventUserAdded, Platform: platform.Name, EndpointRef: endpointRef})
			return stored, nil
		}
		// Best effort: the endpoint is unreferenced now.
		if delErr := r.deleteEndpoint(ctx, platform, endpointRef); delErr != nil {
			r.logger.Warn("Failed to remove unreferenced endpoint", "endpoint", endpointRef, "err", delErr)
		}
		return nil, fmt.Errorf("failed to store target: %w", err)
	}

	r.emit(ctx, push.Event{Name: push.EventUserAdded, Platform: platform.Name, EndpointRef: endpointRef})
	return &target, nil
}

func (r *Reconciler) platformFor(existing *push.PushTarget, current *registry.Platform) *registry.Platform {
	if existing.Platform == current.Name {
		return current
	}
	p, err := r.platforms.Lookup(existing.Platform)
	if err != nil {
		r.logger.Warn("Stored target references an unconfigured platform", "platform", existing.Platform, "device_id", existing.DeviceID)
		return current
	}
	return p
}

func (r *Reconciler) createEndpoint(ctx context.Context, platform *registry.Platform, deviceID, userData string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ref, err := platform.Provider.CreateEndpoint(ctx, deviceID, userData)
	if err != nil {
		return "", fmt.Errorf("failed to create endpoint: %w", err)
	}
	return ref, nil
}

func (r *Reconciler) deleteEndpoint(ctx context.Context, platform *registry.Platform, endpointRef string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := platform.Provider.DeleteEndpoint(ctx, endpointRef); err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return nil
}

func (r *Reconciler) queryEndpoint(ctx context.Context, platform *registry.Platform, endpointRef string) (push.EndpointState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	state, err := platform.Provider.QueryEndpoint(ctx, endpointRef)
	if err != nil {
		return push.EndpointState{}, fmt.Errorf("failed to query endpoint: %w", err)
	}
	return state, nil
}

func (r *Reconciler) emit(ctx context.Context, event push.Event) {
	event.At = r.now().UTC()
	r.events.Emit(ctx, event)
}
