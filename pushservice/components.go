package pushservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	firebase "firebase.google.com/go/v4"

	"github.com/tinywideclouds/go-push-service/internal/dispatcher"
	"github.com/tinywideclouds/go-push-service/internal/events"
	"github.com/tinywideclouds/go-push-service/internal/provider/apns"
	"github.com/tinywideclouds/go-push-service/internal/provider/fcm"
	"github.com/tinywideclouds/go-push-service/internal/provider/memory"
	"github.com/tinywideclouds/go-push-service/internal/provider/sns"
	"github.com/tinywideclouds/go-push-service/internal/provider/web"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-service/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-service/internal/storage/sqlite"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

// Components holds the domain objects shared by the service and the CLI.
type Components struct {
	Store      push.EndpointStore
	Registry   *registry.Registry
	Events     push.EventSink
	Reconciler *reconciler.Reconciler
	Dispatcher *dispatcher.Dispatcher

	closers []func(ctx context.Context) error
}

// NewComponents builds the store, platforms and event sink from cfg. psClient
// may be nil, in which case events are only logged.
func NewComponents(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (*Components, error) {
	c := &Components{}

	store, err := c.newStore(ctx, cfg, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Store = store

	reg, err := BuildRegistry(ctx, cfg, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Registry = reg

	c.Events = c.newEventSink(cfg, psClient, logger)
	c.Reconciler = reconciler.New(c.Store, c.Registry, c.Events, cfg.ProviderTimeout, logger)
	c.Dispatcher = dispatcher.New(c.Store, c.Registry, c.Events, cfg.ProviderTimeout, logger)
	return c, nil
}

// Close releases resources in reverse order of creation.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Components) onClose(fn func(ctx context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Components) newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.EndpointStore, error) {
	var store push.EndpointStore

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { return s.Close() })
		store = s
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { s.Close(); return nil })
		store = s
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client failed: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })
		store = fsStore.NewStore(client, cfg.Store.Collection)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	logger.Info("EndpointStore initialized", "type", cfg.Store.Driver)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.onClose(func(context.Context) error { return redisClient.Close() })
		store = cache.NewCachedStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("EndpointStore upgraded", "type", "redis_cached_"+cfg.Store.Driver)
	}
	return store, nil
}

func (c *Components) newEventSink(cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) push.EventSink {
	sinks := events.Tee{events.NewLogSink(logger)}
	if cfg.EventsTopicID == "" || psClient == nil {
		return sinks
	}

	publisher := events.NewGooglePublisher(psClient, cfg.EventsTopicID)
	sink := events.NewPubsubSink(publisher, 0, cfg.ProviderTimeout, logger)
	c.onClose(func(ctx context.Context) error {
		err := sink.Close(ctx)
		publisher.Stop()
		return err
	})
	logger.Info("Publishing push events", "topic", cfg.EventsTopicID)
	return append(sinks, sink)
}

// BuildRegistry creates one platform per configured entry. Provider clients
// are created once and shared between platforms.
func BuildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	var (
		snsClient    sns.API
		fcmClient    fcm.MessagingClient
		apnsProvider *apns.Provider
		webProvider  *web.Provider
	)

	platforms := make([]*registry.Platform, 0, len(cfg.Platforms))
	for _, pc := range cfg.Platforms {
		var provider push.Provider

		switch pc.Provider {
		case config.ProviderSNS:
			if snsClient == nil {
				client, err := sns.NewClient(ctx, sns.ClientConfig{
					Region:          cfg.AWS.Region,
					AccessKeyID:     cfg.AWS.AccessKeyID,
					SecretAccessKey: cfg.AWS.SecretAccessKey,
					Endpoint:        cfg.AWS.Endpoint,
				})
				if err != nil {
					return nil, err
				}
				snsClient = client
			}
			provider = sns.NewProvider(snsClient, pc.ApplicationARN, logger)
		case config.ProviderFCM:
			if fcmClient == nil {
				app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
				if err != nil {
					return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
				}
				client, err := app.Messaging(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
				}
				fcmClient = client
			}
			provider = fcm.NewProvider(fcmClient, logger)
		case config.ProviderAPNS:
			if apnsProvider == nil {
				p, err := apns.NewProvider(apns.Config{
					KeyID:        cfg.APNS.KeyID,
					TeamID:       cfg.APNS.TeamID,
					BundleID:     cfg.APNS.BundleID,
					P8KeyContent: cfg.APNS.P8KeyContent,
					Sandbox:      cfg.APNS.Sandbox,
				}, logger)
				if err != nil {
					return nil, err
				}
				apnsProvider = p
			}
			provider = apnsProvider
		case config.ProviderWebPush:
			if webProvider == nil {
				webProvider = web.NewProvider(web.VapidConfig{
					PublicKey:       cfg.Vapid.PublicKey,
					PrivateKey:      cfg.Vapid.PrivateKey,
					SubscriberEmail: cfg.Vapid.SubscriberEmail,
				}, nil, logger)
			}
			provider = webProvider
		case config.ProviderMemory:
			logger.Warn("Using in-memory push provider; nothing will be delivered", "platform", pc.Name)
			provider = memory.New(pc.Name)
		default:
			return nil, fmt.Errorf("platform %q: unknown provider %q", pc.Name, pc.Provider)
		}

		platforms = append(platforms, registry.NewPlatformOfKind(pc.Name, registry.Kind(pc.Kind), provider, cfg.IOSPayloadKey))
		logger.Info("Push platform configured", "platform", pc.Name, "kind", pc.Kind, "provider", pc.Provider)
	}

	return registry.New(platforms...)
}
