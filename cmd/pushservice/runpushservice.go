package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/joho/godotenv"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-service")
	slog.SetDefault(logger)

	// Local development reads secrets from .env; deployed services use real env.
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	cfg, err := config.Load(configFile, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateService(); err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	components, err := pushservice.NewComponents(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Failed to build service components", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := components.Close(context.Background()); err != nil {
			logger.Error("Component shutdown failed", "err", err)
		}
	}()

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "url", cfg.IdentityServiceURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Consumers & Service ---
	loginConsumer, err := newConsumer(ctx, cfg.ProjectID, cfg.Login, psClient, logger)
	if err != nil {
		logger.Error("Login consumer failed", "err", err)
		os.Exit(1)
	}
	sendConsumer, err := newConsumer(ctx, cfg.ProjectID, cfg.Send, psClient, logger)
	if err != nil {
		logger.Error("Send consumer failed", "err", err)
		os.Exit(1)
	}

	service, err := pushservice.New(cfg, loginConsumer, sendConsumer, components, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Service shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...", "platforms", components.Registry.Names())
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newConsumer ensures the subscription exists and returns a consumer for it.
func newConsumer(ctx context.Context, projectID string, subCfg config.SubscriptionConfig, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(projectID, subCfg.SubscriptionID, "subscriptions")

	if subCfg.TopicID != "" {
		subConfig := &pubsubpb.Subscription{
			Name:               sub,
			Topic:              convertPubsub(projectID, subCfg.TopicID, "topics"),
			AckDeadlineSeconds: 10,
		}
		if subCfg.DLQTopicID != "" {
			subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
				DeadLetterTopic:     convertPubsub(projectID, subCfg.DLQTopicID, "topics"),
				MaxDeliveryAttempts: 5,
			}
		}
		logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
		_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
			} else {
				logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
				return nil, fmt.Errorf("could not create sub: %s", sub)
			}
		}
	}

	consumerCfg := subCfg.ConsumerConfig
	if consumerCfg == nil {
		consumerCfg = messagepipeline.NewGooglePubsubConsumerDefaults(sub)
	}
	return messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
