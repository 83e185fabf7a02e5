// Package pushservice assembles the push endpoint service: the login and send
// pipelines plus the registration HTTP API.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	loginPipeline *messagepipeline.StreamingService[pipeline.LoginEvent]
	sendPipeline  *messagepipeline.StreamingService[pipeline.SendRequest]
	logger        *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	loginConsumer messagepipeline.MessageConsumer,
	sendConsumer messagepipeline.MessageConsumer,
	components *Components,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Login Pipeline
	loginPipeline, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		loginConsumer,
		pipeline.LoginEventTransformer,
		pipeline.NewLoginProcessor(components.Reconciler, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login pipeline: %w", err)
	}

	// 3. Send Pipeline
	sendPipeline, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		sendConsumer,
		pipeline.SendRequestTransformer,
		pipeline.NewSendProcessor(components.Dispatcher, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create send pipeline: %w", err)
	}

	// 4. API (Device Registration)
	registerAPI := api.NewRegisterAPI(components.Reconciler, components.Store, logger)
	RegisterRoutes(baseServer.Mux(), registerAPI, middleware.NewCorsMiddleware(cfg.CorsConfig, logger), authMiddleware)

	return &Wrapper{
		BaseServer:    baseServer,
		loginPipeline: loginPipeline,
		sendPipeline:  sendPipeline,
		logger:        logger,
	}, nil
}

// RegisterRoutes mounts the registration API on mux.
func RegisterRoutes(mux *http.ServeMux, registerAPI *api.RegisterAPI, cors, auth func(http.Handler) http.Handler) {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mux.Handle("OPTIONS /api/v1/register", cors(noop))
	mux.Handle("OPTIONS /api/v1/targets", cors(noop))

	mux.Handle("POST /api/v1/register", cors(auth(http.HandlerFunc(registerAPI.RegisterHandler))))
	mux.Handle("GET /api/v1/targets", cors(auth(http.HandlerFunc(registerAPI.ListTargetsHandler))))
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipelines starting...")
	if err := w.loginPipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start login pipeline: %w", err)
	}
	if err := w.sendPipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start send pipeline: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.loginPipeline.Stop(ctx); err != nil {
		w.logger.Error("Login pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.sendPipeline.Stop(ctx); err != nil {
		w.logger.Error("Send pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
