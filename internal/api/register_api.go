// Package api exposes push registration over HTTP for authenticated clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Registrar is the reconciler entry point used by the API.
type Registrar interface {
	Register(ctx context.Context, user push.User, platformName, deviceID string) (reconciler.Result, error)
}

// TargetLister lists a user's push targets.
type TargetLister interface {
	FindAllByUser(ctx context.Context, userID string) ([]push.PushTarget, error)
}

// IdentityFunc extracts the authenticated user handle from a request context.
type IdentityFunc func(ctx context.Context) (string, bool)

type RegisterAPI struct {
	Registrar Registrar
	Targets   TargetLister
	Identity  IdentityFunc
	Logger    *slog.Logger
}

func NewRegisterAPI(registrar Registrar, targets TargetLister, logger *slog.Logger) *RegisterAPI {
	return &RegisterAPI{
		Registrar: registrar,
		Targets:   targets,
		Identity:  middleware.GetUserHandleFromContext,
		Logger:    logger.With("component", "RegisterAPI"),
	}
}

type RegisterRequest struct {
	Platform string `json:"platform"`
	DeviceID string `json:"device_id"`
}

type RegisterResponse struct {
	Outcome reconciler.Outcome `json:"outcome"`
	Target  *push.PushTarget   `json:"target,omitempty"`
}

// RegisterHandler reconciles the caller's device. A failed registration is
// reported with 202 so clients treat it like the login path: non-fatal.
func (api *RegisterAPI) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.userID(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Platform == "" || req.DeviceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "platform and device_id are required")
		return
	}

	res, err := api.Registrar.Register(ctx, push.User{ID: userID}, req.Platform, req.DeviceID)
	if err != nil {
		if errors.Is(err, push.ErrUnknownPlatform) {
			response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
			return
		}
		api.Logger.Error("Register failed", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	status := http.StatusOK
	if res.Outcome == reconciler.OutcomeCreated || res.Outcome == reconciler.OutcomeReplaced {
		status = http.StatusCreated
	}
	if res.Err != nil {
		api.Logger.Warn("Register: registration failed", "user", userID, "platform", req.Platform, "err", res.Err)
		status = http.StatusAccepted
	}
	writeJSON(w, status, RegisterResponse{Outcome: res.Outcome, Target: res.Target})
}

// ListTargetsHandler returns the caller's registered devices.
func (api *RegisterAPI) ListTargetsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.userID(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	targets, err := api.Targets.FindAllByUser(ctx, userID)
	if err != nil {
		api.Logger.Error("ListTargets: store failed", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// userID returns the caller's handle normalized as a URN. Single-part legacy
// ids are upgraded to urn:sm:user:<id> by the parser.
func (api *RegisterAPI) userID(ctx context.Context) (string, bool) {
	handle, ok := api.Identity(ctx)
	if !ok || handle == "" {
		return "", false
	}
	userURN, err := urn.Parse(handle)
	if err != nil {
		api.Logger.Warn("Rejected malformed user handle", "handle", handle, "err", err)
		return "", false
	}
	return userURN.String(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
