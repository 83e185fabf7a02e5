package pushservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/provider/memory"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{
		Platforms: []config.PlatformConfig{
			{Name: "ios", Provider: config.ProviderMemory},
			{Name: "android", Provider: config.ProviderMemory},
		},
	}, newTestLogger())
	require.NoError(t, err)
	return cfg
}

func newComponents(t *testing.T) *pushservice.Components {
	t.Helper()
	ctx := context.Background()
	c, err := pushservice.NewComponents(ctx, newLocalConfig(t), nil, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })
	return c
}

func memoryProvider(t *testing.T, c *pushservice.Components, name string) *memory.Provider {
	t.Helper()
	p, err := c.Registry.Lookup(name)
	require.NoError(t, err)
	mp, ok := p.Provider.(*memory.Provider)
	require.True(t, ok)
	return mp
}

func TestComponents_DeviceHandOverScenario(t *testing.T) {
	ctx := context.Background()
	c := newComponents(t)
	ios := memoryProvider(t, c, "ios")
	u1 := push.User{ID: "U1"}
	u2 := push.User{ID: "U2"}

	// U1 logs in on D1 with no prior record.
	res, err := c.Reconciler.OnLogin(ctx, u1, &reconciler.LoginArgs{Platform: "ios", DeviceID: "D1"})
	require.NoError(t, err)
	require.Equal(t, reconciler.OutcomeCreated, res.Outcome)
	target, err := c.Store.FindByDevice(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "ios", target.Platform)
	assert.Equal(t, 1, ios.Calls().Create)

	// U1 logs in again; the endpoint is enabled so nothing changes.
	res, err = c.Reconciler.OnLogin(ctx, u1, &reconciler.LoginArgs{Platform: "ios", DeviceID: "D1"})
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 1, ios.Calls().Create)

	// D1 is handed to U2.
	res, err = c.Reconciler.OnLogin(ctx, u2, &reconciler.LoginArgs{Platform: "ios", DeviceID: "D1"})
	require.NoError(t, err)
	require.Equal(t, reconciler.OutcomeReplaced, res.Outcome)
	assert.Equal(t, 1, ios.Live())

	u1Targets, err := c.Store.FindAllByUser(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, u1Targets)
	u2Targets, err := c.Store.FindAllByUser(ctx, "U2")
	require.NoError(t, err)
	require.Len(t, u2Targets, 1)

	// A send to U2 with a badge reaches D1 with the badge in the aps envelope.
	deliveries, err := c.Dispatcher.Send(ctx, u2, "hello", nil, 3)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.NoError(t, deliveries[0].Err)

	published := ios.Published()
	require.Len(t, published, 1)
	assert.Equal(t, u2Targets[0].EndpointRef, published[0].EndpointRef)
	assert.Contains(t, published[0].Message["APNS"], `"badge":3`)

	// U1 no longer receives anything.
	deliveries, err = c.Dispatcher.Send(ctx, u1, "hello", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestRegisterRoutes(t *testing.T) {
	c := newComponents(t)
	registerAPI := api.NewRegisterAPI(c.Reconciler, c.Store, newTestLogger())
	registerAPI.Identity = func(context.Context) (string, bool) { return "urn:sm:user:route-user", true }

	passThrough := func(h http.Handler) http.Handler { return h }
	mux := http.NewServeMux()
	pushservice.RegisterRoutes(mux, registerAPI, passThrough, passThrough)

	body, err := json.Marshal(api.RegisterRequest{Platform: "android", DeviceID: "token-1"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/register", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var targets []push.PushTarget
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "urn:sm:user:route-user", targets[0].UserID)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/register", bytes.NewBufferString(`{"platform":"windows","device_id":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
