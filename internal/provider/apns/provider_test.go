package apns_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/provider/apns"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestAPNSProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	wire := push.WireMessage{"APNS": `{"aps":{"alert":"hi"}}`}

	t.Run("Happy Path - raw payload pushed to topic", func(t *testing.T) {
		client := new(MockAPNSClient)
		p := apns.NewProviderWithClient(client, "com.test.app", logger)

		client.On("PushWithContext", mock.Anything, mock.MatchedBy(func(n *apns2.Notification) bool {
			raw, ok := n.Payload.([]byte)
			return ok && string(raw) == `{"aps":{"alert":"hi"}}` &&
				n.DeviceToken == "token-1" && n.Topic == "com.test.app" && n.ApnsID != ""
		})).Return(&apns2.Response{StatusCode: http.StatusOK, ApnsID: "apns-1"}, nil)

		id, err := p.Publish(ctx, "token-1", wire)
		require.NoError(t, err)
		assert.Equal(t, "apns-1", id)
		client.AssertExpectations(t)
	})

	t.Run("Dead token - marks endpoint disabled until re-created", func(t *testing.T) {
		client := new(MockAPNSClient)
		p := apns.NewProviderWithClient(client, "com.test.app", logger)

		client.On("PushWithContext", mock.Anything, mock.Anything).
			Return(&apns2.Response{StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered}, nil)

		_, err := p.Publish(ctx, "token-dead", wire)
		assert.ErrorIs(t, err, push.ErrEndpointDisabled)

		state, err := p.QueryEndpoint(ctx, "token-dead")
		require.NoError(t, err)
		assert.False(t, state.Enabled)

		_, err = p.CreateEndpoint(ctx, "token-dead", "{}")
		require.NoError(t, err)
		state, _ = p.QueryEndpoint(ctx, "token-dead")
		assert.True(t, state.Enabled)
	})

	t.Run("Rejection - config error leaves token enabled", func(t *testing.T) {
		client := new(MockAPNSClient)
		p := apns.NewProviderWithClient(client, "com.test.app", logger)

		client.On("PushWithContext", mock.Anything, mock.Anything).
			Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonTopicDisallowed}, nil)

		_, err := p.Publish(ctx, "token-1", wire)
		require.Error(t, err)
		assert.NotErrorIs(t, err, push.ErrEndpointDisabled)

		state, _ := p.QueryEndpoint(ctx, "token-1")
		assert.True(t, state.Enabled)
	})

	t.Run("Transport failure", func(t *testing.T) {
		client := new(MockAPNSClient)
		p := apns.NewProviderWithClient(client, "com.test.app", logger)
		client.On("PushWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("conn reset"))

		_, err := p.Publish(ctx, "token-1", wire)
		assert.ErrorContains(t, err, "conn reset")
	})

	t.Run("Invalid config - bad P8 key", func(t *testing.T) {
		_, err := apns.NewProvider(apns.Config{P8KeyContent: "not a key"}, logger)
		assert.Error(t, err)
	})
}
