package dispatcher_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/dispatcher"
	"github.com/tinywideclouds/go-push-service/internal/provider/memory"
	"github.com/tinywideclouds/go-push-service/internal/registry"
)

func decodeWire(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestShapeMessage(t *testing.T) {
	ios := registry.NewPlatform("ios", memory.New("ios"), "APNS_SANDBOX")
	android := registry.NewPlatform("android", memory.New("android"), "")
	data := map[string]any{"conversation": "c-1"}

	t.Run("iOS - badge included when supplied", func(t *testing.T) {
		wire, err := dispatcher.ShapeMessage(ios, "hello", data, 3)
		require.NoError(t, err)
		require.Len(t, wire, 1)
		require.Contains(t, wire, "APNS_SANDBOX")

		body := decodeWire(t, wire["APNS_SANDBOX"])
		aps := body["aps"].(map[string]any)
		assert.Equal(t, "hello", aps["alert"])
		assert.Equal(t, float64(3), aps["badge"])
		assert.Equal(t, map[string]any{"conversation": "c-1"}, aps["payload"])
	})

	t.Run("iOS - no badge key without a badge", func(t *testing.T) {
		wire, err := dispatcher.ShapeMessage(ios, "hello", data, 0)
		require.NoError(t, err)

		aps := decodeWire(t, wire["APNS_SANDBOX"])["aps"].(map[string]any)
		assert.NotContains(t, aps, "badge")
	})

	t.Run("iOS - structured data and an empty payload pass through", func(t *testing.T) {
		nested := map[string]any{"chat": map[string]any{"id": "c-1", "unread": 2}}
		wire, err := dispatcher.ShapeMessage(ios, "hello", nested, 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"aps":{"alert":"hello","payload":{"chat":{"id":"c-1","unread":2}}}}`, wire["APNS_SANDBOX"])

		wire, err = dispatcher.ShapeMessage(ios, "hello", map[string]any{}, 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"aps":{"alert":"hello","payload":{}}}`, wire["APNS_SANDBOX"])

		wire, err = dispatcher.ShapeMessage(ios, "hello", nil, 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"aps":{"alert":"hello"}}`, wire["APNS_SANDBOX"])
	})

	t.Run("Android - message nested under data, never aps", func(t *testing.T) {
		wire, err := dispatcher.ShapeMessage(android, "hello", data, 7)
		require.NoError(t, err)
		require.Len(t, wire, 1)
		require.Contains(t, wire, "GCM")

		body := decodeWire(t, wire["GCM"])
		assert.NotContains(t, body, "aps")
		assert.Equal(t, map[string]any{"message": "hello"}, body["data"])
	})

	t.Run("Custom platform falls back to the GCM shape", func(t *testing.T) {
		other := registry.NewPlatform("kindle", memory.New("kindle"), "")
		wire, err := dispatcher.ShapeMessage(other, "hi", nil, 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":{"message":"hi"}}`, wire["GCM"])
	})
}
