package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
)

func newMessage(id, payload string) *messagepipeline.Message {
	return &messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(payload)},
	}
}

func TestLoginEventTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
		expectArgs            bool
	}{
		{
			name:       "Happy Path - With Args",
			payload:    `{"user":{"id":"u1","username":"ann"},"args":{"platform":"ios","device_id":"D1"}}`,
			expectArgs: true,
		},
		{
			name:    "Happy Path - Legacy Client Without Args",
			payload: `{"user":{"id":"u1"}}`,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal login event",
		},
		{
			name:                  "Failure - Missing User",
			payload:               `{"args":{"platform":"ios","device_id":"D1"}}`,
			expectError:           true,
			expectedErrorContains: "no user id",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event, skip, err := pipeline.LoginEventTransformer(ctx, newMessage("msg-1", tc.payload))

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "u1", event.User.ID)
			if tc.expectArgs {
				require.NotNil(t, event.Args)
				assert.Equal(t, "D1", event.Args.DeviceID)
			} else {
				assert.Nil(t, event.Args)
			}
		})
	}
}

func TestSendRequestTransformer(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path", func(t *testing.T) {
		req, skip, err := pipeline.SendRequestTransformer(ctx, newMessage("m", `{"user_id":"u1","message":"hi","data":{"k":"v"},"badge":3}`))
		require.NoError(t, err)
		assert.False(t, skip)
		assert.Equal(t, 3, req.Badge)
		assert.Equal(t, "v", req.Data["k"])
	})

	for name, payload := range map[string]string{
		"Failure - Missing User":    `{"message":"hi"}`,
		"Failure - Missing Message": `{"user_id":"u1"}`,
		"Failure - Negative Badge":  `{"user_id":"u1","message":"hi","badge":-1}`,
		"Failure - Malformed JSON":  `{`,
	} {
		t.Run(name, func(t *testing.T) {
			_, skip, err := pipeline.SendRequestTransformer(ctx, newMessage("m", payload))
			assert.Error(t, err)
			assert.True(t, skip)
		})
	}
}
