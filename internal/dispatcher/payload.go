package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type apsEnvelope struct {
	Alert string `json:"alert"`
	// Payload holds the caller's data as given: absent when nil, {} when empty.
	Payload any `json:"payload,omitempty"`
	Badge   int `json:"badge,omitempty"`
}

type iosMessage struct {
	Aps apsEnvelope `json:"aps"`
}

type gcmData struct {
	Message string `json:"message"`
}

type gcmMessage struct {
	Data gcmData `json:"data"`
}

// ShapeMessage builds the platform-specific wire message. iOS payloads are
// keyed by the platform's payload key and carry an aps envelope (badge only
// when non-zero); every other platform gets a GCM data message.
func ShapeMessage(platform *registry.Platform, message string, data map[string]any, badge int) (push.WireMessage, error) {
	if platform.Kind == registry.KindIOS {
		aps := apsEnvelope{Alert: message, Badge: badge}
		if data != nil {
			aps.Payload = data
		}
		body, err := json.Marshal(iosMessage{Aps: aps})
		if err != nil {
			return nil, fmt.Errorf("failed to encode aps payload: %w", err)
		}
		return push.WireMessage{platform.PayloadKey: string(body)}, nil
	}

	body, err := json.Marshal(gcmMessage{Data: gcmData{Message: message}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gcm payload: %w", err)
	}
	return push.WireMessage{registry.AndroidPayloadKey: string(body)}, nil
}
