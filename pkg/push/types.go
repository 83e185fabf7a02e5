// Package push contains the public domain model and collaborator contracts for
// the push endpoint service.
package push

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownPlatform is returned when a platform name has no configuration.
	// It is a configuration error and must not be retried.
	ErrUnknownPlatform = errors.New("unknown push platform")

	// ErrEndpointNotFound is returned by a Provider when the remote endpoint
	// no longer exists.
	ErrEndpointNotFound = errors.New("push endpoint not found")

	// ErrEndpointDisabled is returned by a Provider when a publish was rejected
	// because the remote endpoint is disabled or its token is dead.
	ErrEndpointDisabled = errors.New("push endpoint disabled")
)

// AnonymousName is the username/name carried by guest sessions.
const AnonymousName = "anonymous"

// User is the identity delivered with a login event.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// IsAnonymous reports whether the user is the guest identity. Guest sessions
// never own a push endpoint.
func (u User) IsAnonymous() bool {
	return u.Username == AnonymousName || u.Name == AnonymousName
}

// PushTarget links a device to the remote endpoint registered for its owner.
type PushTarget struct {
	UserID      string    `json:"user_id" firestore:"user_id"`
	DeviceID    string    `json:"device_id" firestore:"device_id"`
	EndpointRef string    `json:"endpoint_ref" firestore:"endpoint_ref"`
	Platform    string    `json:"platform" firestore:"platform"`
	CreatedAt   time.Time `json:"created_at" firestore:"created_at"`
}

// EndpointState is the provider-owned view of an endpoint.
type EndpointState struct {
	Enabled bool
}

// WireMessage is the JSON-structured message handed to a provider: each key is
// a target-platform tag and each value a JSON-encoded platform payload.
type WireMessage map[string]string

// Event names emitted to an EventSink.
const (
	EventMessageSent   = "messageSent"
	EventSendFailed    = "sendFailed"
	EventUserAdded     = "userAdded"
	EventAddUserFailed = "addUserFailed"
	EventUserDeleted   = "userDeleted"
)

// Event is a best-effort notification for external observers such as metrics
// or cleanup jobs.
type Event struct {
	Name        string    `json:"name"`
	Platform    string    `json:"platform"`
	EndpointRef string    `json:"endpoint_ref,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// NopSink discards events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(context.Context, Event) {}
