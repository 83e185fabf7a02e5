package push

import "context"

// EndpointStore persists the mapping from device to remote endpoint.
// Implementations must keep at most one PushTarget per device id.
type EndpointStore interface {
	// FindByDevice returns the target for a device, or nil if none exists.
	FindByDevice(ctx context.Context, deviceID string) (*PushTarget, error)

	// FindAllByUser returns every target owned by a user.
	FindAllByUser(ctx context.Context, userID string) ([]PushTarget, error)

	// Insert stores a new target. It fails if the device already has one.
	Insert(ctx context.Context, target PushTarget) error

	// DeleteByDevice removes the target for a device. Deleting a device with
	// no target is not an error.
	DeleteByDevice(ctx context.Context, deviceID string) error
}

// Provider defines the remote operations of a push channel (e.g. an SNS
// platform application, or FCM/APNs directly).
type Provider interface {
	// CreateEndpoint registers a device token and returns the endpoint handle.
	CreateEndpoint(ctx context.Context, deviceID string, userData string) (string, error)

	// DeleteEndpoint removes an endpoint. A missing endpoint yields ErrEndpointNotFound.
	DeleteEndpoint(ctx context.Context, endpointRef string) error

	// QueryEndpoint returns the provider's current view of an endpoint.
	QueryEndpoint(ctx context.Context, endpointRef string) (EndpointState, error)

	// Publish delivers a JSON-structured message to a single endpoint and
	// returns the provider message id.
	Publish(ctx context.Context, endpointRef string, msg WireMessage) (string, error)
}

// EventSink receives lifecycle and delivery events. Emit must not block on
// durable delivery.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}
