// Package firestore implements push.EndpointStore on Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// DefaultCollection is the root collection holding one document per device.
const DefaultCollection = "push_targets"

// Store implements EndpointStore using Google Cloud Firestore.
type Store struct {
	client     *firestore.Client
	collection string
}

func NewStore(client *firestore.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, collection: collection}
}

func (s *Store) FindByDevice(ctx context.Context, deviceID string) (*push.PushTarget, error) {
	doc, err := s.deviceRef(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get push target: %w", err)
	}
	var t push.PushTarget
	if err := doc.DataTo(&t); err != nil {
		return nil, fmt.Errorf("failed to decode push target: %w", err)
	}
	return &t, nil
}

func (s *Store) FindAllByUser(ctx context.Context, userID string) ([]push.PushTarget, error) {
	iter := s.client.Collection(s.collection).Where("user_id", "==", userID).Documents(ctx)
	defer iter.Stop()

	targets := make([]push.PushTarget, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var t push.PushTarget
		if err := doc.DataTo(&t); err != nil {
			// Skip corrupt documents rather than failing the whole fan-out.
			continue
		}
		targets = append(targets, t)
	}

	// Ordering in memory avoids a composite index on (user_id, created_at).
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].CreatedAt.Equal(targets[j].CreatedAt) {
			return targets[i].DeviceID < targets[j].DeviceID
		}
		return targets[i].CreatedAt.Before(targets[j].CreatedAt)
	})
	return targets, nil
}

// Insert uses Create so a second target for the same device fails.
func (s *Store) Insert(ctx context.Context, t push.PushTarget) error {
	if _, err := s.deviceRef(t.DeviceID).Create(ctx, t); err != nil {
		return fmt.Errorf("failed to insert push target: %w", err)
	}
	return nil
}

func (s *Store) DeleteByDevice(ctx context.Context, deviceID string) error {
	if _, err := s.deviceRef(deviceID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete push target: %w", err)
	}
	return nil
}

// deviceRef: push_targets/{sha256(deviceID)}
func (s *Store) deviceRef(deviceID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(hashDeviceID(deviceID))
}

// Device ids may contain '/' (web push subscriptions), which Firestore
// forbids in document ids.
func hashDeviceID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
