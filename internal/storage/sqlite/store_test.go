package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/storage/sqlite"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Missing device returns nil", func(t *testing.T) {
		got, err := store.FindByDevice(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)

		all, err := store.FindAllByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)
	})

	t.Run("Insert and find", func(t *testing.T) {
		target := push.PushTarget{UserID: "u1", DeviceID: "d1", EndpointRef: "arn:1", Platform: "ios", CreatedAt: now}
		require.NoError(t, store.Insert(ctx, target))
		require.NoError(t, store.Insert(ctx, push.PushTarget{UserID: "u1", DeviceID: "d2", EndpointRef: "arn:2", Platform: "android", CreatedAt: now.Add(time.Second)}))

		got, err := store.FindByDevice(ctx, "d1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, target, *got)

		all, err := store.FindAllByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "d1", all[0].DeviceID)
		assert.Equal(t, "d2", all[1].DeviceID)
	})

	t.Run("Device id is unique", func(t *testing.T) {
		err := store.Insert(ctx, push.PushTarget{UserID: "u2", DeviceID: "d1", EndpointRef: "arn:3", Platform: "ios", CreatedAt: now})
		assert.Error(t, err)
	})

	t.Run("Delete by device", func(t *testing.T) {
		require.NoError(t, store.DeleteByDevice(ctx, "d1"))
		require.NoError(t, store.DeleteByDevice(ctx, "d1"))

		got, err := store.FindByDevice(ctx, "d1")
		require.NoError(t, err)
		assert.Nil(t, got)

		all, err := store.FindAllByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
