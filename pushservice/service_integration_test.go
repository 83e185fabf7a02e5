//go:build integration

package pushservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/internal/reconciler"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func TestPushService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := newTestLogger()
	projectID := "test-project-push"

	// 1. Emulator
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	runID := uuid.NewString()
	loginTopic, sendTopic, eventsTopic := "logins-"+runID, "send-"+runID, "events-"+runID
	createPubsubResources(t, ctx, psClient, projectID, loginTopic, loginTopic+"-sub")
	createPubsubResources(t, ctx, psClient, projectID, sendTopic, sendTopic+"-sub")
	createPubsubResources(t, ctx, psClient, projectID, eventsTopic, eventsTopic+"-sub")

	// 2. Components: sqlite + in-memory providers, events to Pub/Sub
	cfg := newLocalConfig(t)
	cfg.ListenAddr = ":0"
	cfg.NumPipelineWorkers = 2
	cfg.EventsTopicID = eventsTopic

	components, err := pushservice.NewComponents(ctx, cfg, psClient, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = components.Close(context.Background()) })
	android := memoryProvider(t, components, "android")

	loginConsumer, err := messagepipeline.NewGooglePubsubConsumer(messagepipeline.NewGooglePubsubConsumerDefaults(loginTopic+"-sub"), psClient, logger)
	require.NoError(t, err)
	sendConsumer, err := messagepipeline.NewGooglePubsubConsumer(messagepipeline.NewGooglePubsubConsumerDefaults(sendTopic+"-sub"), psClient, logger)
	require.NoError(t, err)

	svc, err := pushservice.New(cfg, loginConsumer, sendConsumer, components,
		func(h http.Handler) http.Handler { return h }, // No-op Auth
		logger,
	)
	require.NoError(t, err)

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()
	go func() { _ = svc.Start(svcCtx) }()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	// 3. Collect published events
	var (
		mu         sync.Mutex
		eventNames []string
	)
	go func() {
		_ = psClient.Subscriber(eventsTopic+"-sub").Receive(svcCtx, func(_ context.Context, m *pubsub.Message) {
			mu.Lock()
			eventNames = append(eventNames, m.Attributes["event"])
			mu.Unlock()
			m.Ack()
		})
	}()

	t.Run("Login registers the device after a poison message", func(t *testing.T) {
		_, err := psClient.Publisher(loginTopic).Publish(ctx, &pubsub.Message{Data: []byte("{not-json")}).Get(ctx)
		require.NoError(t, err)

		payload, err := json.Marshal(pipeline.LoginEvent{
			User: push.User{ID: "integ-user"},
			Args: &reconciler.LoginArgs{Platform: "android", DeviceID: "android-token-999"},
		})
		require.NoError(t, err)
		_, err = psClient.Publisher(loginTopic).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			target, err := components.Store.FindByDevice(ctx, "android-token-999")
			return err == nil && target != nil && target.UserID == "integ-user"
		}, 15*time.Second, 100*time.Millisecond)
	})

	t.Run("Send reaches the registered device", func(t *testing.T) {
		payload, err := json.Marshal(pipeline.SendRequest{UserID: "integ-user", Message: "Hello"})
		require.NoError(t, err)
		_, err = psClient.Publisher(sendTopic).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(android.Published()) == 1
		}, 15*time.Second, 100*time.Millisecond)
		assert.Contains(t, android.Published()[0].Message["GCM"], "Hello")
	})

	t.Run("Lifecycle events are published", func(t *testing.T) {
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return slices.Contains(eventNames, push.EventUserAdded) && slices.Contains(eventNames, push.EventMessageSent)
		}, 15*time.Second, 100*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
