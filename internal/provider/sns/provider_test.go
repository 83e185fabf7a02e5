package sns_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/provider/sns"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const appARN = "arn:aws:sns:eu-west-1:123456789012:app/GCM/test"

type MockSNS struct {
	mock.Mock
}

func (m *MockSNS) CreatePlatformEndpoint(ctx context.Context, in *awssns.CreatePlatformEndpointInput, _ ...func(*awssns.Options)) (*awssns.CreatePlatformEndpointOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssns.CreatePlatformEndpointOutput), args.Error(1)
}
func (m *MockSNS) DeleteEndpoint(ctx context.Context, in *awssns.DeleteEndpointInput, _ ...func(*awssns.Options)) (*awssns.DeleteEndpointOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssns.DeleteEndpointOutput), args.Error(1)
}
func (m *MockSNS) GetEndpointAttributes(ctx context.Context, in *awssns.GetEndpointAttributesInput, _ ...func(*awssns.Options)) (*awssns.GetEndpointAttributesOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssns.GetEndpointAttributesOutput), args.Error(1)
}
func (m *MockSNS) Publish(ctx context.Context, in *awssns.PublishInput, _ ...func(*awssns.Options)) (*awssns.PublishOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssns.PublishOutput), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvider(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("CreateEndpoint - passes token and user data", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)

		client.On("CreatePlatformEndpoint", ctx, mock.MatchedBy(func(in *awssns.CreatePlatformEndpointInput) bool {
			return aws.ToString(in.PlatformApplicationArn) == appARN &&
				aws.ToString(in.Token) == "device-token" &&
				aws.ToString(in.CustomUserData) == `{"userId":"u1"}`
		})).Return(&awssns.CreatePlatformEndpointOutput{EndpointArn: aws.String("arn:endpoint/1")}, nil)

		ref, err := p.CreateEndpoint(ctx, "device-token", `{"userId":"u1"}`)
		require.NoError(t, err)
		assert.Equal(t, "arn:endpoint/1", ref)
		client.AssertExpectations(t)
	})

	t.Run("CreateEndpoint - rejection surfaces", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)
		client.On("CreatePlatformEndpoint", ctx, mock.Anything).
			Return(nil, &types.InvalidParameterException{Message: aws.String("Invalid token")})

		_, err := p.CreateEndpoint(ctx, "bad", "{}")
		assert.ErrorContains(t, err, "Invalid token")
	})

	t.Run("QueryEndpoint - reads Enabled attribute", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)
		client.On("GetEndpointAttributes", ctx, mock.MatchedBy(func(in *awssns.GetEndpointAttributesInput) bool {
			return aws.ToString(in.EndpointArn) == "arn:disabled"
		})).Return(&awssns.GetEndpointAttributesOutput{Attributes: map[string]string{"Enabled": "false"}}, nil)
		client.On("GetEndpointAttributes", ctx, mock.MatchedBy(func(in *awssns.GetEndpointAttributesInput) bool {
			return aws.ToString(in.EndpointArn) == "arn:enabled"
		})).Return(&awssns.GetEndpointAttributesOutput{Attributes: map[string]string{"Enabled": "true"}}, nil)

		state, err := p.QueryEndpoint(ctx, "arn:disabled")
		require.NoError(t, err)
		assert.False(t, state.Enabled)

		state, err = p.QueryEndpoint(ctx, "arn:enabled")
		require.NoError(t, err)
		assert.True(t, state.Enabled)
	})

	t.Run("QueryEndpoint - NotFound maps to ErrEndpointNotFound", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)
		client.On("GetEndpointAttributes", ctx, mock.Anything).
			Return(nil, &types.NotFoundException{Message: aws.String("Endpoint does not exist")})

		_, err := p.QueryEndpoint(ctx, "arn:gone")
		assert.ErrorIs(t, err, push.ErrEndpointNotFound)
	})

	t.Run("DeleteEndpoint - generic failure is not mapped", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)
		client.On("DeleteEndpoint", ctx, mock.Anything).Return(nil, errors.New("throttled"))

		err := p.DeleteEndpoint(ctx, "arn:x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, push.ErrEndpointNotFound)
	})

	t.Run("Publish - json message structure", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)
		wire := push.WireMessage{"GCM": `{"data":{"message":"hi"}}`}

		client.On("Publish", ctx, mock.MatchedBy(func(in *awssns.PublishInput) bool {
			var decoded map[string]string
			if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &decoded); err != nil {
				return false
			}
			return aws.ToString(in.MessageStructure) == "json" &&
				aws.ToString(in.TargetArn) == "arn:endpoint/1" &&
				decoded["GCM"] == `{"data":{"message":"hi"}}`
		})).Return(&awssns.PublishOutput{MessageId: aws.String("mid-1")}, nil)

		id, err := p.Publish(ctx, "arn:endpoint/1", wire)
		require.NoError(t, err)
		assert.Equal(t, "mid-1", id)
	})

	t.Run("Publish - disabled endpoint", func(t *testing.T) {
		client := new(MockSNS)
		p := sns.NewProvider(client, appARN, logger)
		client.On("Publish", ctx, mock.Anything).
			Return(nil, &types.EndpointDisabledException{Message: aws.String("Endpoint is disabled")})

		_, err := p.Publish(ctx, "arn:endpoint/1", push.WireMessage{"GCM": "{}"})
		assert.ErrorIs(t, err, push.ErrEndpointDisabled)
	})
}
