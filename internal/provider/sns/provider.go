// Package sns implements push.Provider on Amazon SNS mobile push. Each
// configured platform maps to one SNS platform application ARN; endpoints are
// SNS platform endpoints.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// API is the subset of the SNS client used by the provider.
type API interface {
	CreatePlatformEndpoint(ctx context.Context, params *awssns.CreatePlatformEndpointInput, optFns ...func(*awssns.Options)) (*awssns.CreatePlatformEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, params *awssns.DeleteEndpointInput, optFns ...func(*awssns.Options)) (*awssns.DeleteEndpointOutput, error)
	GetEndpointAttributes(ctx context.Context, params *awssns.GetEndpointAttributesInput, optFns ...func(*awssns.Options)) (*awssns.GetEndpointAttributesOutput, error)
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// ClientConfig holds the credentials shared by every SNS platform.
type ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the SNS URL (e.g. LocalStack). Empty uses AWS.
	Endpoint string
}

// NewClient builds an SNS client. Static credentials are used when an access
// key is configured; otherwise the default AWS credential chain applies.
func NewClient(ctx context.Context, cfg ClientConfig) (*awssns.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awssns.NewFromConfig(awsCfg, func(o *awssns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Provider manages endpoints of a single SNS platform application.
type Provider struct {
	client         API
	applicationARN string
	logger         *slog.Logger
}

func NewProvider(client API, applicationARN string, logger *slog.Logger) *Provider {
	return &Provider{
		client:         client,
		applicationARN: applicationARN,
		logger:         logger.With("component", "SNSProvider", "application_arn", applicationARN),
	}
}

func (p *Provider) CreateEndpoint(ctx context.Context, deviceID string, userData string) (string, error) {
	out, err := p.client.CreatePlatformEndpoint(ctx, &awssns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(p.applicationARN),
		Token:                  aws.String(deviceID),
		CustomUserData:         aws.String(userData),
	})
	if err != nil {
		return "", fmt.Errorf("sns create platform endpoint: %w", err)
	}
	endpoint := aws.ToString(out.EndpointArn)
	if endpoint == "" {
		return "", errors.New("sns create platform endpoint: empty endpoint arn")
	}
	p.logger.Debug("Created platform endpoint", "endpoint", endpoint)
	return endpoint, nil
}

func (p *Provider) DeleteEndpoint(ctx context.Context, endpointRef string) error {
	_, err := p.client.DeleteEndpoint(ctx, &awssns.DeleteEndpointInput{EndpointArn: aws.String(endpointRef)})
	if err != nil {
		return fmt.Errorf("sns delete endpoint: %w", mapError(err))
	}
	return nil
}

func (p *Provider) QueryEndpoint(ctx context.Context, endpointRef string) (push.EndpointState, error) {
	out, err := p.client.GetEndpointAttributes(ctx, &awssns.GetEndpointAttributesInput{EndpointArn: aws.String(endpointRef)})
	if err != nil {
		return push.EndpointState{}, fmt.Errorf("sns get endpoint attributes: %w", mapError(err))
	}
	// SNS reports the flag as the string "true"/"false".
	return push.EndpointState{Enabled: out.Attributes["Enabled"] != "false"}, nil
}

// Publish sends msg with MessageStructure=json so SNS picks the payload under
// the key matching the endpoint's platform.
func (p *Provider) Publish(ctx context.Context, endpointRef string, msg push.WireMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode sns message: %w", err)
	}
	out, err := p.client.Publish(ctx, &awssns.PublishInput{
		Message:          aws.String(string(body)),
		MessageStructure: aws.String("json"),
		TargetArn:        aws.String(endpointRef),
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", mapError(err))
	}
	return aws.ToString(out.MessageId), nil
}

func mapError(err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", push.ErrEndpointNotFound, err)
	}
	var disabled *types.EndpointDisabledException
	if errors.As(err, &disabled) {
		return fmt.Errorf("%w: %w", push.ErrEndpointDisabled, err)
	}
	return err
}
