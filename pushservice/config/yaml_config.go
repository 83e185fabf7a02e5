package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlStoreConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
}

type YamlAWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
	// APIVersion is accepted for compatibility; the SDK pins the SNS API version.
	APIVersion string `yaml:"api_version"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	P8Key    string `yaml:"p8_key"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlPlatformConfig struct {
	Name           string `yaml:"name"`
	Kind           string `yaml:"kind"`
	Provider       string `yaml:"provider"`
	ApplicationARN string `yaml:"application_arn"`
}

type YamlSubscriptionConfig struct {
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
	DLQTopicID     string `yaml:"dlq_topic_id"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID          string                 `yaml:"project_id"`
	ListenAddr         string                 `yaml:"listen_addr"`
	IdentityServiceURL string                 `yaml:"identity_service_url"`
	NumPipelineWorkers int                    `yaml:"num_pipeline_workers"`
	ProviderTimeout    string                 `yaml:"provider_timeout"`
	IOSPayloadKey      string                 `yaml:"ios_payload_key"`
	EventsTopicID      string                 `yaml:"events_topic_id"`
	Login              YamlSubscriptionConfig `yaml:"login"`
	Send               YamlSubscriptionConfig `yaml:"send"`
	CorsConfig         YamlCorsConfig         `yaml:"cors"`
	RedisConfig        YamlRedisConfig        `yaml:"redis"`
	StoreConfig        YamlStoreConfig        `yaml:"store"`
	AWSConfig          YamlAWSConfig          `yaml:"aws"`
	APNSConfig         YamlAPNSConfig         `yaml:"apns"`
	VapidConfig        YamlVapidConfig        `yaml:"vapid"`
	Platforms          []YamlPlatformConfig   `yaml:"platforms"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")
	if baseCfg.AWSConfig.APIVersion != "" {
		logger.Debug("Ignoring aws.api_version; the SNS client uses its built-in API version", "api_version", baseCfg.AWSConfig.APIVersion)
	}

	providerTimeout, err := parseDuration("provider_timeout", baseCfg.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	redisTTL, err := parseDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		NumPipelineWorkers: baseCfg.NumPipelineWorkers,
		ProviderTimeout:    providerTimeout,
		IOSPayloadKey:      baseCfg.IOSPayloadKey,
		EventsTopicID:      baseCfg.EventsTopicID,
		Login:              newSubscriptionConfig(baseCfg.Login),
		Send:               newSubscriptionConfig(baseCfg.Send),
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      redisTTL,
		},
		Store: StoreConfig{
			Driver:     baseCfg.StoreConfig.Driver,
			DSN:        baseCfg.StoreConfig.DSN,
			Collection: baseCfg.StoreConfig.Collection,
		},
		AWS: AWSConfig{
			Region:          baseCfg.AWSConfig.Region,
			AccessKeyID:     baseCfg.AWSConfig.AccessKeyID,
			SecretAccessKey: baseCfg.AWSConfig.SecretAccessKey,
			Endpoint:        baseCfg.AWSConfig.Endpoint,
		},
		APNS: APNSConfig{
			KeyID:        baseCfg.APNSConfig.KeyID,
			TeamID:       baseCfg.APNSConfig.TeamID,
			BundleID:     baseCfg.APNSConfig.BundleID,
			P8KeyContent: baseCfg.APNSConfig.P8Key,
			Sandbox:      baseCfg.APNSConfig.Sandbox,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
	}

	for _, p := range baseCfg.Platforms {
		cfg.Platforms = append(cfg.Platforms, PlatformConfig{
			Name:           p.Name,
			Kind:           p.Kind,
			Provider:       p.Provider,
			ApplicationARN: p.ApplicationARN,
		})
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"platforms", len(cfg.Platforms),
	)

	return cfg, nil
}

func newSubscriptionConfig(y YamlSubscriptionConfig) SubscriptionConfig {
	sub := SubscriptionConfig{
		TopicID:        y.TopicID,
		SubscriptionID: y.SubscriptionID,
		DLQTopicID:     y.DLQTopicID,
	}
	if sub.SubscriptionID != "" {
		sub.ConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(sub.SubscriptionID)
	}
	return sub
}

func parseDuration(key, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}
