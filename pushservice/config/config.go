package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Provider names accepted in platform configuration.
const (
	ProviderSNS     = "sns"
	ProviderFCM     = "fcm"
	ProviderAPNS    = "apns"
	ProviderWebPush = "webpush"
	ProviderMemory  = "memory"
)

// Store drivers.
const (
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

const DefaultProviderTimeout = 10 * time.Second

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type StoreConfig struct {
	Driver string
	// DSN is a file path or ":memory:" for sqlite, a connection URL for postgres.
	DSN string
	// Collection is the Firestore collection name.
	Collection string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// PlatformConfig describes one push platform.
type PlatformConfig struct {
	Name string
	// Kind is "ios" or "android"; empty infers it from Name.
	Kind           string
	Provider       string
	ApplicationARN string
}

// SubscriptionConfig binds one pipeline to its Pub/Sub resources.
type SubscriptionConfig struct {
	TopicID        string
	SubscriptionID string
	DLQTopicID     string
	ConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID          string
	ListenAddr         string
	IdentityServiceURL string
	NumPipelineWorkers int
	ProviderTimeout    time.Duration
	IOSPayloadKey      string
	EventsTopicID      string

	Login SubscriptionConfig
	Send  SubscriptionConfig

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Store      StoreConfig
	AWS        AWSConfig
	APNS       APNSConfig
	Vapid      VapidConfig
	Platforms  []PlatformConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("LOGIN_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "LOGIN_SUBSCRIPTION_ID", "source", "env")
		cfg.Login.SubscriptionID = val
		cfg.Login.ConsumerConfig = nil
	}
	if val := os.Getenv("SEND_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SEND_SUBSCRIPTION_ID", "source", "env")
		cfg.Send.SubscriptionID = val
		cfg.Send.ConsumerConfig = nil
	}
	if val := os.Getenv("EVENTS_TOPIC_ID"); val != "" {
		cfg.EventsTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("PROVIDER_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT %q: %w", val, err)
		}
		cfg.ProviderTimeout = d
	}
	if val := os.Getenv("IOS_PAYLOAD_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "IOS_PAYLOAD_KEY", "source", "env")
		cfg.IOSPayloadKey = val
	}

	// Store Overrides
	if val := os.Getenv("STORE_DRIVER"); val != "" {
		cfg.Store.Driver = val
	}
	if val := os.Getenv("STORE_DSN"); val != "" {
		cfg.Store.DSN = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// SNS Overrides
	if val := os.Getenv("AWS_REGION"); val != "" {
		cfg.AWS.Region = val
	}
	if val := os.Getenv("SNS_ACCESS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SNS_ACCESS_KEY_ID", "source", "env")
		cfg.AWS.AccessKeyID = val
	}
	if val := os.Getenv("SNS_SECRET_ACCESS_KEY"); val != "" {
		cfg.AWS.SecretAccessKey = val
	}
	if val := os.Getenv("SNS_ENDPOINT"); val != "" {
		cfg.AWS.Endpoint = val
	}
	if val := os.Getenv("SNS_ANDROID_ARN"); val != "" {
		cfg.setSNSApplication("android", val)
	}
	if val := os.Getenv("SNS_IOS_ARN"); val != "" {
		cfg.setSNSApplication("ios", val)
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		cfg.Vapid.SubscriberEmail = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.Driver == StoreSQLite && cfg.Store.DSN == "" {
		cfg.Store.DSN = ":memory:"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}
	for _, sub := range []*SubscriptionConfig{&cfg.Login, &cfg.Send} {
		if sub.ConsumerConfig == nil && sub.SubscriptionID != "" {
			sub.ConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(sub.SubscriptionID)
		}
	}

	// 3. Final Validation
	if err := cfg.validateStore(); err != nil {
		return nil, err
	}
	platforms, err := cfg.validatePlatforms(logger)
	if err != nil {
		return nil, err
	}
	cfg.Platforms = platforms

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// ValidateService checks the settings only the long-running service needs.
func (cfg *Config) ValidateService() error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Login.SubscriptionID == "" {
		return fmt.Errorf("login subscription_id is required (set via YAML or LOGIN_SUBSCRIPTION_ID env var)")
	}
	if cfg.Send.SubscriptionID == "" {
		return fmt.Errorf("send subscription_id is required (set via YAML or SEND_SUBSCRIPTION_ID env var)")
	}
	return nil
}

// setSNSApplication points the named platform at an SNS application,
// adding the platform when it is not configured yet.
func (cfg *Config) setSNSApplication(name, arn string) {
	for i := range cfg.Platforms {
		if cfg.Platforms[i].Name == name {
			cfg.Platforms[i].Provider = ProviderSNS
			cfg.Platforms[i].ApplicationARN = arn
			return
		}
	}
	cfg.Platforms = append(cfg.Platforms, PlatformConfig{Name: name, Provider: ProviderSNS, ApplicationARN: arn})
}

func (cfg *Config) validateStore() error {
	switch cfg.Store.Driver {
	case StoreSQLite:
	case StorePostgres:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for the postgres driver (set via YAML or STORE_DSN env var)")
		}
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

// validatePlatforms resolves kinds and checks provider settings. SNS
// platforms without an application ARN are dropped: they stay unconfigured.
func (cfg *Config) validatePlatforms(logger *slog.Logger) ([]PlatformConfig, error) {
	seen := make(map[string]bool, len(cfg.Platforms))
	out := make([]PlatformConfig, 0, len(cfg.Platforms))

	for _, p := range cfg.Platforms {
		if p.Name == "" {
			return nil, fmt.Errorf("platform name is required")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("platform %q configured twice", p.Name)
		}
		seen[p.Name] = true

		if p.Kind == "" {
			p.Kind = "android"
			if p.Name == "ios" {
				p.Kind = "ios"
			}
		}
		if p.Kind != "ios" && p.Kind != "android" {
			return nil, fmt.Errorf("platform %q: kind must be ios or android, got %q", p.Name, p.Kind)
		}
		if p.Provider == "" {
			p.Provider = ProviderSNS
		}

		switch p.Provider {
		case ProviderSNS:
			if p.ApplicationARN == "" {
				logger.Warn("SNS platform has no application ARN; leaving it unconfigured", "platform", p.Name)
				continue
			}
			if cfg.AWS.Region == "" {
				return nil, fmt.Errorf("platform %q: aws region is required for sns (set via YAML or AWS_REGION env var)", p.Name)
			}
		case ProviderFCM:
			if p.Kind != "android" {
				return nil, fmt.Errorf("platform %q: fcm requires kind android", p.Name)
			}
		case ProviderAPNS:
			if p.Kind != "ios" {
				return nil, fmt.Errorf("platform %q: apns requires kind ios", p.Name)
			}
			if cfg.APNS.P8KeyContent == "" || cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" {
				return nil, fmt.Errorf("platform %q: apns key_id, team_id, bundle_id and p8 key are required", p.Name)
			}
		case ProviderWebPush:
			if p.Kind != "android" {
				return nil, fmt.Errorf("platform %q: webpush requires kind android", p.Name)
			}
			if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
				return nil, fmt.Errorf("platform %q: vapid keys are required for webpush", p.Name)
			}
		case ProviderMemory:
		default:
			return nil, fmt.Errorf("platform %q: unknown provider %q", p.Name, p.Provider)
		}
		out = append(out, p)
	}
	return out, nil
}
