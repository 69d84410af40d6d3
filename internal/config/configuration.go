package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// API server configuration
	APIServerPort int `mapstructure:"API_SERVER_PORT"`

	// Database configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Worker configuration
	WorkerCount         int `mapstructure:"WORKER_COUNT" validate:"min=1"`
	LeaseSeconds        int `mapstructure:"LEASE_SECONDS" validate:"min=1"`
	HeartbeatSeconds    int `mapstructure:"HEARTBEAT_SECONDS" validate:"min=1"`
	StageTimeoutSeconds int `mapstructure:"STAGE_TIMEOUT_SECONDS" validate:"min=1"`

	// Retry policy
	MaxStageAttempts   int `mapstructure:"MAX_STAGE_ATTEMPTS" validate:"min=1"`
	MaxTotalAttempts   int `mapstructure:"MAX_TOTAL_ATTEMPTS" validate:"min=1"`
	RetryBackoffBaseMS int `mapstructure:"RETRY_BACKOFF_BASE_MS" validate:"min=1"`

	// Staging and source limits
	StagingDir     string `mapstructure:"STAGING_DIR" validate:"required"`
	MaxSourceBytes int64  `mapstructure:"MAX_SOURCE_BYTES" validate:"min=1"`

	// Derivative storage
	StorageBackend string `mapstructure:"STORAGE_BACKEND" validate:"oneof=fs s3"`
	StorageRoot    string `mapstructure:"STORAGE_ROOT"`
	S3AccessKey    string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string `mapstructure:"S3_SECRET_KEY"`
	S3Bucket       string `mapstructure:"S3_BUCKET"`
	S3Region       string `mapstructure:"S3_REGION"`
	S3Endpoint     string `mapstructure:"S3_ENDPOINT"`

	// External converters
	ConvertCommand   string `mapstructure:"CONVERT_COMMAND"`
	ThumbnailCommand string `mapstructure:"THUMBNAIL_COMMAND"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
	slog.Info("Environment variables bound", "config", c)
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("API_SERVER_PORT", 8080)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("WORKER_COUNT", 2)
	viper.SetDefault("LEASE_SECONDS", 60)
	viper.SetDefault("HEARTBEAT_SECONDS", 15)
	viper.SetDefault("STAGE_TIMEOUT_SECONDS", 120)
	viper.SetDefault("MAX_STAGE_ATTEMPTS", 3)
	viper.SetDefault("MAX_TOTAL_ATTEMPTS", 10)
	viper.SetDefault("RETRY_BACKOFF_BASE_MS", 2000)
	viper.SetDefault("STAGING_DIR", "/staging")
	viper.SetDefault("MAX_SOURCE_BYTES", int64(512*1024*1024))
	viper.SetDefault("STORAGE_BACKEND", "fs")
	viper.SetDefault("STORAGE_ROOT", "/derivatives")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration", "config", cfg)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// One missed heartbeat must not cause a false lease reclaim.
	if cfg.HeartbeatSeconds*2 > cfg.LeaseSeconds {
		return nil, fmt.Errorf("HEARTBEAT_SECONDS (%d) must be at most half of LEASE_SECONDS (%d)", cfg.HeartbeatSeconds, cfg.LeaseSeconds)
	}

	return &cfg, nil
}
