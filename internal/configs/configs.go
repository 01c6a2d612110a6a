/*
Package configs loads and validates the application's configuration settings.

Values come from defaults, an optional config file (config.yaml in the working
directory or ./config) and environment variables, in increasing order of priority.
*/
package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultHistoryLimit is the number of messages delivered when a text channel is joined.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps MESSAGE_HISTORY_LIMIT.
	MaxHistoryLimit = 100
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`

	// Security Settings
	AllowedOrigins []string `mapstructure:"-"`
	JWTSecret      string   `mapstructure:"jwt_secret"`

	// Chat Settings
	HistoryLimit   int           `mapstructure:"message_history_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// External image services used for generated avatars and server icons.
	AvatarBaseURL string `mapstructure:"avatar_base_url"`
	IconBaseURL   string `mapstructure:"icon_base_url"`

	// S3 Storage Settings (optional; avatar uploads are disabled when the bucket is empty)
	S3BucketName      string `mapstructure:"s3_bucket_name"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	AssetBaseURL      string `mapstructure:"asset_base_url"`

	// Database Settings. An empty DSN in development selects the in-memory store.
	DatabaseDSN string `mapstructure:"database_url"`
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// StorageEnabled reports whether S3 settings are present.
func (c *AppConfig) StorageEnabled() bool {
	return c.S3BucketName != ""
}

// LoadConfig reads the configuration and validates it.
func LoadConfig() (*AppConfig, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*AppConfig, error) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("message_history_limit", DefaultHistoryLimit)
	v.SetDefault("request_timeout", "5s")
	v.SetDefault("avatar_base_url", "https://api.dicebear.com/9.x/avataaars/svg")
	v.SetDefault("icon_base_url", "https://ui-avatars.com/api/")
	v.SetDefault("s3_bucket_name", "")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key_id", "")
	v.SetDefault("s3_secret_access_key", "")
	v.SetDefault("asset_base_url", "")
	v.SetDefault("database_url", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.AllowedOrigins = splitOrigins(v.GetString("allowed_origins"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitOrigins(raw string) []string {
	origins := []string{}
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func (c *AppConfig) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", c.Environment)
		}
		c.JWTSecret = "naberya_insecure_development_secret_change_me"
	}

	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.HistoryLimit > MaxHistoryLimit {
		c.HistoryLimit = MaxHistoryLimit
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if c.DatabaseDSN == "" && !c.IsDevelopment() {
		return fmt.Errorf("DATABASE_URL environment variable is required in %s environment", c.Environment)
	}

	if c.StorageEnabled() {
		if c.S3Endpoint == "" || c.S3AccessKeyID == "" || c.S3SecretAccessKey == "" {
			return errors.New("S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET_NAME is set")
		}
		if c.AssetBaseURL == "" {
			return errors.New("ASSET_BASE_URL is required when S3_BUCKET_NAME is set")
		}
	}

	return nil
}
