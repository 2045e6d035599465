package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultCredentialDBPath    = "mailgate.db"
	DefaultBlobRoot            = "blobs"
	DefaultMaxRetries          = 2
	DefaultAttachmentParallel  = 3
	DefaultSignedURLTTL        = time.Hour
	DefaultMetricsAddr         = ":9090"
	DefaultTokenEndpoint       = "https://oauth2.googleapis.com/token"
	DefaultProviderTimeout     = 30 * time.Second
	DefaultLogFormat           = "text"
	DefaultMaxAttachmentSizeMB = 25
	DefaultSignedURLBase       = "http://localhost:9090/blobs"
)

// Config holds the runtime configuration of the gateway.
type Config struct {
	// OAuth client registration used for the refresh_token grant.
	OAuthClientID     string `mapstructure:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret"`
	TokenEndpoint     string `mapstructure:"token_endpoint"`

	// CredentialDBPath is the SQLite database holding per-user credentials.
	CredentialDBPath string `mapstructure:"credential_db_path"`

	// BlobRoot is the directory attachment blobs are persisted under.
	BlobRoot string `mapstructure:"blob_root"`

	// URLSigningSecret signs time-limited attachment URLs.
	URLSigningSecret string `mapstructure:"url_signing_secret"`

	// SignedURLBase prefixes issued attachment URLs, typically the
	// externally visible address of the blob-serving frontend.
	SignedURLBase string `mapstructure:"signed_url_base"`

	// SignedURLTTL is how long issued attachment URLs stay valid.
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`

	// MaxRetries is the resilient-invoker retry budget for transient
	// provider failures.
	MaxRetries int `mapstructure:"max_retries"`

	// AttachmentParallel caps concurrent attachment byte downloads.
	AttachmentParallel int `mapstructure:"attachment_parallel"`

	// MaxAttachmentSizeMB rejects provider attachments larger than this.
	MaxAttachmentSizeMB int `mapstructure:"max_attachment_size_mb"`

	// ProviderTimeout bounds individual provider HTTP calls.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load reads configuration from the given file (optional) and from
// MAILGATE_* environment variables, applies defaults, and validates the
// result. A missing config file is not an error; missing required values
// are.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv can surface it during
	// Unmarshal; required values default to empty and fail validation.
	v.SetDefault("oauth_client_id", "")
	v.SetDefault("oauth_client_secret", "")
	v.SetDefault("url_signing_secret", "")
	v.SetDefault("token_endpoint", DefaultTokenEndpoint)
	v.SetDefault("credential_db_path", DefaultCredentialDBPath)
	v.SetDefault("blob_root", DefaultBlobRoot)
	v.SetDefault("signed_url_ttl", DefaultSignedURLTTL)
	v.SetDefault("signed_url_base", DefaultSignedURLBase)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("attachment_parallel", DefaultAttachmentParallel)
	v.SetDefault("max_attachment_size_mb", DefaultMaxAttachmentSizeMB)
	v.SetDefault("provider_timeout", DefaultProviderTimeout)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("metrics_addr", DefaultMetricsAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", DefaultLogFormat)

	v.SetEnvPrefix("MAILGATE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.OAuthClientID == "" {
		return fmt.Errorf("oauth_client_id is required")
	}
	if c.OAuthClientSecret == "" {
		return fmt.Errorf("oauth_client_secret is required")
	}
	if c.URLSigningSecret == "" {
		return fmt.Errorf("url_signing_secret is required")
	}
	if c.AttachmentParallel <= 0 {
		return fmt.Errorf("attachment_parallel must be positive, got %d", c.AttachmentParallel)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
