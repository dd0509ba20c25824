package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Tracking TrackingConfig `yaml:"tracking"`
	Email    EmailConfig    `yaml:"email"`
	Sending  SendingConfig  `yaml:"sending"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Social   SocialConfig   `yaml:"social"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	TrackingPort        int      `yaml:"tracking_port"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, honoring SERVER_HOST.
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

func (c ServerConfig) ReadTimeout() time.Duration  { return secs(c.ReadTimeoutSeconds) }
func (c ServerConfig) WriteTimeout() time.Duration { return secs(c.WriteTimeoutSeconds) }

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// DisablePIIRedaction turns off email masking. Credentials stay redacted.
	DisablePIIRedaction bool `yaml:"disable_pii_redaction"`
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL runs the
// service on in-memory repositories.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig is optional; without it locks fall back to PostgreSQL and
// the global send cap is disabled.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds session verification settings.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	Issuer     string `yaml:"issuer"`
	CookieName string `yaml:"cookie_name"`
	AdminToken string `yaml:"admin_token"`
}

// TrackingConfig controls the open/click endpoints.
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`
	FallbackURL string `yaml:"fallback_url"`
}

// EmailConfig selects and configures the campaign email provider.
type EmailConfig struct {
	Provider       string        `yaml:"provider"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	SES            SESConfig     `yaml:"ses"`
	Resend         ResendConfig  `yaml:"resend"`
	Webhooks       WebhookConfig `yaml:"webhooks"`
}

func (c EmailConfig) Timeout() time.Duration { return secs(c.TimeoutSeconds) }

// SESConfig holds AWS SES v2 settings. Empty keys use the default AWS
// credential chain.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// ResendConfig holds the transactional HTTP email API settings.
type ResendConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxRetries int    `yaml:"max_retries"`
}

// WebhookConfig holds delivery webhook integrity settings. Verification is
// skipped when the matching secret/flag is unset.
type WebhookConfig struct {
	ResendSigningSecret string   `yaml:"resend_signing_secret"`
	VerifySNSSignature  bool     `yaml:"verify_sns_signature"`
	SNSTopicARNs        []string `yaml:"sns_topic_arns"`
}

// SendingConfig controls campaign batch execution.
type SendingConfig struct {
	DefaultLimit            int   `yaml:"default_limit"`
	MaxLimit                int   `yaml:"max_limit"`
	Workers                 int   `yaml:"workers"`
	PaceMillis              int   `yaml:"pace_millis"`
	GlobalPerSecond         int   `yaml:"global_per_second"`
	ClaimTTLSeconds         int   `yaml:"claim_ttl_seconds"`
	RecipientTimeoutSeconds int   `yaml:"recipient_timeout_seconds"`
	DefaultPricePerEmail    int64 `yaml:"default_price_per_email"`
}

func (c SendingConfig) Pace() time.Duration             { return time.Duration(c.PaceMillis) * time.Millisecond }
func (c SendingConfig) ClaimTTL() time.Duration         { return secs(c.ClaimTTLSeconds) }
func (c SendingConfig) RecipientTimeout() time.Duration { return secs(c.RecipientTimeoutSeconds) }

// OAuthConfig holds the provider connection settings.
type OAuthConfig struct {
	// AppRedirectURL is where the callback sends the browser afterwards.
	AppRedirectURL string `yaml:"app_redirect_url"`
	// CallbackBaseURL is this service's public URL used to build redirect_uri.
	CallbackBaseURL string         `yaml:"callback_base_url"`
	ChangeLimit     int            `yaml:"change_limit"`
	StateTTLMinutes int            `yaml:"state_ttl_minutes"`
	LockTTLSeconds  int            `yaml:"lock_ttl_seconds"`
	Facebook        ProviderConfig `yaml:"facebook"`
	LinkedIn        ProviderConfig `yaml:"linkedin"`
}

func (c OAuthConfig) StateTTL() time.Duration { return time.Duration(c.StateTTLMinutes) * time.Minute }
func (c OAuthConfig) LockTTL() time.Duration  { return secs(c.LockTTLSeconds) }

// ProviderConfig is one OAuth application. The URL fields override the
// public endpoints.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	APIBaseURL   string   `yaml:"api_base_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RevokeURL    string   `yaml:"revoke_url"`
}

// Enabled reports whether the provider has credentials.
func (c ProviderConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

// SocialConfig holds publish pricing in credits.
type SocialConfig struct {
	TextCost       map[string]int64 `yaml:"text_cost"`
	ImageSurcharge int64            `yaml:"image_surcharge"`
}

// StorageConfig controls how post images are fetched.
type StorageConfig struct {
	S3Region            string `yaml:"s3_region"`
	MaxImageBytes       int64  `yaml:"max_image_bytes"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
}

func (c StorageConfig) FetchTimeout() time.Duration { return secs(c.FetchTimeoutSeconds) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.TrackingPort == 0 {
		cfg.Server.TrackingPort = 8081
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 120
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "session"
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8081"
	}
	cfg.Tracking.BaseURL = strings.TrimRight(cfg.Tracking.BaseURL, "/")
	if cfg.Tracking.FallbackURL == "" {
		cfg.Tracking.FallbackURL = "https://example.com"
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "ses"
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	if cfg.Email.SES.Region == "" {
		cfg.Email.SES.Region = "us-west-2"
	}
	if cfg.Email.Resend.BaseURL == "" {
		cfg.Email.Resend.BaseURL = "https://api.resend.com"
	}
	if cfg.Email.Resend.MaxRetries == 0 {
		cfg.Email.Resend.MaxRetries = 2
	}
	if cfg.Sending.DefaultLimit == 0 {
		cfg.Sending.DefaultLimit = 200
	}
	if cfg.Sending.MaxLimit == 0 {
		cfg.Sending.MaxLimit = 1000
	}
	if cfg.Sending.Workers == 0 {
		cfg.Sending.Workers = 4
	}
	if cfg.Sending.PaceMillis == 0 {
		cfg.Sending.PaceMillis = 50
	}
	if cfg.Sending.ClaimTTLSeconds == 0 {
		cfg.Sending.ClaimTTLSeconds = 600
	}
	if cfg.Sending.RecipientTimeoutSeconds == 0 {
		cfg.Sending.RecipientTimeoutSeconds = 20
	}
	if cfg.Sending.DefaultPricePerEmail == 0 {
		cfg.Sending.DefaultPricePerEmail = 1
	}
	if cfg.OAuth.ChangeLimit == 0 {
		cfg.OAuth.ChangeLimit = 2
	}
	if cfg.OAuth.StateTTLMinutes == 0 {
		cfg.OAuth.StateTTLMinutes = 15
	}
	if cfg.OAuth.LockTTLSeconds == 0 {
		cfg.OAuth.LockTTLSeconds = 30
	}
	if cfg.OAuth.AppRedirectURL == "" {
		cfg.OAuth.AppRedirectURL = "http://localhost:3000"
	}
	if cfg.OAuth.CallbackBaseURL == "" {
		cfg.OAuth.CallbackBaseURL = "http://localhost:8080"
	}
	if cfg.Social.TextCost == nil {
		cfg.Social.TextCost = map[string]int64{"facebook": 1, "linkedin": 1}
	}
	if cfg.Social.ImageSurcharge == 0 {
		cfg.Social.ImageSurcharge = 1
	}
	if cfg.Storage.S3Region == "" {
		cfg.Storage.S3Region = cfg.Email.SES.Region
	}
	if cfg.Storage.MaxImageBytes == 0 {
		cfg.Storage.MaxImageBytes = 8 << 20
	}
	if cfg.Storage.FetchTimeoutSeconds == 0 {
		cfg.Storage.FetchTimeoutSeconds = 20
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"DATABASE_URL":            &cfg.Database.URL,
		"REDIS_URL":               &cfg.Redis.URL,
		"LOG_LEVEL":               &cfg.Log.Level,
		"JWT_SECRET":              &cfg.Auth.JWTSecret,
		"ADMIN_TOKEN":             &cfg.Auth.AdminToken,
		"TRACKING_BASE_URL":       &cfg.Tracking.BaseURL,
		"TRACKING_FALLBACK_URL":   &cfg.Tracking.FallbackURL,
		"EMAIL_PROVIDER":          &cfg.Email.Provider,
		"AWS_SES_ACCESS_KEY":      &cfg.Email.SES.AccessKey,
		"AWS_SES_SECRET_KEY":      &cfg.Email.SES.SecretKey,
		"AWS_SES_REGION":          &cfg.Email.SES.Region,
		"SES_CONFIGURATION_SET":   &cfg.Email.SES.ConfigurationSet,
		"RESEND_API_KEY":          &cfg.Email.Resend.APIKey,
		"RESEND_WEBHOOK_SECRET":   &cfg.Email.Webhooks.ResendSigningSecret,
		"APP_REDIRECT_URL":        &cfg.OAuth.AppRedirectURL,
		"OAUTH_CALLBACK_BASE_URL": &cfg.OAuth.CallbackBaseURL,
		"FACEBOOK_CLIENT_ID":      &cfg.OAuth.Facebook.ClientID,
		"FACEBOOK_CLIENT_SECRET":  &cfg.OAuth.Facebook.ClientSecret,
		"LINKEDIN_CLIENT_ID":      &cfg.OAuth.LinkedIn.ClientID,
		"LINKEDIN_CLIENT_SECRET":  &cfg.OAuth.LinkedIn.ClientSecret,
		"STORAGE_S3_REGION":       &cfg.Storage.S3Region,
	}
	for env, dst := range overrides {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("OAUTH_CHANGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OAuth.ChangeLimit = n
		}
	}
	if v := os.Getenv("VERIFY_SNS_SIGNATURE"); v != "" {
		cfg.Email.Webhooks.VerifySNSSignature = v == "true" || v == "1"
	}
	cfg.Tracking.BaseURL = strings.TrimRight(cfg.Tracking.BaseURL, "/")

	return cfg, nil
}
