// Package config provides the configuration system for tap-adp.
// It defines a single Config structure covering credentials, stream
// selection, transformation rules, and reliability settings, and validates
// everything eagerly so that misconfiguration fails before any network call.
package config

import (
	"strings"
	"time"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/transform"
)

// Auth modes supported by the upstream API.
const (
	// AuthModeMutualTLS performs the OAuth exchange over a channel secured
	// with the client certificate pair. This is what ADP requires.
	AuthModeMutualTLS = "mtls"
	// AuthModeOAuth performs a plain client-credentials exchange
	AuthModeOAuth = "oauth"
)

// Credentials holds the OAuth client pair and the mTLS certificate pair.
// All fields are sensitive: they live only in memory and are never logged.
type Credentials struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	// CertPublic is the PEM-encoded client certificate
	CertPublic string `yaml:"cert_public" json:"cert_public"`
	// CertPrivate is the PEM-encoded client private key
	CertPrivate string `yaml:"cert_private" json:"cert_private"`
}

// ReliabilityConfig contains retry, rate limit, and timeout settings
type ReliabilityConfig struct {
	// RetryAttempts sets the maximum attempts for a transient failure
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RateLimitPerSec limits API requests per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// RequestTimeout bounds a single HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// Config is the full tap configuration
type Config struct {
	// APIURL is the upstream API root
	APIURL string `yaml:"api_url" json:"api_url"`
	// AuthURL is the OAuth token endpoint
	AuthURL string `yaml:"auth_url" json:"auth_url"`
	// AuthMode selects the authentication handshake (mtls or oauth)
	AuthMode string `yaml:"auth_mode" json:"auth_mode"`
	// UserAgent is sent with every request
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	Credentials Credentials `yaml:"credentials" json:"credentials"`

	// StartDate is the initial bookmark for incremental streams that have
	// never been synced (ISO-8601 date)
	StartDate string `yaml:"start_date" json:"start_date"`

	// Select lists stream selection patterns. An entry is either a stream
	// name or "stream.field"; "*" matches one whole segment.
	Select []string `yaml:"select" json:"select"`

	// StreamMaps holds declarative per-stream transformation rules
	StreamMaps map[string][]transform.Rule `yaml:"stream_maps" json:"stream_maps"`

	// FlattenMaxDepth bounds nested-object expansion; deeper values are
	// serialized as opaque JSON strings
	FlattenMaxDepth int `yaml:"flatten_max_depth" json:"flatten_max_depth"`

	// PageSize is the records-per-page window for paginated streams
	PageSize int `yaml:"page_size" json:"page_size"`

	// CheckpointEvery bounds the checkpoint cadence: a state message is
	// emitted at least every N records per stream
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`

	// MaxParallelStreams bounds cross-stream parallelism. Pagination within
	// one stream is always sequential.
	MaxParallelStreams int `yaml:"max_parallel_streams" json:"max_parallel_streams"`

	// SchemaViolationLimit aborts a stream after this many records have
	// violated its declared schema
	SchemaViolationLimit int `yaml:"schema_violation_limit" json:"schema_violation_limit"`

	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a Config with production defaults for the ADP API
func NewConfig() *Config {
	return &Config{
		APIURL:    "https://api.adp.com",
		AuthURL:   "https://accounts.adp.com/auth/oauth/v2/token",
		AuthMode:  AuthModeMutualTLS,
		UserAgent: "tap-adp/" + Version,
		Reliability: ReliabilityConfig{
			RetryAttempts:   5,
			RetryDelay:      time.Second,
			MaxRetryDelay:   2 * time.Minute,
			RateLimitPerSec: 0,
			RequestTimeout:  60 * time.Second,
		},
		FlattenMaxDepth:      2,
		PageSize:             100,
		CheckpointEvery:      1000,
		MaxParallelStreams:   1,
		SchemaViolationLimit: 20,
		LogLevel:             "info",
	}
}

// Version is the tap version reported by about and the default User-Agent
const Version = "0.2.0"

// Validate checks the configuration for completeness. It runs before any
// network call so that credential or rule problems surface as config errors
// at startup rather than mid-extraction.
func (c *Config) Validate() error {
	if c.Credentials.ClientID == "" {
		return errors.New(errors.ErrorTypeConfig, "client_id is required")
	}
	if c.Credentials.ClientSecret == "" {
		return errors.New(errors.ErrorTypeConfig, "client_secret is required")
	}

	switch c.AuthMode {
	case AuthModeMutualTLS:
		if c.Credentials.CertPublic == "" {
			return errors.New(errors.ErrorTypeConfig, "cert_public is required for mutual TLS")
		}
		if c.Credentials.CertPrivate == "" {
			return errors.New(errors.ErrorTypeConfig, "cert_private is required for mutual TLS")
		}
	case AuthModeOAuth:
		// no certificate pair needed
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown auth_mode %q", c.AuthMode)
	}

	if c.StartDate != "" {
		if _, err := ParseStartDate(c.StartDate); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid start_date")
		}
	}

	for _, pattern := range c.Select {
		if strings.TrimSpace(pattern) == "" {
			return errors.New(errors.ErrorTypeConfig, "empty stream selection pattern")
		}
	}

	// Malformed mapping rules are a configuration error, surfaced here and
	// never at record time
	for stream, rules := range c.StreamMaps {
		if _, err := transform.Compile(rules, c.FlattenMaxDepth); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid stream map for "+stream)
		}
	}

	if c.PageSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "page_size must be positive")
	}
	if c.CheckpointEvery <= 0 {
		return errors.New(errors.ErrorTypeConfig, "checkpoint_every must be positive")
	}
	if c.MaxParallelStreams <= 0 {
		return errors.New(errors.ErrorTypeConfig, "max_parallel_streams must be positive")
	}
	if c.Reliability.RetryAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "retry_attempts cannot be negative")
	}
	if c.FlattenMaxDepth < 0 {
		return errors.New(errors.ErrorTypeConfig, "flatten_max_depth cannot be negative")
	}

	return nil
}

// ParseStartDate parses the configured start date, accepting either a bare
// ISO-8601 date or a full RFC 3339 timestamp.
func ParseStartDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
