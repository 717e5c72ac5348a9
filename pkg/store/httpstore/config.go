// Package httpstore implements the store interfaces over the remote HTTP API.
package httpstore

import (
	"net/url"
	"strings"
	"time"
)

// Config configures an HTTP store client.
type Config struct {
	// Endpoint is the base URL of the API (required).
	// Example: https://generativelanguage.googleapis.com
	Endpoint string

	// APIKey is sent with every request (required).
	APIKey string

	// APIVersion is the path segment selecting the API surface.
	// Default: v1beta
	APIVersion string

	// ConnectTimeout bounds connection establishment, including TLS.
	// Default: 10s
	ConnectTimeout time.Duration

	// RequestTimeout bounds a whole call, from dial to the last body byte.
	// Default: 120s
	RequestTimeout time.Duration

	// UploadTimeout replaces RequestTimeout for upload initiation.
	// Default: 10m
	UploadTimeout time.Duration

	// DefaultPageSize is used when a List call does not set one.
	// Default: 100
	DefaultPageSize int

	// UserAgent is sent when non-empty.
	UserAgent string
}

// Defaults for zero-valued Config fields.
const (
	DefaultEndpoint       = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion     = "v1beta"
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 120 * time.Second
	DefaultUploadTimeout  = 10 * time.Minute
	DefaultPageSize       = 100

	// MaxPageSize is the largest page the store accepts.
	MaxPageSize = 100
)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return &ConfigError{Field: "Endpoint", Message: "endpoint is required"}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "Endpoint", Message: "endpoint must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "Endpoint", Message: "endpoint scheme must be http or https"}
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigError{Field: "APIKey", Message: "api key is required"}
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 || c.UploadTimeout < 0 {
		return &ConfigError{Field: "Timeouts", Message: "timeouts must not be negative"}
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = DefaultPageSize
	}
	return c
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "httpstore config: " + e.Field + ": " + e.Message
}
