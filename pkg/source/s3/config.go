// Package s3 opens upload inputs from AWS S3 and S3-compatible storage.
//
// References take the form s3://bucket/key. One Source serves any bucket
// the configured credentials can read.
package s3

// Config configures an S3 source.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// AccessKeyID/SecretAccessKey are set: environment variables, shared
// credentials and config files (optionally a named Profile), then
// instance or task roles.
//
// For S3-compatible stores (MinIO, Wasabi) set Endpoint and usually
// ForcePathStyle.
type Config struct {
	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when
	// neither config nor environment resolve one.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the shared config profile name.
	Profile string

	// AccessKeyID is an explicit access key. Requires SecretAccessKey.
	AccessKeyID string

	// SecretAccessKey is the explicit secret key.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path).
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
