// Package config loads filecast configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML config file,
// FILECAST_* environment variables, runtime overrides (command-line flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "FILECAST"

// Config is the typed configuration for one invocation.
type Config struct {
	// Endpoint is the base URL of the remote store.
	Endpoint string `mapstructure:"endpoint"`

	// APIKey is the store credential. It is normally resolved from
	// --key-file or FILECAST_API_KEY rather than the config file.
	APIKey string `mapstructure:"api_key"`

	Transport  TransportConfig  `mapstructure:"transport"`
	List       ListConfig       `mapstructure:"list"`
	Delete     DeleteConfig     `mapstructure:"delete"`
	Activation ActivationConfig `mapstructure:"activation"`
	Query      QueryConfig      `mapstructure:"query"`
	Source     SourceConfig     `mapstructure:"source"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// TransportConfig holds HTTP client timeouts.
type TransportConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ListConfig controls snapshot pagination.
type ListConfig struct {
	PageSize  int           `mapstructure:"page_size"`
	PagePause time.Duration `mapstructure:"page_pause"`
}

// DeleteConfig controls the delete throttle.
type DeleteConfig struct {
	Pause   time.Duration `mapstructure:"pause"`
	Workers int           `mapstructure:"workers"`
	Strict  bool          `mapstructure:"strict"`
}

// ActivationConfig controls the activation poller.
type ActivationConfig struct {
	// Delays between polling rounds; the number of delays plus one is
	// the number of rounds.
	Delays  []time.Duration `mapstructure:"delays"`
	Workers int             `mapstructure:"workers"`

	// Backoff is "fixed" (use Delays) or "exponential" (double from
	// BaseDelay up to MaxDelay for Rounds rounds).
	Backoff   string        `mapstructure:"backoff"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	Rounds    int           `mapstructure:"rounds"`
}

// Activation backoff kinds.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// QueryConfig holds generation defaults.
type QueryConfig struct {
	Model           string  `mapstructure:"model"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	TopK            int     `mapstructure:"top_k"`
}

// SourceConfig configures remote upload sources.
type SourceConfig struct {
	S3 S3SourceConfig `mapstructure:"s3"`
}

// S3SourceConfig configures the s3:// source.
type S3SourceConfig struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// LoggingConfig controls the diagnostic logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// EnvSpec maps an environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "https://generativelanguage.googleapis.com")
	v.SetDefault("api_key", "")

	v.SetDefault("transport.connect_timeout", "10s")
	v.SetDefault("transport.request_timeout", "120s")
	v.SetDefault("transport.upload_timeout", "10m")
	v.SetDefault("transport.user_agent", "")

	v.SetDefault("list.page_size", 100)
	v.SetDefault("list.page_pause", "500ms")

	v.SetDefault("delete.pause", "200ms")
	v.SetDefault("delete.workers", 1)
	v.SetDefault("delete.strict", false)

	v.SetDefault("activation.delays", []string{"5s", "10s", "20s", "60s"})
	v.SetDefault("activation.workers", 1)
	v.SetDefault("activation.backoff", BackoffFixed)
	v.SetDefault("activation.base_delay", "5s")
	v.SetDefault("activation.max_delay", "60s")
	v.SetDefault("activation.rounds", 5)

	v.SetDefault("query.model", "gemini-1.5-flash")
	v.SetDefault("query.max_output_tokens", 8192)
	v.SetDefault("query.temperature", 0.2)
	v.SetDefault("query.top_p", 0.95)
	v.SetDefault("query.top_k", 40)

	v.SetDefault("source.s3.region", "")
	v.SetDefault("source.s3.endpoint", "")
	v.SetDefault("source.s3.profile", "")
	v.SetDefault("source.s3.force_path_style", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", LogFormatConsole)
}

// getEnvSpecs lists the short environment names accepted in addition to
// the automatic FILECAST_<SECTION>_<KEY> form.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "_ENDPOINT", Path: "endpoint"},
		{Name: EnvPrefix + "_API_KEY", Path: "api_key"},
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_FORMAT", Path: "logging.format"},
		{Name: EnvPrefix + "_MODEL", Path: "query.model"},
		{Name: EnvPrefix + "_POLL_DELAYS", Path: "activation.delays"},
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/filecast/config.yaml (or the
// platform equivalent). It returns "" when no config directory is known.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "filecast", "config.yaml")
}

// Options selects the config file for Load.
type Options struct {
	// File is an explicit config file. A missing explicit file is an error.
	File string

	// SkipDefaultFile disables reading DefaultConfigPath.
	SkipDefaultFile bool
}

// Load builds the configuration with the default file lookup.
// Overrides are applied last, in order.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadWithOptions(ctx, Options{}, overrides...)
}

// LoadWithOptions builds the configuration from the given file selection.
func LoadWithOptions(ctx context.Context, opts Options, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v, opts); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, envKey(spec.Path), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToSliceHook(","),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Activation.Backoff = strings.ToLower(strings.TrimSpace(cfg.Activation.Backoff))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringToSliceHook splits comma lists from the environment into any
// slice type. Elements are decoded afterwards, so "1s,2s" can become a
// []time.Duration.
func stringToSliceHook(sep string) mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() == reflect.Uint8 {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// applyOverrides sets every leaf of o so overrides beat environment
// variables. Nested maps address nested keys.
func applyOverrides(v *viper.Viper, prefix string, o map[string]any) {
	for k, val := range o {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

func envKey(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

func readConfigFile(v *viper.Viper, opts Options) error {
	path := opts.File
	explicit := path != ""
	if !explicit {
		if opts.SkipDefaultFile {
			return nil
		}
		path = DefaultConfigPath()
		if path == "" {
			return nil
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Validate checks ranges and enumerations. Credential presence is checked
// by the commands that need it.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return &ValidationError{Key: "endpoint", Message: "must not be empty"}
	case c.Transport.ConnectTimeout < 0, c.Transport.RequestTimeout < 0, c.Transport.UploadTimeout < 0:
		return &ValidationError{Key: "transport", Message: "timeouts must not be negative"}
	case c.List.PageSize < 1 || c.List.PageSize > 100:
		return &ValidationError{Key: "list.page_size", Message: fmt.Sprintf("must be between 1 and 100, got %d", c.List.PageSize)}
	case c.List.PagePause < 0:
		return &ValidationError{Key: "list.page_pause", Message: "must not be negative"}
	case c.Delete.Pause < 0:
		return &ValidationError{Key: "delete.pause", Message: "must not be negative"}
	case c.Delete.Workers < 1:
		return &ValidationError{Key: "delete.workers", Message: "must be >= 1"}
	case c.Activation.Workers < 1:
		return &ValidationError{Key: "activation.workers", Message: "must be >= 1"}
	case c.Query.MaxOutputTokens < 1:
		return &ValidationError{Key: "query.max_output_tokens", Message: "must be >= 1"}
	case strings.TrimSpace(c.Query.Model) == "":
		return &ValidationError{Key: "query.model", Message: "must not be empty"}
	}
	for _, d := range c.Activation.Delays {
		if d < 0 {
			return &ValidationError{Key: "activation.delays", Message: "delays must not be negative"}
		}
	}
	switch c.Activation.Backoff {
	case BackoffFixed:
	case BackoffExponential:
		switch {
		case c.Activation.BaseDelay <= 0:
			return &ValidationError{Key: "activation.base_delay", Message: "must be > 0"}
		case c.Activation.MaxDelay < c.Activation.BaseDelay:
			return &ValidationError{Key: "activation.max_delay", Message: "must be >= activation.base_delay"}
		case c.Activation.Rounds < 1:
			return &ValidationError{Key: "activation.rounds", Message: "must be >= 1"}
		}
	default:
		return &ValidationError{Key: "activation.backoff", Message: fmt.Sprintf("unknown backoff %q", c.Activation.Backoff)}
	}
	switch c.Logging.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		return &ValidationError{Key: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Key: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	return nil
}
