package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file
// or not set by flags.
const (
	// DefaultMaxChunkBytes keeps each chunk comfortably under the
	// ingestion endpoint's request-size limit.
	DefaultMaxChunkBytes = 9 * 1024 * 1024

	// DefaultHeaderLine is the 1-based line number of the header row.
	DefaultHeaderLine = 1

	DefaultRetryAttempts = 3
	DefaultRetryBase     = 10 * time.Second
	DefaultRetryCap      = 60 * time.Second

	DefaultLogMaxBytes = 10 * 1024 * 1024
	DefaultLogBackups  = 5
)

// Config holds all settings for one chunkship invocation. In watch
// mode the same Config is reused for every discovered source file,
// with Source replaced per run.
type Config struct {
	// Source is the path of the CSV file to split and upload.
	// Required unless WatchDir is set.
	Source string `yaml:"source"`

	// HeaderLine is the 1-based line number of the header row; rows
	// before it are skipped. Values below 1 are treated as 1.
	HeaderLine int `yaml:"header_line"`

	// BaseURL is the ingestion gateway base URL, e.g.
	// "https://gateway.example.com/qps/rest".
	BaseURL string `yaml:"base_url"`

	// ConnectionUUID and ProfileUUID identify the connector target
	// in the upload endpoint path.
	ConnectionUUID string `yaml:"connection_uuid"`
	ProfileUUID    string `yaml:"profile_uuid"`

	// MaxChunkBytes is the serialized-row byte ceiling per chunk.
	MaxChunkBytes int64 `yaml:"max_chunk_bytes"`

	// Auth configures how upload credentials are obtained.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds transport security options for the gateway.
	TLS TLSConfig `yaml:"tls"`

	// Retry controls the per-chunk upload retry policy.
	Retry RetryConfig `yaml:"retry"`

	// Log configures the optional on-disk run log.
	Log LogConfig `yaml:"log"`

	// MetricsFile, when set, receives the run counters in Prometheus
	// text exposition format (textfile-collector layout).
	MetricsFile string `yaml:"metrics_file"`

	// WatchDir, when set, switches chunkship into watch mode: CSV
	// files appearing in this directory are uploaded as they settle.
	WatchDir string `yaml:"watch_dir"`
}

// AuthConfig specifies how the upload credentials are sourced.
//
// Two modes: literal Username/Password (intended for testing and
// ad-hoc runs), or UsernameEnv/PasswordEnv naming the environment
// variables that hold the real values. When the env-var names are set
// they win over the literals.
type AuthConfig struct {
	// Username is the literal account name (safe to store in config).
	Username string `yaml:"username"`

	// Password is the literal password. Prefer PasswordEnv.
	Password string `yaml:"password"`

	// UsernameEnv and PasswordEnv name the environment variables
	// holding the credentials. Set both or neither.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// Credentials resolves the username/password pair. When env-var names
// are configured, both variables must be present in the environment;
// a missing one is a configuration error, reported before any network
// call is made.
func (a AuthConfig) Credentials() (username, password string, err error) {
	if a.UsernameEnv == "" && a.PasswordEnv == "" {
		return a.Username, a.Password, nil
	}

	username, okU := os.LookupEnv(a.UsernameEnv)
	password, okP := os.LookupEnv(a.PasswordEnv)
	if !okU || !okP {
		return "", "", fmt.Errorf("credential env vars configured (%s, %s) but not set",
			a.UsernameEnv, a.PasswordEnv)
	}
	return username, password, nil
}

// TLSConfig holds transport security options for the gateway.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// RetryConfig controls the upload retry policy for one chunk.
type RetryConfig struct {
	// Attempts is the total upload attempt budget, first try included.
	Attempts int `yaml:"attempts"`

	// BaseWait is the wait before the first retry; each further wait
	// doubles, truncated at MaxWait.
	BaseWait time.Duration `yaml:"base_wait"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// LogConfig configures the optional rotated log file. An empty File
// leaves logging on stdout only.
type LogConfig struct {
	File     string `yaml:"file"`
	MaxBytes int64  `yaml:"max_bytes"`
	Backups  int    `yaml:"backups"`
}

// Load reads and parses the YAML config file at path. Missing optional
// fields are filled with defaults and the result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the YAML config file at path over the defaults, without
// validating. Callers that overlay further settings (command-line
// flags) call Validate themselves once the overlay is done.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values. Callers
// building a config from flags start here, then Validate.
func Default() *Config {
	return &Config{
		HeaderLine:    DefaultHeaderLine,
		MaxChunkBytes: DefaultMaxChunkBytes,
		Retry: RetryConfig{
			Attempts: DefaultRetryAttempts,
			BaseWait: DefaultRetryBase,
			MaxWait:  DefaultRetryCap,
		},
		Log: LogConfig{
			MaxBytes: DefaultLogMaxBytes,
			Backups:  DefaultLogBackups,
		},
	}
}

// Validate checks required fields and structural constraints.
func (c *Config) Validate() error {
	if c.Source == "" && c.WatchDir == "" {
		return fmt.Errorf("config: source is required (or watch_dir for watch mode)")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.ConnectionUUID == "" {
		return fmt.Errorf("config: connection_uuid is required")
	}
	if c.ProfileUUID == "" {
		return fmt.Errorf("config: profile_uuid is required")
	}
	if c.MaxChunkBytes <= 0 {
		return fmt.Errorf("config: max_chunk_bytes must be positive")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("config: retry.attempts must be at least 1")
	}
	if c.Retry.BaseWait < 0 || c.Retry.MaxWait < 0 {
		return fmt.Errorf("config: retry waits must not be negative")
	}
	if (c.Auth.UsernameEnv == "") != (c.Auth.PasswordEnv == "") {
		return fmt.Errorf("config: auth.username_env and auth.password_env must be set together")
	}
	if c.Log.File != "" {
		if c.Log.MaxBytes <= 0 {
			return fmt.Errorf("config: log.max_bytes must be positive")
		}
		if c.Log.Backups < 0 {
			return fmt.Errorf("config: log.backups must not be negative")
		}
	}
	return nil
}
