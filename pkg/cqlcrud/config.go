package cqlcrud

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/executor"
)

// Config carries connection and policy settings for a client. Zero values
// are filled from defaults; every field can also come from a CQLCRUD_*
// environment variable or a YAML file.
type Config struct {
	ContactPoints   []string `yaml:"contact_points"`
	Port            int      `yaml:"port"`
	Keyspace        string   `yaml:"keyspace"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	ProtocolVersion int      `yaml:"protocol_version"`
	PoolSize        int      `yaml:"pool_size"`

	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Consistency is the default replica acknowledgment level, e.g.
	// "QUORUM" or "LOCAL_ONE". Per-call options can override it.
	Consistency string `yaml:"consistency"`

	// RetryPolicy selects how transient failures are retried: "none",
	// "fixed" or "exponential". Only idempotent statements are retried.
	RetryPolicy      string        `yaml:"retry_policy"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`

	BatchSizeLimit    int `yaml:"batch_size_limit"`
	PreparedCacheSize int `yaml:"prepared_cache_size"`

	MetadataRetries int           `yaml:"metadata_retries"`
	MetadataBackoff time.Duration `yaml:"metadata_backoff"`
	// EagerDiscovery discovers every table at connect time instead of on
	// first access.
	EagerDiscovery bool `yaml:"eager_discovery"`

	SSL                 bool   `yaml:"ssl"`
	SSLCert             string `yaml:"ssl_cert"`
	SSLKey              string `yaml:"ssl_key"`
	SSLRootCert         string `yaml:"ssl_root_cert"`
	SSLHostVerification bool   `yaml:"ssl_host_verification"`

	Compression bool `yaml:"compression"`

	// Logger receives structured connection and retry logs. Nil means
	// no logging.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the built-in defaults with CQLCRUD_* environment
// overrides applied. Assign fields after calling it to override both.
func DefaultConfig() Config {
	cfg := baseConfig()
	cfg.applyEnv()
	return cfg
}

// LoadConfig reads a YAML file over the built-in defaults, then applies
// CQLCRUD_* environment overrides. Precedence is explicit assignment, then
// environment, then file, then defaults.
func LoadConfig(path string) (Config, error) {
	cfg := baseConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func baseConfig() Config {
	return Config{
		ContactPoints:     []string{"127.0.0.1"},
		Port:              9042,
		ProtocolVersion:   4,
		PoolSize:          2,
		Timeout:           10 * time.Second,
		ConnectTimeout:    10 * time.Second,
		Consistency:       "QUORUM",
		RetryPolicy:       "none",
		MaxRetries:        3,
		RetryBackoffBase:  100 * time.Millisecond,
		RetryBackoffMax:   2 * time.Second,
		BatchSizeLimit:    50,
		PreparedCacheSize: 512,
		MetadataRetries:   3,
		MetadataBackoff:   250 * time.Millisecond,
	}
}

func (c *Config) applyEnv() {
	c.ContactPoints = getEnvList("CQLCRUD_CONTACT_POINTS", c.ContactPoints)
	c.Port = getEnvInt("CQLCRUD_PORT", c.Port)
	c.Keyspace = getEnvString("CQLCRUD_KEYSPACE", c.Keyspace)
	c.Username = getEnvString("CQLCRUD_USERNAME", c.Username)
	c.Password = getEnvString("CQLCRUD_PASSWORD", c.Password)
	c.ProtocolVersion = getEnvInt("CQLCRUD_PROTOCOL_VERSION", c.ProtocolVersion)
	c.PoolSize = getEnvInt("CQLCRUD_POOL_SIZE", c.PoolSize)
	c.Timeout = getEnvDuration("CQLCRUD_TIMEOUT", c.Timeout)
	c.ConnectTimeout = getEnvDuration("CQLCRUD_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.Consistency = getEnvString("CQLCRUD_CONSISTENCY", c.Consistency)
	c.RetryPolicy = getEnvString("CQLCRUD_RETRY_POLICY", c.RetryPolicy)
	c.MaxRetries = getEnvInt("CQLCRUD_MAX_RETRIES", c.MaxRetries)
	c.RetryBackoffBase = getEnvDuration("CQLCRUD_RETRY_BACKOFF_BASE", c.RetryBackoffBase)
	c.RetryBackoffMax = getEnvDuration("CQLCRUD_RETRY_BACKOFF_MAX", c.RetryBackoffMax)
	c.BatchSizeLimit = getEnvInt("CQLCRUD_BATCH_SIZE_LIMIT", c.BatchSizeLimit)
	c.PreparedCacheSize = getEnvInt("CQLCRUD_PREPARED_CACHE_SIZE", c.PreparedCacheSize)
	c.MetadataRetries = getEnvInt("CQLCRUD_METADATA_RETRIES", c.MetadataRetries)
	c.MetadataBackoff = getEnvDuration("CQLCRUD_METADATA_BACKOFF", c.MetadataBackoff)
	c.EagerDiscovery = getEnvBool("CQLCRUD_EAGER_DISCOVERY", c.EagerDiscovery)
	c.SSL = getEnvBool("CQLCRUD_SSL", c.SSL)
	c.SSLCert = getEnvString("CQLCRUD_SSL_CERT", c.SSLCert)
	c.SSLKey = getEnvString("CQLCRUD_SSL_KEY", c.SSLKey)
	c.SSLRootCert = getEnvString("CQLCRUD_SSL_ROOT_CERT", c.SSLRootCert)
	c.SSLHostVerification = getEnvBool("CQLCRUD_SSL_HOST_VERIFICATION", c.SSLHostVerification)
	c.Compression = getEnvBool("CQLCRUD_COMPRESSION", c.Compression)
}

func (c *Config) validate() error {
	if len(c.ContactPoints) == 0 {
		return fmt.Errorf("at least one contact point is required")
	}
	if c.Keyspace == "" {
		return fmt.Errorf("keyspace is required")
	}
	if _, err := driver.ParseConsistency(c.Consistency); err != nil {
		return err
	}
	if _, err := parseRetryMode(c.RetryPolicy); err != nil {
		return err
	}
	return nil
}

func (c *Config) driverConfig() (driver.GocqlConfig, error) {
	consistency, err := driver.ParseConsistency(c.Consistency)
	if err != nil {
		return driver.GocqlConfig{}, err
	}
	return driver.GocqlConfig{
		Hosts:               c.ContactPoints,
		Port:                c.Port,
		Keyspace:            c.Keyspace,
		Username:            c.Username,
		Password:            c.Password,
		ProtocolVersion:     c.ProtocolVersion,
		PoolSize:            c.PoolSize,
		Timeout:             c.Timeout,
		ConnectTimeout:      c.ConnectTimeout,
		Consistency:         consistency,
		SSL:                 c.SSL,
		SSLCert:             c.SSLCert,
		SSLKey:              c.SSLKey,
		SSLRootCert:         c.SSLRootCert,
		SSLHostVerification: c.SSLHostVerification,
		Compression:         c.Compression,
	}, nil
}

func (c *Config) policy() (executor.Policy, error) {
	consistency, err := driver.ParseConsistency(c.Consistency)
	if err != nil {
		return executor.Policy{}, err
	}
	mode, err := parseRetryMode(c.RetryPolicy)
	if err != nil {
		return executor.Policy{}, err
	}
	attempts := 1
	if mode != executor.RetryNone {
		attempts = c.MaxRetries + 1
	}
	return executor.Policy{
		Consistency: consistency,
		RetryMode:   mode,
		MaxAttempts: attempts,
		BackoffBase: c.RetryBackoffBase,
		BackoffMax:  c.RetryBackoffMax,
		BatchSize:   c.BatchSizeLimit,
	}, nil
}

func parseRetryMode(s string) (executor.RetryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return executor.RetryNone, nil
	case "fixed":
		return executor.RetryFixed, nil
	case "exponential":
		return executor.RetryExponential, nil
	default:
		return executor.RetryNone, fmt.Errorf("unknown retry policy %q", s)
	}
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
