package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the retrieval engine configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	AI        AIConfig        `yaml:"ai"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AuthConfig holds API authentication settings. An empty key list disables
// authentication entirely.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the Postgres system-of-record connection settings.
type DatabaseConfig struct {
	DSN              string `yaml:"dsn"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
}

// AIConfig holds the OpenAI-compatible provider settings for embeddings and
// completions.
type AIConfig struct {
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	CompletionModel string  `yaml:"completion_model"`
	Dimensions      int     `yaml:"dimensions"`
	Temperature     float32 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	TimeoutSec      int     `yaml:"timeout_sec"`
}

// RetrievalConfig holds the tuning knobs of the retrieval core. The defaults
// are empirical; they are configuration, not correctness invariants.
type RetrievalConfig struct {
	IndexTTLMin        int     `yaml:"index_ttl_min"`        // tenant snapshot freshness window
	LoadRetries        int     `yaml:"load_retries"`         // attempts per tenant load
	LoadBackoffSec     int     `yaml:"load_backoff_sec"`     // fixed pause between attempts
	EmbeddingTTLHours  int     `yaml:"embedding_ttl_hours"`  // embedding cache TTL
	EmbeddingCacheSize int     `yaml:"embedding_cache_size"` // embedding cache entry cap
	ExpansionTTLMin    int     `yaml:"expansion_ttl_min"`    // expansion cache TTL
	ResultTTLMin       int     `yaml:"result_ttl_min"`       // search-result cache TTL
	SearchFanout       int     `yaml:"search_fanout"`        // per-list candidate cap
	FuseLimit          int     `yaml:"fuse_limit"`           // candidates kept after RRF
	ResultLimit        int     `yaml:"result_limit"`         // final cap returned to callers
	RRFK               int     `yaml:"rrf_k"`                // RRF smoothing constant
	VarianceThreshold  float64 `yaml:"variance_threshold"`   // re-rank gate: score variance
	RatioThreshold     float64 `yaml:"ratio_threshold"`      // re-rank gate: top/second ratio
}

// RateLimitConfig holds per-caller throttle settings.
type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// IndexTTL returns the tenant snapshot TTL as a duration.
func (r RetrievalConfig) IndexTTL() time.Duration {
	return time.Duration(r.IndexTTLMin) * time.Minute
}

// LoadBackoff returns the fixed pause between load attempts.
func (r RetrievalConfig) LoadBackoff() time.Duration {
	return time.Duration(r.LoadBackoffSec) * time.Second
}

// EmbeddingTTL returns the embedding cache TTL.
func (r RetrievalConfig) EmbeddingTTL() time.Duration {
	return time.Duration(r.EmbeddingTTLHours) * time.Hour
}

// ExpansionTTL returns the expansion cache TTL.
func (r RetrievalConfig) ExpansionTTL() time.Duration {
	return time.Duration(r.ExpansionTTLMin) * time.Minute
}

// ResultTTL returns the search-result cache TTL.
func (r RetrievalConfig) ResultTTL() time.Duration {
	return time.Duration(r.ResultTTLMin) * time.Minute
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.AI.Temperature <= 0 {
		c.AI.Temperature = 0.3
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 300
	}
	if c.AI.TimeoutSec <= 0 {
		c.AI.TimeoutSec = 30
	}
	if c.Retrieval.IndexTTLMin <= 0 {
		c.Retrieval.IndexTTLMin = 15
	}
	if c.Retrieval.LoadRetries <= 0 {
		c.Retrieval.LoadRetries = 3
	}
	if c.Retrieval.LoadBackoffSec <= 0 {
		c.Retrieval.LoadBackoffSec = 5
	}
	if c.Retrieval.EmbeddingTTLHours <= 0 {
		c.Retrieval.EmbeddingTTLHours = 24
	}
	if c.Retrieval.EmbeddingCacheSize <= 0 {
		c.Retrieval.EmbeddingCacheSize = 1000
	}
	if c.Retrieval.ExpansionTTLMin <= 0 {
		c.Retrieval.ExpansionTTLMin = 60
	}
	if c.Retrieval.ResultTTLMin <= 0 {
		c.Retrieval.ResultTTLMin = 5
	}
	if c.Retrieval.SearchFanout <= 0 {
		c.Retrieval.SearchFanout = 20
	}
	if c.Retrieval.FuseLimit <= 0 {
		c.Retrieval.FuseLimit = 10
	}
	if c.Retrieval.ResultLimit <= 0 {
		c.Retrieval.ResultLimit = 8
	}
	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.VarianceThreshold <= 0 {
		c.Retrieval.VarianceThreshold = 0.1
	}
	if c.Retrieval.RatioThreshold <= 0 {
		c.Retrieval.RatioThreshold = 1.3
	}
	if c.RateLimit.RequestsPerMin <= 0 {
		c.RateLimit.RequestsPerMin = 30
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Retrieval.FuseLimit > c.Retrieval.SearchFanout {
		return fmt.Errorf(
			"retrieval.fuse_limit (%d) must not exceed retrieval.search_fanout (%d)",
			c.Retrieval.FuseLimit, c.Retrieval.SearchFanout,
		)
	}
	if c.Retrieval.ResultLimit > c.Retrieval.FuseLimit {
		return fmt.Errorf(
			"retrieval.result_limit (%d) must not exceed retrieval.fuse_limit (%d)",
			c.Retrieval.ResultLimit, c.Retrieval.FuseLimit,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
