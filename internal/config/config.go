package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Config holds the imgdex service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig maps API keys to teams. No keys means the team comes from X-Team-ID.
type AuthConfig struct {
	Keys []APIKey `yaml:"keys"`
}

// APIKey binds one bearer token to a team.
type APIKey struct {
	Key    string `yaml:"key"`
	TeamID string `yaml:"team_id"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the embedding backend settings.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // openai, fake
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	ModelVersion   string `yaml:"model_version"`
	Dimensions     int    `yaml:"dimensions"`
	SendDimensions bool   `yaml:"send_dimensions"`
	Normalized     bool   `yaml:"normalized"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBaseMS  int    `yaml:"backoff_base_ms"`
	BackoffMaxMS   int    `yaml:"backoff_max_ms"`
	Cache          bool   `yaml:"cache"`
	CacheTTLSec    int    `yaml:"cache_ttl_sec"` // 0 = no expiry
}

// IndexConfig holds the vector index and search settings.
type IndexConfig struct {
	Backend          string   `yaml:"backend"` // redis
	OversampleFactor int      `yaml:"oversample_factor"`
	MaxRequery       int      `yaml:"max_requery"`
	MaxK             int      `yaml:"max_k"`
	DefaultPageSize  int      `yaml:"default_page_size"`
	MaxPageSize      int      `yaml:"max_page_size"`
	MaxOffset        int      `yaml:"max_offset"` // page*page_size bound
	Algorithm        string   `yaml:"algorithm"` // hnsw, flat
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	ReadVersions     []string `yaml:"read_versions"` // older generations still served
	TimeoutMS        int      `yaml:"timeout_ms"`
}

// ReconcileConfig holds the consistency tracker settings.
type ReconcileConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Stream        string  `yaml:"stream"`
	BlockMS       int     `yaml:"block_ms"`
	Batch         int     `yaml:"batch"`
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffBaseMS int     `yaml:"backoff_base_ms"`
	BackoffMaxMS  int     `yaml:"backoff_max_ms"`
	RatePerSec    float64 `yaml:"rate_per_sec"` // 0 = unlimited
	Burst         int     `yaml:"burst"`
	TickMS        int     `yaml:"tick_ms"` // pause after a failed feed read
	// BackfillOnStart scans the corpus at startup and indexes images missing the current model version.
	BackfillOnStart bool `yaml:"backfill_on_start"`
}

// CorpusConfig tells where image bytes live.
type CorpusConfig struct {
	BytesSource string   `yaml:"bytes_source"` // redis, s3
	S3          S3Config `yaml:"s3"`
}

// S3Config holds object storage settings.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// AnalyticsConfig holds search event settings.
type AnalyticsConfig struct {
	Buffer       int    `yaml:"buffer"`
	Stream       string `yaml:"stream"` // empty = log sink only
	StreamMaxLen int64  `yaml:"stream_max_len"`
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
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	e := &c.Embedding
	if e.Provider == "" {
		e.Provider = "openai"
	}
	if e.ModelVersion == "" {
		e.ModelVersion = domain.DefaultModelVersion
	}
	if e.Dimensions <= 0 {
		e.Dimensions = domain.DefaultDimensions
	}
	if e.TimeoutMS <= 0 {
		e.TimeoutMS = 10000
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.BackoffBaseMS <= 0 {
		e.BackoffBaseMS = 200
	}
	if e.BackoffMaxMS <= 0 {
		e.BackoffMaxMS = 2000
	}

	x := &c.Index
	if x.Backend == "" {
		x.Backend = "redis"
	}
	if x.OversampleFactor <= 0 {
		x.OversampleFactor = domain.DefaultOversampleFactor
	}
	if x.MaxRequery <= 0 {
		x.MaxRequery = 3
	}
	if x.MaxK <= 0 {
		x.MaxK = 1000
	}
	if x.DefaultPageSize <= 0 {
		x.DefaultPageSize = domain.DefaultPageSize
	}
	if x.MaxPageSize <= 0 {
		x.MaxPageSize = domain.DefaultMaxPageSize
	}
	if x.MaxOffset <= 0 {
		x.MaxOffset = domain.DefaultMaxOffset
	}
	if x.Algorithm == "" {
		x.Algorithm = "hnsw"
	}
	if x.HNSWM <= 0 {
		x.HNSWM = 16
	}
	if x.HNSWEFConstruct <= 0 {
		x.HNSWEFConstruct = 200
	}
	if x.TimeoutMS <= 0 {
		x.TimeoutMS = 5000
	}

	r := &c.Reconcile
	if r.Stream == "" {
		r.Stream = "corpus"
	}
	if r.BlockMS <= 0 {
		r.BlockMS = 2000
	}
	if r.Batch <= 0 {
		r.Batch = 100
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.BackoffBaseMS <= 0 {
		r.BackoffBaseMS = 1000
	}
	if r.BackoffMaxMS <= 0 {
		r.BackoffMaxMS = 60000
	}
	if r.TickMS <= 0 {
		r.TickMS = 1000
	}

	if c.Corpus.BytesSource == "" {
		c.Corpus.BytesSource = "redis"
	}
	if c.Analytics.Buffer <= 0 {
		c.Analytics.Buffer = 1024
	}
	if c.Analytics.StreamMaxLen <= 0 {
		c.Analytics.StreamMaxLen = 100000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}

	for i, k := range c.Auth.Keys {
		if k.Key == "" || k.TeamID == "" {
			return fmt.Errorf("auth.keys[%d] needs both key and team_id", i)
		}
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for provider \"openai\"")
		}
	case "fake":
	default:
		return fmt.Errorf("embedding.provider must be \"openai\" or \"fake\", got %q", c.Embedding.Provider)
	}
	if !db.IsValidIdentifier(c.Embedding.ModelVersion) {
		return fmt.Errorf("embedding.model_version %q may contain only letters, digits, '_', ':' and '-'",
			c.Embedding.ModelVersion)
	}
	for _, v := range c.Index.ReadVersions {
		if !db.IsValidIdentifier(v) {
			return fmt.Errorf("index.read_versions: invalid model version %q", v)
		}
	}

	switch c.Index.Backend {
	case "redis":
	case "memory":
		// у сервера нет пути записи в память: такой индекс навсегда пуст
		return fmt.Errorf("index.backend \"memory\" has no write path in the server; use pkg/sdk for in-process indexing")
	default:
		return fmt.Errorf("index.backend must be \"redis\", got %q", c.Index.Backend)
	}
	if c.Index.Algorithm != "hnsw" && c.Index.Algorithm != "flat" {
		return fmt.Errorf("index.algorithm must be \"hnsw\" or \"flat\", got %q", c.Index.Algorithm)
	}
	if c.Index.DefaultPageSize > c.Index.MaxPageSize {
		return fmt.Errorf("index.default_page_size %d exceeds index.max_page_size %d",
			c.Index.DefaultPageSize, c.Index.MaxPageSize)
	}

	if c.Reconcile.Enabled {
		if !db.IsValidIdentifier(c.Reconcile.Stream) {
			return fmt.Errorf("reconcile.stream %q is not a valid identifier", c.Reconcile.Stream)
		}
	}

	switch c.Corpus.BytesSource {
	case "redis":
	case "s3":
		if c.Corpus.S3.Bucket == "" {
			return fmt.Errorf("corpus.s3.bucket is required for bytes_source \"s3\"")
		}
	default:
		return fmt.Errorf("corpus.bytes_source must be \"redis\" or \"s3\", got %q", c.Corpus.BytesSource)
	}

	if s := c.Analytics.Stream; s != "" && !db.IsValidIdentifier(s) {
		return fmt.Errorf("analytics.stream %q is not a valid identifier", s)
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
