package imgdex

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	addrs    []string
	password string

	embedder     Embedder
	openai       *openAIConfig
	fake         bool
	modelVersion string
	dimensions   int
	embedTimeout time.Duration

	hnswM            int
	hnswEFConstruct  int
	flatIndex        bool
	oversampleFactor int
	defaultPageSize  int
	maxPageSize      int

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

type openAIConfig struct {
	apiKey  string
	baseURL string
	model   string
}

// WithRedis stores the corpus and the vector index in a Redis 8+ instance.
// Without it the client keeps everything in memory.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithEmbedder sets a custom embedding model. Its vectors are labelled with the
// version given by WithModel.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithOpenAI uses an OpenAI-compatible embeddings endpoint.
func WithOpenAI(apiKey, baseURL, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openai = &openAIConfig{apiKey: apiKey, baseURL: baseURL, model: model}
	})
}

// WithFakeEmbedder uses a deterministic offline embedder. Useful in tests.
func WithFakeEmbedder() Option {
	return optionFunc(func(c *clientConfig) {
		c.fake = true
	})
}

// WithModel declares the model version label and vector dimensions.
// Defaults: clip-ViT-B-32, 512.
func WithModel(version string, dimensions int) Option {
	return optionFunc(func(c *clientConfig) {
		c.modelVersion = version
		c.dimensions = dimensions
	})
}

// WithEmbedTimeout bounds a single embedding call. Default: 10s.
func WithEmbedTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedTimeout = d
	})
}

// WithHNSW configures HNSW index parameters (M and EF construction). Redis only.
func WithHNSW(m, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	})
}

// WithFlatIndex switches the redis index from HNSW to exact brute-force search.
func WithFlatIndex() Option {
	return optionFunc(func(c *clientConfig) { c.flatIndex = true })
}

// WithOversampleFactor sets how many extra candidates are fetched per page
// to survive tag filtering. Default: 3.
func WithOversampleFactor(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.oversampleFactor = n
	})
}

// WithPageSizes sets the default and maximum page sizes. Defaults: 20, 100.
func WithPageSizes(def, maxSize int) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultPageSize = def
		c.maxPageSize = maxSize
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
