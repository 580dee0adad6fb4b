package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	DocenrichAPIKey string

	// Model backend: claude, openai or echo
	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicURL    string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	LLMMaxTokens    int

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Per-stage model call concurrency
	ConcurrencyLimit int
	FailFast         bool
	MaxRetries       int

	// Chunking
	ChunkSize      int
	ChunkOverlap   int
	ChunkSeparator string
	ChunkSlack     int

	// Extractors
	TitleCount    int
	QuestionCount int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool

	// Optional export of finished jobs
	PathstoreURL    string
	PathstoreAPIKey string

	// Optional YAML file overriding chunking, stages and document defaults
	PipelineFile string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		DocenrichAPIKey: os.Getenv("DOCENRICH_API_KEY"),

		LLMProvider:     envOr("LLM_PROVIDER", "claude"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		AnthropicURL:    os.Getenv("ANTHROPIC_BASE_URL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		LLMMaxTokens:    envInt("LLM_MAX_TOKENS", 1024),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		ConcurrencyLimit: envInt("CONCURRENCY_LIMIT", 5),
		FailFast:         envBool("FAIL_FAST", false),
		MaxRetries:       envInt("MAX_RETRIES", 0),

		ChunkSize:      envInt("CHUNK_SIZE", 1024),
		ChunkOverlap:   envInt("CHUNK_OVERLAP", 200),
		ChunkSeparator: envOr("CHUNK_SEPARATOR", " "),
		ChunkSlack:     envInt("CHUNK_SLACK", 0),

		TitleCount:    envInt("TITLE_COUNT", 3),
		QuestionCount: envInt("QUESTION_COUNT", 3),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		PathstoreURL:    os.Getenv("PATHSTORE_URL"),
		PathstoreAPIKey: os.Getenv("PATHSTORE_API_KEY"),

		PipelineFile: os.Getenv("PIPELINE_FILE"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.LLMMaxTokens <= 0 {
		cfg.LLMMaxTokens = 1024
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// Validate checks the settings the service cannot start without. Chunk
// sizes are checked again by the chunker itself.
func (c Config) Validate() error {
	var errs []error
	if c.DocenrichAPIKey == "" {
		errs = append(errs, errors.New("DOCENRICH_API_KEY is required"))
	}
	switch c.LLMProvider {
	case "claude":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for LLM_PROVIDER=claude"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_BASE_URL is required for LLM_PROVIDER=openai"))
		}
	case "echo":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be claude, openai or echo, got %q", c.LLMProvider))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be > 0, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.PathstoreURL != "" && c.PathstoreAPIKey == "" {
		errs = append(errs, errors.New("PATHSTORE_API_KEY is required when PATHSTORE_URL is set"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
