package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Postgres / pgvector
	DatabaseURL string
	ChunkTable  string

	// Auth
	APIKey string

	// DashScope (OpenAI-compatible) endpoints
	DashScopeBaseURL string
	DashScopeAPIKey  string
	EmbeddingModel   string
	ChatModel        string

	// Tokenizer and chunking
	TokenizerModel string
	MaxTokens      int
	FAQOverlap     int

	// Worker pool
	WorkerCount        int
	MaxQueueSize       int
	MaxConcurrentEmbed int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		DatabaseURL: envOr("DATABASE_URL", "postgres://localhost:5432/ragtree"),
		ChunkTable:  envOr("CHUNK_TABLE", "chunks"),

		APIKey: os.Getenv("RAGTREE_API_KEY"),

		DashScopeBaseURL: envOr("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		EmbeddingModel:   envOr("EMBEDDING_MODEL", "text-embedding-v2"),
		ChatModel:        envOr("CHAT_MODEL", "qwen-plus"),

		TokenizerModel: envOr("TOKENIZER_MODEL", "gpt-4o"),
		MaxTokens:      envInt("MAX_TOKENS", 512),
		FAQOverlap:     envInt("FAQ_OVERLAP", 2),

		WorkerCount:        envInt("WORKER_COUNT", 4),
		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentEmbed: envInt("MAX_CONCURRENT_EMBED", 5),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentEmbed <= 0 {
		cfg.MaxConcurrentEmbed = 5
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.FAQOverlap < 0 {
		cfg.FAQOverlap = 2
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("RAGTREE_API_KEY is required")
	}
	if c.DashScopeAPIKey == "" {
		return fmt.Errorf("DASHSCOPE_API_KEY is required")
	}
	return nil
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
