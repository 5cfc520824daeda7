package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	// GeminiEmbeddingDimension is the fixed output size of Gemini text embeddings.
	GeminiEmbeddingDimension = 768
)

type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"docchat.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	LLMProvider        string  `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey       string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string  `env:"OPENAI_BASE_URL"`
	GeminiAPIKey       string  `env:"GEMINI_API_KEY"`
	ChatModel          string  `env:"CHAT_MODEL"`
	EmbeddingModel     string  `env:"EMBEDDING_MODEL"`
	EmbeddingDimension int     `env:"EMBEDDING_DIMENSION"`
	Temperature        float64 `env:"TEMPERATURE" envDefault:"0.2"`

	ChunkMaxTokens    int    `env:"CHUNK_MAX_TOKENS" envDefault:"300"`
	ChunkOverlap      int    `env:"CHUNK_OVERLAP" envDefault:"50"`
	TokenizerEncoding string `env:"TOKENIZER_ENCODING" envDefault:"cl100k_base"`
	RetrievalTopK     int    `env:"RETRIEVAL_TOP_K" envDefault:"4"`
	HistoryLimit      int    `env:"HISTORY_LIMIT" envDefault:"0"`
	MaxUploadBytes    int64  `env:"MAX_UPLOAD_BYTES" envDefault:"20971520"`

	AutoTitle       bool          `env:"AUTO_TITLE" envDefault:"true"`
	FinalizeTimeout time.Duration `env:"FINALIZE_TIMEOUT" envDefault:"15s"`
	PromptCatalog   string        `env:"PROMPT_CATALOG"`
}

// Load reads an optional .env file, then the process environment.
// A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	return cfg, nil
}

// Validate checks settings required to serve requests.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY environment variable is required for the openai provider"))
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required for the gemini provider"))
		}
		if c.EmbeddingDimension != 0 && c.EmbeddingDimension != GeminiEmbeddingDimension {
			errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be %d or unset for the gemini provider, got %d", GeminiEmbeddingDimension, c.EmbeddingDimension))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	if c.ChunkMaxTokens <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxTokens {
		errs = append(errs, fmt.Errorf("invalid chunk window: max_tokens=%d overlap=%d", c.ChunkMaxTokens, c.ChunkOverlap))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK))
	}
	if c.EmbeddingDimension < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must not be negative, got %d", c.EmbeddingDimension))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.HTTPPort
}
