package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Admission threshold bounds recommended for deployments.
const (
	MinAdmissionThreshold = 0.65
	MaxAdmissionThreshold = 0.80
)

// Config holds application configuration
type Config struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	Env                string        `env:"ENV" envDefault:"development"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitRPS       float64       `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	AdminJWTSecret     string        `env:"ADMIN_JWT_SECRET"`

	// Chat policy
	AdmissionThreshold float64 `env:"ADMISSION_THRESHOLD" envDefault:"0.70"`
	StepLimit          int     `env:"STEP_LIMIT" envDefault:"10"`
	MaxOutputTokens    int32   `env:"MAX_OUTPUT_TOKENS" envDefault:"0"`
	RetrievalTopK      int     `env:"RETRIEVAL_TOP_K" envDefault:"3"`

	// Generation providers
	LLMProvider         string `env:"LLM_PROVIDER" envDefault:"openai"`
	FallbackLLMProvider string `env:"FALLBACK_LLM_PROVIDER"`
	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `env:"OPENAI_BASE_URL"`
	OpenAIModel         string `env:"OPENAI_MODEL" envDefault:"gpt-5.1"`
	ModerationModel     string `env:"OPENAI_MODERATION_MODEL" envDefault:"omni-moderation-latest"`
	ModerationEnabled   bool   `env:"MODERATION_ENABLED" envDefault:"true"`
	GeminiAPIKey        string `env:"GEMINI_API_KEY"`
	GeminiModel         string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	// AWS
	AWSRegion               string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey      string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSEndpointOverride     string `env:"AWS_ENDPOINT_OVERRIDE"`
	BedrockModelID          string `env:"BEDROCK_MODEL_ID"`
	BedrockEmbeddingModelID string `env:"BEDROCK_EMBEDDING_MODEL_ID"`
	KnowledgeS3Bucket       string `env:"KNOWLEDGE_S3_BUCKET"`

	// Retrieval
	RetrievalBackend     string `env:"RETRIEVAL_BACKEND" envDefault:"memory"`
	EmbeddingProvider    string `env:"EMBEDDING_PROVIDER" envDefault:"openai"`
	OpenAIEmbeddingModel string `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	KnowledgeNamespace   string `env:"KNOWLEDGE_NAMESPACE" envDefault:"default"`
	KnowledgeStore       string `env:"KNOWLEDGE_STORE" envDefault:"redis"`
	WeaviateHost         string `env:"WEAVIATE_HOST" envDefault:"localhost:8081"`
	WeaviateScheme       string `env:"WEAVIATE_SCHEME" envDefault:"http"`
	WeaviateClass        string `env:"WEAVIATE_CLASS" envDefault:"Knowledge"`
	RedisAddr            string `env:"REDIS_ADDR" envDefault:"redis:6379"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	RedisTLS             bool   `env:"REDIS_TLS" envDefault:"false"`
	SeedKnowledge        bool   `env:"SEED_KNOWLEDGE" envDefault:"false"`
	DatabaseURL          string `env:"DATABASE_URL"`

	// Web search
	GoogleAPIKey      string        `env:"GOOGLE_API_KEY"`
	GoogleCX          string        `env:"GOOGLE_CX"`
	WebSearchResults  int64         `env:"WEB_SEARCH_RESULTS" envDefault:"5"`
	WebSearchCacheTTL time.Duration `env:"WEB_SEARCH_CACHE_TTL" envDefault:"1h"`
	WebSearchRPS      float64       `env:"WEB_SEARCH_RPS" envDefault:"1"`
}

var (
	validLLMProviders        = []string{"openai", "bedrock", "gemini"}
	validRetrievalBackends   = []string{"memory", "weaviate", "none"}
	validEmbeddingProviders  = []string{"openai", "bedrock"}
	validKnowledgeStores     = []string{"redis", "postgres"}
	errNoEnvironmentProvided = errors.New("config: environment map is nil")
)

// Load reads configuration from environment variables, after merging an
// optional .env file in the working directory.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFrom builds a Config from an explicit environment map.
func LoadFrom(environ map[string]string) (*Config, error) {
	if environ == nil {
		return nil, errNoEnvironmentProvided
	}
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.FallbackLLMProvider = strings.ToLower(strings.TrimSpace(c.FallbackLLMProvider))
	c.RetrievalBackend = strings.ToLower(strings.TrimSpace(c.RetrievalBackend))
	c.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.EmbeddingProvider))
	c.KnowledgeStore = strings.ToLower(strings.TrimSpace(c.KnowledgeStore))
	origins := c.CORSAllowedOrigins[:0]
	for _, origin := range c.CORSAllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.CORSAllowedOrigins = origins
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.AdmissionThreshold < MinAdmissionThreshold || c.AdmissionThreshold > MaxAdmissionThreshold {
		result = multierror.Append(result, fmt.Errorf("ADMISSION_THRESHOLD %.2f outside [%.2f, %.2f]",
			c.AdmissionThreshold, MinAdmissionThreshold, MaxAdmissionThreshold))
	}
	if c.StepLimit < 1 {
		result = multierror.Append(result, fmt.Errorf("STEP_LIMIT must be at least 1, got %d", c.StepLimit))
	}
	if c.RequestTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.RetrievalTopK < 1 {
		result = multierror.Append(result, fmt.Errorf("RETRIEVAL_TOP_K must be at least 1, got %d", c.RetrievalTopK))
	}
	if !oneOf(c.LLMProvider, validLLMProviders) {
		result = multierror.Append(result, fmt.Errorf("LLM_PROVIDER %q not one of %v", c.LLMProvider, validLLMProviders))
	}
	if c.FallbackLLMProvider != "" && !oneOf(c.FallbackLLMProvider, validLLMProviders) {
		result = multierror.Append(result, fmt.Errorf("FALLBACK_LLM_PROVIDER %q not one of %v", c.FallbackLLMProvider, validLLMProviders))
	}
	if !oneOf(c.RetrievalBackend, validRetrievalBackends) {
		result = multierror.Append(result, fmt.Errorf("RETRIEVAL_BACKEND %q not one of %v", c.RetrievalBackend, validRetrievalBackends))
	}
	if !oneOf(c.EmbeddingProvider, validEmbeddingProviders) {
		result = multierror.Append(result, fmt.Errorf("EMBEDDING_PROVIDER %q not one of %v", c.EmbeddingProvider, validEmbeddingProviders))
	}
	if !oneOf(c.KnowledgeStore, validKnowledgeStores) {
		result = multierror.Append(result, fmt.Errorf("KNOWLEDGE_STORE %q not one of %v", c.KnowledgeStore, validKnowledgeStores))
	}
	if c.KnowledgeStore == "postgres" && strings.TrimSpace(c.DatabaseURL) == "" {
		result = multierror.Append(result, errors.New("DATABASE_URL is required when KNOWLEDGE_STORE=postgres"))
	}

	return result.ErrorOrNil()
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
