package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrMissingCredential is returned by Validate when a selected backend has no
// credential configured. It is fatal at startup and never retried.
var ErrMissingCredential = errors.New("config: missing credential")

// Default embedding models and dimensions per backend.
const (
	defaultGeminiEmbeddingModel = "text-embedding-004"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultOllamaEmbeddingModel = "nomic-embed-text"

	defaultGeminiDimensions = 768
	defaultOpenAIDimensions = 1536
	defaultOllamaDimensions = 768
	defaultHashDimensions   = 256
)

// Default retrieval and cache parameters.
const (
	DefaultTopK           = 5
	DefaultCacheThreshold = 0.85
)

// Settings is the fully resolved, typed configuration. It is built from the
// environment after Load has merged any YAML file.
type Settings struct {
	Embedding EmbeddingSettings
	Store     StoreSettings
	Retrieval RetrievalSettings
	Cache     CacheSettings
	Model     ModelSettings
	Server    ServerSettings
	Tracing   TracingSettings
}

// EmbeddingSettings selects and configures the embedding provider.
type EmbeddingSettings struct {
	// Provider is one of gemini, openai, azure, ollama, hash.
	Provider string
	// Model is the embedding model name.
	Model string
	// Dimensions is the expected vector length.
	Dimensions int
	// APIKey authenticates against the provider.
	APIKey string
	// Endpoint is the provider base URL (openai, azure, ollama).
	Endpoint string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// CacheSize bounds the in-process embedding cache; 0 disables it.
	CacheSize int
}

// StoreSettings selects and configures the vector store backend.
type StoreSettings struct {
	// Backend is one of sqlite, qdrant, chromem.
	Backend string
	// Path is the SQLite file or chromem directory. Empty selects the
	// default for sqlite and an in-memory database for chromem.
	Path string
	// Metric is the distance metric name.
	Metric string

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool
}

// RetrievalSettings configures the retrievers.
type RetrievalSettings struct {
	// CorpusPath is the keyword-fallback corpus file. Empty disables the
	// corpus; fallback then yields no experiences.
	CorpusPath string
	// TopK is the default number of experiences returned.
	TopK int
}

// CacheSettings configures the response cache.
type CacheSettings struct {
	// Threshold is the default similarity threshold for a hit.
	Threshold float64
}

// ModelSettings selects and configures the chat model.
type ModelSettings struct {
	// Provider is one of ollama, openai, azure, ark, gemini, anthropic.
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	AzureAPIVersion string
	MaxTokens       int
	Temperature     float32
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Host           string
	Port           int
	APIKey         string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// TracingSettings configures Langfuse.
type TracingSettings struct {
	PublicKey string
	SecretKey string
	Host      string
}

// FromEnv resolves Settings from the process environment, applying defaults
// for anything unset. It does not validate; call Validate afterwards.
func FromEnv() Settings {
	var s Settings

	s.Embedding = embeddingFromEnv()

	s.Store = StoreSettings{
		Backend:      strings.ToLower(getEnvOrDefault("VECTOR_STORE", "sqlite")),
		Path:         os.Getenv("VECTOR_STORE_PATH"),
		Metric:       os.Getenv("VECTOR_STORE_METRIC"),
		QdrantHost:   getEnvOrDefault("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:    getEnvBool("QDRANT_TLS"),
	}

	s.Retrieval = RetrievalSettings{
		CorpusPath: os.Getenv("RECALL_CORPUS_PATH"),
		TopK:       getEnvInt("RECALL_TOP_K", DefaultTopK),
	}

	s.Cache = CacheSettings{
		Threshold: getEnvFloat("RECALL_CACHE_THRESHOLD", DefaultCacheThreshold),
	}

	s.Model = modelFromEnv()

	s.Server = ServerSettings{
		Host:           getEnvOrDefault("RECALL_HOST", "127.0.0.1"),
		Port:           getEnvInt("RECALL_PORT", 8080),
		APIKey:         os.Getenv("RECALL_API_KEY"),
		CORSOrigins:    splitList(getEnvOrDefault("RECALL_CORS_ORIGINS", "http://localhost:3000")),
		RateLimitRPS:   getEnvFloat("RECALL_RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RECALL_RATE_LIMIT_BURST", 20),
	}

	s.Tracing = TracingSettings{
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		Host:      getEnvOrDefault("LANGFUSE_HOST", "https://cloud.langfuse.com"),
	}

	return s
}

// embeddingFromEnv resolves the embedding provider. Credentials fall back to
// the provider's native env vars when EMBEDDING_API_KEY is unset.
func embeddingFromEnv() EmbeddingSettings {
	e := EmbeddingSettings{
		Provider:  strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "gemini")),
		Model:     os.Getenv("EMBEDDING_MODEL"),
		APIKey:    os.Getenv("EMBEDDING_API_KEY"),
		Endpoint:  os.Getenv("EMBEDDING_ENDPOINT"),
		CacheSize: getEnvInt("EMBEDDING_CACHE_SIZE", 1024),
	}

	var defModel string
	var defDims int
	switch e.Provider {
	case "gemini":
		defModel, defDims = defaultGeminiEmbeddingModel, defaultGeminiDimensions
		e.APIKey = firstNonEmpty(e.APIKey, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
	case "openai":
		defModel, defDims = defaultOpenAIEmbeddingModel, defaultOpenAIDimensions
		e.APIKey = firstNonEmpty(e.APIKey, os.Getenv("OPENAI_API_KEY"))
		e.Endpoint = firstNonEmpty(e.Endpoint, "https://api.openai.com/v1")
	case "azure":
		defModel, defDims = defaultOpenAIEmbeddingModel, defaultOpenAIDimensions
		e.APIKey = firstNonEmpty(e.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		e.Endpoint = firstNonEmpty(e.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		e.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
	case "ollama":
		defModel, defDims = defaultOllamaEmbeddingModel, defaultOllamaDimensions
		e.Endpoint = firstNonEmpty(e.Endpoint, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
	case "hash":
		defModel, defDims = "fnv", defaultHashDimensions
	}
	e.Model = firstNonEmpty(e.Model, defModel)
	e.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", defDims)
	return e
}

// modelFromEnv resolves the chat model provider, mirroring the per-provider
// env vars each SDK documents.
func modelFromEnv() ModelSettings {
	m := ModelSettings{
		Provider:    strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", "ollama")),
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 1024),
		Temperature: float32(getEnvFloat("MODEL_TEMPERATURE", 0.2)),
	}
	switch m.Provider {
	case "ollama":
		m.BaseURL = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		m.Model = getEnvOrDefault("OLLAMA_MODEL", "llama3")
	case "openai":
		m.APIKey = os.Getenv("OPENAI_API_KEY")
		m.Model = getEnvOrDefault("OPENAI_MODEL", "gpt-4o")
	case "azure":
		m.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		m.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
		m.Model = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		m.AzureAPIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01")
	case "ark":
		m.APIKey = os.Getenv("ARK_API_KEY")
		m.Model = os.Getenv("ARK_MODEL")
		m.BaseURL = os.Getenv("ARK_BASE_URL")
	case "gemini":
		m.APIKey = firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
		m.Model = getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash")
	case "anthropic":
		m.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		m.Model = getEnvOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	}
	return m
}

// Validate checks the retrieval subsystem settings: embedding provider,
// vector store, and cache threshold. Missing credentials wrap
// ErrMissingCredential with the env var that should be set.
func (s Settings) Validate() error {
	switch s.Embedding.Provider {
	case "gemini":
		if s.Embedding.APIKey == "" {
			return fmt.Errorf("%w: set GOOGLE_API_KEY or EMBEDDING_API_KEY", ErrMissingCredential)
		}
	case "openai":
		if s.Embedding.APIKey == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY or EMBEDDING_API_KEY", ErrMissingCredential)
		}
	case "azure":
		if s.Embedding.APIKey == "" {
			return fmt.Errorf("%w: set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY", ErrMissingCredential)
		}
		if s.Embedding.Endpoint == "" {
			return fmt.Errorf("config: azure embeddings require AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "ollama", "hash":
	default:
		return fmt.Errorf("config: unknown embedding provider %q (valid: gemini, openai, azure, ollama, hash)", s.Embedding.Provider)
	}
	if s.Embedding.Dimensions < 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSIONS must not be negative")
	}

	switch s.Store.Backend {
	case "sqlite", "chromem":
	case "qdrant":
		if s.Store.QdrantHost == "" {
			return fmt.Errorf("config: qdrant backend requires QDRANT_HOST")
		}
	default:
		return fmt.Errorf("config: unknown vector store %q (valid: sqlite, qdrant, chromem)", s.Store.Backend)
	}

	if s.Cache.Threshold <= 0 || s.Cache.Threshold > 1 {
		return fmt.Errorf("config: RECALL_CACHE_THRESHOLD must be in (0, 1], got %g", s.Cache.Threshold)
	}
	if s.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: RECALL_TOP_K must be positive, got %d", s.Retrieval.TopK)
	}
	return nil
}

// ValidateModel checks the chat model settings. It is separate from
// Validate because only answer generation needs a chat model.
func (s Settings) ValidateModel() error {
	m := s.Model
	switch m.Provider {
	case "ollama":
		return nil
	case "openai":
		if m.APIKey == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingCredential)
		}
	case "azure":
		if m.APIKey == "" {
			return fmt.Errorf("%w: set AZURE_OPENAI_API_KEY", ErrMissingCredential)
		}
		if m.BaseURL == "" || m.Model == "" {
			return fmt.Errorf("config: azure requires AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT")
		}
	case "ark":
		if m.APIKey == "" {
			return fmt.Errorf("%w: set ARK_API_KEY", ErrMissingCredential)
		}
		if m.Model == "" {
			return fmt.Errorf("config: ark requires ARK_MODEL")
		}
	case "gemini":
		if m.APIKey == "" {
			return fmt.Errorf("%w: set GOOGLE_API_KEY", ErrMissingCredential)
		}
	case "anthropic":
		if m.APIKey == "" {
			return fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrMissingCredential)
		}
	default:
		return fmt.Errorf("config: unknown model provider %q (valid: ollama, openai, azure, ark, gemini, anthropic)", m.Provider)
	}
	return nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
