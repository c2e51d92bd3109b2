package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Store      StoreConfig      `yaml:"store"`
	Neo4j      Neo4jConfig      `yaml:"neo4j"`
	Weather    WeatherConfig    `yaml:"weather"`
	Chat       ChatConfig       `yaml:"chat"`
	Ingest     IngestConfig     `yaml:"ingest"`

	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
	OllamaHost       string `yaml:"ollama_host"`

	PostgresDSN string `yaml:"postgres_dsn"`
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Neo4jConfig struct {
	Enabled bool   `yaml:"enabled"`
	URI     string `yaml:"uri"`
	User    string `yaml:"user"`
	Pass    string `yaml:"password"`
}

type WeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Units   string `yaml:"units"`
}

type ChatConfig struct {
	Profile string `yaml:"profile"`
	TopK    int    `yaml:"top_k"`
}

type IngestConfig struct {
	DataDir           string  `yaml:"data_dir"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Load reads configuration from the environment, loading a .env file first
// when one is present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg
}

// LoadFile reads a YAML file; environment variables win over file values and
// defaults fill whatever is left unset.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreSQLite, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
	if c.Chat.TopK <= 0 {
		return fmt.Errorf("chat top_k must be positive")
	}
	if c.Embeddings.Dimension < 0 {
		return fmt.Errorf("embedding dimension must not be negative")
	}
	return nil
}

func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultChatModel(cfg.LLM.Provider)
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = ProviderOpenAI
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = defaultEmbeddingModel(cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = defaultEmbeddingDimension(cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.CacheSize == 0 {
		cfg.Embeddings.CacheSize = 512
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreSQLite
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "data/rag.db"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "postgres://localhost:5432/rag-assistant?sslmode=disable"
	}
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = "neo4j://localhost:7687"
	}
	if cfg.Neo4j.User == "" {
		cfg.Neo4j.User = "neo4j"
	}
	if cfg.Neo4j.Pass == "" {
		cfg.Neo4j.Pass = "password"
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = "http://localhost:11434"
	}
	if cfg.Weather.BaseURL == "" {
		cfg.Weather.BaseURL = "https://api.openweathermap.org"
	}
	if cfg.Weather.Units == "" {
		cfg.Weather.Units = "imperial"
	}
	if cfg.Chat.Profile == "" {
		cfg.Chat.Profile = "orgs"
	}
	if cfg.Chat.TopK == 0 {
		cfg.Chat.TopK = 5
	}
	if cfg.Ingest.DataDir == "" {
		cfg.Ingest.DataDir = "data/orgs"
	}
	if cfg.Ingest.RequestsPerSecond == 0 {
		cfg.Ingest.RequestsPerSecond = 5
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnv(cfg *Config) {
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension)
	cfg.Embeddings.CacheSize = getEnvInt("EMBEDDINGS_CACHE_SIZE", cfg.Embeddings.CacheSize)

	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicBaseURL = getEnv("ANTHROPIC_BASE_URL", cfg.AnthropicBaseURL)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)

	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.Neo4j.Enabled = getEnvBool("NEO4J_ENABLED", cfg.Neo4j.Enabled)
	cfg.Neo4j.URI = getEnv("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = getEnv("NEO4J_USERNAME", cfg.Neo4j.User)
	cfg.Neo4j.Pass = getEnv("NEO4J_PASSWORD", cfg.Neo4j.Pass)

	cfg.Weather.APIKey = getEnv("OPENWEATHERMAP_API_KEY", cfg.Weather.APIKey)
	cfg.Weather.BaseURL = getEnv("OPENWEATHERMAP_BASE_URL", cfg.Weather.BaseURL)
	cfg.Weather.Units = getEnv("WEATHER_UNITS", cfg.Weather.Units)

	cfg.Chat.Profile = getEnv("CHAT_PROFILE", cfg.Chat.Profile)
	cfg.Chat.TopK = getEnvInt("CHAT_TOP_K", cfg.Chat.TopK)
	cfg.Ingest.DataDir = getEnv("DATA_DIR", cfg.Ingest.DataDir)
	cfg.Ingest.RequestsPerSecond = getEnvFloat("INGEST_RPS", cfg.Ingest.RequestsPerSecond)

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

func defaultChatModel(provider string) string {
	switch provider {
	case ProviderOllama:
		return "llama3.1"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return "gpt-4o-mini"
	}
}

func defaultEmbeddingModel(provider string) string {
	switch provider {
	case ProviderOllama:
		return "nomic-embed-text"
	case ProviderGemini:
		return "text-embedding-004"
	default:
		return "text-embedding-3-small"
	}
}

func defaultEmbeddingDimension(provider string) int {
	switch provider {
	case ProviderOllama:
		return 768
	case ProviderGemini:
		return 768
	default:
		return 1536
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
