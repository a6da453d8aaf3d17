package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const DefaultDatasetURL = "https://raw.githubusercontent.com/marcaopamaral/gemini-analise-fraude/main/data/creditcard.csv"

type Config struct {
	Port string `yaml:"port"`

	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	MaxTokens       int    `yaml:"max_tokens"`
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`

	DatasetURL      string        `yaml:"dataset_url"`
	DatasetPath     string        `yaml:"dataset_path"`
	DatasetMaxBytes int64         `yaml:"dataset_max_bytes"`
	DatasetTimeout  time.Duration `yaml:"dataset_timeout"`

	HistoryDBURL string `yaml:"history_db_url"`

	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxToolRounds  int           `yaml:"max_tool_rounds"`
}

func Default() *Config {
	return &Config{
		Port:            "8080",
		Provider:        ProviderAnthropic,
		MaxTokens:       4096,
		DatasetURL:      DefaultDatasetURL,
		DatasetPath:     "data/creditcard.csv",
		DatasetMaxBytes: 200 << 20,
		DatasetTimeout:  2 * time.Minute,
		MaxAttempts:     3,
		InitialBackoff:  time.Second,
		MaxBackoff:      30 * time.Second,
		MaxToolRounds:   1,
	}
}

// Load reads .env (if present), then the YAML file named by FRAUDCHAT_CONFIG,
// then environment variables. Later sources win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] Failed to read .env file: %v", err)
	}

	cfg := Default()

	if path := os.Getenv("FRAUDCHAT_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			log.Printf("[WARN] Ignoring config file %s: %v", path, err)
		}
	}

	cfg.mergeEnv()
	return cfg
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) mergeEnv() {
	setString(&c.Port, "PORT")
	setString(&c.Provider, "LLM_PROVIDER")
	setString(&c.Model, "LLM_MODEL")
	setInt(&c.MaxTokens, "MAX_TOKENS")
	setString(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.DatasetURL, "DATASET_URL")
	setString(&c.DatasetPath, "DATASET_PATH")
	setInt64(&c.DatasetMaxBytes, "DATASET_MAX_BYTES")
	setDuration(&c.DatasetTimeout, "DATASET_TIMEOUT")
	setString(&c.HistoryDBURL, "HISTORY_DB_URL")
	setInt(&c.MaxAttempts, "LLM_MAX_ATTEMPTS")
	setDuration(&c.InitialBackoff, "LLM_INITIAL_BACKOFF")
	setDuration(&c.MaxBackoff, "LLM_MAX_BACKOFF")
	setInt(&c.MaxToolRounds, "MAX_TOOL_ROUNDS")

	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}

	if c.APIKey() == "" {
		return fmt.Errorf("%s environment variable is required", apiKeyEnv(c.Provider))
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}

	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff window %s..%s", c.InitialBackoff, c.MaxBackoff)
	}

	if c.MaxToolRounds < 1 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1, got %d", c.MaxToolRounds)
	}

	return nil
}

func apiKeyEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[WARN] Ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func setInt64(dst *int64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[WARN] Ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[WARN] Ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = d
}
