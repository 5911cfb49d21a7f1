package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, overridable with
// POLARIS_AGENT_CONFIG.
const ConfigPath = "config.yaml"

type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	APIBaseURL    string `yaml:"apiBaseUrl"`
	InternalToken string `yaml:"internalToken"`

	RabbitURL     string `yaml:"rabbitUrl"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	OpenAIBaseURL string `yaml:"openaiBaseUrl"`
	OpenAIAPIKey  string `yaml:"openaiApiKey"`
	OpenAIModel   string `yaml:"openaiModel"`

	GeminiAPIKey string `yaml:"geminiApiKey"`
	GeminiModel  string `yaml:"geminiModel"`

	OllamaBaseURL string `yaml:"ollamaBaseUrl"`
	OllamaModel   string `yaml:"ollamaModel"`

	Concurrency string `yaml:"concurrency"`
	RunDeadline string `yaml:"runDeadline"`
}

// Load reads the config file and applies environment overrides.
func Load(path string) (FileConfig, error) {
	if v := strings.TrimSpace(os.Getenv("POLARIS_AGENT_CONFIG")); v != "" {
		path = v
	}
	var cfg FileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return FileConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(&cfg.Port, "AGENT_PORT")
	applyEnv(&cfg.LogLevel, "AGENT_LOG_LEVEL")
	applyEnv(&cfg.APIBaseURL, "POLARIS_API_URL")
	applyEnv(&cfg.InternalToken, "POLARIS_INTERNAL_TOKEN")
	applyEnv(&cfg.RabbitURL, "RABBITMQ_URL")
	applyEnv(&cfg.RedisAddr, "REDIS_ADDR")
	applyEnv(&cfg.RedisPassword, "REDIS_PASSWORD")
	applyEnv(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	applyEnv(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	applyEnv(&cfg.OpenAIModel, "OPENAI_MODEL")
	applyEnv(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	applyEnv(&cfg.GeminiModel, "GEMINI_MODEL")
	applyEnv(&cfg.OllamaBaseURL, "OLLAMA_BASE_URL")
	applyEnv(&cfg.OllamaModel, "OLLAMA_MODEL")
	applyEnv(&cfg.Concurrency, "AGENT_CONCURRENCY")
	applyEnv(&cfg.RunDeadline, "AGENT_RUN_DEADLINE")

	if cfg.Port == "" {
		cfg.Port = "8090"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "llama3.2"
	}
	if err := validateConfig(cfg); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

func applyEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func validateConfig(cfg FileConfig) error {
	required := []struct {
		name  string
		value string
	}{
		{"apiBaseUrl", cfg.APIBaseURL},
		{"internalToken", cfg.InternalToken},
		{"rabbitUrl", cfg.RabbitURL},
		{"redisAddr", cfg.RedisAddr},
		{"openaiApiKey", cfg.OpenAIAPIKey},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("config: %s is required (set in config.yaml)", field.name)
		}
	}
	return nil
}

// ParseConcurrency returns the worker count, defaulting to 4.
func ParseConcurrency(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 4, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: invalid concurrency %q", value)
	}
	return n, nil
}

// ParseRunDeadline returns the per-message wall-clock budget, defaulting
// to 10 minutes.
func ParseRunDeadline(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 10 * time.Minute, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid run deadline %q", value)
	}
	return d, nil
}
