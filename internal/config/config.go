package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Import   ImportConfig
	LLM      LLMConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ImportConfig holds CSV import defaults.
type ImportConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
	// DescriptionSimilarity is the minimum normalized similarity at which
	// a stored transaction with the same account, date and amount counts
	// as a duplicate of an incoming row.
	DescriptionSimilarity float64 `mapstructure:"description_similarity"`
	Timezone              string  `mapstructure:"timezone"`
}

// LLMConfig holds category-suggestion provider settings.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// Load reads configuration from file and env. Env var overrides use prefix FINLEDGER_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "finledger", "finledger.db"))
	v.SetDefault("import.default_currency", "EUR")
	v.SetDefault("import.description_similarity", 0.85)
	v.SetDefault("import.timezone", "UTC")
	v.SetDefault("llm.provider", "heuristic")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout_ms", 8000)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 64)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("FINLEDGER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "finledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FINLEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// ResolveAPIKey returns the configured key, preferring the env var when set.
func (c LLMConfig) ResolveAPIKey() string {
	if c.APIKeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(c.APIKeyEnv)); key != "" {
			return key
		}
	}
	return strings.TrimSpace(c.APIKey)
}
