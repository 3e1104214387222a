package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the static service configuration loaded once at startup.
// The mutable prompt/model pairs live in the hot-reloaded Manager instead.
type Config struct {
	Server struct {
		Port       int `mapstructure:"port"`
		HealthPort int `mapstructure:"health_port"`
	} `mapstructure:"server"`

	Store struct {
		// Backend is "redis" or "sqlite".
		Backend    string `mapstructure:"backend"`
		RedisAddr  string `mapstructure:"redis_addr"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`

	History struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"history"`

	Providers struct {
		GeminiBaseURL     string        `mapstructure:"gemini_base_url"`
		OpenAIBaseURL     string        `mapstructure:"openai_base_url"`
		PerplexityBaseURL string        `mapstructure:"perplexity_base_url"`
		AnthropicBaseURL  string        `mapstructure:"anthropic_base_url"`
		PollInterval      time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"providers"`

	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
}

// Load reads the config file from CONFIG_PATH or ./config/metadeep.yaml,
// with METADEEP_* environment overrides. A missing file is not an error;
// defaults cover local runs.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/metadeep.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("METADEEP")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.sqlite_path", "metadeep_state.db")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.host", "localhost")
	v.SetDefault("history.port", 5432)
	v.SetDefault("history.user", "metadeep")
	v.SetDefault("history.database", "metadeep")
	v.SetDefault("history.sslmode", "disable")
	v.SetDefault("providers.gemini_base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("providers.openai_base_url", "https://api.openai.com")
	v.SetDefault("providers.perplexity_base_url", "https://api.perplexity.ai")
	v.SetDefault("providers.anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("providers.poll_interval", 30*time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "metadeep-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// ProviderKeys holds the per-provider API credentials. They are looked up
// per invocation rather than cached, so a rotated key takes effect without
// a restart.
type ProviderKeys struct {
	Gemini     string
	OpenAI     string
	Perplexity string
	Anthropic  string
}

// LoadProviderKeys reads the provider credentials from the environment.
func LoadProviderKeys() ProviderKeys {
	return ProviderKeys{
		Gemini:     os.Getenv("GEMINI_API_KEY"),
		OpenAI:     os.Getenv("OPENAI_API_KEY"),
		Perplexity: os.Getenv("PERPLEXITY_API_KEY"),
		Anthropic:  os.Getenv("ANTHROPIC_API_KEY"),
	}
}
