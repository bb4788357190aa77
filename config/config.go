package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the analysis system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	Listen         string        `mapstructure:"listen"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different agent roles
type LLMRoutingConfig struct {
	Hypothesis    string `mapstructure:"hypothesis"`
	Research      string `mapstructure:"research"`
	Contradiction string `mapstructure:"contradiction"`
	Synthesis     string `mapstructure:"synthesis"`
	Sentiment     string `mapstructure:"sentiment"`
	Chat          string `mapstructure:"chat"`
	Fallback      string `mapstructure:"fallback"`
}

// ModelFor returns the routed model for a role, falling back when unset.
func (r LLMRoutingConfig) ModelFor(role string) string {
	var m string
	switch role {
	case "hypothesis":
		m = r.Hypothesis
	case "research":
		m = r.Research
	case "contradiction":
		m = r.Contradiction
	case "synthesis":
		m = r.Synthesis
	case "sentiment":
		m = r.Sentiment
	case "chat":
		m = r.Chat
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// AgentsConfig contains agent pipeline settings
type AgentsConfig struct {
	MaxConcurrentTools int           `mapstructure:"max_concurrent_tools"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout"`
	AgentTimeout       time.Duration `mapstructure:"agent_timeout"`
	DefaultSymbol      string        `mapstructure:"default_symbol"`
}

// AlertsConfig controls the deterministic alert rules applied to results
type AlertsConfig struct {
	HighConfidence    float64 `mapstructure:"high_confidence"`
	LowConfidence     float64 `mapstructure:"low_confidence"`
	ContradictionEdge int     `mapstructure:"contradiction_edge"`
}

// SessionsConfig controls the in-memory conversation session store
type SessionsConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
}

// SourcesConfig contains market data and news source configurations
type SourcesConfig struct {
	AlphaVantage AlphaVantageConfig `mapstructure:"alpha_vantage"`
	FMP          FMPConfig          `mapstructure:"fmp"`
	Yahoo        YahooConfig        `mapstructure:"yahoo"`
	News         NewsConfig         `mapstructure:"news"`
}

// AlphaVantageConfig contains Alpha Vantage settings
type AlphaVantageConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FMPConfig contains Financial Modeling Prep settings
type FMPConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// YahooConfig contains the keyless Yahoo quote fallback settings
type YahooConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NewsConfig contains financial news retrieval settings
type NewsConfig struct {
	MaxArticles int           `mapstructure:"max_articles"`
	DefaultDays int           `mapstructure:"default_days"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL     string `mapstructure:"url"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"password"`
	DBName  string `mapstructure:"dbname"`
	SSLMode string `mapstructure:"sslmode"`
}

// DSN returns a postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings (quote cache)
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("tradesage")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("TRADESAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults plus env are enough to run.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	viper.SetDefault("agents.max_concurrent_tools", 5)
	viper.SetDefault("agents.tool_timeout", "30s")
	viper.SetDefault("agents.agent_timeout", "2m")
	viper.SetDefault("agents.default_symbol", "SPY")

	viper.SetDefault("alerts.high_confidence", 0.8)
	viper.SetDefault("alerts.low_confidence", 0.2)
	viper.SetDefault("alerts.contradiction_edge", 2)

	viper.SetDefault("sessions.ttl", "2h")
	viper.SetDefault("sessions.max_sessions", 1000)

	viper.SetDefault("sources.alpha_vantage.endpoint", "https://www.alphavantage.co/query")
	viper.SetDefault("sources.alpha_vantage.timeout", "10s")
	viper.SetDefault("sources.fmp.endpoint", "https://financialmodelingprep.com/api/v3")
	viper.SetDefault("sources.fmp.timeout", "10s")
	viper.SetDefault("sources.yahoo.endpoint", "https://query1.finance.yahoo.com")
	viper.SetDefault("sources.yahoo.timeout", "10s")
	viper.SetDefault("sources.news.max_articles", 10)
	viper.SetDefault("sources.news.default_days", 7)
	viper.SetDefault("sources.news.timeout", "10s")

	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.cache_ttl", "5m")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
}

// overrideFromEnv overrides configuration with well-known environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.api_key", apiKey)
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.anthropic.api_key", apiKey)
	}
	if apiKey := os.Getenv("ALPHA_VANTAGE_API_KEY"); apiKey != "" {
		viper.Set("sources.alpha_vantage.api_key", apiKey)
	}
	if apiKey := os.Getenv("FMP_API_KEY"); apiKey != "" {
		viper.Set("sources.fmp.api_key", apiKey)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		viper.Set("storage.redis.password", pass)
	}
}

// validateConfig validates the configuration. Commands that never touch the
// LLM (such as migrate) must still load config, so an empty provider set is
// legal here; the pipeline rejects it at construction time.
func validateConfig(config *Config) error {
	if len(config.LLM.Providers) == 0 {
		return nil
	}

	routingModels := []string{
		config.LLM.Routing.Hypothesis,
		config.LLM.Routing.Research,
		config.LLM.Routing.Contradiction,
		config.LLM.Routing.Synthesis,
		config.LLM.Routing.Sentiment,
		config.LLM.Routing.Chat,
		config.LLM.Routing.Fallback,
	}

	for _, model := range routingModels {
		if model == "" {
			continue
		}
		found := false
		for _, provider := range config.LLM.Providers {
			for _, providerModel := range provider.Models {
				if providerModel.Name == model {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("routing model '%s' not found in any provider", model)
		}
	}

	return nil
}
