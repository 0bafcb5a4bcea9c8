// Package config loads and validates application configuration from a YAML
// file, environment variables, and .env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// Config holds all application configuration
type Config struct {
	App      App      `mapstructure:"app"`
	AI       AI       `mapstructure:"ai"`
	Store    Store    `mapstructure:"store"`
	Vector   Vector   `mapstructure:"vector"`
	Registry Registry `mapstructure:"registry"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Email    Email    `mapstructure:"email"`
	Events   Events   `mapstructure:"events"`
	Feeds    Feeds    `mapstructure:"feeds"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// AI holds model-provider configuration
type AI struct {
	Provider string        `mapstructure:"provider"` // "gemini" or "bedrock"
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	Bedrock  BedrockConfig `mapstructure:"bedrock"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	Timeout        string `mapstructure:"timeout"`
}

// BedrockConfig holds AWS Bedrock configuration
type BedrockConfig struct {
	Region         string `mapstructure:"region"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// Store holds entity-store and blob-store configuration
type Store struct {
	SQLitePath string            `mapstructure:"sqlite_path"`
	BlobDriver string            `mapstructure:"blob_driver"` // "fs" or "s3"
	BlobDir    string            `mapstructure:"blob_dir"`
	S3Region   string            `mapstructure:"s3_region"`
	S3Bucket   string            `mapstructure:"s3_bucket"`
	S3Buckets  map[string]string `mapstructure:"s3_buckets"` // logical bucket overrides
}

// Vector holds vector-index configuration
type Vector struct {
	Driver      string `mapstructure:"driver"` // "pgvector" or "memory"
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Dimensions  int    `mapstructure:"dimensions"`
}

// Registry holds the feed and keyword registry file paths
type Registry struct {
	FeedsPath    string `mapstructure:"feeds_path"`
	KeywordsPath string `mapstructure:"keywords_path"`
}

// Pipeline holds orchestrator tuning
type Pipeline struct {
	Concurrency int      `mapstructure:"concurrency"`
	BannedTerms []string `mapstructure:"banned_terms"`
}

// Email holds reviewer notification configuration
type Email struct {
	SMTP        SMTPConfig `mapstructure:"smtp"`
	FromAddress string     `mapstructure:"from_address"`
	Reviewers   []string   `mapstructure:"reviewers"`
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Events holds event-bus configuration
type Events struct {
	Driver   string `mapstructure:"driver"` // "amqp" or "memory"
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

// Feeds holds feed fetching configuration
type Feeds struct {
	Timeout         string `mapstructure:"timeout"`
	MaxItemsPerFeed int    `mapstructure:"max_items_per_feed"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".sentinel")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".sentinel-data")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.timeout", "30s")
	viper.SetDefault("ai.bedrock.region", "us-east-1")
	viper.SetDefault("ai.bedrock.model", "anthropic.claude-3-5-sonnet-20241022-v2:0")
	viper.SetDefault("ai.bedrock.embedding_model", "amazon.titan-embed-text-v2:0")

	viper.SetDefault("store.sqlite_path", ".sentinel-data/sentinel.db")
	viper.SetDefault("store.blob_driver", "fs")
	viper.SetDefault("store.blob_dir", ".sentinel-data/blobs")

	viper.SetDefault("vector.driver", "memory")
	viper.SetDefault("vector.dimensions", 768)

	viper.SetDefault("registry.feeds_path", "config/feeds.yaml")
	viper.SetDefault("registry.keywords_path", "config/keywords.yaml")

	viper.SetDefault("pipeline.concurrency", 5)

	viper.SetDefault("email.smtp.port", 587)

	viper.SetDefault("events.driver", "memory")
	viper.SetDefault("events.exchange", "sentinel.events")

	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.max_items_per_feed", 50)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("ai.bedrock.region", []string{
		"AWS_REGION",
		"AWS_DEFAULT_REGION",
	})

	bindEnvKeys("vector.postgres_dsn", []string{
		"SENTINEL_POSTGRES_DSN",
		"POSTGRES_DSN",
		"DATABASE_URL",
	})

	bindEnvKeys("events.amqp_url", []string{
		"SENTINEL_AMQP_URL",
		"AMQP_URL",
		"RABBITMQ_URL",
	})

	bindEnvKeys("email.smtp.host", []string{
		"SMTP_HOST",
		"EMAIL_SMTP_HOST",
	})

	bindEnvKeys("email.smtp.username", []string{
		"SMTP_USERNAME",
		"EMAIL_USERNAME",
	})

	bindEnvKeys("email.smtp.password", []string{
		"SMTP_PASSWORD",
		"EMAIL_PASSWORD",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"SENTINEL_DEBUG",
	})

	bindEnvKeys("app.log_level", []string{
		"SENTINEL_LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Store.SQLitePath != "" {
		config.Store.SQLitePath = expandPath(config.Store.SQLitePath)
	}
	if config.Store.BlobDir != "" {
		config.Store.BlobDir = expandPath(config.Store.BlobDir)
	}

	durations := map[string]string{
		"ai.gemini.timeout": config.AI.Gemini.Timeout,
		"feeds.timeout":     config.Feeds.Timeout,
	}
	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	switch config.AI.Provider {
	case "gemini":
		if config.AI.Gemini.APIKey == "" {
			errors = append(errors, "Gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
		}
	case "bedrock":
		if config.AI.Bedrock.Region == "" {
			errors = append(errors, "Bedrock region is required. Set AWS_REGION or ai.bedrock.region")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown AI provider: %s. Supported: gemini, bedrock", config.AI.Provider))
	}

	switch config.Store.BlobDriver {
	case "fs":
	case "s3":
		if config.Store.S3Bucket == "" && len(config.Store.S3Buckets) == 0 {
			errors = append(errors, "S3 blob driver requires store.s3_bucket or store.s3_buckets")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown blob driver: %s. Supported: fs, s3", config.Store.BlobDriver))
	}

	switch config.Vector.Driver {
	case "memory":
	case "pgvector":
		if config.Vector.PostgresDSN == "" {
			errors = append(errors, "pgvector driver requires vector.postgres_dsn (or SENTINEL_POSTGRES_DSN)")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown vector driver: %s. Supported: pgvector, memory", config.Vector.Driver))
	}

	switch config.Events.Driver {
	case "memory":
	case "amqp":
		if config.Events.AMQPURL == "" {
			errors = append(errors, "AMQP event driver requires events.amqp_url (or SENTINEL_AMQP_URL)")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown events driver: %s. Supported: amqp, memory", config.Events.Driver))
	}

	if config.Email.SMTP.Host != "" && len(config.Email.Reviewers) == 0 {
		errors = append(errors, "email.reviewers is required when SMTP is configured")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%w:\n- %s", core.ErrConfigInvalid, strings.Join(errors, "\n- "))
	}
	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App           { return Get().App }
func GetAI() AI             { return Get().AI }
func GetStore() Store       { return Get().Store }
func GetVector() Vector     { return Get().Vector }
func GetRegistry() Registry { return Get().Registry }
func GetPipeline() Pipeline { return Get().Pipeline }
func GetEmail() Email       { return Get().Email }
func GetEvents() Events     { return Get().Events }
func GetFeeds() Feeds       { return Get().Feeds }

func GetGeminiAPIKey() string { return Get().AI.Gemini.APIKey }
func GetDataDir() string      { return Get().App.DataDir }
func IsDebugMode() bool       { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
