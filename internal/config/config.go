// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (HNPULSE_* runtime override)
//  2. Config file (~/.hnpulse/config.yaml)
//  3. Default values
//
// Security: sensitive fields (API key, database password) are masked in
// MarshalJSON. Validation uses sentinel errors so callers can branch with
// errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultHNBaseURL is the Hacker News Firebase API endpoint.
	DefaultHNBaseURL = "https://hacker-news.firebaseio.com"

	// DefaultAnalysisBaseURL is the OpenAI-compatible endpoint used for
	// structured extraction and embeddings.
	DefaultAnalysisBaseURL = "https://openrouter.ai/api/v1"

	// DefaultAnalysisModel is the chat model used for extraction.
	DefaultAnalysisModel = "openai/gpt-4o-mini"

	// DefaultEmbedModel is the embedding model. Its 1536 dimensions must
	// match the vector(1536) columns in db/migrations.
	DefaultEmbedModel = "openai/text-embedding-3-small"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Upstream feed
	HNBaseURL      string `mapstructure:"hn_base_url" json:"hn_base_url"`
	CandidateLimit int    `mapstructure:"candidate_limit" json:"candidate_limit"` // IDs taken from each listing

	// Ingestion pacing and bounds
	PollInterval        time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	MaxStoryAge         time.Duration `mapstructure:"max_story_age" json:"max_story_age"`
	MaxCommentsPerStory int           `mapstructure:"max_comments_per_story" json:"max_comments_per_story"`

	// Analysis backend
	AnalysisAPIKey  string        `mapstructure:"analysis_api_key" json:"analysis_api_key"` // SENSITIVE: masked in MarshalJSON
	AnalysisBaseURL string        `mapstructure:"analysis_base_url" json:"analysis_base_url"`
	AnalysisModel   string        `mapstructure:"analysis_model" json:"analysis_model"`
	EmbedModel      string        `mapstructure:"embed_model" json:"embed_model"`
	AnalysisPacing  time.Duration `mapstructure:"analysis_pacing" json:"analysis_pacing"` // minimum gap between LLM calls

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP status surface
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// DataDir holds the instance lock file.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".hnpulse")

	v := viper.New()
	setDefaults(v, configDir)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("HNPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// The API key commonly lives in the provider's conventional variable.
	if cfg.AnalysisAPIKey == "" {
		cfg.AnalysisAPIKey = os.Getenv("OPENROUTER_API_KEY")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("hn_base_url", DefaultHNBaseURL)
	v.SetDefault("candidate_limit", 100)

	v.SetDefault("poll_interval", 10*time.Minute)
	v.SetDefault("max_story_age", 8*time.Hour)
	v.SetDefault("max_comments_per_story", 20)

	v.SetDefault("analysis_base_url", DefaultAnalysisBaseURL)
	v.SetDefault("analysis_model", DefaultAnalysisModel)
	v.SetDefault("embed_model", DefaultEmbedModel)
	v.SetDefault("analysis_pacing", 500*time.Millisecond)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "hnpulse")
	v.SetDefault("postgres_db_name", "hnpulse")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", "127.0.0.1:8420")
	v.SetDefault("data_dir", configDir)

	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

// PostgresURL returns the postgres:// connection URL for pgx and migrations.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// LockPath returns the path of the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "hnpulse.lock")
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	a := alias(c)
	if a.AnalysisAPIKey != "" {
		a.AnalysisAPIKey = "***"
	}
	if a.PostgresPassword != "" {
		a.PostgresPassword = "***"
	}
	return json.Marshal(a)
}
