package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the analysis API key is missing.
	ErrMissingAPIKey = errors.New("missing analysis API key")

	// ErrInvalidPollInterval indicates the poll interval is out of range.
	ErrInvalidPollInterval = errors.New("invalid poll interval")

	// ErrInvalidMaxStoryAge indicates the max story age is out of range.
	ErrInvalidMaxStoryAge = errors.New("invalid max story age")

	// ErrInvalidCommentCap indicates the per-story comment cap is invalid.
	ErrInvalidCommentCap = errors.New("invalid max comments per story")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidLogLevel indicates the log level string is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks every field the worker and storage depend on.
// It returns the first violation wrapped around a sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.AnalysisAPIKey == "" {
		return fmt.Errorf("%w: set HNPULSE_ANALYSIS_API_KEY or OPENROUTER_API_KEY", ErrMissingAPIKey)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: %s (must be positive)", ErrInvalidPollInterval, c.PollInterval)
	}
	if c.MaxStoryAge <= 0 {
		return fmt.Errorf("%w: %s (must be positive)", ErrInvalidMaxStoryAge, c.MaxStoryAge)
	}
	if c.MaxCommentsPerStory < 0 {
		return fmt.Errorf("%w: %d (must be >= 0)", ErrInvalidCommentCap, c.MaxCommentsPerStory)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidListenAddr)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses LogLevel into a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
}
