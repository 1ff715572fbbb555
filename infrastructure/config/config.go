package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration (dev server only)
	ServerAddress string
	Environment   string

	// Remote store configuration
	RemoteBaseURL  string
	RequestTimeout time.Duration

	// Autosave configuration
	CommitDelay time.Duration

	// Working memory configuration
	HistoryLength int

	// Logging
	LogLevel string

	// Feature flags
	EnableCORS bool
}

// fileConfig is the optional YAML overlay shape. Only fields present in
// the file override the environment values.
type fileConfig struct {
	ServerAddress  *string `yaml:"server_address"`
	Environment    *string `yaml:"environment"`
	RemoteBaseURL  *string `yaml:"remote_base_url"`
	RequestTimeout *int    `yaml:"request_timeout_ms"`
	CommitDelay    *int    `yaml:"commit_delay_ms"`
	HistoryLength  *int    `yaml:"history_length"`
	LogLevel       *string `yaml:"log_level"`
	EnableCORS     *bool   `yaml:"enable_cors"`
}

// LoadConfig loads configuration from environment variables, then applies
// the YAML overlay named by SYNCCORE_CONFIG when set.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		RemoteBaseURL:  getEnv("REMOTE_BASE_URL", "http://localhost:8080"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
		CommitDelay:    time.Duration(getEnvInt("COMMIT_DELAY_MS", 1700)) * time.Millisecond,
		HistoryLength:  getEnvInt("HISTORY_LENGTH", 50),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		EnableCORS:     getEnvBool("ENABLE_CORS", true),
	}

	if path := os.Getenv("SYNCCORE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ServerAddress != nil {
		c.ServerAddress = *fc.ServerAddress
	}
	if fc.Environment != nil {
		c.Environment = *fc.Environment
	}
	if fc.RemoteBaseURL != nil {
		c.RemoteBaseURL = *fc.RemoteBaseURL
	}
	if fc.RequestTimeout != nil {
		c.RequestTimeout = time.Duration(*fc.RequestTimeout) * time.Millisecond
	}
	if fc.CommitDelay != nil {
		c.CommitDelay = time.Duration(*fc.CommitDelay) * time.Millisecond
	}
	if fc.HistoryLength != nil {
		c.HistoryLength = *fc.HistoryLength
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.EnableCORS != nil {
		c.EnableCORS = *fc.EnableCORS
	}
	return nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("REMOTE_BASE_URL is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
