package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	Port           string
	GameConfigPath string

	// Optional variables with defaults
	LogLevel          string
	DevelopmentMode   bool
	AllowedOrigins    string
	ChannelBufferSize int
	JanitorInterval   int // minutes

	// Rate Limits
	RateLimitWsIP string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT (defaults to 8080)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// GAME_CONFIG_PATH (defaults to GameConfig.json next to the binary)
	cfg.GameConfigPath = getEnvOrDefault("GAME_CONFIG_PATH", "GameConfig.json")

	// LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// CHANNEL_BUFFER_SIZE bounds the per-room channels; a client lagging
	// beyond it gets disconnected rather than buffered without bound.
	bufStr := getEnvOrDefault("CHANNEL_BUFFER_SIZE", "256")
	cfg.ChannelBufferSize, err = strconv.Atoi(bufStr)
	if err != nil || cfg.ChannelBufferSize < 1 {
		errors = append(errors, fmt.Sprintf("CHANNEL_BUFFER_SIZE must be a positive integer (got '%s')", bufStr))
	}

	// JANITOR_INTERVAL_MINUTES (defaults to 20)
	janStr := getEnvOrDefault("JANITOR_INTERVAL_MINUTES", "20")
	cfg.JanitorInterval, err = strconv.Atoi(janStr)
	if err != nil || cfg.JanitorInterval < 1 {
		errors = append(errors, fmt.Sprintf("JANITOR_INTERVAL_MINUTES must be a positive integer (got '%s')", janStr))
	}

	// Rate limits (M = Minute, H = Hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"game_config_path", cfg.GameConfigPath,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"channel_buffer_size", cfg.ChannelBufferSize,
		"janitor_interval_minutes", cfg.JanitorInterval,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
