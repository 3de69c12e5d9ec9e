package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv clears relay environment variables and returns a cleanup func
func setupTestEnv(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"PORT",
		"GAME_CONFIG_PATH",
		"LOG_LEVEL",
		"DEVELOPMENT_MODE",
		"ALLOWED_ORIGINS",
		"CHANNEL_BUFFER_SIZE",
		"JANITOR_INTERVAL_MINUTES",
		"RATE_LIMIT_WS_IP",
	}

	origVars := map[string]string{}
	for _, key := range keys {
		origVars[key] = os.Getenv(key)
		os.Unsetenv(key)
	}

	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_Defaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to default to '8080', got '%s'", cfg.Port)
	}
	if cfg.GameConfigPath != "GameConfig.json" {
		t.Errorf("Expected GAME_CONFIG_PATH to default to 'GameConfig.json', got '%s'", cfg.GameConfigPath)
	}
	if cfg.ChannelBufferSize != 256 {
		t.Errorf("Expected CHANNEL_BUFFER_SIZE to default to 256, got %d", cfg.ChannelBufferSize)
	}
	if cfg.JanitorInterval != 20 {
		t.Errorf("Expected JANITOR_INTERVAL_MINUTES to default to 20, got %d", cfg.JanitorInterval)
	}
	if cfg.RateLimitWsIP != "100-M" {
		t.Errorf("Expected RATE_LIMIT_WS_IP to default to '100-M', got '%s'", cfg.RateLimitWsIP)
	}
	if cfg.DevelopmentMode {
		t.Errorf("Expected DEVELOPMENT_MODE to default to false")
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "9001")
	os.Setenv("GAME_CONFIG_PATH", "/etc/relay/GameConfig.json")
	os.Setenv("CHANNEL_BUFFER_SIZE", "512")
	os.Setenv("DEVELOPMENT_MODE", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "9001" {
		t.Errorf("Expected PORT to be '9001', got '%s'", cfg.Port)
	}
	if cfg.GameConfigPath != "/etc/relay/GameConfig.json" {
		t.Errorf("Expected GAME_CONFIG_PATH to be set, got '%s'", cfg.GameConfigPath)
	}
	if cfg.ChannelBufferSize != 512 {
		t.Errorf("Expected CHANNEL_BUFFER_SIZE to be 512, got %d", cfg.ChannelBufferSize)
	}
	if !cfg.DevelopmentMode {
		t.Errorf("Expected DEVELOPMENT_MODE to be true")
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "notaport")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT")
	}
	if !strings.Contains(err.Error(), "PORT") {
		t.Errorf("Expected error to mention PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidBufferSize(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("CHANNEL_BUFFER_SIZE", "0")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for zero CHANNEL_BUFFER_SIZE")
	}
	if !strings.Contains(err.Error(), "CHANNEL_BUFFER_SIZE") {
		t.Errorf("Expected error to mention CHANNEL_BUFFER_SIZE, got: %v", err)
	}
}

func TestValidateEnv_InvalidJanitorInterval(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("JANITOR_INTERVAL_MINUTES", "-5")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for negative JANITOR_INTERVAL_MINUTES")
	}
}
