package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/user/stratforge/internal/types"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Service  struct {
		BaseURL        string `json:"base_url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		PollIntervalMS int    `json:"poll_interval_ms"`
	} `json:"service"`
	Generation struct {
		APIKey          string  `json:"api_key"`
		Temperature     float64 `json:"temperature"`
		MaxAttempts     int     `json:"max_attempts"`
		MaxPromptTokens int     `json:"max_prompt_tokens"`
	} `json:"generation"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	LocalAPI struct {
		Addr string `json:"addr"`
	} `json:"local_api"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".stratforge"),
		LogLevel: "info",
	}
	cfg.Service.BaseURL = "http://localhost:8000"
	cfg.Service.TimeoutSeconds = 300
	cfg.Service.PollIntervalMS = 500
	cfg.Generation.Temperature = 0.6
	cfg.Generation.MaxAttempts = 5
	cfg.Generation.MaxPromptTokens = 8000
	cfg.LocalAPI.Addr = "127.0.0.1:8790"

	// A .env next to the working directory feeds the env overrides
	// below; missing files are fine.
	_ = godotenv.Load()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("STRATFORGE_API_KEY"); apiKey != "" {
		cfg.Generation.APIKey = apiKey
	}
	if baseURL := os.Getenv("STRATFORGE_BASE_URL"); baseURL != "" {
		cfg.Service.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Settings returns the generation parameters in the shape the
// orchestrator consumes, clamped to their legal domains.
func (c *Config) Settings() types.Settings {
	s := types.Settings{
		APIKey:      c.Generation.APIKey,
		Temperature: c.Generation.Temperature,
		MaxAttempts: c.Generation.MaxAttempts,
	}
	if s.Temperature < 0.1 {
		s.Temperature = 0.1
	}
	if s.Temperature > 1.0 {
		s.Temperature = 1.0
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}
	if s.MaxAttempts > 15 {
		s.MaxAttempts = 15
	}
	return s
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
