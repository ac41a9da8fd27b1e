package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all plandrift configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string  `json:"db_path"`
	LogLevel    string  `json:"log_level"`
	LLMBaseURL  string  `json:"llm_base_url"`
	LLMAPIKey   string  `json:"llm_api_key"`
	LLMModel    string  `json:"llm_model"`
	Temperature float64 `json:"temperature"`
	SearchURL   string  `json:"search_url"`
	SearchKey   string  `json:"search_key"`
	MaxSteps    int     `json:"max_steps"`
}

func defaultConfig() Config {
	return Config{
		DBPath:     filepath.Join(plandriftDir(), "plandrift.db"),
		LogLevel:   "info",
		LLMBaseURL: "https://api.openai.com",
		LLMModel:   "gpt-4o-mini",
	}
}

func plandriftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plandrift"
	}
	return filepath.Join(home, ".plandrift")
}

func settingsPath() string {
	return filepath.Join(plandriftDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PLANDRIFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PLANDRIFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PLANDRIFT_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("PLANDRIFT_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("PLANDRIFT_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("PLANDRIFT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
	if v := os.Getenv("PLANDRIFT_SEARCH_URL"); v != "" {
		cfg.SearchURL = v
	}
	if v := os.Getenv("PLANDRIFT_SEARCH_KEY"); v != "" {
		cfg.SearchKey = v
	}
	if v := os.Getenv("PLANDRIFT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}

	return cfg
}
