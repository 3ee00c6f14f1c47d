package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all relay configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
	PoolSize int    `json:"pool_size"`

	// Snapshot backend: "libsql" (default, in the main store) or "redis".
	SnapshotBackend string `json:"snapshot_backend"`
	RedisAddr       string `json:"redis_addr"`

	CompletionBaseURL string `json:"completion_base_url"`
	CompletionAPIKey  string `json:"completion_api_key"`
	CompletionModel   string `json:"completion_model"`

	SearchBaseURL string `json:"search_base_url"`
	SearchAPIKey  string `json:"search_api_key"`

	Scheduler bool `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(relayDir(), "relay.db"),
		LogLevel:        "info",
		PoolSize:        4,
		SnapshotBackend: "libsql",
		RedisAddr:       "localhost:6379",
		CompletionModel: "gpt-4o-mini",
		Scheduler:       true,
	}
}

func relayDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

func settingsPath() string {
	return filepath.Join(relayDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RELAY_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("RELAY_SNAPSHOT_BACKEND"); v != "" {
		cfg.SnapshotBackend = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("RELAY_COMPLETION_BASE_URL"); v != "" {
		cfg.CompletionBaseURL = v
	}
	if v := os.Getenv("RELAY_COMPLETION_API_KEY"); v != "" {
		cfg.CompletionAPIKey = v
	}
	if v := os.Getenv("RELAY_COMPLETION_MODEL"); v != "" {
		cfg.CompletionModel = v
	}
	if v := os.Getenv("RELAY_SEARCH_BASE_URL"); v != "" {
		cfg.SearchBaseURL = v
	}
	if v := os.Getenv("RELAY_SEARCH_API_KEY"); v != "" {
		cfg.SearchAPIKey = v
	}
	if v := os.Getenv("RELAY_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}
