// Package config loads netview settings from a YAML file, the
// environment, and built-in defaults, and watches the file for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const defaultFile = "netview.yaml"

// Config holds the settings shared by the TUI and the engine.
type Config struct {
	// StreamURL is the websocket endpoint delivering live frames.
	StreamURL string `yaml:"stream_url"`
	// HistoryURL is the base URL of the historical query endpoint.
	HistoryURL string `yaml:"history_url"`
	// WindowHours is the trailing history window loaded on mount and
	// refresh.
	WindowHours int `yaml:"window_hours"`
	// Capacity bounds the in-memory event buffer.
	Capacity int `yaml:"capacity"`
	// LogFile receives engine logs; empty disables logging (the TUI
	// owns the terminal).
	LogFile string `yaml:"log_file"`
}

// Default returns the built-in settings for a locally running backend.
func Default() Config {
	return Config{
		StreamURL:   "ws://127.0.0.1:8700/ws/collaboration",
		HistoryURL:  "http://127.0.0.1:8700",
		WindowHours: 6,
		Capacity:    5000,
	}
}

// Discover finds the config file path.
// Priority: NETVIEW_CONFIG env var > netview.yaml in CWD > walk up parents.
// Returns "" (and no error) when no file exists anywhere; defaults apply.
func Discover() (string, error) {
	if env := os.Getenv("NETVIEW_CONFIG"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		return "", fmt.Errorf("NETVIEW_CONFIG=%q: %w", env, os.ErrNotExist)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, defaultFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// Load reads the file at path (skipped when path is "") over the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.WindowHours <= 0 {
		cfg.WindowHours = Default().WindowHours
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = Default().Capacity
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NETVIEW_STREAM_URL"); v != "" {
		cfg.StreamURL = v
	}
	if v := os.Getenv("NETVIEW_HISTORY_URL"); v != "" {
		cfg.HistoryURL = v
	}
	if v := os.Getenv("NETVIEW_WINDOW_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WindowHours = n
		}
	}
	if v := os.Getenv("NETVIEW_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}
