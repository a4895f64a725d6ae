package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server       ServerConfig
	LLM          LLMConfig
	Conversation ConversationConfig
	Storage      StorageConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // bearer token for management routes; empty disables auth
}

type LLMConfig struct {
	BaseURL         string
	APIKey          string
	PlannerModel    string
	ClassifierModel string
	RequestTimeout  string // duration string, e.g. "30s"
}

type ConversationConfig struct {
	WindowMessages    int
	WindowTokenBudget int
	StepTimeout       string // duration string per step handler invocation
	BusyMode          string // "reject" or "wait"
	PatternThreshold  float64
	PatternMinSamples int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		LLM: LLMConfig{
			BaseURL:         "https://openrouter.ai/api/v1",
			PlannerModel:    "anthropic/claude-sonnet-4",
			ClassifierModel: "openai/gpt-4o-mini",
			RequestTimeout:  "30s",
		},
		Conversation: ConversationConfig{
			WindowMessages:    8,
			WindowTokenBudget: 2048,
			StepTimeout:       "20s",
			BusyMode:          "reject",
			PatternThreshold:  0.8,
			PatternMinSamples: 3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/taskpilot/config.json, then applies TASKPILOT_* env
// overrides. The LLM API key is required.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. " +
			"Set it via environment variable TASKPILOT_LLM_API_KEY or `taskpilot config set llm.api_key <key>`")
	}

	if cfg.Conversation.BusyMode != "reject" && cfg.Conversation.BusyMode != "wait" {
		return Config{}, fmt.Errorf("invalid conversation.busy_mode %q (want \"reject\" or \"wait\")", cfg.Conversation.BusyMode)
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "taskpilot-data"
		}
	}
	return filepath.Join(dir, "taskpilot")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "taskpilot", "config.json")
}
