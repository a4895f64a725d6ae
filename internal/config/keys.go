package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TASKPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TASKPILOT_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "llm.base_url", typ: kString, env: "TASKPILOT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "TASKPILOT_LLM_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.planner_model", typ: kString, env: "TASKPILOT_LLM_PLANNER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.PlannerModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.PlannerModel },
	},
	{
		key: "llm.classifier_model", typ: kString, env: "TASKPILOT_LLM_CLASSIFIER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ClassifierModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ClassifierModel },
	},
	{
		key: "llm.request_timeout", typ: kString, env: "TASKPILOT_LLM_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.RequestTimeout },
	},
	{
		key: "conversation.window_messages", typ: kInt, env: "TASKPILOT_WINDOW_MESSAGES",
		apply:   func(cfg *Config, v any) { cfg.Conversation.WindowMessages = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.WindowMessages },
	},
	{
		key: "conversation.window_token_budget", typ: kInt, env: "TASKPILOT_WINDOW_TOKEN_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Conversation.WindowTokenBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.WindowTokenBudget },
	},
	{
		key: "conversation.step_timeout", typ: kString, env: "TASKPILOT_STEP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Conversation.StepTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.StepTimeout },
	},
	{
		key: "conversation.busy_mode", typ: kString, env: "TASKPILOT_BUSY_MODE",
		apply:   func(cfg *Config, v any) { cfg.Conversation.BusyMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.BusyMode },
	},
	{
		key: "conversation.pattern_threshold", typ: kFloat, env: "TASKPILOT_PATTERN_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Conversation.PatternThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Conversation.PatternThreshold },
	},
	{
		key: "conversation.pattern_min_samples", typ: kInt, env: "TASKPILOT_PATTERN_MIN_SAMPLES",
		apply:   func(cfg *Config, v any) { cfg.Conversation.PatternMinSamples = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.PatternMinSamples },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TASKPILOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TASKPILOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, spec := range specs {
		switch spec.typ {
		case kInt:
			v, ok, err := b.GetInt(spec.key)
			if err != nil {
				return fmt.Errorf("config key %s: %w", spec.key, err)
			}
			if ok {
				spec.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(spec.key)
			if err != nil {
				return fmt.Errorf("config key %s: %w", spec.key, err)
			}
			if ok {
				spec.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(spec.key)
			if err != nil {
				return fmt.Errorf("config key %s: %w", spec.key, err)
			}
			if ok && v != "" {
				spec.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, spec := range specs {
		raw, ok := os.LookupEnv(spec.env)
		if !ok || raw == "" {
			continue
		}
		switch spec.typ {
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				spec.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", spec.env, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				spec.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", spec.env, err)
			}
		default:
			spec.apply(cfg, raw)
		}
	}
}
