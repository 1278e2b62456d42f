package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// fileConfig is the JSON shape of the optional config file. Every field is a
// pointer so absent keys keep their defaults. Durations are strings ("30s").
type fileConfig struct {
	Port     *int    `json:"port"`
	APIToken *string `json:"api_token"`
	DataDir  *string `json:"data_dir"`
	LogLevel *string `json:"log_level"`

	ShortTermSize       *int     `json:"short_term_size"`
	MaxChatHistory      *int     `json:"max_chat_history"`
	ChatHistoryToLLM    *int     `json:"chat_history_to_llm"`
	MinRelevanceScore   *float64 `json:"min_relevance_score"`
	ImportanceThreshold *float64 `json:"importance_threshold"`
	FactsMinImportance  *float64 `json:"facts_min_importance"`
	FactsMaxInPrompt    *int     `json:"facts_max_in_prompt"`
	MaxCachedUsers      *int     `json:"max_cached_users"`

	CronTickInterval  *string `json:"cron_tick_interval"`
	CronRetentionDays *int    `json:"cron_retention_days"`
}

func configFilePath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "hgr", "config.json")
}

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "./data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "hgr")
}

func applyFile(cfg *Config) error {
	path := configFilePath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	setInt(&cfg.Server.Port, fc.Port)
	setString(&cfg.Server.APIToken, fc.APIToken)
	setString(&cfg.Storage.DataDir, fc.DataDir)
	setString(&cfg.Log.Level, fc.LogLevel)

	setInt(&cfg.Memory.ShortTermSize, fc.ShortTermSize)
	setInt(&cfg.Memory.MaxChatHistory, fc.MaxChatHistory)
	setInt(&cfg.Memory.ChatHistoryToLLM, fc.ChatHistoryToLLM)
	setFloat(&cfg.Memory.MinRelevanceScore, fc.MinRelevanceScore)
	setFloat(&cfg.Memory.ImportanceThreshold, fc.ImportanceThreshold)
	setFloat(&cfg.Memory.FactsMinImportance, fc.FactsMinImportance)
	setInt(&cfg.Memory.FactsMaxInPrompt, fc.FactsMaxInPrompt)
	setInt(&cfg.Memory.MaxCachedUsers, fc.MaxCachedUsers)

	if fc.CronTickInterval != nil {
		d, err := time.ParseDuration(*fc.CronTickInterval)
		if err != nil {
			return fmt.Errorf("parsing cron_tick_interval: %w", err)
		}
		cfg.Cron.TickInterval = d
	}
	setInt(&cfg.Cron.RetentionDays, fc.CronRetentionDays)

	return nil
}

// Environment variables (HGR_*) override file values on all platforms.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HGR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("HGR_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("HGR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("HGR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HGR_CRON_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cron.TickInterval = d
		}
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
