package config

import (
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Memory  MemoryConfig
	Cron    CronConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // empty disables bearer auth on the glue HTTP surface
}

type StorageConfig struct {
	DataDir string
}

// MemoryConfig carries the tunables of the three retention tiers.
type MemoryConfig struct {
	// Short-term ring buffer of reasoning steps, per user.
	ShortTermSize int

	// Chat history: rows kept per user, and how many go to the LLM per turn.
	MaxChatHistory   int
	ChatHistoryToLLM int

	// Retrieval and persistence gates.
	MinRelevanceScore   float64
	ImportanceThreshold float64

	// Facts prompt block: importance floor and entry cap.
	FactsMinImportance float64
	FactsMaxInPrompt   int

	// Per-user cache arenas are LRU-bounded by user count.
	MaxCachedUsers int
}

type CronConfig struct {
	TickInterval  time.Duration
	RetentionDays int // persisted steps older than this are swept
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Memory: MemoryConfig{
			ShortTermSize:       30,
			MaxChatHistory:      100,
			ChatHistoryToLLM:    40,
			MinRelevanceScore:   0.1,
			ImportanceThreshold: 0.3,
			FactsMinImportance:  0.3,
			FactsMaxInPrompt:    20,
			MaxCachedUsers:      1024,
		},
		Cron: CronConfig{
			TickInterval:  30 * time.Second,
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/hgr/config.json (if present) and applies HGR_* environment
// variable overrides on top of the defaults.
func Load() (Config, error) {
	cfg := defaults()
	if err := applyFile(&cfg); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
