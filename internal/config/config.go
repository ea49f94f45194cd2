// Package config loads the engine's runtime configuration: defaults, then
// an optional YAML file, then environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single immutable configuration object constructed at
// process start and threaded by reference into every component.
type Config struct {
	LogRoots []string `yaml:"log_roots"`
	StateFile string  `yaml:"state_file"`

	VectorStoreURL string `yaml:"vector_store_url"`

	EmbeddingProvider string `yaml:"embedding_provider"` // "local" | "remote"
	RemoteAPIKey      string `yaml:"remote_api_key"`
	RemoteURL         string `yaml:"remote_url"`
	LocalModelPath    string `yaml:"local_model_path"`

	Chunk ChunkConfig `yaml:"chunk"`

	RemoteTokenBudget     int  `yaml:"remote_token_budget"`
	TokenCharRatio        int  `yaml:"token_char_ratio"`
	UseTokenAwareBatching bool `yaml:"use_token_aware_batching"`

	HotWindow   time.Duration `yaml:"hot_window"`
	WarmWindow  time.Duration `yaml:"warm_window"`
	MaxWarmWait time.Duration `yaml:"max_warm_wait"`

	HotCheckInterval time.Duration `yaml:"hot_check_interval"`
	ImportFrequency  time.Duration `yaml:"import_frequency"`
	MaxColdPerCycle  int           `yaml:"max_cold_per_cycle"`

	OperationalMemoryLimitMB int `yaml:"operational_memory_limit_mb"`
	MaxCPUPercentPerCore     int `yaml:"max_cpu_percent_per_core"`

	EnableMemoryDecay bool    `yaml:"enable_memory_decay"`
	DecayWeight       float64 `yaml:"decay_weight"`
	DecayScaleDays    int     `yaml:"decay_scale_days"`

	MaxToolOutputs     int `yaml:"max_tool_outputs"`
	MaxToolOutputChars int `yaml:"max_tool_output_chars"`

	LogMountPrefix string `yaml:"log_mount_prefix"`

	QueueCapacity int `yaml:"queue_capacity"`

	RetryMax int `yaml:"retry_max"`
}

// ChunkConfig groups the chunker's size and overlap limits.
type ChunkConfig struct {
	TokenLimit   int `yaml:"token_limit"`
	CharLimit    int `yaml:"char_limit"`
	OverlapTokens int `yaml:"overlap_tokens"`
	OverlapChars  int `yaml:"overlap_chars"`
}

// Default returns the configuration with every documented default
// applied, before file or environment overrides are layered on.
func Default() *Config {
	return &Config{
		LogRoots:       nil,
		StateFile:      "state/ingest_state.json",
		VectorStoreURL: "http://localhost:6334",

		EmbeddingProvider: "local",

		Chunk: ChunkConfig{
			TokenLimit:    400,
			CharLimit:     1600,
			OverlapTokens: 75,
			OverlapChars:  300,
		},

		RemoteTokenBudget:     100_000,
		TokenCharRatio:        3,
		UseTokenAwareBatching: true,

		HotWindow:   5 * time.Minute,
		WarmWindow:  24 * time.Hour,
		MaxWarmWait: 30 * time.Minute,

		HotCheckInterval: 2 * time.Second,
		ImportFrequency:  60 * time.Second,
		MaxColdPerCycle:  5,

		OperationalMemoryLimitMB: 500,
		MaxCPUPercentPerCore:     90,

		EnableMemoryDecay: true,
		DecayWeight:       0.3,
		DecayScaleDays:    90,

		MaxToolOutputs:     15,
		MaxToolOutputChars: 500,

		QueueCapacity: 10_000,
		RetryMax:      5,
	}
}

// Load reads the YAML file at path (if it exists) over the defaults, then
// applies environment-variable overrides (e.g. VECTOR_STORE_URL,
// CHUNK_TOKEN_LIMIT, OPERATIONAL_MEMORY_LIMIT; applyEnvOverrides holds the
// full list). local_model_path, queue_capacity and retry_max have no
// environment override.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_ROOTS"); v != "" {
		cfg.LogRoots = strings.Split(v, ",")
	}
	strEnv("STATE_FILE", &cfg.StateFile)
	strEnv("VECTOR_STORE_URL", &cfg.VectorStoreURL)
	strEnv("EMBEDDING_PROVIDER", &cfg.EmbeddingProvider)
	strEnv("REMOTE_API_KEY", &cfg.RemoteAPIKey)
	strEnv("REMOTE_URL", &cfg.RemoteURL)
	strEnv("LOG_MOUNT_PREFIX", &cfg.LogMountPrefix)

	intEnv("CHUNK_TOKEN_LIMIT", &cfg.Chunk.TokenLimit)
	intEnv("CHUNK_CHAR_LIMIT", &cfg.Chunk.CharLimit)
	intEnv("OVERLAP_TOKENS", &cfg.Chunk.OverlapTokens)
	intEnv("OVERLAP_CHARS", &cfg.Chunk.OverlapChars)

	intEnv("REMOTE_TOKEN_BUDGET", &cfg.RemoteTokenBudget)
	intEnv("TOKEN_CHAR_RATIO", &cfg.TokenCharRatio)
	boolEnv("USE_TOKEN_AWARE_BATCHING", &cfg.UseTokenAwareBatching)

	durEnv("HOT_WINDOW", &cfg.HotWindow)
	durEnv("WARM_WINDOW", &cfg.WarmWindow)
	durEnv("MAX_WARM_WAIT", &cfg.MaxWarmWait)
	durEnv("HOT_CHECK_INTERVAL", &cfg.HotCheckInterval)
	durEnv("IMPORT_FREQUENCY", &cfg.ImportFrequency)
	intEnv("MAX_COLD_PER_CYCLE", &cfg.MaxColdPerCycle)

	intEnv("OPERATIONAL_MEMORY_LIMIT", &cfg.OperationalMemoryLimitMB)
	intEnv("MAX_CPU_PERCENT_PER_CORE", &cfg.MaxCPUPercentPerCore)

	boolEnv("ENABLE_MEMORY_DECAY", &cfg.EnableMemoryDecay)
	floatEnv("DECAY_WEIGHT", &cfg.DecayWeight)
	intEnv("DECAY_SCALE_DAYS", &cfg.DecayScaleDays)

	intEnv("MAX_TOOL_OUTPUTS", &cfg.MaxToolOutputs)
	intEnv("MAX_TOOL_OUTPUT_CHARS", &cfg.MaxToolOutputChars)
}

func strEnv(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatEnv(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolEnv(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durEnv(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
