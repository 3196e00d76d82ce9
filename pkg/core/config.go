package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memtide deployment.
//
// It includes settings for:
//   - Conversation window (token budget, eviction, recency)
//   - Persistent store backend
//   - Embedding provider (for similarity consolidation)
//   - Decay curve and garbage collection
//
// Example:
//
//	config := &core.Config{
//	    Window: core.WindowConfig{
//	        MaxTokens:      4096,
//	        EvictionPolicy: "fifo",
//	    },
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memtide.db",
//	        },
//	    },
//	}
type Config struct {
	// Window contains conversation window configuration.
	Window WindowConfig `json:"window"`

	// Store contains persistent store configuration.
	Store StoreConfig `json:"store"`

	// Embedder contains embedding provider configuration (optional,
	// needed only for similarity consolidation).
	Embedder EmbedderConfig `json:"embedder,omitempty"`

	// Consolidation contains consolidation configuration.
	Consolidation ConsolidationConfig `json:"consolidation,omitempty"`

	// Decay contains decay curve configuration.
	Decay DecayConfig `json:"decay,omitempty"`

	// GC contains garbage collection configuration.
	GC GCConfig `json:"gc,omitempty"`
}

// WindowConfig contains configuration for the conversation window.
type WindowConfig struct {
	// MaxTokens is the token budget of the window.
	MaxTokens int `json:"max_tokens"`

	// EvictionPolicy selects the eviction policy (fifo, importance, paired).
	EvictionPolicy string `json:"eviction_policy,omitempty"`

	// MinRecencyScore is the linear recency scorer's floor in [0.0, 1.0).
	MinRecencyScore float64 `json:"min_recency_score,omitempty"`
}

// StoreConfig contains configuration for the persistent store.
//
// Supported providers: memory, json, sqlite, postgres, mysql, redis
type StoreConfig struct {
	// Provider is the store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For json: path
	// For sqlite: db_path, table_name
	// For postgres: host, port, user, password, db_name, table_name, ssl_mode
	// For mysql: host, port, user, password, db_name, table_name
	// For redis: url, prefix
	Config map[string]interface{} `json:"config,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// ConsolidationConfig contains configuration for similarity
// consolidation.
type ConsolidationConfig struct {
	// SimilarityThreshold is the cosine similarity at or above which two
	// entries are considered the same fact. Typical range: 0.8-0.95.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
}

// DecayConfig contains configuration for the decay curve.
type DecayConfig struct {
	// Curve selects the decay curve (ebbinghaus, linear).
	Curve string `json:"curve,omitempty"`

	// BaseStrength is the Ebbinghaus memory strength before
	// reinforcement. Must be positive.
	BaseStrength float64 `json:"base_strength,omitempty"`

	// ReinforcementFactor is the per-access strength gain of the
	// Ebbinghaus curve. Must be non-negative.
	ReinforcementFactor float64 `json:"reinforcement_factor,omitempty"`

	// HalfLifeHours is the linear curve's half-life in hours.
	HalfLifeHours float64 `json:"half_life_hours,omitempty"`
}

// GCConfig contains configuration for garbage collection.
type GCConfig struct {
	// RetentionThreshold is the retention score below which entries are
	// pruned. Must lie in [0, 1].
	RetentionThreshold float64 `json:"retention_threshold,omitempty"`

	// IntervalSeconds is the periodic sweep interval for the background
	// collector.
	IntervalSeconds int `json:"interval_seconds,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - MEMTIDE_MAX_TOKENS, MEMTIDE_EVICTION_POLICY, MEMTIDE_MIN_RECENCY_SCORE
//   - MEMTIDE_STORE_PROVIDER (memory, json, sqlite, postgres, mysql, redis)
//   - MEMTIDE_JSON_PATH
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//   - REDIS_URL, REDIS_PREFIX
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - MEMTIDE_SIMILARITY_THRESHOLD
//   - MEMTIDE_DECAY_CURVE, MEMTIDE_DECAY_BASE_STRENGTH,
//     MEMTIDE_DECAY_REINFORCEMENT, MEMTIDE_DECAY_HALF_LIFE_HOURS
//   - MEMTIDE_GC_THRESHOLD, MEMTIDE_GC_INTERVAL_SECONDS
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("MEMTIDE_STORE_PROVIDER", "memory")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "json":
		storeConfig = map[string]interface{}{
			"path": getEnvOrDefault("MEMTIDE_JSON_PATH", "./memtide.json"),
		}
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SQLITE_PATH", "./memtide.db"),
			"table_name": getEnvOrDefault("SQLITE_TABLE", "entries"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":   os.Getenv("POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("POSTGRES_DATABASE", "memtide"),
			"table_name": getEnvOrDefault("POSTGRES_TABLE", "entries"),
			"ssl_mode":   getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "memtide"),
			"table_name": getEnvOrDefault("MYSQL_TABLE", "entries"),
		}
	case "redis":
		storeConfig = map[string]interface{}{
			"url":    getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
			"prefix": getEnvOrDefault("REDIS_PREFIX", "memtide"),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	if embedderProvider == "openai" && embedderModel == "" {
		embedderModel = "text-embedding-3-small"
	}
	dimensions, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))

	maxTokens, _ := strconv.Atoi(getEnvOrDefault("MEMTIDE_MAX_TOKENS", "4096"))
	intervalSeconds, _ := strconv.Atoi(getEnvOrDefault("MEMTIDE_GC_INTERVAL_SECONDS", "300"))

	config := &Config{
		Window: WindowConfig{
			MaxTokens:       maxTokens,
			EvictionPolicy:  getEnvOrDefault("MEMTIDE_EVICTION_POLICY", "fifo"),
			MinRecencyScore: getEnvFloatOrDefault("MEMTIDE_MIN_RECENCY_SCORE", DefaultMinRecencyScore),
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: dimensions,
		},
		Consolidation: ConsolidationConfig{
			SimilarityThreshold: getEnvFloatOrDefault("MEMTIDE_SIMILARITY_THRESHOLD", 0.85),
		},
		Decay: DecayConfig{
			Curve:               getEnvOrDefault("MEMTIDE_DECAY_CURVE", "ebbinghaus"),
			BaseStrength:        getEnvFloatOrDefault("MEMTIDE_DECAY_BASE_STRENGTH", 1.0),
			ReinforcementFactor: getEnvFloatOrDefault("MEMTIDE_DECAY_REINFORCEMENT", 0.5),
			HalfLifeHours:       getEnvFloatOrDefault("MEMTIDE_DECAY_HALF_LIFE_HOURS", 168),
		},
		GC: GCConfig{
			RetentionThreshold: getEnvFloatOrDefault("MEMTIDE_GC_THRESHOLD", 0.1),
			IntervalSeconds:    intervalSeconds,
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("load_config_json", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("load_config_json", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that the window budget is positive, the store provider is
// known, and every threshold lies in its documented range.
func (c *Config) Validate() error {
	if c.Window.MaxTokens <= 0 {
		return NewMemoryError("validate",
			fmt.Errorf("%w: window max_tokens must be positive, got %d", ErrInvalidConfig, c.Window.MaxTokens))
	}
	switch c.Window.EvictionPolicy {
	case "", "fifo", "importance", "paired":
	default:
		return NewMemoryError("validate",
			fmt.Errorf("%w: unknown eviction policy %q", ErrInvalidConfig, c.Window.EvictionPolicy))
	}
	if c.Window.MinRecencyScore < 0 || c.Window.MinRecencyScore >= 1 {
		return NewMemoryError("validate",
			fmt.Errorf("%w: min_recency_score %v outside [0.0, 1.0)", ErrInvalidConfig, c.Window.MinRecencyScore))
	}
	switch c.Store.Provider {
	case "", "memory", "json", "sqlite", "postgres", "mysql", "redis":
	default:
		return NewMemoryError("validate",
			fmt.Errorf("%w: unknown store provider %q", ErrInvalidConfig, c.Store.Provider))
	}
	if t := c.Consolidation.SimilarityThreshold; t < 0 || t > 1 {
		return NewMemoryError("validate",
			fmt.Errorf("%w: similarity_threshold %v outside [0, 1]", ErrInvalidConfig, t))
	}
	switch c.Decay.Curve {
	case "", "ebbinghaus", "linear":
	default:
		return NewMemoryError("validate",
			fmt.Errorf("%w: unknown decay curve %q", ErrInvalidConfig, c.Decay.Curve))
	}
	if t := c.GC.RetentionThreshold; t < 0 || t > 1 {
		return NewMemoryError("validate",
			fmt.Errorf("%w: gc retention_threshold %v outside [0, 1]", ErrInvalidConfig, t))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloatOrDefault parses a float environment variable, returning
// the default when unset or unparsable.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
