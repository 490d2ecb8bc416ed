// Package config provides application configuration.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, and MEMORYMESH_* environment variables (a local .env
// file is loaded into the environment first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MEMORYMESH_"

// Config holds all application configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Memory   MemoryConfig   `yaml:"memory"`
	Engine   EngineConfig   `yaml:"engine"`
	Search   SearchConfig   `yaml:"search"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// ModelConfig selects and tunes the chat model.
type ModelConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=openai anthropic"`
	Name        string  `yaml:"name" validate:"required"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int64   `yaml:"max_tokens" validate:"min=1"`
}

// DatabaseConfig locates the SQLite file shared by memories and checkpoints.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// MemoryConfig controls the memory cache and background analysis.
type MemoryConfig struct {
	Cache           string        `yaml:"cache" validate:"oneof=ristretto map"`
	CacheEntries    int64         `yaml:"cache_entries" validate:"min=1"`
	Analyzer        bool          `yaml:"analyzer"`
	AnalyzerWorkers int           `yaml:"analyzer_workers" validate:"min=1"`
	AnalyzerTimeout time.Duration `yaml:"analyzer_timeout" validate:"min=0"`
}

// EngineConfig tunes the turn state machine.
type EngineConfig struct {
	Visibility       string        `yaml:"visibility" validate:"oneof=silent annotate"`
	LoopAfterReflect bool          `yaml:"loop_after_reflect"`
	MaxToolRounds    int           `yaml:"max_tool_rounds" validate:"min=1"`
	CompactThreshold int           `yaml:"compact_threshold" validate:"min=1"`
	CompactKeep      int           `yaml:"compact_keep" validate:"min=1"`
	TurnTimeout      time.Duration `yaml:"turn_timeout" validate:"gt=0"`
	PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// SearchConfig tunes the web_search tool.
type SearchConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MaxQueries    int     `yaml:"max_queries" validate:"min=1,max=3"`
	Attempts      int     `yaml:"attempts" validate:"min=1"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	Region        string  `yaml:"region"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "gpt-4o",
			BaseURL:     "http://localhost:8000/v1",
			APIKey:      "EMPTY",
			Temperature: 0.6,
			MaxTokens:   4096,
		},
		Database: DatabaseConfig{Path: "./data/ai_memory.db"},
		Memory: MemoryConfig{
			Cache:           "ristretto",
			CacheEntries:    100_000,
			AnalyzerWorkers: 2,
			AnalyzerTimeout: 60 * time.Second,
		},
		Engine: EngineConfig{
			Visibility:       "silent",
			MaxToolRounds:    4,
			CompactThreshold: 10,
			CompactKeep:      3,
			TurnTimeout:      20 * time.Second,
			PollInterval:     100 * time.Millisecond,
		},
		Search: SearchConfig{
			Enabled:       true,
			MaxQueries:    3,
			Attempts:      3,
			RatePerSecond: 1,
			Region:        "wt-wt",
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// MEMORYMESH_CONFIG when path is empty) and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Model.Provider = getEnv("MODEL_PROVIDER", c.Model.Provider)
	c.Model.Name = getEnv("MODEL_NAME", c.Model.Name)
	c.Model.BaseURL = getEnv("MODEL_BASE_URL", c.Model.BaseURL)
	c.Model.APIKey = getEnv("MODEL_API_KEY", c.Model.APIKey)
	c.Model.Temperature = getEnvFloat("MODEL_TEMPERATURE", c.Model.Temperature)
	c.Model.MaxTokens = int64(getEnvInt("MODEL_MAX_TOKENS", int(c.Model.MaxTokens)))

	c.Database.Path = getEnv("DB_PATH", c.Database.Path)

	c.Memory.Cache = getEnv("CACHE", c.Memory.Cache)
	c.Memory.CacheEntries = int64(getEnvInt("CACHE_ENTRIES", int(c.Memory.CacheEntries)))
	c.Memory.Analyzer = getEnvBool("ANALYZER", c.Memory.Analyzer)
	c.Memory.AnalyzerWorkers = getEnvInt("ANALYZER_WORKERS", c.Memory.AnalyzerWorkers)
	c.Memory.AnalyzerTimeout = getEnvDuration("ANALYZER_TIMEOUT", c.Memory.AnalyzerTimeout)

	c.Engine.Visibility = getEnv("VISIBILITY", c.Engine.Visibility)
	c.Engine.LoopAfterReflect = getEnvBool("LOOP_AFTER_REFLECT", c.Engine.LoopAfterReflect)
	c.Engine.MaxToolRounds = getEnvInt("MAX_TOOL_ROUNDS", c.Engine.MaxToolRounds)
	c.Engine.CompactThreshold = getEnvInt("COMPACT_THRESHOLD", c.Engine.CompactThreshold)
	c.Engine.CompactKeep = getEnvInt("COMPACT_KEEP", c.Engine.CompactKeep)
	c.Engine.TurnTimeout = getEnvDuration("TURN_TIMEOUT", c.Engine.TurnTimeout)
	c.Engine.PollInterval = getEnvDuration("POLL_INTERVAL", c.Engine.PollInterval)

	c.Search.Enabled = getEnvBool("SEARCH_ENABLED", c.Search.Enabled)
	c.Search.MaxQueries = getEnvInt("SEARCH_MAX_QUERIES", c.Search.MaxQueries)
	c.Search.Attempts = getEnvInt("SEARCH_ATTEMPTS", c.Search.Attempts)
	c.Search.RatePerSecond = getEnvFloat("SEARCH_RATE", c.Search.RatePerSecond)
	c.Search.Region = getEnv("SEARCH_REGION", c.Search.Region)

	c.Server.Addr = getEnv("ADDR", c.Server.Addr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, formatValidationError(e))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if c.Engine.CompactKeep >= c.Engine.CompactThreshold {
		return fmt.Errorf("engine.compact_keep (%d) must be below engine.compact_threshold (%d)",
			c.Engine.CompactKeep, c.Engine.CompactThreshold)
	}
	if c.Engine.PollInterval >= c.Engine.TurnTimeout {
		return fmt.Errorf("engine.poll_interval (%s) must be below engine.turn_timeout (%s)",
			c.Engine.PollInterval, c.Engine.TurnTimeout)
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	field := fieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gt":
		return fmt.Sprintf("%s must be %s %s (got: %v)", field, comparison(e.Tag()), e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", field, e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", field, e.Tag(), e.Value())
	}
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}

// fieldPath turns "Config.Engine.CompactKeep" into "engine.compact_keep".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, camelToSnake(p))
	}
	return strings.Join(out, ".")
}

func camelToSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && isUpper(r) {
			nextLower := i+1 < len(runes) && !isUpper(runes[i+1])
			if !isUpper(runes[i-1]) || nextLower {
				b.WriteRune('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
