package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "silent", cfg.Engine.Visibility)
	assert.Equal(t, 10, cfg.Engine.CompactThreshold)
	assert.Equal(t, 3, cfg.Engine.CompactKeep)
	assert.Equal(t, 20*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, 3, cfg.Search.MaxQueries)
	assert.Equal(t, 3, cfg.Search.Attempts)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memorymesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: anthropic
  name: claude-3-5-sonnet-latest
engine:
  visibility: annotate
  turn_timeout: 45s
search:
  enabled: false
`), 0o600))

	t.Setenv(EnvPrefix+"TURN_TIMEOUT", "30s")
	t.Setenv(EnvPrefix+"COMPACT_KEEP", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Model.Name)
	assert.Equal(t, "annotate", cfg.Engine.Visibility)
	assert.Equal(t, 30*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, 5, cfg.Engine.CompactKeep)
	assert.False(t, cfg.Search.Enabled)
	// keys missing from the file keep their defaults
	assert.Equal(t, 10, cfg.Engine.CompactThreshold)
	assert.Equal(t, "./data/ai_memory.db", cfg.Database.Path)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600))
	t.Setenv(EnvPrefix+"CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestLoad_InvalidEnvIsIgnored(t *testing.T) {
	t.Setenv(EnvPrefix+"MAX_TOOL_ROUNDS", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.MaxToolRounds)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "provider", mutate: func(c *Config) { c.Model.Provider = "cohere" }, wantErr: "model.provider must be one of"},
		{name: "visibility", mutate: func(c *Config) { c.Engine.Visibility = "loud" }, wantErr: "engine.visibility must be one of"},
		{name: "cache", mutate: func(c *Config) { c.Memory.Cache = "redis" }, wantErr: "memory.cache must be one of"},
		{name: "db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path is required"},
		{name: "max queries", mutate: func(c *Config) { c.Search.MaxQueries = 4 }, wantErr: "search.max_queries must be at most 3"},
		{name: "attempts", mutate: func(c *Config) { c.Search.Attempts = 0 }, wantErr: "search.attempts must be at least 1"},
		{name: "timeout", mutate: func(c *Config) { c.Engine.TurnTimeout = 0 }, wantErr: "engine.turn_timeout must be greater than"},
		{name: "base url", mutate: func(c *Config) { c.Model.BaseURL = "not a url" }, wantErr: "model.base_url must be a valid URL"},
		{name: "keep below threshold", mutate: func(c *Config) { c.Engine.CompactKeep = 10 }, wantErr: "compact_keep"},
		{name: "poll below timeout", mutate: func(c *Config) { c.Engine.PollInterval = time.Minute }, wantErr: "poll_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "engine.compact_keep", fieldPath("Config.Engine.CompactKeep"))
	assert.Equal(t, "model.base_url", fieldPath("Config.Model.BaseURL"))
	assert.Equal(t, "model.api_key", fieldPath("Config.Model.APIKey"))
}
