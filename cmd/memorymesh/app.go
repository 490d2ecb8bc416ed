package main

import (
	"database/sql"
	"errors"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel"

	"github.com/hupe1980/memorymesh/engine"
	"github.com/hupe1980/memorymesh/internal/config"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/model"
	"github.com/hupe1980/memorymesh/model/anthropic"
	"github.com/hupe1980/memorymesh/model/openai"
	"github.com/hupe1980/memorymesh/runner"
	"github.com/hupe1980/memorymesh/search"
	"github.com/hupe1980/memorymesh/search/duckduckgo"
	"github.com/hupe1980/memorymesh/session"
	"github.com/hupe1980/memorymesh/tool"
)

// app holds the wired components shared by every subcommand.
type app struct {
	logger   *logging.StructuredLogger
	db       *sql.DB
	cache    memory.Cache
	memory   *memory.Manager
	analyzer *engine.Analyzer
	runner   *runner.Runner
}

func newLogger(c config.LogConfig) (*logging.StructuredLogger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    c.Format,
		Output:    os.Stderr,
		Component: "memorymesh",
	}), nil
}

// openMemory opens the database and the memory manager. It is enough for
// the memories subcommands, which never talk to a model.
func openMemory(c *config.Config, logger *logging.StructuredLogger) (*app, error) {
	db, err := memory.OpenDB(c.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, db: db}

	store, err := memory.NewSQLiteStore(db)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	switch c.Memory.Cache {
	case "map":
		a.cache = memory.NewMapCache()
	default:
		rc, err := memory.NewRistrettoCache(func(o *memory.RistrettoOptions) {
			o.MaxEntries = c.Memory.CacheEntries
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.cache = rc
	}

	a.memory = memory.NewManager(store, func(o *memory.Options) {
		o.Cache = a.cache
		o.Logger = logger.WithComponent("memory")
	})
	return a, nil
}

// buildApp wires the full turn pipeline from configuration.
func buildApp(c *config.Config) (*app, error) {
	logger, err := newLogger(c.Log)
	if err != nil {
		return nil, err
	}

	a, err := openMemory(c, logger)
	if err != nil {
		return nil, err
	}

	checkpoints, err := session.NewSQLiteStore(a.db)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	tools := []tool.Tool{tool.NewMemoryTool()}
	if c.Search.Enabled {
		provider := duckduckgo.New(func(o *duckduckgo.Options) {
			o.Region = c.Search.Region
			o.RatePerSecond = c.Search.RatePerSecond
		})
		agg := search.NewAggregator(provider, func(o *search.Options) {
			o.MaxQueries = c.Search.MaxQueries
			o.Attempts = c.Search.Attempts
			o.Logger = logger.WithComponent("search")
		})
		tools = append(tools, tool.NewSearchTool(agg))
	}

	exec, err := tool.NewExecutor(tools, func(o *tool.ExecutorOptions) {
		o.Logger = logger.WithComponent("tool")
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	m := newModel(c.Model)

	eng := engine.New(m, exec, a.memory, func(o *engine.Options) {
		o.Visibility = engine.Visibility(c.Engine.Visibility)
		o.LoopAfterReflect = c.Engine.LoopAfterReflect
		o.MaxToolRounds = c.Engine.MaxToolRounds
		o.CompactThreshold = c.Engine.CompactThreshold
		o.CompactKeep = c.Engine.CompactKeep
		o.Logger = logger.WithComponent("engine")
		o.Tracer = otel.Tracer("github.com/hupe1980/memorymesh/engine")
	})

	if c.Memory.Analyzer {
		a.analyzer = engine.NewAnalyzer(m, a.memory, func(o *engine.AnalyzerOptions) {
			o.Workers = c.Memory.AnalyzerWorkers
			o.Timeout = c.Memory.AnalyzerTimeout
			o.Logger = logger.WithComponent("analyzer")
		})
	}

	a.runner = runner.New(eng, func(o *runner.Options) {
		o.Checkpoints = checkpoints
		o.Analyzer = a.analyzer
		o.TurnTimeout = c.Engine.TurnTimeout
		o.PollInterval = c.Engine.PollInterval
		o.Logger = logger.WithComponent("runner")
	})
	return a, nil
}

func newModel(c config.ModelConfig) model.Model {
	if c.Provider == "anthropic" {
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(c.Name)
			o.Temperature = c.Temperature
			o.MaxTokens = c.MaxTokens
			o.APIKey = c.APIKey
			o.BaseURL = c.BaseURL
		})
	}
	return openai.NewModel(func(o *openai.Options) {
		o.Model = c.Name
		o.Temperature = c.Temperature
		o.MaxCompletionTokens = c.MaxTokens
		o.BaseURL = c.BaseURL
		o.APIKey = c.APIKey
	})
}

// Close drains running turns and pending analyses, then releases the
// cache and the database.
func (a *app) Close() error {
	var err error
	if a.runner != nil {
		err = a.runner.Close()
	}
	if a.analyzer != nil {
		a.analyzer.Close()
	}
	if rc, ok := a.cache.(*memory.RistrettoCache); ok {
		rc.Close()
	}
	if a.db != nil {
		err = errors.Join(err, a.db.Close())
	}
	return err
}
