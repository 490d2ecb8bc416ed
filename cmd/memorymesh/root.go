package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/memorymesh/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "memorymesh",
	Short: "memorymesh - a conversational agent with long-term user memory",
	Long: `memorymesh answers user messages with a chat model, remembers durable
facts about each user in SQLite and can consult the web when asked.

Configuration is read from an optional YAML file and MEMORYMESH_*
environment variables.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env: MEMORYMESH_CONFIG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(memoriesCmd)
}

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" {
		return nil
	}
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}
