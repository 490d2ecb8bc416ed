package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/memorymesh/memory"
)

var (
	memoriesUser string
	memoriesJSON bool
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Inspect and edit stored user memories",
}

var memoriesListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List a user's memories, most recently updated first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(a *app) error {
			records, err := a.memory.List(cmd.Context(), memoriesUser)
			if err != nil {
				return err
			}
			if memoriesJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			fmt.Fprintln(cmd.OutOrStdout(), memory.FormatPanel(records))
			return nil
		})
	},
}

var memoriesRemoveCmd = &cobra.Command{
	Use:     "rm <memory_id>",
	Aliases: []string{"delete"},
	Short:   "Delete one memory",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(a *app) error {
			if err := a.memory.Delete(cmd.Context(), memoriesUser, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	memoriesCmd.PersistentFlags().StringVar(&memoriesUser, "user", "", "user id")
	_ = memoriesCmd.MarkPersistentFlagRequired("user")
	memoriesListCmd.Flags().BoolVar(&memoriesJSON, "json", false, "print JSON instead of the panel")

	memoriesCmd.AddCommand(memoriesListCmd)
	memoriesCmd.AddCommand(memoriesRemoveCmd)
}

func withMemory(fn func(a *app) error) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a, err := openMemory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
