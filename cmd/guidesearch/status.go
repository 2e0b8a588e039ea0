package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Start the search subsystem and report its state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every stored guideline with the configured model",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reindexCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, cfg, logger, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	res := a.Start(ctx)

	fmt.Fprintf(out, "Status:    %s\n", res.Status)
	fmt.Fprintf(out, "Startup:   %s\n", res.Path)
	if model, ok := a.Model(); ok {
		fmt.Fprintf(out, "Model:     %s\n", model.Tag)
	}

	db, err := cfg.ResolveDBPath()
	if err != nil {
		return err
	}
	if res.InMemory {
		db += " (unavailable, using memory)"
	}
	fmt.Fprintf(out, "Database:  %s\n", db)

	docs, vectors, err := a.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count stored data: %w", err)
	}
	fmt.Fprintf(out, "Documents: %d\n", docs)
	fmt.Fprintf(out, "Vectors:   %d\n", vectors)
	if res.Cause != nil {
		fmt.Fprintf(out, "Cause:     %v\n", res.Cause)
	}
	return nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	a, _, logger, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	res := a.Start(ctx)
	if err := a.Reindex(ctx); err != nil {
		return fmt.Errorf("reindex failed (%s): %w", res.Status, err)
	}

	_, vectors, err := a.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d guidelines with %s\n", vectors, res.Model)
	return nil
}
