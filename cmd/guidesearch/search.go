package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/guidesearch/pkg/types"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the guidelines",
	Long: `Ranks guidelines by semantic similarity to the query. When no model can
be loaded the search falls back to keyword matching and returns every
guideline that mentions a query word.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, _, logger, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	res := a.Start(ctx)

	results, err := a.Search(ctx, args[0], searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, res.Status, results)
	}
	outputSearchTable(cmd, res.Status, results)
	return nil
}

func outputSearchJSON(cmd *cobra.Command, status types.StatusEvent, results []types.SearchResult) error {
	out := cmd.OutOrStdout()
	data, err := json.MarshalIndent(map[string]interface{}{
		"status":  status,
		"results": results,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, status types.StatusEvent, results []types.SearchResult) {
	out := cmd.OutOrStdout()
	if status.Mode == types.ModeBasic {
		fmt.Fprintf(out, "Keyword search only: %s\n\n", status.Reason)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	for _, r := range results {
		fmt.Fprintf(out, "  [%d] %s (%s, %.2f)\n", r.Rank, r.Title, r.ActionType, r.Score)
		fmt.Fprintf(out, "      %s\n", r.Text)
		if r.SpeechText != "" {
			fmt.Fprintf(out, "      %s\n", r.SpeechText)
		}
		fmt.Fprintln(out)
	}
}
