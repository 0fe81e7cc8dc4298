package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/echoid/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent identification results",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		entries, err := store.Recent(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}

		if asYAML {
			out, err := yaml.Marshal(entries)
			if err != nil {
				return fmt.Errorf("error marshaling history: %w", err)
			}
			fmt.Print(string(out))
			return nil
		}

		if len(entries) == 0 {
			fmt.Println("No history yet")
			return nil
		}

		matchColor := color.New(color.FgGreen)
		errorColor := color.New(color.FgRed)
		for _, e := range entries {
			ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
			switch e.Outcome {
			case history.OutcomeMatch:
				matchColor.Printf("%s  %s - %s\n", ts, e.Artist, e.Title)
			case history.OutcomeNoMatch:
				fmt.Printf("%s  no match (%s)\n", ts, codePreview(e.Code))
			default:
				errorColor.Printf("%s  error: %s\n", ts, e.Error)
			}
		}

		counts, err := store.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count history: %w", err)
		}
		fmt.Printf("\n%d matches, %d without match, %d errors\n",
			counts[history.OutcomeMatch], counts[history.OutcomeNoMatch], counts[history.OutcomeError])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded results",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(context.Background()); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		fmt.Println("History cleared")
		return nil
	},
}

func openHistory() (*history.Store, error) {
	if !cfg.History.IsEnabled() {
		return nil, fmt.Errorf("history is disabled in the active profile")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func codePreview(code string) string {
	if len(code) > 16 {
		return code[:16] + "..."
	}
	return code
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	historyCmd.Flags().Bool("yaml", false, "print entries as YAML")
	historyCmd.AddCommand(historyClearCmd)
}
