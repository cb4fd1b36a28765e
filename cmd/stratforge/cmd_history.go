package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/stratforge/internal/state"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historySearchCmd, historyFeedbackCmd, historyExportCmd)

	historyExportCmd.Flags().String("out", "", "write the JSONL export to this file instead of stdout")
}

func knowledgeStore() *state.KnowledgeStore {
	cfg := loadConfig()
	return state.NewKnowledgeStore(filepath.Join(cfg.DataDir, "knowledge.json"))
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the local generation knowledge base",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded generations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := knowledgeStore().Generations()
		if err != nil {
			return fmt.Errorf("list generations: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No generations recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tHASH\tSCORE\tATTEMPTS\tPROMPT")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%.12s\t%.0f\t%d\t%s\n",
				r.CreatedAt.Format("2006-01-02 15:04"),
				r.CodeHash,
				r.QualityScore,
				r.Attempts,
				truncate(r.Prompt, 60),
			)
		}
		return w.Flush()
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <prompt>",
	Short: "Find past generations with similar prompts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := knowledgeStore().FindSimilar(args[0])
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if len(matches) == 0 {
			fmt.Println("No similar prompts found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tHASH\tPROMPT")
		for _, m := range matches {
			fmt.Fprintf(w, "%d\t%.12s\t%s\n", m.Score, m.Record.CodeHash, truncate(m.Record.Prompt, 60))
		}
		return w.Flush()
	},
}

var historyFeedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "List recorded feedback",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := knowledgeStore().Feedback()
		if err != nil {
			return fmt.Errorf("list feedback: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No feedback recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tHASH\tWORKS\tREASON")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%.12s\t%v\t%s\n",
				r.CreatedAt.Format("2006-01-02 15:04"),
				r.CodeHash,
				r.Works,
				truncate(r.Reason, 60),
			)
		}
		return w.Flush()
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge base as prompt/completion JSONL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := knowledgeStore().ExportJSONL()
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}

		outPath, _ := cmd.Flags().GetString("out")
		if outPath == "" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(outPath, []byte(out), 0644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", outPath)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
