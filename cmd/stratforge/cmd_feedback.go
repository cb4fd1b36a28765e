package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stratforge/internal/state"
	"github.com/user/stratforge/internal/types"
	"github.com/user/stratforge/pkg/forge"
)

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().Bool("works", false, "report that the script works")
	feedbackCmd.Flags().String("broken", "", "report that the script is broken, with a reason")
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <script-id>",
	Short: "Submit feedback on a saved script",
	Long: `Submit feedback on a previously saved script to the generation
service, and record it in the local knowledge base. Exactly one of
--works or --broken <reason> must be given.`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func runFeedback(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	works, _ := cmd.Flags().GetBool("works")
	reason, _ := cmd.Flags().GetString("broken")

	if works == (reason != "") {
		return fmt.Errorf("give exactly one of --works or --broken <reason>")
	}

	scripts := state.NewScriptStore(cfg.DataDir)
	code, meta, err := scripts.Get(types.ScriptID(args[0]))
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}

	client := forge.NewClient(cfg.Service.BaseURL,
		forge.WithTimeout(time.Duration(cfg.Service.TimeoutSeconds)*time.Second))
	if err := client.SubmitFeedback(cmd.Context(), forge.FeedbackRequest{
		Code:   code,
		Works:  works,
		Reason: reason,
	}); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}

	knowledge := state.NewKnowledgeStore(filepath.Join(cfg.DataDir, "knowledge.json"))
	if err := knowledge.RecordFeedback(meta.CodeHash, works, reason); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	fmt.Printf("Feedback on %s recorded.\n", meta.ID)
	return nil
}
