package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stratforge/internal/orchestrator"
	"github.com/user/stratforge/internal/poller"
	"github.com/user/stratforge/internal/prompt"
	"github.com/user/stratforge/internal/session"
	"github.com/user/stratforge/internal/state"
	"github.com/user/stratforge/internal/types"
	"github.com/user/stratforge/pkg/forge"
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("from-url", "", "fetch a web page and attach it as reference material")
	generateCmd.Flags().String("out", "", "write the generated script to this file")
	generateCmd.Flags().Bool("no-save", false, "skip saving the script to the data dir")
	generateCmd.Flags().Bool("activity", false, "print the agent activity log after generation")
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a strategy script from a prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	fromURL, _ := cmd.Flags().GetString("from-url")
	outPath, _ := cmd.Flags().GetString("out")
	noSave, _ := cmd.Flags().GetBool("no-save")
	showActivity, _ := cmd.Flags().GetBool("activity")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx := cmd.Context()

	userPrompt := args[0]
	if fromURL != "" {
		fetcher := prompt.NewFetcher()
		refContext, err := fetcher.Fetch(ctx, fromURL)
		if err != nil {
			return fmt.Errorf("fetch reference material: %w", err)
		}
		userPrompt = prompt.Compose(userPrompt, refContext)
	}

	budget, err := prompt.NewBudget(cfg.Generation.MaxPromptTokens)
	if err != nil {
		return fmt.Errorf("create token budget: %w", err)
	}

	client := forge.NewClient(cfg.Service.BaseURL,
		forge.WithTimeout(time.Duration(cfg.Service.TimeoutSeconds)*time.Second))
	store := session.NewStore()
	p := poller.New(client, store, time.Duration(cfg.Service.PollIntervalMS)*time.Millisecond)
	orch := orchestrator.New(client, store, p, types.SettingsFunc(cfg.Settings),
		orchestrator.WithPromptGuard(budget))

	knowledge := state.NewKnowledgeStore(filepath.Join(cfg.DataDir, "knowledge.json"))
	if matches, err := knowledge.FindSimilar(userPrompt); err == nil && len(matches) > 0 {
		fmt.Fprintf(os.Stderr, "Note: %d similar prompt(s) in history; see `stratforge history search`.\n", len(matches))
	}

	fmt.Fprintln(os.Stderr, "Generating... this can take a few minutes.")

	err = orch.SubmitPrompt(ctx, userPrompt)
	var domainErr *orchestrator.DomainError
	switch {
	case errors.Is(err, orchestrator.ErrNoAPIKey):
		return fmt.Errorf("no API key configured; set STRATFORGE_API_KEY or generation.api_key in %s", configPath)
	case errors.As(err, &domainErr):
		printActivities(store.Activities())
		return fmt.Errorf("generation failed: %s", domainErr.Message)
	case err != nil:
		return fmt.Errorf("generation failed: %w", err)
	}

	result := store.CurrentResult()

	if showActivity {
		printActivities(result.ActivityLog)
	}
	fmt.Fprintf(os.Stderr, "Done in %d attempt(s), quality score %.0f.\n", result.Attempts, result.QualityScore)

	if !noSave {
		scripts := state.NewScriptStore(cfg.DataDir)
		id, err := scripts.Save(userPrompt, result.Code, result.QualityScore)
		if err != nil {
			return fmt.Errorf("save script: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Saved as %s\n", id)

		if err := knowledge.RecordGeneration(userPrompt, result.Code, result.QualityScore, result.Attempts); err != nil {
			return fmt.Errorf("record generation: %w", err)
		}
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(result.Code), 0644); err != nil {
			return fmt.Errorf("write script: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", outPath)
	} else {
		fmt.Println(result.Code)
	}
	return nil
}

func printActivities(activities []types.AgentActivity) {
	for _, act := range activities {
		fmt.Fprintf(os.Stderr, "  [%s] %-10s %s: %s\n", act.Timestamp, act.Status, act.Agent, act.Message)
	}
}
