package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/stratforge/internal/localapi"
	"github.com/user/stratforge/internal/orchestrator"
	"github.com/user/stratforge/internal/poller"
	"github.com/user/stratforge/internal/prompt"
	"github.com/user/stratforge/internal/scheduler"
	"github.com/user/stratforge/internal/session"
	"github.com/user/stratforge/internal/state"
	"github.com/user/stratforge/internal/telegram"
	"github.com/user/stratforge/internal/types"
	"github.com/user/stratforge/pkg/forge"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stratforge daemon",
	Long: `Run the long-lived daemon: a local HTTP API and an optional Telegram
adapter submit prompts to the generation service, scheduled tasks fire
on their cron expressions, and every settled generation is appended to
the transcript and the knowledge base.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "stratforge.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Core pipeline
	client := forge.NewClient(cfg.Service.BaseURL,
		forge.WithTimeout(time.Duration(cfg.Service.TimeoutSeconds)*time.Second))
	store := session.NewStore()
	p := poller.New(client, store, time.Duration(cfg.Service.PollIntervalMS)*time.Millisecond)

	budget, err := prompt.NewBudget(cfg.Generation.MaxPromptTokens)
	if err != nil {
		return fmt.Errorf("create token budget: %w", err)
	}

	orch := orchestrator.New(client, store, p, types.SettingsFunc(cfg.Settings),
		orchestrator.WithPromptGuard(budget))

	// Stores
	transcript := state.NewTranscriptLog(filepath.Join(cfg.DataDir, "transcript.jsonl"))
	knowledge := state.NewKnowledgeStore(filepath.Join(cfg.DataDir, "knowledge.json"))
	scripts := state.NewScriptStore(cfg.DataDir)
	taskStore := state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Session recorder: transcript + knowledge base + script files
	g.Go(func() error {
		runRecorder(ctx, store, transcript, knowledge, scripts)
		return nil
	})

	// Scheduler
	sched := scheduler.New(taskStore, func(name, promptText string) {
		err := orch.SubmitPrompt(ctx, promptText)
		switch {
		case err == nil:
			slog.Info("scheduled generation completed", "task", name)
		case errors.Is(err, orchestrator.ErrBusy):
			slog.Info("scheduled generation skipped, session busy", "task", name)
		default:
			slog.Error("scheduled generation failed", "task", name, "error", err)
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, orch, client)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		g.Go(func() error {
			adapter.Start(ctx)
			return nil
		})
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Local HTTP API
	httpServer := &http.Server{
		Addr:    cfg.LocalAPI.Addr,
		Handler: localapi.NewServer(orch),
	}
	g.Go(func() error {
		slog.Info("local API started", "listen", cfg.LocalAPI.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("local API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	slog.Info("stratforge started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"service", cfg.Service.BaseURL,
		"poll_interval_ms", cfg.Service.PollIntervalMS,
		"pid_file", pidPath,
	)

	err = g.Wait()
	slog.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runRecorder drains session store notifications and persists what it
// sees: finished conversation turns go to the transcript, each new
// successful result is saved as a script file and recorded in the
// knowledge base. Results are keyed by code hash so a snapshot seen
// twice is recorded once.
func runRecorder(ctx context.Context, store *session.Store, transcript *state.TranscriptLog, knowledge *state.KnowledgeStore, scripts *state.ScriptStore) {
	ch, cancel := store.Subscribe()
	defer cancel()

	logged := 0
	lastHash := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}

		snap := store.Snapshot()

		// Pending turns are placeholders and get replaced in place, so
		// only settled turns count toward the transcript position.
		n := 0
		for _, turn := range snap.Conversation {
			if turn.Pending {
				continue
			}
			n++
			if n <= logged {
				continue
			}
			if err := transcript.Append(turn); err != nil {
				slog.Warn("append transcript failed", "error", err)
			}
		}
		logged = n

		result := snap.CurrentResult
		if result == nil || !result.Success || result.Code == "" {
			continue
		}
		hash := state.HashCode(result.Code)
		if hash == lastHash {
			continue
		}
		lastHash = hash

		promptText := lastUserPrompt(snap.Conversation)
		if _, err := scripts.Save(promptText, result.Code, result.QualityScore); err != nil {
			slog.Warn("save script failed", "error", err)
		}
		if err := knowledge.RecordGeneration(promptText, result.Code, result.QualityScore, result.Attempts); err != nil {
			slog.Warn("record generation failed", "error", err)
		}
	}
}

func lastUserPrompt(conversation []types.ConversationTurn) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == types.RoleUser {
			return conversation[i].Content
		}
	}
	return ""
}
