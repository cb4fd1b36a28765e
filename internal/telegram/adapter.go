package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/stratforge/internal/orchestrator"
	"github.com/user/stratforge/pkg/forge"
)

const maxTelegramMessage = 4096

// Adapter bridges Telegram chat to the generation orchestrator: plain
// messages become prompts, commands cover status and feedback. It is a
// presentation layer; it only submits intents and renders store
// snapshots, never mutating session state directly.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	orch   *orchestrator.Orchestrator
	client *forge.Client
}

// New creates a Telegram adapter.
func New(token string, orch *orchestrator.Orchestrator, client *forge.Client) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:    bot,
		orch:   orch,
		client: client,
	}, nil
}

// Start begins long-polling for Telegram updates. It blocks until the
// context is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	a.send(chatID, "Working on it. Generation can take a few minutes...")

	// SubmitPrompt blocks for the lifetime of the generation; run it off
	// the update loop so commands stay responsive.
	go func() {
		err := a.orch.SubmitPrompt(ctx, msg.Text)
		switch {
		case err == nil:
			result := a.orch.Store().CurrentResult()
			a.send(chatID, fmt.Sprintf("Done in %d attempt(s). Quality score %.0f.", result.Attempts, result.QualityScore))
			a.sendCode(chatID, result.Code)
			a.send(chatID, "Does it work for you? Reply /works or /broken <reason>.")
		case errors.Is(err, orchestrator.ErrBusy):
			a.send(chatID, "A generation is already in progress; try again once it finishes.")
		case errors.Is(err, orchestrator.ErrNoAPIKey):
			a.send(chatID, "No API key is configured on this daemon. Add one to the config and restart.")
		default:
			a.send(chatID, "Generation failed: "+err.Error())
		}
	}()
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.send(chatID, "Hi! Describe a trading strategy and I'll generate a script for it.")

	case "status":
		status, err := a.client.Status(ctx)
		if err != nil {
			a.send(chatID, "Service unreachable: "+err.Error())
			return
		}
		snap := a.orch.Store().Snapshot()
		a.send(chatID, fmt.Sprintf("Service: %s\nGenerating: %v\nConversation turns: %d",
			status.Status, snap.Busy, len(snap.Conversation)))

	case "activity":
		activities := a.orch.Store().Activities()
		if len(activities) == 0 {
			a.send(chatID, "No activity recorded.")
			return
		}
		var b strings.Builder
		for _, act := range activities {
			fmt.Fprintf(&b, "[%s] %s: %s\n", act.Timestamp, act.Agent, act.Message)
		}
		a.send(chatID, b.String())

	case "works":
		a.submitFeedback(ctx, chatID, true, "")

	case "broken":
		a.submitFeedback(ctx, chatID, false, strings.TrimSpace(msg.CommandArguments()))

	default:
		a.send(chatID, "Unknown command. Available: /start, /status, /activity, /works, /broken <reason>")
	}
}

func (a *Adapter) submitFeedback(ctx context.Context, chatID int64, works bool, reason string) {
	err := a.orch.SubmitFeedback(ctx, works, reason)
	switch {
	case err == nil:
		a.send(chatID, "Feedback recorded, thanks!")
	case errors.Is(err, orchestrator.ErrNoResult):
		a.send(chatID, "There's no generated script to give feedback on yet.")
	case errors.Is(err, orchestrator.ErrReasonRequired):
		a.send(chatID, "Tell me what went wrong: /broken <reason>")
	default:
		a.send(chatID, "Could not record feedback: "+err.Error())
	}
}

func (a *Adapter) sendCode(chatID int64, code string) {
	a.send(chatID, "```pine\n"+code+"\n```")
}

func (a *Adapter) send(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send telegram message failed", "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
