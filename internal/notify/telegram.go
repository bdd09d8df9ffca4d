// Package notify pushes approval notifications to an operator channel.
package notify

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/config"
)

// botSender is the slice of the Telegram bot API the notifier needs.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram notifies a fixed operator chat when a turn suspends for approval.
type Telegram struct {
	bot    botSender
	chatID int64
}

// NewTelegram builds a notifier from config. Returns nil when disabled so
// callers can pass it straight through as an optional dependency.
func NewTelegram(cfg config.TelegramNotifyConfig) (*Telegram, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram notifications enabled but token is empty")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	slog.Info("telegram notifier ready", "bot", bot.Self.UserName)

	return &Telegram{bot: bot, chatID: chatID}, nil
}

// NotifyApprovalPending sends one message describing the pending request and
// how to resolve it.
func (t *Telegram) NotifyApprovalPending(req approval.Request) error {
	if t == nil || t.bot == nil {
		return nil
	}

	text := fmt.Sprintf(
		"Approval required\n\nTool: %s\nArgs: %s\nTurn: %s\nRequest: %s\n\nResolve with: medsentry approval approve %s",
		req.ToolName, req.ArgsJSON, req.TurnID, req.ID, req.ID,
	)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}
