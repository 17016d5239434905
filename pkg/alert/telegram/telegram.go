// Package telegram delivers alerts to Telegram chats through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"parley/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageRunes = 4096
const messagePreviewLimit = 240

// Notifier sends every alert to each configured chat.
type Notifier struct {
	bot     *telego.Bot
	chatIDs []int64
	log     *slog.Logger
}

// NewNotifier validates Telegram configuration and builds the bot client.
func NewNotifier(cfg config.TelegramConfig, log *slog.Logger) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("alerts.telegram.token is required")
	}

	chatIDs, err := parseChatIDs(cfg.ChatIDs)
	if err != nil {
		return nil, err
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("alerts.telegram.chat_ids is required")
	}

	var opts []telego.BotOption
	if server := strings.TrimSpace(cfg.APIServer); server != "" {
		opts = append(opts, telego.WithAPIServer(server))
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Notifier{
		bot:     bot,
		chatIDs: chatIDs,
		log:     log.With("component", "alert.telegram"),
	}, nil
}

// Notify sends subject and body as one message to every chat. It keeps going
// after a failed chat and returns the first error.
func (n *Notifier) Notify(ctx context.Context, subject string, body string) error {
	text := messageText(subject, body)

	var first error
	for _, chatID := range n.chatIDs {
		n.log.Info("Sending alert", "chat_id", chatID, "content", previewText(subject))
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
			n.log.Error("Failed to send telegram alert", "chat_id", chatID, "error", err)
			if first == nil {
				first = fmt.Errorf("send to chat %d: %w", chatID, err)
			}
		}
	}
	return first
}

// parseChatIDs normalizes configured chat ids, dropping blanks and duplicates.
func parseChatIDs(values []string) ([]int64, error) {
	seen := make(map[int64]struct{}, len(values))
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}

		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", trimmed, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// messageText joins subject and body and cuts the result to Telegram's limit.
func messageText(subject string, body string) string {
	text := strings.TrimSpace(subject)
	if body = strings.TrimSpace(body); body != "" {
		text += "\n\n" + body
	}

	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return text
	}

	runes := []rune(text)
	return string(runes[:maxMessageRunes-3]) + "..."
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	runes := []rune(trimmed)
	return string(runes[:messagePreviewLimit]) + "..."
}
