package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/94nj111/library-service/pkg/config"
)

// MessageSender delivers a rendered notification to its audience.
type MessageSender interface {
	Send(ctx context.Context, text string) error
}

type telegramSender struct {
	httpClient *http.Client
	apiBase    string
	botToken   string
	chatIDs    []string
}

// NewTelegramSender builds a sender that posts to the Telegram Bot API,
// fanning each message out to every configured chat.
func NewTelegramSender(cfg config.TelegramConfig, timeout time.Duration) (MessageSender, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token required")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("at least one telegram chat id required")
	}
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("telegram api base required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &telegramSender{
		httpClient: &http.Client{Timeout: timeout},
		apiBase:    cfg.APIBase,
		botToken:   cfg.BotToken,
		chatIDs:    cfg.ChatIDs,
	}, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range t.chatIDs {
		if err := t.sendOne(ctx, chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
		}
	}
	return multierr.Combine(errs...)
}

func (t *telegramSender) sendOne(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram responded %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
