package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/recovery"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	retrier *recovery.Retrier
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: defaultTelegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
		retrier: recovery.NewRetrier(recovery.DefaultPolicy()),
	}
}

// WithRetryPolicy replaces the delivery retry policy
func (t *TelegramNotifier) WithRetryPolicy(p recovery.Policy) *TelegramNotifier {
	t.retrier = recovery.NewRetrier(p)
	return t
}

// WithAPIBase points the notifier at another Bot API host
func (t *TelegramNotifier) WithAPIBase(base string) *TelegramNotifier {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

func (t *TelegramNotifier) SendAlert(ctx context.Context, level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	text := fmt.Sprintf("%s *Signal Bridge*\n\n%s", emoji, message)
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	body := data.Encode()
	return t.retrier.Do(ctx, "telegram", "sendMessage", func(ctx context.Context) error {
		return t.post(ctx, apiURL, body)
	})
}

// post classifies failures so that only transient ones are retried
func (t *TelegramNotifier) post(ctx context.Context, apiURL, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(body))
	if err != nil {
		return errors.WrapError(err, errors.ErrorCategoryConfiguration, "telegram", "sendMessage")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.NewIOError("telegram", "sendMessage", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.NewDispatchError("telegram", "sendMessage", fmt.Sprintf("telegram API returned status %d", resp.StatusCode))
	default:
		return errors.NewValidationError("telegram", "sendMessage", fmt.Sprintf("telegram API returned status %d", resp.StatusCode))
	}
}
