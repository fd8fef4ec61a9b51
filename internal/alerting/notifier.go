package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"catalyst-catcher/internal/storage"
)

// Notification wraps a dispatched signal.
type Notification struct {
	SignalID string                 `json:"signal_id"`
	Signal   storage.CatalystSignal `json:"signal"`
	Mode     string                 `json:"mode"`
	Posture  string                 `json:"posture,omitempty"`
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered signal.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("signal_id", note.SignalID).
		Str("ticker", note.Signal.Ticker).
		Str("action", note.Signal.Action).
		Msg("signal sent to telegram")
	return nil
}

// RenderMessage formats a signal as a short plain-text alert.
func RenderMessage(note Notification) string {
	sig := note.Signal
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Catalyst] %s %s\n", sig.Action, sig.Ticker))
	if sig.Keyword != "" {
		builder.WriteString(fmt.Sprintf("Topic: %s\n", sig.Keyword))
	}
	if sig.News.Title != "" {
		builder.WriteString(fmt.Sprintf("News: %s\n", sig.News.Title))
	}
	builder.WriteString(fmt.Sprintf("Price: %s (%s%%)\n", sig.Market.Price.StringFixed(2), sig.Market.ChangePct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Volume ratio: %sx", sig.Market.VolumeRatio.StringFixed(2)))
	if sig.Market.VolumeSpike {
		builder.WriteString(" (spike)")
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Confidence: %d/10 %s\n", sig.Analysis.Confidence, sig.Analysis.Sentiment))
	if sig.Analysis.Reasoning != "" {
		builder.WriteString(sig.Analysis.Reasoning + "\n")
	}
	if note.Mode != "" {
		builder.WriteString(fmt.Sprintf("Mode: %s", note.Mode))
		if note.Posture != "" {
			builder.WriteString(fmt.Sprintf(", market %s", note.Posture))
		}
		builder.WriteString("\n")
	}
	if sig.News.Link != "" {
		builder.WriteString(sig.News.Link)
	}
	return builder.String()
}

// Multi fans a notification out to every channel and joins their errors.
type Multi []Notifier

// Notify delivers to all channels even when one fails.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Multi(nil)
)
