package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ohio-rate-watch/internal/model"
)

// TelegramNotifier pushes messages through the Telegram Bot API. In
// production it carries operator diagnostics (validation rejects, run
// failures); alert copies go to the same chat when enabled, which is handy
// in staging.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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
		logger:   logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// SendAlert delivers the rendered subscriber alert.
func (n *TelegramNotifier) SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error {
	text := fmt.Sprintf("(alert for %s)\n%s", sub.Email, RenderAlert(sub, decision))
	if err := n.send(ctx, text); err != nil {
		return err
	}
	n.logger.Info().Str("email", sub.Email).Msg("alert delivered via telegram")
	return nil
}

// SendOperatorDiagnostic delivers an operational message.
func (n *TelegramNotifier) SendOperatorDiagnostic(ctx context.Context, message string) error {
	text := fmt.Sprintf("[ratewatch diagnostic] %s\n%s", stamp(time.Now()), message)
	if err := n.send(ctx, text); err != nil {
		return err
	}
	n.logger.Info().Msg("operator diagnostic delivered via telegram")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
