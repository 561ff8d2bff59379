package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/pkg/logger"
)

// ErrTelegram is returned when the Bot API rejects a message.
var ErrTelegram = errors.New("telegram api error")

// TelegramAlerter sends alerts via the Telegram Bot API.
type TelegramAlerter struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	policy   retry.Policy
	logger   logger.Logger
}

// TelegramOption configures a TelegramAlerter.
type TelegramOption func(*TelegramAlerter)

// WithAPIBase overrides https://api.telegram.org (for testing).
func WithAPIBase(base string) TelegramOption {
	return func(t *TelegramAlerter) {
		if base != "" {
			t.apiBase = strings.TrimRight(base, "/")
		}
	}
}

// WithProxy routes Bot API calls through an HTTP proxy.
func WithProxy(proxyURL string) TelegramOption {
	return func(t *TelegramAlerter) {
		if proxyURL == "" {
			return
		}
		if u, err := url.Parse(proxyURL); err == nil {
			t.client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
}

// WithRetryPolicy replaces the default 3 retries with 1s exponential backoff.
func WithRetryPolicy(p retry.Policy) TelegramOption {
	return func(t *TelegramAlerter) { t.policy = p }
}

// NewTelegramAlerter creates an alerter for one chat.
func NewTelegramAlerter(botToken, chatID string, opts ...TelegramOption) *TelegramAlerter {
	t := &TelegramAlerter{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 30 * time.Second},
		policy:   retry.FromRetries(3, retry.Exponential(time.Second, 0), func(error) bool { return true }),
		logger:   logger.Get().Named("telegram"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notify formats and sends the alert, retrying with backoff.
func (t *TelegramAlerter) Notify(ctx context.Context, a Alert) error {
	text := format(a)
	var lastErr error
	for attempt := 0; attempt < t.policy.Attempts(); attempt++ {
		lastErr = t.send(ctx, text)
		if lastErr == nil {
			return nil
		}
		if !t.policy.ShouldRetry(attempt, lastErr) {
			break
		}
		wait := t.policy.Delay(attempt)
		t.logger.Warn(ctx, "telegram send failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", wait),
			logger.Error(lastErr),
		)
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("telegram: all %d attempts failed: %w", t.policy.Attempts(), lastErr)
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New("telegram: build request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// url.Error embeds the endpoint, which embeds the bot token.
		var ue *url.Error
		if errors.As(err, &ue) {
			return fmt.Errorf("telegram: %s: %w", ue.Op, ue.Err)
		}
		return fmt.Errorf("telegram: send failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d, body: %s", ErrTelegram, resp.StatusCode, string(respBody))
	}
	return nil
}

func format(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>[%s] %s</b>", strings.ToUpper(string(a.Severity)), html.EscapeString(a.Title))
	if a.Source != "" {
		fmt.Fprintf(&b, "\nsource: <code>%s</code>", html.EscapeString(a.Source))
	}
	if a.Message != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(a.Message))
	}
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\n<i>%s</i>", a.At.UTC().Format(time.RFC3339))
	}
	return b.String()
}
