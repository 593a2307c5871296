package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"dca_bot/internal/logger"
	"dca_bot/internal/models"
	"dca_bot/internal/retry"

	"github.com/pkg/errors"
)

// ErrNotificationFailure means an alert could not be delivered after all retries.
var ErrNotificationFailure = errors.New("notification failure")

const defaultBaseURL = "https://api.telegram.org"

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Client delivers alerts to one chat through the Bot API sendMessage method.
type Client struct {
	BotToken string
	ChatID   string
	BaseURL  string
	HTTP     *http.Client

	retrier *retry.Retrier
}

// NewClient builds a Client. proxyURL may be empty; r may be nil for a single attempt.
func NewClient(botToken, chatID, proxyURL string, r *retry.Retrier) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if r == nil {
		r = retry.New(retry.WithAttempts(1))
	}
	return &Client{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  defaultBaseURL,
		HTTP:     &http.Client{Timeout: 30 * time.Second, Transport: transport},
		retrier:  r,
	}
}

// Send posts the alert text. Failures after retries wrap ErrNotificationFailure.
func (c *Client) Send(ctx context.Context, msg models.AlertMessage) error {
	logger.Debugf("Telegram Notify [%s]: %s", msg.Severity, msg.Text)

	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.sendOnce(ctx, msg.Text)
	})
	if err != nil {
		return errors.Wrapf(ErrNotificationFailure, "telegram: %v", err)
	}
	return nil
}

func (c *Client) sendOnce(ctx context.Context, text string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", c.BaseURL, c.BotToken)
	body, err := json.Marshal(map[string]string{
		"chat_id": c.ChatID,
		"text":    text,
	})
	if err != nil {
		return retry.Permanent(errors.Wrap(err, "marshal payload"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiResp apiResponse
	detail := string(respBody)
	if json.Unmarshal(respBody, &apiResp) == nil && apiResp.Description != "" {
		detail = apiResp.Description
	}
	apiErr := errors.Errorf("telegram API error: status %d: %s", resp.StatusCode, detail)

	// Bad token or chat id will not fix itself.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(apiErr)
	}
	return apiErr
}

// LogNotifier writes alerts to the log. Used when Telegram credentials are missing.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg models.AlertMessage) error {
	log.Printf("📣 [%s] %s", msg.Severity, msg.Text)
	return nil
}
