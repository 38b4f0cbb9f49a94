// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dkozyrev/smswatch/internal/watch"
)

// Config controls one Bot API channel. Each configured chat id gets
// its own Channel value so per-channel failure isolation applies per
// chat.
type Config struct {
	Token    string
	ChatID   string
	BaseURL  string
	RichText bool
	Timeout  time.Duration
}

// Channel sends to a single chat, fire-and-forget.
type Channel struct {
	cfg    Config
	client *resty.Client
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// New creates a Bot API channel.
func New(cfg Config) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("chat id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		client: resty.New().SetTimeout(cfg.Timeout),
	}, nil
}

// Name identifies the channel in delivery results and metrics.
func (c *Channel) Name() string {
	return "telegram:" + c.cfg.ChatID
}

// Send posts one message to the chat. A 409 from the Bot API means
// another process holds this bot identity; that is surfaced as
// ErrConflictingInstance, the one condition the daemon treats as
// fatal to prevent duplicate delivery from two instances.
func (c *Channel) Send(ctx context.Context, text string) error {
	body := map[string]string{
		"chat_id": c.cfg.ChatID,
		"text":    text,
	}
	if c.cfg.RichText {
		body["parse_mode"] = "HTML"
	}

	var result sendResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.BaseURL, c.cfg.Token))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.StatusCode() == http.StatusConflict {
		return fmt.Errorf("%w: %s", watch.ErrConflictingInstance, result.Description)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), result.Description)
	}
	return nil
}
