package telegram

import (
	"context"
	"fmt"
	"strings"
)

type setWebhookRequest struct {
	URL                string   `json:"url"`
	SecretToken        string   `json:"secret_token,omitempty"`
	MaxConnections     int      `json:"max_connections,omitempty"`
	AllowedUpdates     []string `json:"allowed_updates,omitempty"`
	DropPendingUpdates bool     `json:"drop_pending_updates,omitempty"`
}

type deleteWebhookRequest struct {
	DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
}

type WebhookParams struct {
	URL                string
	SecretToken        string
	MaxConnections     int
	AllowedUpdates     []string
	DropPendingUpdates bool
}

// SetWebhook registers the public HTTPS endpoint Telegram should post
// updates to. The secret token comes back on every delivery in the
// X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, params WebhookParams) error {
	if strings.TrimSpace(params.URL) == "" {
		return fmt.Errorf("missing webhook url")
	}
	return c.callJSON(ctx, "setWebhook", setWebhookRequest{
		URL:                strings.TrimSpace(params.URL),
		SecretToken:        strings.TrimSpace(params.SecretToken),
		MaxConnections:     params.MaxConnections,
		AllowedUpdates:     params.AllowedUpdates,
		DropPendingUpdates: params.DropPendingUpdates,
	})
}

// DeleteWebhook removes a registered webhook. Telegram rejects getUpdates
// while one is set, so the polling transport calls this on startup.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.callJSON(ctx, "deleteWebhook", deleteWebhookRequest{DropPendingUpdates: dropPending})
}
