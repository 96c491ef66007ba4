package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           any    `json:"reply_markup,omitempty"`
}

// SendMessage delivers text with the MarkdownV2 fallback chain: try as-is,
// then escaped, then plain text. Model output regularly contains characters
// MarkdownV2 refuses to parse.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.SendMessageMarkup(ctx, chatID, text, nil)
}

func (c *Client) SendMessageMarkup(ctx context.Context, chatID int64, text string, markup any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(empty)"
	}

	err := c.sendMessageWithParseMode(ctx, chatID, text, "MarkdownV2", markup)
	if err == nil {
		return nil
	}
	if !isMarkdownParseError(err) {
		slog.Warn("failed to send with MarkdownV2", "error", err)
		escaped := escapeMarkdownV2(text)
		err = c.sendMessageWithParseMode(ctx, chatID, escaped, "MarkdownV2", markup)
		if err == nil {
			return nil
		}
		if !isMarkdownParseError(err) {
			slog.Warn("again, failed to send escaped with MarkdownV2", "error", err)
		}
	}

	slog.Warn("failed to send with MarkdownV2; fallback to plain text", "error", err)
	return c.sendMessageWithParseMode(ctx, chatID, text, "", markup)
}

// SendMessageChunked splits long texts under Telegram's message size limit.
// Only the last chunk carries the reply markup, so a keyboard attached to a
// long reply is not repeated per chunk.
func (c *Client) SendMessageChunked(ctx context.Context, chatID int64, text string, markup any) error {
	const max = 3500
	text = strings.TrimSpace(text)
	if text == "" {
		return c.SendMessageMarkup(ctx, chatID, "(empty)", markup)
	}
	for len(text) > 0 {
		chunk := text
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		text = strings.TrimSpace(text[len(chunk):])
		var chunkMarkup any
		if len(text) == 0 {
			chunkMarkup = markup
		}
		if err := c.SendMessageMarkup(ctx, chatID, chunk, chunkMarkup); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendMessageWithParseMode(ctx context.Context, chatID int64, text string, parseMode string, markup any) error {
	return c.callJSON(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             strings.TrimSpace(parseMode),
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	})
}

func escapeMarkdownV2(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, r := range text {
		switch r {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isMarkdownParseError(err error) bool {
	if err == nil {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		desc := strings.ToLower(strings.TrimSpace(reqErr.Description))
		if strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity") {
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "can't parse entity")
}

// SendPhoto uploads image bytes as a photo message via multipart form data.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, r io.Reader, filename string, caption string) error {
	if r == nil {
		return fmt.Errorf("missing photo data")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "photo.png"
	}
	caption = strings.TrimSpace(caption)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()

		_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
		if caption != "" {
			_ = mw.WriteField("caption", caption)
		}

		part, err := mw.CreateFormFile("photo", filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendPhoto"), pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var ok okResponse
	_ = json.Unmarshal(raw, &ok)
	if !ok.OK {
		return fmt.Errorf("telegram sendPhoto: ok=false")
	}
	return nil
}
