package bot

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quailyquaily/missmuse/imaging"
	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/llm"
)

// handle runs exactly one handler for the job, picked by classification.
func (b *Bot) handle(ctx context.Context, j job) {
	sess := b.sessions.GetOrCreate(j.userID)
	ev := b.classify(j.msg, sess)

	switch ev.kind {
	case eventHelp:
		b.handleHelp(ctx, j)
	case eventWhoAmI:
		b.handleWhoAmI(ctx, j)
	case eventReset:
		b.handleReset(ctx, j)
	case eventGenerateKeyword:
		b.handleGenerateKeyword(ctx, j)
	case eventEditKeyword:
		b.handleEditKeyword(ctx, j)
	case eventImagine:
		b.handleImagine(ctx, j, ev)
	case eventImagePrompt:
		b.handleImagePrompt(ctx, j, ev)
	case eventImageUpload:
		b.handleImageUpload(ctx, j)
	case eventEditInstruction:
		b.handleEditInstruction(ctx, j, ev)
	case eventChat:
		b.handleChat(ctx, j, ev)
	case eventUnknownCommand:
		b.send(ctx, j.chatID, msgUnknownCommand)
	case eventNone:
		b.logger.Debug("bot_event_ignored", "chat_id", j.chatID, "job_id", j.id)
	}
}

func (b *Bot) handleHelp(ctx context.Context, j job) {
	var markup any
	if b.keyboard != nil {
		markup = b.keyboard
	}
	b.sendMarkup(ctx, j.chatID, b.helpText(), markup)
}

func (b *Bot) handleWhoAmI(ctx context.Context, j job) {
	chatType := ""
	if j.msg.Chat != nil {
		chatType = j.msg.Chat.Type
	}
	b.send(ctx, j.chatID, fmt.Sprintf("chat_id=%d type=%s", j.chatID, chatType))
}

func (b *Bot) handleReset(ctx context.Context, j job) {
	if pending := b.sessions.Reset(j.userID); pending != "" {
		b.removeCached(pending)
	}
	b.logger.Info("bot_session_reset", "chat_id", j.chatID, "user_id", j.userID)
	b.send(ctx, j.chatID, msgReset)
}

func (b *Bot) handleGenerateKeyword(ctx context.Context, j job) {
	// Starting a generation flow abandons any half-done edit flow.
	b.sessions.SetAwaitingUpload(j.userID, false)
	if prev, ok := b.sessions.TakePendingImage(j.userID); ok {
		b.removeCached(prev)
	}
	b.sessions.SetAwaitingPrompt(j.userID, true)
	b.sendMarkup(ctx, j.chatID, msgAskImagePrompt, &telegram.ForceReply{
		ForceReply:            true,
		InputFieldPlaceholder: "a red fox in snow",
	})
}

func (b *Bot) handleEditKeyword(ctx context.Context, j job) {
	if b.editor == nil {
		b.send(ctx, j.chatID, msgEditNotConfigured)
		return
	}
	b.sessions.SetAwaitingPrompt(j.userID, false)
	if prev, ok := b.sessions.TakePendingImage(j.userID); ok {
		b.removeCached(prev)
	}
	b.sessions.SetAwaitingUpload(j.userID, true)
	b.send(ctx, j.chatID, msgAskUpload)
}

func (b *Bot) handleImagine(ctx context.Context, j job, ev event) {
	prompt := strings.TrimSpace(ev.prompt)
	if prompt == "" {
		b.send(ctx, j.chatID, msgImagineUsage)
		return
	}
	b.generateImage(ctx, j, prompt)
}

func (b *Bot) handleImagePrompt(ctx context.Context, j job, ev event) {
	// One-shot: the flag is gone even when validation rejects the prompt.
	b.sessions.ConsumeAwaitingPrompt(j.userID)
	b.generateImage(ctx, j, strings.TrimSpace(ev.prompt))
}

func (b *Bot) generateImage(ctx context.Context, j job, prompt string) {
	if utf8.RuneCountInString(prompt) > b.cfg.MaxPromptChars {
		b.send(ctx, j.chatID, b.promptTooLong())
		return
	}

	stop := telegram.StartTypingTicker(ctx, b.tg, j.chatID, "upload_photo", 4*time.Second)
	defer stop()

	img, err := b.generator.Generate(ctx, imaging.GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: b.cfg.ImageNegativePrompt,
		Model:          b.cfg.ImageModel,
		Width:          b.cfg.ImageWidth,
		Height:         b.cfg.ImageHeight,
		Steps:          b.cfg.ImageSteps,
	})
	if err != nil {
		b.logger.Warn("bot_image_generate_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, shortError(err))
		return
	}
	b.logger.Info("bot_image_generated",
		"chat_id", j.chatID,
		"job_id", j.id,
		"bytes", len(img.Data),
		"duration_ms", img.Duration.Milliseconds(),
	)
	if err := b.tg.SendPhoto(ctx, j.chatID, bytes.NewReader(img.Data), photoFilename(img.MimeType), "🎨 "+prompt); err != nil {
		b.logger.Warn("bot_send_photo_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, msgPhotoDeliveryFailed)
	}
}

func (b *Bot) handleImageUpload(ctx context.Context, j job) {
	if b.editor == nil {
		b.send(ctx, j.chatID, msgEditNotConfigured)
		return
	}
	fileID, ext, ok := imageAttachment(j.msg)
	if !ok {
		// Keep the flow armed so the user can retry with a real image.
		b.send(ctx, j.chatID, msgNotAnImage)
		return
	}

	f, err := b.tg.GetFile(ctx, fileID)
	if err != nil {
		b.logger.Warn("bot_get_file_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, shortError(err))
		return
	}
	if ext == "" {
		ext = filepath.Ext(f.FilePath)
	}
	dst, err := b.cache.PendingPath(ext)
	if err != nil {
		b.logger.Warn("bot_cache_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, msgUploadStoreFailed)
		return
	}
	if _, _, err := b.tg.DownloadFileTo(ctx, f.FilePath, dst, b.cfg.FileMaxBytes); err != nil {
		b.removeCached(dst)
		b.logger.Warn("bot_download_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, shortError(err))
		return
	}

	if prev := b.sessions.SetPendingImage(j.userID, dst); prev != "" {
		b.removeCached(prev)
	}
	b.sessions.SetAwaitingUpload(j.userID, false)
	b.logger.Info("bot_image_stored", "chat_id", j.chatID, "user_id", j.userID, "path", dst)
	b.send(ctx, j.chatID, msgAskInstruction)
}

func (b *Bot) handleEditInstruction(ctx context.Context, j job, ev event) {
	instruction := strings.TrimSpace(ev.prompt)
	if utf8.RuneCountInString(instruction) > b.cfg.MaxPromptChars {
		// Reject before taking the image so the flow stays usable.
		b.send(ctx, j.chatID, b.promptTooLong())
		return
	}

	path, ok := b.sessions.TakePendingImage(j.userID)
	if !ok {
		b.handleChat(ctx, j, ev)
		return
	}
	// The temp image is consumed by this turn, success or not.
	defer b.removeCached(path)

	if b.editor == nil {
		b.send(ctx, j.chatID, msgEditNotConfigured)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		b.logger.Warn("bot_pending_image_read_error", "chat_id", j.chatID, "path", path, "error", err.Error())
		b.send(ctx, j.chatID, msgPendingImageLost)
		return
	}

	stop := telegram.StartTypingTicker(ctx, b.tg, j.chatID, "upload_photo", 4*time.Second)
	defer stop()

	img, err := b.editor.Edit(ctx, imaging.EditRequest{
		Image:       data,
		MimeType:    http.DetectContentType(data),
		Instruction: instruction,
		Model:       b.cfg.EditModel,
	})
	if err != nil {
		b.logger.Warn("bot_image_edit_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, shortError(err))
		return
	}
	b.logger.Info("bot_image_edited",
		"chat_id", j.chatID,
		"job_id", j.id,
		"bytes", len(img.Data),
		"duration_ms", img.Duration.Milliseconds(),
	)
	if err := b.tg.SendPhoto(ctx, j.chatID, bytes.NewReader(img.Data), photoFilename(img.MimeType), "🖌 "+instruction); err != nil {
		b.logger.Warn("bot_send_photo_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, msgPhotoDeliveryFailed)
	}
}

func (b *Bot) handleChat(ctx context.Context, j job, ev event) {
	// The user turn lands in history before the call; the assistant turn
	// only on success. A transient failure keeps what the user said.
	b.sessions.AppendTurn(j.userID, llm.RoleUser, ev.text)
	history := b.sessions.History(j.userID)
	messages := make([]llm.Message, 0, len(history))
	for _, t := range history {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}

	stop := telegram.StartTypingTicker(ctx, b.tg, j.chatID, "typing", 4*time.Second)
	defer stop()

	res, err := b.chat.Chat(ctx, llm.Request{
		Model:       b.cfg.ChatModel,
		Messages:    messages,
		Temperature: b.cfg.ChatTemperature,
		MaxTokens:   b.cfg.ChatMaxTokens,
	})
	if err != nil {
		b.logger.Warn("bot_chat_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
		b.send(ctx, j.chatID, shortError(err))
		return
	}
	b.sessions.AppendTurn(j.userID, llm.RoleAssistant, res.Text)
	b.logger.Info("bot_chat_done",
		"chat_id", j.chatID,
		"job_id", j.id,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if err := b.tg.SendMessageChunked(ctx, j.chatID, res.Text, nil); err != nil {
		b.logger.Warn("bot_send_error", "chat_id", j.chatID, "job_id", j.id, "error", err.Error())
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.tg.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("bot_send_error", "chat_id", chatID, "error", err.Error())
	}
}

func (b *Bot) sendMarkup(ctx context.Context, chatID int64, text string, markup any) {
	if err := b.tg.SendMessageMarkup(ctx, chatID, text, markup); err != nil {
		b.logger.Warn("bot_send_error", "chat_id", chatID, "error", err.Error())
	}
}

func (b *Bot) removeCached(path string) {
	if err := b.cache.Remove(path); err != nil {
		b.logger.Warn("bot_cached_file_remove_error", "path", path, "error", err.Error())
	}
}

func imageAttachment(msg *telegram.Message) (fileID string, ext string, ok bool) {
	if p := msg.LargestPhoto(); p != nil {
		// Telegram re-encodes photos as JPEG.
		return p.FileID, ".jpg", true
	}
	if d := msg.Document; d != nil && strings.TrimSpace(d.FileID) != "" {
		mime := strings.ToLower(strings.TrimSpace(d.MimeType))
		if strings.HasPrefix(mime, "image/") {
			return d.FileID, extForMime(mime), true
		}
	}
	return "", "", false
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

func photoFilename(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return "photo.jpg"
	case "image/webp":
		return "photo.webp"
	default:
		return "photo.png"
	}
}
