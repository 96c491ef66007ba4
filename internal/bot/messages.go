package bot

import (
	"fmt"
	"strings"
)

// User-visible copy. Adapter failures go through shortError so upstream
// internals never leak into the chat beyond a one-line diagnostic.
const (
	msgReset               = "Conversation cleared. We're starting fresh."
	msgAskImagePrompt      = "Describe the image you want and I'll draw it."
	msgAskUpload           = "Send me the photo (or image file) you want to edit."
	msgAskInstruction      = "Got it. Now tell me what to change."
	msgNotAnImage          = "That doesn't look like an image. Send a photo or an image file."
	msgEditNotConfigured   = "Image editing isn't configured on this bot."
	msgImagineUsage        = "Usage: /imagine <description>"
	msgUnknownCommand      = "I don't know that command. Try /help."
	msgPhotoDeliveryFailed = "I made the image but couldn't deliver it. Please try again."
	msgPendingImageLost    = "I lost the uploaded image. Please send it again."
	msgUploadStoreFailed   = "I couldn't store the upload. Please try again."
)

const maxErrorChars = 200

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("Hi! I can chat and make pictures.\n\n")
	sb.WriteString("Just type to talk to me. Or use the menu:\n")
	if b.cfg.GenerateLabel != "" {
		fmt.Fprintf(&sb, "%s — I'll draw whatever you describe\n", b.cfg.GenerateLabel)
	}
	if b.cfg.EditLabel != "" && b.editor != nil {
		fmt.Fprintf(&sb, "%s — send a photo and tell me what to change\n", b.cfg.EditLabel)
	}
	if b.cfg.ResetLabel != "" {
		fmt.Fprintf(&sb, "%s — forget our conversation\n", b.cfg.ResetLabel)
	}
	sb.WriteString("\nCommands: /imagine <description>, /reset, /help")
	return sb.String()
}

func (b *Bot) promptTooLong() string {
	return fmt.Sprintf("That description is too long. Keep it under %d characters.", b.cfg.MaxPromptChars)
}

// shortError maps an adapter failure to the single user-visible message
// that ends the turn.
func shortError(err error) string {
	diag := "unknown error"
	if err != nil {
		diag = strings.TrimSpace(err.Error())
	}
	if len(diag) > maxErrorChars {
		diag = diag[:maxErrorChars] + "…"
	}
	return "Sorry, that didn't work: " + diag
}
