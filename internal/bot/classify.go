package bot

import (
	"strings"

	"github.com/quailyquaily/missmuse/internal/session"
	"github.com/quailyquaily/missmuse/internal/telegram"
)

// eventKind is the classified variant of an inbound message. Classification
// happens once per update; dispatch is a single switch in handle().
type eventKind int

const (
	eventNone eventKind = iota
	eventHelp
	eventWhoAmI
	eventImagine
	eventReset
	eventUnknownCommand
	eventGenerateKeyword
	eventEditKeyword
	eventImagePrompt
	eventImageUpload
	eventEditInstruction
	eventChat
)

type event struct {
	kind eventKind
	// text is the trimmed message text or caption.
	text string
	// prompt carries the image description for eventImagine and
	// eventImagePrompt, and the edit instruction for eventEditInstruction.
	prompt  string
	command string
}

// classify maps a message onto exactly one event using first-match order:
// commands, menu keywords, awaited prompt, upload, edit instruction, chat.
// Menu keywords therefore never leak into chat history.
func (b *Bot) classify(msg *telegram.Message, sess session.Session) event {
	text := strings.TrimSpace(msg.TextOrCaption())

	if cmdWord, rest := splitCommand(text); cmdWord != "" {
		if cmd := normalizeSlashCommand(cmdWord); cmd != "" {
			switch cmd {
			case "/start", "/help":
				return event{kind: eventHelp, command: cmd}
			case "/id":
				return event{kind: eventWhoAmI, command: cmd}
			case "/imagine":
				return event{kind: eventImagine, command: cmd, prompt: rest}
			case "/reset":
				return event{kind: eventReset, command: cmd}
			default:
				return event{kind: eventUnknownCommand, command: cmd}
			}
		}
	}

	switch {
	case text != "" && text == b.cfg.ResetLabel:
		return event{kind: eventReset, text: text}
	case text != "" && text == b.cfg.GenerateLabel:
		return event{kind: eventGenerateKeyword, text: text}
	case text != "" && text == b.cfg.EditLabel:
		return event{kind: eventEditKeyword, text: text}
	}

	if msg.HasAttachment() {
		if sess.AwaitingUpload {
			return event{kind: eventImageUpload, text: text}
		}
		// Attachments outside an edit flow have no handler.
		return event{kind: eventNone, text: text}
	}

	if text == "" {
		return event{kind: eventNone}
	}

	if sess.AwaitingPrompt {
		return event{kind: eventImagePrompt, text: text, prompt: text}
	}
	if sess.PendingImagePath != "" {
		return event{kind: eventEditInstruction, text: text, prompt: text}
	}

	return event{kind: eventChat, text: text}
}

func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

func normalizeSlashCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || !strings.HasPrefix(cmd, "/") {
		return ""
	}
	// Allow "/cmd@BotName" variants by stripping "@...".
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}
