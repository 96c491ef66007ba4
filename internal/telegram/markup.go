package telegram

// Reply markup payloads (subset of the Bot API). Values are attached to
// outbound sendMessage requests as the reply_markup field.

type ReplyKeyboardMarkup struct {
	Keyboard              [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard        bool               `json:"resize_keyboard,omitempty"`
	OneTimeKeyboard       bool               `json:"one_time_keyboard,omitempty"`
	InputFieldPlaceholder string             `json:"input_field_placeholder,omitempty"`
}

type KeyboardButton struct {
	Text string `json:"text"`
}

type ForceReply struct {
	ForceReply            bool   `json:"force_reply"`
	InputFieldPlaceholder string `json:"input_field_placeholder,omitempty"`
	Selective             bool   `json:"selective,omitempty"`
}

// SingleColumnKeyboard builds a one-button-per-row reply keyboard from the
// given labels, skipping empty ones.
func SingleColumnKeyboard(labels ...string) *ReplyKeyboardMarkup {
	rows := make([][]KeyboardButton, 0, len(labels))
	for _, label := range labels {
		if label == "" {
			continue
		}
		rows = append(rows, []KeyboardButton{{Text: label}})
	}
	if len(rows) == 0 {
		return nil
	}
	return &ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true}
}
