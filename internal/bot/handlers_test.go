package bot

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/llm"
)

func TestStartSendsCapabilitySummaryWithKeyboard(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.deliver(t, 100, textMessage(100, "/start"))

	msg := e.tg.lastMessage(t)
	if !strings.Contains(msg.Text, "/imagine") {
		t.Fatalf("capability summary missing command hint: %q", msg.Text)
	}
	for _, label := range []string{"Generate image", "Edit image", "Reset chat"} {
		if !strings.Contains(msg.RawBody, label) {
			t.Fatalf("reply keyboard missing %q in body: %s", label, msg.RawBody)
		}
	}
	if !strings.Contains(msg.RawBody, "reply_markup") {
		t.Fatalf("expected reply_markup in send body: %s", msg.RawBody)
	}
}

func TestResetKeywordThenFreshHistory(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.deliver(t, 200, textMessage(200, "what's the weather"))
	e.deliver(t, 200, textMessage(200, "Reset chat"))
	e.deliver(t, 200, textMessage(200, "hello"))

	calls := e.chat.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 chat calls, got %d", len(calls))
	}
	fresh := calls[1].Messages
	if len(fresh) != 1 {
		t.Fatalf("expected fresh one-entry history after reset, got %d entries", len(fresh))
	}
	if fresh[0].Role != llm.RoleUser || fresh[0].Content != "hello" {
		t.Fatalf("expected [{user hello}], got %+v", fresh)
	}
}

func TestHistorySentUpstreamIsBounded(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	for i := 0; i < 10; i++ {
		e.deliver(t, 300, textMessage(300, "turn"))
	}

	calls := e.chat.calls()
	last := calls[len(calls)-1]
	if len(last.Messages) > 6 {
		t.Fatalf("history sent upstream exceeds retention bound: %d entries", len(last.Messages))
	}
	if last.Messages[len(last.Messages)-1].Content != "turn" {
		t.Fatalf("latest user turn missing from upstream history: %+v", last.Messages)
	}
}

func TestGeneratePromptConsumedExactlyOnce(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.deliver(t, 400, textMessage(400, "Generate image"))
	if !e.bot.sessions.GetOrCreate(400).AwaitingPrompt {
		t.Fatal("expected awaiting-prompt flag set after menu keyword")
	}

	e.deliver(t, 400, textMessage(400, "a red fox in snow"))
	if got := e.gen.prompts; len(got) != 1 || got[0] != "a red fox in snow" {
		t.Fatalf("expected generator called with exact prompt, got %v", got)
	}
	if e.tg.photoCount() != 1 {
		t.Fatalf("expected 1 photo reply, got %d", e.tg.photoCount())
	}

	// The next text is ordinary chat, not a second prompt.
	e.deliver(t, 400, textMessage(400, "thanks"))
	if e.gen.callCount() != 1 {
		t.Fatalf("expected generator still at 1 call, got %d", e.gen.callCount())
	}
	if len(e.chat.calls()) != 1 {
		t.Fatalf("expected follow-up text routed to chat adapter, got %d calls", len(e.chat.calls()))
	}
}

func TestOversizedPromptNeverReachesAdapter(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.deliver(t, 500, textMessage(500, "Generate image"))
	e.deliver(t, 500, textMessage(500, strings.Repeat("x", 501)))

	if e.gen.callCount() != 0 {
		t.Fatalf("oversized prompt reached the generator (%d calls)", e.gen.callCount())
	}
	if msg := e.tg.lastMessage(t); !strings.Contains(msg.Text, "too long") {
		t.Fatalf("expected rejection message, got %q", msg.Text)
	}
}

func TestImagineCommand(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	e.deliver(t, 600, textMessage(600, "/imagine"))
	if e.gen.callCount() != 0 {
		t.Fatal("bare /imagine must not call the generator")
	}
	if msg := e.tg.lastMessage(t); !strings.Contains(msg.Text, "Usage") {
		t.Fatalf("expected usage message, got %q", msg.Text)
	}

	e.deliver(t, 600, textMessage(600, "/imagine a cat on a roof"))
	if got := e.gen.prompts; len(got) != 1 || got[0] != "a cat on a roof" {
		t.Fatalf("expected generator called with argument, got %v", got)
	}
}

func TestGeneratorFailureSurfacedAsShortMessage(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.gen.err = errors.New("openrouter http 502: upstream unavailable")

	e.deliver(t, 700, textMessage(700, "/imagine a storm"))

	msg := e.tg.lastMessage(t)
	if !strings.Contains(msg.Text, "Sorry") || !strings.Contains(msg.Text, "502") {
		t.Fatalf("expected short diagnostic, got %q", msg.Text)
	}
	if e.tg.photoCount() != 0 {
		t.Fatal("no photo should be sent on failure")
	}
}

func TestChatFailureKeepsUserTurn(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.chat.err = errors.New("openrouter http 500: boom")

	e.deliver(t, 800, textMessage(800, "hello there"))

	if msg := e.tg.lastMessage(t); !strings.Contains(msg.Text, "Sorry") {
		t.Fatalf("expected error message, got %q", msg.Text)
	}
	history := e.bot.sessions.History(800)
	if len(history) != 1 || history[0].Role != llm.RoleUser {
		t.Fatalf("expected the user turn retained and no assistant turn, got %+v", history)
	}
}

func TestResetReleasesPendingImageFromDisk(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	path, err := e.cache.PendingPath(".png")
	if err != nil {
		t.Fatalf("pending path: %v", err)
	}
	if err := os.WriteFile(path, []byte("stored-image"), 0o600); err != nil {
		t.Fatalf("write pending image: %v", err)
	}
	e.bot.sessions.SetPendingImage(55, path)

	e.deliver(t, 55, textMessage(55, "Reset chat"))

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pending image not removed on reset (stat err=%v)", err)
	}
	if e.bot.sessions.Len() != 0 {
		t.Fatalf("expected session removed, store has %d", e.bot.sessions.Len())
	}
	if got := e.tg.lastMessage(t).Text; !strings.Contains(got, "fresh") {
		t.Fatalf("expected reset confirmation, got %q", got)
	}
}

func TestUploadFlowStoresPendingImage(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.tg.fileContent = []byte("jpeg-bytes")

	e.deliver(t, 900, textMessage(900, "Edit image"))
	if !e.bot.sessions.GetOrCreate(900).AwaitingUpload {
		t.Fatal("expected awaiting-upload flag set")
	}

	e.deliver(t, 900, photoMessage(900))

	sess := e.bot.sessions.GetOrCreate(900)
	if sess.AwaitingUpload {
		t.Fatal("expected awaiting-upload flag cleared after upload")
	}
	if sess.PendingImagePath == "" {
		t.Fatal("expected a pending image path")
	}
	data, err := os.ReadFile(sess.PendingImagePath)
	if err != nil {
		t.Fatalf("pending image unreadable: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("pending image content mismatch: %q", data)
	}
}

func TestNonImageDocumentKeepsFlowArmed(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.deliver(t, 910, textMessage(910, "Edit image"))

	msg := textMessage(910, "")
	msg.Document = &telegram.Document{FileID: "doc1", FileName: "notes.txt", MimeType: "text/plain"}
	e.deliver(t, 910, msg)

	if !e.bot.sessions.GetOrCreate(910).AwaitingUpload {
		t.Fatal("expected flow to stay armed after a non-image upload")
	}
	if m := e.tg.lastMessage(t); !strings.Contains(m.Text, "image") {
		t.Fatalf("expected not-an-image message, got %q", m.Text)
	}
}

func TestEditReleasesTempFileOnEveryPath(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, editErr error) *testEnv {
		e := newTestEnv(t)
		e.edit.err = editErr

		path, err := e.cache.PendingPath(".png")
		if err != nil {
			t.Fatalf("pending path: %v", err)
		}
		if err := os.WriteFile(path, []byte("stored-image"), 0o600); err != nil {
			t.Fatalf("write pending image: %v", err)
		}
		e.bot.sessions.SetPendingImage(42, path)

		e.deliver(t, 42, textMessage(42, "make it rainy"))

		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("temp image not released (stat err=%v)", err)
		}
		return e
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		e := run(t, nil)
		if e.tg.photoCount() != 1 {
			t.Fatalf("expected the edited image delivered, got %d photos", e.tg.photoCount())
		}
		if got := e.edit.instructions; len(got) != 1 || got[0] != "make it rainy" {
			t.Fatalf("expected editor called with the instruction, got %v", got)
		}
	})
	t.Run("upstream_error", func(t *testing.T) {
		t.Parallel()
		e := run(t, errors.New("openai http 400: bad image"))
		if got := e.tg.lastMessage(t).Text; !strings.Contains(got, "Sorry") {
			t.Fatalf("expected error message, got %q", got)
		}
		if e.tg.photoCount() != 0 {
			t.Fatal("no photo should be delivered on failure")
		}
	})
}
