package bot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/missmuse/imaging"
	"github.com/quailyquaily/missmuse/internal/filecache"
	"github.com/quailyquaily/missmuse/internal/session"
	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/llm"
)

const testToken = "TEST"

type sentMessage struct {
	ChatID  int64
	Text    string
	RawBody string
}

type sentPhoto struct {
	ChatID  int64
	Caption string
	Bytes   int
}

// fakeTelegram records what the bot sends and serves getFile/downloads for
// the upload flow.
type fakeTelegram struct {
	mu       sync.Mutex
	messages []sentMessage
	photos   []sentPhoto

	fileContent []byte
}

func (f *fakeTelegram) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			raw, _ := io.ReadAll(r.Body)
			var req struct {
				ChatID int64  `json:"chat_id"`
				Text   string `json:"text"`
			}
			_ = json.Unmarshal(raw, &req)
			f.mu.Lock()
			f.messages = append(f.messages, sentMessage{ChatID: req.ChatID, Text: req.Text, RawBody: string(raw)})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/sendPhoto"):
			_ = r.ParseMultipartForm(64 << 20)
			caption := r.FormValue("caption")
			var n int
			if file, _, err := r.FormFile("photo"); err == nil {
				data, _ := io.ReadAll(file)
				n = len(data)
				_ = file.Close()
			}
			f.mu.Lock()
			f.photos = append(f.photos, sentPhoto{Caption: caption, Bytes: n})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/sendChatAction"):
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"f1","file_path":"photos/file_1.jpg"}}`))
		case strings.Contains(r.URL.Path, "/file/bot"):
			f.mu.Lock()
			content := f.fileContent
			f.mu.Unlock()
			_, _ = w.Write(content)
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		}
	})
}

func (f *fakeTelegram) messageTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Text
	}
	return out
}

func (f *fakeTelegram) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("no messages were sent")
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeTelegram) photoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.photos)
}

type fakeChat struct {
	mu       sync.Mutex
	requests []llm.Request
	text     string
	err      error
}

func (f *fakeChat) Chat(_ context.Context, req llm.Request) (llm.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return llm.Result{}, f.err
	}
	text := f.text
	if text == "" {
		text = "assistant reply"
	}
	return llm.Result{Text: text}, nil
}

func (f *fakeChat) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, req imaging.GenerateRequest) (imaging.Image, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.err != nil {
		return imaging.Image{}, f.err
	}
	return imaging.Image{Data: []byte("png-bytes"), MimeType: "image/png"}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeEditor struct {
	mu           sync.Mutex
	instructions []string
	err          error
}

func (f *fakeEditor) Edit(_ context.Context, req imaging.EditRequest) (imaging.Image, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, req.Instruction)
	f.mu.Unlock()
	if f.err != nil {
		return imaging.Image{}, f.err
	}
	return imaging.Image{Data: []byte("edited-bytes"), MimeType: "image/png"}, nil
}

type testEnv struct {
	bot   *Bot
	tg    *fakeTelegram
	chat  *fakeChat
	gen   *fakeGenerator
	edit  *fakeEditor
	cache *filecache.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cache, err := filecache.Open(t.TempDir() + "/cache")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}

	chat := &fakeChat{}
	gen := &fakeGenerator{}
	edit := &fakeEditor{}

	b, err := New(Options{
		Telegram:  telegram.New(srv.Client(), srv.URL, testToken),
		Chat:      chat,
		Generator: gen,
		Editor:    edit,
		Sessions:  session.NewStore(6),
		Cache:     cache,
		Config: Config{
			GenerateLabel:  "Generate image",
			EditLabel:      "Edit image",
			ResetLabel:     "Reset chat",
			MaxPromptChars: 500,
		},
	})
	if err != nil {
		t.Fatalf("bot.New: %v", err)
	}
	return &testEnv{bot: b, tg: fake, chat: chat, gen: gen, edit: edit, cache: cache}
}

func textMessage(userID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 1,
		Chat:      &telegram.Chat{ID: userID, Type: "private"},
		From:      &telegram.User{ID: userID},
		Text:      text,
	}
}

func photoMessage(userID int64) *telegram.Message {
	m := textMessage(userID, "")
	m.Photo = []telegram.PhotoSize{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "big", Width: 1280, Height: 1280},
	}
	return m
}

func (e *testEnv) deliver(t *testing.T, userID int64, msg *telegram.Message) {
	t.Helper()
	e.bot.handle(context.Background(), job{
		id:     "job_test",
		msg:    msg,
		chatID: userID,
		userID: userID,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
