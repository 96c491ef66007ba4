package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/quailyquaily/missmuse/internal/telegram"
)

const testSecret = "s3cret"

type sinkRecorder struct {
	mu      sync.Mutex
	updates []telegram.Update
}

func (s *sinkRecorder) sink(upd telegram.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func newTestRouter(t *testing.T, rec *sinkRecorder) http.Handler {
	t.Helper()
	h, err := NewRouter(Options{
		Path:        "/telegram/webhook",
		SecretToken: testSecret,
		Sink:        rec.sink,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return h
}

func post(t *testing.T, h http.Handler, secret, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const validUpdate = `{"update_id":123,"message":{"message_id":1,"chat":{"id":9,"type":"private"},"text":"hi"}}`

func TestWebhookRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	rec := &sinkRecorder{}
	h := newTestRouter(t, rec)

	if w := post(t, h, "wrong", "application/json", validUpdate); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: got %d, want 401", w.Code)
	}
	if w := post(t, h, "", "application/json", validUpdate); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: got %d, want 401", w.Code)
	}
	if rec.count() != 0 {
		t.Fatal("rejected deliveries must not reach the sink")
	}
}

func TestWebhookRejectsWrongContentType(t *testing.T) {
	t.Parallel()

	rec := &sinkRecorder{}
	h := newTestRouter(t, rec)

	if w := post(t, h, testSecret, "text/plain", validUpdate); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got %d, want 415", w.Code)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	rec := &sinkRecorder{}
	h := newTestRouter(t, rec)

	for _, body := range []string{"{not json", "", `"just a string"`, `{}`} {
		if w := post(t, h, testSecret, "application/json", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: got %d, want 400", body, w.Code)
		}
	}
	if rec.count() != 0 {
		t.Fatal("malformed deliveries must not reach the sink")
	}
}

func TestWebhookAcceptsValidUpdate(t *testing.T) {
	t.Parallel()

	rec := &sinkRecorder{}
	h := newTestRouter(t, rec)

	w := post(t, h, testSecret, "application/json", validUpdate)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "OK" {
		t.Fatalf("got body %q, want OK", got)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 update at the sink, got %d", rec.count())
	}
	if rec.updates[0].UpdateID != 123 {
		t.Fatalf("wrong update id: %d", rec.updates[0].UpdateID)
	}
}

type fixedCounter int

func (f fixedCounter) Len() int { return int(f) }

func TestHealthzReportsSessions(t *testing.T) {
	t.Parallel()

	rec := &sinkRecorder{}
	h, err := NewRouter(Options{
		Path:     "/telegram/webhook",
		Sink:     rec.sink,
		Sessions: fixedCounter(4),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"sessions":4`) {
		t.Fatalf("unexpected health payload: %s", body)
	}
}
