package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quailyquaily/missmuse/internal/telegram"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// DefaultMaxBodyBytes caps inbound update bodies. Telegram updates are a
// few KB; anything near the cap is garbage.
const DefaultMaxBodyBytes = 1 << 20

// SessionCounter is what the health endpoint reports about live state.
type SessionCounter interface {
	Len() int
}

type Options struct {
	// Path is the webhook route, e.g. "/telegram/webhook".
	Path string
	// SecretToken must match the X-Telegram-Bot-Api-Secret-Token header
	// Telegram sends with every delivery.
	SecretToken string
	MaxBodyBytes int64
	Logger       *slog.Logger
	// Sink receives every well-formed update. It must not block: the
	// handler acknowledges Telegram as soon as Sink returns.
	Sink     func(upd telegram.Update)
	Sessions SessionCounter
}

// NewRouter builds the webhook HTTP surface: the update endpoint plus
// GET /healthz. Malformed deliveries are rejected at this boundary and
// never reach the bot.
func NewRouter(opts Options) (http.Handler, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid webhook path: %q", opts.Path)
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("missing update sink")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	secret := strings.TrimSpace(opts.SecretToken)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post(path, func(w http.ResponseWriter, req *http.Request) {
		if secret != "" {
			got := req.Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.Warn("webhook_bad_secret", "remote", req.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		ct := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Type")))
		if ct != "" && !strings.HasPrefix(ct, "application/json") {
			http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBody))
		if err != nil {
			logger.Warn("webhook_body_error", "error", err.Error())
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var upd telegram.Update
		if err := json.Unmarshal(body, &upd); err != nil {
			logger.Warn("webhook_decode_error", "error", err.Error())
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if upd.UpdateID == 0 && upd.Message == nil && upd.EditedMessage == nil {
			http.Error(w, "not an update", http.StatusBadRequest)
			return
		}

		opts.Sink(upd)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/healthz", Healthz(opts.Sessions))

	return r, nil
}

var startedAt = time.Now().UTC()

// Healthz reports liveness plus the number of in-memory sessions.
func Healthz(sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		payload := map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		}
		if sessions != nil {
			payload["sessions"] = sessions.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
}
