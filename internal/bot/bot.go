package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/missmuse/imaging"
	"github.com/quailyquaily/missmuse/internal/filecache"
	"github.com/quailyquaily/missmuse/internal/idempotency"
	"github.com/quailyquaily/missmuse/internal/session"
	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/llm"
)

type Config struct {
	ChatModel       string
	ChatTemperature float64
	ChatMaxTokens   int

	ImageModel          string
	ImageNegativePrompt string
	ImageWidth          int
	ImageHeight         int
	ImageSteps          int
	EditModel           string
	MaxPromptChars      int

	GenerateLabel string
	EditLabel     string
	ResetLabel    string

	TaskTimeout    time.Duration
	MaxConcurrency int
	WorkerIdle     time.Duration
	QueueSize      int
	FileMaxBytes   int64
	AllowedChatIDs []int64
}

type Options struct {
	Telegram  *telegram.Client
	Chat      llm.Client
	Generator imaging.Generator
	// Editor may be nil; the edit flow then answers with a
	// not-configured message instead of arming.
	Editor   imaging.Editor
	Sessions *session.Store
	Cache    *filecache.Cache
	Logger   *slog.Logger
	Config   Config
}

// Bot classifies inbound Telegram updates and runs exactly one handler per
// update on the owning chat's worker.
type Bot struct {
	tg        *telegram.Client
	chat      llm.Client
	generator imaging.Generator
	editor    imaging.Editor
	sessions  *session.Store
	cache     *filecache.Cache
	logger    *slog.Logger
	cfg       Config
	keyboard  *telegram.ReplyKeyboardMarkup
	allowed   map[int64]bool
	seen      *idempotency.SeenSet

	mu         sync.Mutex
	workers    map[int64]*chatWorker
	workersCtx context.Context
	sem        chan struct{}
}

func New(opts Options) (*Bot, error) {
	if opts.Telegram == nil {
		return nil, fmt.Errorf("missing telegram client")
	}
	if opts.Chat == nil {
		return nil, fmt.Errorf("missing chat client")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("missing image generator")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("missing session store")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("missing file cache")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := opts.Config
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 500
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.WorkerIdle <= 0 {
		cfg.WorkerIdle = 10 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	cfg.GenerateLabel = strings.TrimSpace(cfg.GenerateLabel)
	cfg.EditLabel = strings.TrimSpace(cfg.EditLabel)
	cfg.ResetLabel = strings.TrimSpace(cfg.ResetLabel)

	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		if id != 0 {
			allowed[id] = true
		}
	}

	return &Bot{
		tg:        opts.Telegram,
		chat:      opts.Chat,
		generator: opts.Generator,
		editor:    opts.Editor,
		sessions:  opts.Sessions,
		cache:     opts.Cache,
		logger:    logger,
		cfg:       cfg,
		keyboard:  telegram.SingleColumnKeyboard(cfg.GenerateLabel, cfg.EditLabel, cfg.ResetLabel),
		allowed:   allowed,
		seen:      idempotency.NewSeenSet(0),
		workers:   make(map[int64]*chatWorker),
		sem:       make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Start pins the context all chat workers inherit. It is idempotent; the
// transports call it before delivering updates.
func (b *Bot) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.workersCtx == nil {
		b.workersCtx = ctx
	}
}

func (b *Bot) Sessions() *session.Store { return b.sessions }
