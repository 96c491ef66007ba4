package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quailyquaily/missmuse/imaging"
	"github.com/quailyquaily/missmuse/internal/bot"
	"github.com/quailyquaily/missmuse/internal/filecache"
	"github.com/quailyquaily/missmuse/internal/logutil"
	"github.com/quailyquaily/missmuse/internal/session"
	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/llm"
	"github.com/quailyquaily/missmuse/providers/openai"
	"github.com/quailyquaily/missmuse/providers/openrouter"
	"github.com/spf13/viper"
)

// runtime is everything a transport needs, assembled once from viper.
type runtime struct {
	logger   *slog.Logger
	tg       *telegram.Client
	bot      *bot.Bot
	sessions *session.Store
	cache    *filecache.Cache
}

// buildRuntime validates configuration and wires the bot. Missing required
// credentials fail here, before any transport starts.
func buildRuntime() (*runtime, error) {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	token := strings.TrimSpace(viper.GetString("telegram.bot_token"))
	if token == "" {
		return nil, fmt.Errorf("missing telegram.bot_token (set MISS_MUSE_TELEGRAM_BOT_TOKEN)")
	}
	if strings.TrimSpace(viper.GetString("llm.api_key")) == "" {
		return nil, fmt.Errorf("missing llm.api_key (set MISS_MUSE_LLM_API_KEY)")
	}

	allowed, err := parseAllowedChatIDs(viper.GetStringSlice("telegram.allowed_chat_ids"))
	if err != nil {
		return nil, err
	}

	chatClient, err := chatClientFromViper()
	if err != nil {
		return nil, err
	}
	generator, err := generatorFromViper()
	if err != nil {
		return nil, err
	}
	editor, err := editorFromViper(logger)
	if err != nil {
		return nil, err
	}

	cacheDir := expandHomePath(viper.GetString("file_cache.dir"))
	cache, err := filecache.Open(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("open file cache: %w", err)
	}
	// Anything orphaned by a crash goes now.
	if err := cache.Sweep(
		viper.GetDuration("file_cache.max_age"),
		viper.GetInt("file_cache.max_files"),
		viper.GetInt64("file_cache.max_total_bytes"),
	); err != nil {
		logger.Warn("file_cache_sweep_error", "error", err.Error())
	}

	sessions := session.NewStore(viper.GetInt("history.max_entries"))

	tg := telegram.New(
		&http.Client{Timeout: viper.GetDuration("llm.request_timeout")},
		viper.GetString("telegram.api_base_url"),
		token,
	)

	b, err := bot.New(bot.Options{
		Telegram:  tg,
		Chat:      chatClient,
		Generator: generator,
		Editor:    editor,
		Sessions:  sessions,
		Cache:     cache,
		Logger:    logger,
		Config: bot.Config{
			ChatModel:           viper.GetString("llm.model"),
			ChatTemperature:     viper.GetFloat64("llm.temperature"),
			ChatMaxTokens:       viper.GetInt("llm.max_tokens"),
			ImageModel:          viper.GetString("images.model"),
			ImageNegativePrompt: viper.GetString("images.negative_prompt"),
			ImageWidth:          viper.GetInt("images.width"),
			ImageHeight:         viper.GetInt("images.height"),
			ImageSteps:          viper.GetInt("images.steps"),
			EditModel:           viper.GetString("openai.image_model"),
			MaxPromptChars:      viper.GetInt("images.max_prompt_chars"),
			GenerateLabel:       viper.GetString("bot.keyboard.generate_label"),
			EditLabel:           viper.GetString("bot.keyboard.edit_label"),
			ResetLabel:          viper.GetString("bot.keyboard.reset_label"),
			TaskTimeout:         viper.GetDuration("telegram.task_timeout"),
			MaxConcurrency:      viper.GetInt("telegram.max_concurrency"),
			FileMaxBytes:        viper.GetInt64("telegram.files.max_bytes"),
			AllowedChatIDs:      allowed,
		},
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		logger:   logger,
		tg:       tg,
		bot:      b,
		sessions: sessions,
		cache:    cache,
	}, nil
}

func chatClientFromViper() (llm.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider")))
	switch provider {
	case "", "openrouter":
		c := openrouter.New(viper.GetString("llm.base_url"), viper.GetString("llm.api_key"))
		c.Referer = viper.GetString("llm.referer")
		c.Title = viper.GetString("llm.title")
		c.HTTP = &http.Client{Timeout: viper.GetDuration("llm.request_timeout")}
		return c, nil
	case "openai":
		c := openai.New(viper.GetString("openai.base_url"), viper.GetString("llm.api_key"))
		c.HTTP = &http.Client{Timeout: viper.GetDuration("llm.request_timeout")}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown llm.provider: %s", provider)
	}
}

func generatorFromViper() (imaging.Generator, error) {
	apiKey := strings.TrimSpace(viper.GetString("images.api_key"))
	if apiKey == "" {
		apiKey = viper.GetString("llm.api_key")
	}
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("images.provider")))
	switch provider {
	case "", "openrouter":
		c := openrouter.New(viper.GetString("llm.base_url"), apiKey)
		c.Referer = viper.GetString("llm.referer")
		c.Title = viper.GetString("llm.title")
		c.HTTP = &http.Client{Timeout: viper.GetDuration("images.request_timeout")}
		return c, nil
	case "openai":
		key := strings.TrimSpace(viper.GetString("openai.api_key"))
		if key == "" {
			key = apiKey
		}
		c := openai.New(viper.GetString("openai.base_url"), key)
		c.HTTP = &http.Client{Timeout: viper.GetDuration("images.request_timeout")}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown images.provider: %s", provider)
	}
}

// editorFromViper returns nil when editing is unconfigured; the bot then
// answers the edit flow with a not-configured message.
func editorFromViper(logger *slog.Logger) (imaging.Editor, error) {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("images.edit_provider")))
	switch provider {
	case "":
		return nil, nil
	case "openai":
		key := strings.TrimSpace(viper.GetString("openai.api_key"))
		if key == "" {
			logger.Warn("image_edit_disabled", "reason", "missing openai.api_key")
			return nil, nil
		}
		c := openai.New(viper.GetString("openai.base_url"), key)
		c.HTTP = &http.Client{Timeout: viper.GetDuration("images.request_timeout")}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown images.edit_provider: %s", provider)
	}
}

func parseAllowedChatIDs(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram.allowed_chat_ids entry %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func expandHomePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
		}
	}
	return p
}
