package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Telegram transport
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.max_concurrency", 3)
	viper.SetDefault("telegram.task_timeout", 2*time.Minute)
	viper.SetDefault("telegram.allowed_chat_ids", []string{})
	viper.SetDefault("telegram.files.max_bytes", int64(20*1024*1024))

	// File cache for uploaded images awaiting edits
	viper.SetDefault("file_cache.dir", "~/.muse/cache/telegram")
	viper.SetDefault("file_cache.max_age", 24*time.Hour)
	viper.SetDefault("file_cache.max_files", 512)
	viper.SetDefault("file_cache.max_total_bytes", int64(512*1024*1024))

	// Conversation
	viper.SetDefault("history.max_entries", 6)

	// Chat LLM
	viper.SetDefault("llm.provider", "openrouter")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("llm.model", "google/gemini-2.0-flash-exp:free")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.max_tokens", 0)
	viper.SetDefault("llm.request_timeout", 90*time.Second)
	viper.SetDefault("llm.referer", "")
	viper.SetDefault("llm.title", "missmuse")

	// Image generation / editing
	viper.SetDefault("images.provider", "openrouter")
	viper.SetDefault("images.edit_provider", "openai")
	viper.SetDefault("images.api_key", "")
	viper.SetDefault("images.model", "stabilityai/stable-diffusion-xl-base-1.0")
	viper.SetDefault("images.width", 1024)
	viper.SetDefault("images.height", 1024)
	viper.SetDefault("images.steps", 30)
	viper.SetDefault("images.negative_prompt", "blurry, low quality, text, watermark")
	viper.SetDefault("images.max_prompt_chars", 500)
	viper.SetDefault("images.request_timeout", 90*time.Second)

	// OpenAI (image edits; optional generation)
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "https://api.openai.com")
	viper.SetDefault("openai.image_model", "gpt-image-1")

	// Webhook transport (serve)
	viper.SetDefault("webhook.listen", ":8080")
	viper.SetDefault("webhook.base_url", "")
	viper.SetDefault("webhook.path", "/telegram/webhook")
	viper.SetDefault("webhook.secret_token", "")
	viper.SetDefault("webhook.drop_pending", false)

	// Poll-mode health listener ("" = off)
	viper.SetDefault("health.listen", "")

	// Reply keyboard labels double as the menu keywords; changing them is
	// how the menu gets localized.
	viper.SetDefault("bot.keyboard.generate_label", "🎨 Generate image")
	viper.SetDefault("bot.keyboard.edit_label", "🖌 Edit image")
	viper.SetDefault("bot.keyboard.reset_label", "🔄 Reset chat")
}
