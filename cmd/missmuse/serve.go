package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/internal/webhook"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot behind a Telegram webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			logger := rt.logger

			baseURL := strings.TrimRight(strings.TrimSpace(viper.GetString("webhook.base_url")), "/")
			if baseURL == "" {
				return fmt.Errorf("missing webhook.base_url (set MISS_MUSE_WEBHOOK_BASE_URL)")
			}
			path := strings.TrimSpace(viper.GetString("webhook.path"))
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("invalid webhook.path: %q", path)
			}
			secret := strings.TrimSpace(viper.GetString("webhook.secret_token"))
			if secret == "" {
				// Fresh secret per start; Telegram learns it via setWebhook.
				secret = uuid.NewString()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			me, err := rt.tg.GetMe(ctx)
			if err != nil {
				return err
			}
			logger.Info("telegram_start", "mode", "webhook", "bot", me.Username, "bot_id", me.ID)

			rt.bot.Start(ctx)

			handler, err := webhook.NewRouter(webhook.Options{
				Path:        path,
				SecretToken: secret,
				Logger:      logger,
				Sessions:    rt.sessions,
				Sink: func(upd telegram.Update) {
					rt.bot.HandleUpdate(ctx, upd)
				},
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:        viper.GetString("webhook.listen"),
				Handler:     handler,
				ReadTimeout: 30 * time.Second,
				IdleTimeout: 120 * time.Second,
			}
			go func() {
				logger.Info("webhook_listen", "addr", srv.Addr, "path", path)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("webhook_listen_error", "error", err.Error())
					stop()
				}
			}()

			if err := rt.tg.SetWebhook(ctx, telegram.WebhookParams{
				URL:                baseURL + path,
				SecretToken:        secret,
				DropPendingUpdates: viper.GetBool("webhook.drop_pending"),
			}); err != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = srv.Shutdown(shutdownCtx)
				cancel()
				return fmt.Errorf("register webhook: %w", err)
			}
			logger.Info("webhook_registered", "url", baseURL+path)

			<-ctx.Done()
			stop()

			logger.Info("telegram_stop", "reason", "signal")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("webhook_shutdown_error", "error", err.Error())
			}
			return nil
		},
	}
	return cmd
}
