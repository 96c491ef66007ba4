package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quailyquaily/missmuse/internal/telegram"
	"github.com/quailyquaily/missmuse/internal/webhook"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the bot on Telegram long polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			logger := rt.logger

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			me, err := rt.tg.GetMe(ctx)
			if err != nil {
				return err
			}
			logger.Info("telegram_start", "mode", "poll", "bot", me.Username, "bot_id", me.ID)

			// Telegram rejects getUpdates while a webhook is registered.
			if err := rt.tg.DeleteWebhook(ctx, false); err != nil {
				logger.Warn("telegram_delete_webhook_error", "error", err.Error())
			}

			if healthAddr := strings.TrimSpace(viper.GetString("health.listen")); healthAddr != "" {
				startHealthListener(ctx, healthAddr, rt)
			}

			rt.bot.Start(ctx)

			pollTimeout := viper.GetDuration("telegram.poll_timeout")
			var offset int64
			for {
				updates, nextOffset, err := rt.tg.GetUpdates(ctx, offset, pollTimeout)
				if err != nil {
					if errors.Is(err, context.Canceled) || ctx.Err() != nil {
						logger.Info("telegram_stop", "reason", "context_canceled")
						return nil
					}
					if telegram.IsPollTimeout(err) {
						logger.Debug("telegram_get_updates_timeout", "error", err.Error())
					} else {
						logger.Warn("telegram_get_updates_error", "error", err.Error())
					}
					time.Sleep(1 * time.Second)
					continue
				}
				offset = nextOffset
				for _, u := range updates {
					rt.bot.HandleUpdate(ctx, u)
				}
			}
		},
	}
	return cmd
}

func startHealthListener(ctx context.Context, addr string, rt *runtime) {
	r := chi.NewRouter()
	r.Get("/healthz", webhook.Healthz(rt.sessions))
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		rt.logger.Info("health_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Warn("health_listen_error", "error", err.Error())
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
