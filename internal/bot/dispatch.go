package bot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/missmuse/internal/idempotency"
	"github.com/quailyquaily/missmuse/internal/telegram"
)

type job struct {
	id         string
	msg        *telegram.Message
	chatID     int64
	userID     int64
	receivedAt time.Time
}

type chatWorker struct {
	jobs chan job
}

// HandleUpdate validates an inbound update and enqueues it on the owning
// chat's worker. It never blocks on handler work, so the webhook transport
// can acknowledge immediately.
func (b *Bot) HandleUpdate(ctx context.Context, upd telegram.Update) {
	msg := upd.Message
	if msg == nil {
		msg = upd.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	if !b.seen.Observe(idempotency.UpdateKey(upd.UpdateID)) {
		b.logger.Debug("bot_duplicate_update", "update_id", upd.UpdateID)
		return
	}

	chatID := msg.Chat.ID
	if len(b.allowed) > 0 && !b.allowed[chatID] {
		b.logger.Warn("bot_unauthorized_chat", "chat_id", chatID)
		_ = b.tg.SendMessage(ctx, chatID, "unauthorized")
		return
	}

	userID := chatID
	if msg.From != nil && msg.From.ID != 0 {
		userID = msg.From.ID
	}

	b.enqueue(job{
		id:         "job_" + uuid.NewString(),
		msg:        msg,
		chatID:     chatID,
		userID:     userID,
		receivedAt: msg.SentAt(),
	})
}

// enqueue delivers the job to the chat's worker, starting one if needed.
// Sends happen under the mutex so the idle-exit path can prove the queue is
// empty before removing itself. A full queue drops the update with a
// user-visible notice instead of blocking other chats.
func (b *Bot) enqueue(j job) {
	b.mu.Lock()
	wctx := b.workersCtx
	if wctx == nil {
		wctx = context.Background()
		b.workersCtx = wctx
	}
	w, ok := b.workers[j.chatID]
	if !ok {
		w = &chatWorker{jobs: make(chan job, b.cfg.QueueSize)}
		b.workers[j.chatID] = w
		go b.runWorker(wctx, j.chatID, w)
	}
	select {
	case w.jobs <- j:
		b.mu.Unlock()
	default:
		b.mu.Unlock()
		b.logger.Warn("bot_queue_full", "chat_id", j.chatID, "job_id", j.id)
		_ = b.tg.SendMessage(context.Background(), j.chatID, "I'm busy with earlier messages, please try again in a moment.")
	}
}

func (b *Bot) runWorker(ctx context.Context, chatID int64, w *chatWorker) {
	b.logger.Debug("bot_worker_start", "chat_id", chatID)
	idle := time.NewTimer(b.cfg.WorkerIdle)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			b.removeWorker(chatID, w)
			return
		case j := <-w.jobs:
			b.process(ctx, j)
			stopAndReset(idle, b.cfg.WorkerIdle)
		case <-idle.C:
			b.mu.Lock()
			select {
			case j := <-w.jobs:
				// A job raced in just before the timer fired.
				b.mu.Unlock()
				b.process(ctx, j)
				idle.Reset(b.cfg.WorkerIdle)
			default:
				delete(b.workers, chatID)
				b.mu.Unlock()
				b.logger.Debug("bot_worker_idle_stop", "chat_id", chatID)
				return
			}
		}
	}
}

func (b *Bot) removeWorker(chatID int64, w *chatWorker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.workers[chatID]; ok && cur == w {
		delete(b.workers, chatID)
	}
}

func (b *Bot) process(ctx context.Context, j job) {
	// Global concurrency limit across chats.
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-b.sem }()

	taskCtx, cancel := context.WithTimeout(ctx, b.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	b.handle(taskCtx, j)
	b.logger.Debug("bot_task_done",
		"job_id", j.id,
		"chat_id", j.chatID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func stopAndReset(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
