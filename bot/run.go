package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gazobot/gazobot/gazodb"
	"github.com/gazobot/gazobot/internal/ticker"
)

// schedule tracks which periodic tasks are due on a heartbeat.
type schedule struct {
	session *ticker.Beater
	replies *ticker.Beater
	backup  *ticker.Beater
	posts   *ticker.DailyHours
}

func (b *Bot) newSchedule(now time.Time) (*schedule, error) {
	posts, err := ticker.NewDailyHours(b.cfg.PostHours, b.cfg.Location, now)
	if err != nil {
		return nil, err
	}
	return &schedule{
		session: ticker.NewBeater(b.cfg.SessionPeriod, now),
		replies: ticker.NewBeater(b.cfg.ReplyPeriod, now),
		backup:  ticker.NewBeater(b.cfg.BackupPeriod, now),
		posts:   posts,
	}, nil
}

// Run drives the bot until ctx is cancelled, then takes a final backup. Failures of individual
// tasks are logged and retried on their next turn; storage failures stop the loop.
func (b *Bot) Run(ctx context.Context) error {
	sched, err := b.newSchedule(b.now())
	if err != nil {
		return err
	}
	b.logger.Info("bot starting", "heartbeat", b.cfg.Heartbeat, "postHours", b.cfg.PostHours, "nextPost", sched.posts.Next())

	defer func() {
		bctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := b.Backup(bctx); err != nil {
			b.logger.Error("final backup failed", "err", err)
		}
	}()

	if b.cfg.PostOnStart {
		if err := b.runTask(ctx, "post", b.PostImage); err != nil {
			return err
		}
	}

	err = ticker.Periodically(ctx, b.cfg.Heartbeat, func(ctx context.Context) error {
		return b.tick(ctx, sched, b.now())
	})
	if ctx.Err() != nil {
		b.logger.Info("bot shutting down")
		return nil
	}
	return err
}

func (b *Bot) tick(ctx context.Context, sched *schedule, now time.Time) error {
	if sched.session.Due(now) {
		if err := b.runTask(ctx, "session", b.client.ResetSession); err != nil {
			return err
		}
	}
	if sched.replies.Due(now) {
		if err := b.runTask(ctx, "notifications", b.HandleNotifications); err != nil {
			return err
		}
	}
	if sched.backup.Due(now) {
		if err := b.runTask(ctx, "backup", b.Backup); err != nil {
			return err
		}
	}
	if sched.posts.Due(now) {
		if err := b.runTask(ctx, "post", b.PostImage); err != nil {
			return err
		}
	}
	return nil
}

// runTask only returns the errors that should stop the bot.
func (b *Bot) runTask(ctx context.Context, name string, task func(context.Context) error) error {
	err := task(ctx)
	if err == nil {
		return nil
	}
	taskErrors.WithLabelValues(name).Inc()
	var se *gazodb.StorageError
	if errors.As(err, &se) {
		return fmt.Errorf("%s: %w", name, err)
	}
	b.logger.Error("task failed", "task", name, "err", err)
	return nil
}
