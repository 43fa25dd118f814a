package jobqueue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// RunReaper promotes due entries from a queue's delayed sorted set back
// onto its live list, and blocks until ctx is cancelled. One goroutine
// per queue is expected — call it from the same supervisor goroutine
// that starts a queue's dequeue loop, the same way sandbox.Pool runs its
// replenish and health loops alongside Acquire/Release.
func (q *Queue) RunReaper(ctx context.Context, queue coretypes.QueueName) {
	ticker := time.NewTicker(q.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx, queue)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context, queue coretypes.QueueName) {
	now := float64(time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(now, 'f', 0, 64)}).Result()
	if err != nil {
		q.logger.Warn("reaper: scan delayed set failed", "queue", queue, "error", err)
		return
	}
	for _, member := range due {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), member)
		pipe.LPush(ctx, queueKey(queue), member)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Warn("reaper: promote delayed job failed", "queue", queue, "error", err)
		}
	}
}
