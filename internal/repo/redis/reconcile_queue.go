package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/skillmarket/internal/services/purchases"
)

const reconcileQueueKey = "purchases:reconcile"

// ReconcileQueue is a FIFO of purchase writes that failed and must be retried.
type ReconcileQueue struct {
	client *goredis.Client
}

func NewReconcileQueue(client *goredis.Client) *ReconcileQueue {
	return &ReconcileQueue{client: client}
}

func (q *ReconcileQueue) Push(ctx context.Context, entry purchases.PendingWrite) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reconcile entry: %w", err)
	}
	if err := q.client.RPush(ctx, reconcileQueueKey, raw).Err(); err != nil {
		return fmt.Errorf("push reconcile entry: %w", err)
	}

	return nil
}

// PopBatch removes up to n entries from the head of the queue. Entries that
// cannot be decoded are dropped and counted in skipped.
func (q *ReconcileQueue) PopBatch(ctx context.Context, n int) (entries []purchases.PendingWrite, skipped int, err error) {
	if q.client == nil {
		return nil, 0, fmt.Errorf("redis client is nil")
	}
	if n <= 0 {
		return nil, 0, nil
	}

	raws, err := q.client.LPopCount(ctx, reconcileQueueKey, n).Result()
	if err == goredis.Nil {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("pop reconcile entries: %w", err)
	}

	entries = make([]purchases.PendingWrite, 0, len(raws))
	for _, raw := range raws {
		var entry purchases.PendingWrite
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped, nil
}

func (q *ReconcileQueue) Len(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := q.client.LLen(ctx, reconcileQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reconcile queue length: %w", err)
	}
	return n, nil
}
