package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

type EventWriteRecord struct {
	Name       string
	OccurredAt time.Time
	Props      map[string]any
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// InsertBatch stores audit events. A nil pool turns the repo into a no-op so
// audit never blocks a purchase.
func (r *EventRepo) InsertBatch(ctx context.Context, userID *string, events []EventWriteRecord) error {
	if len(events) == 0 || r.pool == nil {
		return nil
	}
	return insertEvents(ctx, r.pool, userID, events)
}

func insertEvents(ctx context.Context, q querier, userID *string, events []EventWriteRecord) error {
	const query = `
INSERT INTO events (
	user_id,
	name,
	payload,
	occurred_at,
	created_at
) VALUES (
	$1::uuid,
	$2,
	$3::jsonb,
	$4,
	NOW()
)
`

	var uid any
	if userID != nil && strings.TrimSpace(*userID) != "" {
		uid = strings.TrimSpace(*userID)
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		props := event.Props
		if props == nil {
			props = map[string]any{}
		}
		payload, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("marshal event props: %w", err)
		}

		occurredAt := event.OccurredAt.UTC()
		if event.OccurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		batch.Queue(query, uid, event.Name, string(payload), occurredAt)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(events); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert event batch item #%d: %w", i, err)
		}
	}

	return nil
}
