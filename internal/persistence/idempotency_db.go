package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RequestLog answers "has this request already been committed?" from the
// event log. NATS redelivers after a crash between commit and ack; the
// dispatcher asks here before replaying an instruction.
type RequestLog struct {
	db      *sql.DB
	timeout time.Duration
}

func NewRequestLog(db *sql.DB) *RequestLog {
	return &RequestLog{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if a request with this key produced an event of eventType.
func (r *RequestLog) IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.events WHERE event_type = $1 AND idempotency_key = $2 LIMIT 1`,
		eventType, idempotencyKey,
	).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the newest limit "event_type:idempotency_key" pairs for
// warming an in-memory dedup cache.
func (r *RequestLog) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type || ':' || idempotency_key FROM event_log.events ORDER BY sequence DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
