package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/db"
	"github.com/sells-group/dataland/internal/resilience"
)

// Outbox is the Postgres backed queue. Events written with PublishTx become
// visible to consumers when the surrounding transaction commits.
type Outbox struct {
	pool db.Pool
}

// NewOutbox creates an Outbox on pool.
func NewOutbox(pool db.Pool) *Outbox {
	return &Outbox{pool: pool}
}

const outboxMigration = `
CREATE TABLE IF NOT EXISTS event_outbox (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	payload        JSONB NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	requeues       INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT,
	available_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	locked_until   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_event_outbox_available ON event_outbox(type, available_at);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL,
	message_type   TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	payload        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_message_type ON dead_letter_queue(message_type);
`

func (o *Outbox) Migrate(ctx context.Context) error {
	_, err := o.pool.Exec(ctx, outboxMigration)
	return eris.Wrap(err, "outbox: migrate")
}

func (o *Outbox) Publish(ctx context.Context, events ...Event) error {
	return o.PublishTx(ctx, o.pool, events...)
}

func (o *Outbox) PublishTx(ctx context.Context, q db.Querier, events ...Event) error {
	for _, ev := range events {
		_, err := q.Exec(ctx,
			`INSERT INTO event_outbox (id, type, correlation_id, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			ev.ID, string(ev.Type), ev.CorrelationID, []byte(ev.Payload), ev.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "outbox: publish %s %s", ev.Type, ev.ID)
		}
	}
	return nil
}

func (o *Outbox) Claim(ctx context.Context, types []Type, limit int, lease time.Duration) ([]Delivery, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := o.pool.Query(ctx,
		`UPDATE event_outbox SET locked_until = now() + make_interval(secs => $3)
		 WHERE id IN (
		   SELECT id FROM event_outbox
		   WHERE type = ANY($1) AND available_at <= now()
		     AND (locked_until IS NULL OR locked_until < now())
		   ORDER BY created_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED)
		 RETURNING id, type, correlation_id, payload, attempts, requeues, created_at`,
		names, limit, lease.Seconds(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "outbox: claim")
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var typ string
		var payload []byte
		if err := rows.Scan(&d.ID, &typ, &d.CorrelationID, &payload, &d.Attempts, &d.Requeues, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "outbox: scan claimed event")
		}
		d.Type = Type(typ)
		d.Payload = payload
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "outbox: claim iterate")
}

func (o *Outbox) Ack(ctx context.Context, id string) error {
	_, err := o.pool.Exec(ctx, `DELETE FROM event_outbox WHERE id = $1`, id)
	return eris.Wrapf(err, "outbox: ack %s", id)
}

func (o *Outbox) Retry(ctx context.Context, id string, attempts int, at time.Time, lastErr string) error {
	_, err := o.pool.Exec(ctx,
		`UPDATE event_outbox SET attempts = $1, available_at = $2, last_error = $3, locked_until = NULL
		 WHERE id = $4`,
		attempts, at, lastErr, id,
	)
	return eris.Wrapf(err, "outbox: retry %s", id)
}

func (o *Outbox) DeadLetter(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return db.InTx(ctx, o.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO dead_letter_queue
			 (id, message_id, message_type, correlation_id, payload, error, error_type, retry_count, max_retries, created_at, last_failed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET
			   error = $6, error_type = $7, retry_count = $8, last_failed_at = $11`,
			entry.ID, entry.MessageID, entry.MessageType, entry.CorrelationID, []byte(entry.Payload),
			entry.Error, entry.ErrorType, entry.RetryCount, entry.MaxRetries,
			entry.CreatedAt, entry.LastFailedAt,
		)
		if err != nil {
			return eris.Wrap(err, "outbox: enqueue dlq")
		}
		_, err = tx.Exec(ctx, `DELETE FROM event_outbox WHERE id = $1`, entry.MessageID)
		return eris.Wrapf(err, "outbox: remove dead-lettered %s", entry.MessageID)
	})
}

func (o *Outbox) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, message_id, message_type, correlation_id, payload, error, error_type, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.MessageType != "" {
		query += fmt.Sprintf(` AND message_type = $%d`, argIdx)
		args = append(args, filter.MessageType)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY last_failed_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := o.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "outbox: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.MessageID, &e.MessageType, &e.CorrelationID, &payload,
			&e.Error, &e.ErrorType, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "outbox: scan dlq entry")
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "outbox: list dlq iterate")
}

// RequeueDLQ moves a dead-lettered event back into the outbox with a fresh
// attempt budget and one more requeue counted. Malformed entries and
// entries out of requeues are refused.
func (o *Outbox) RequeueDLQ(ctx context.Context, id string) error {
	return db.InTx(ctx, o.pool, func(tx pgx.Tx) error {
		var e resilience.DLQEntry
		var payload []byte
		err := tx.QueryRow(ctx,
			`SELECT id, message_id, message_type, correlation_id, payload, error_type, retry_count, max_retries
			 FROM dead_letter_queue WHERE id = $1 FOR UPDATE`, id,
		).Scan(&e.ID, &e.MessageID, &e.MessageType, &e.CorrelationID, &payload, &e.ErrorType, &e.RetryCount, &e.MaxRetries)
		if err != nil {
			return eris.Wrapf(err, "outbox: load dlq entry %s", id)
		}
		if !e.CanRetry() {
			return eris.Errorf("outbox: dlq entry %s cannot be retried (%s, %d/%d)", id, e.ErrorType, e.RetryCount, e.MaxRetries)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO event_outbox (id, type, correlation_id, payload, requeues)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET attempts = 0, requeues = $5, available_at = now(), locked_until = NULL`,
			e.MessageID, e.MessageType, e.CorrelationID, payload, e.RetryCount+1,
		)
		if err != nil {
			return eris.Wrapf(err, "outbox: requeue %s", e.MessageID)
		}
		_, err = tx.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
		return eris.Wrapf(err, "outbox: remove dlq %s", id)
	})
}

func (o *Outbox) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := o.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "outbox: count dlq")
}
