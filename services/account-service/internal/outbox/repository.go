package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleksK1NG/account-projections/libs/db"
	otelx "github.com/AleksK1NG/account-projections/libs/otel"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
)

// ErrDuplicateEvent signals that a row with the same event id already exists.
// At-least-once writers treat it as success.
var ErrDuplicateEvent = errors.New("outbox event already inserted")

// Record is one pending event. Rows are never mutated after insert; the only
// transitions are insert (with the domain mutation) and delete (after publish).
type Record struct {
	EventID     string
	EventType   string
	AggregateID string
	Payload     []byte
	Version     int64
	Timestamp   time.Time
	Traceparent string
	Tracestate  string
}

// RecordFromEnvelope prepares an envelope for the outbox table, serializing it
// once so the dispatcher can forward the stored bytes unchanged.
func RecordFromEnvelope(env events.Envelope) (Record, error) {
	payload, err := events.MarshalEnvelope(env)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:     env.EventID,
		EventType:   env.EventType,
		AggregateID: env.AggregateID,
		Payload:     payload,
		Version:     env.Version,
		Timestamp:   env.Timestamp,
	}, nil
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends a record inside the caller's transaction, so the event
// commits or rolls back together with the domain mutation it describes.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_type, aggregate_id, payload, version, created_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.EventID, rec.EventType, rec.AggregateID, rec.Payload, rec.Version, rec.Timestamp, traceparent, tracestate)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, rec.EventID)
		}
		return err
	}
	return nil
}

// DeleteWithLock claims the row for eventID with a non-blocking lock, invokes
// fn, and deletes the row, all in one transaction. A row that is missing or
// locked by a concurrent worker is a benign no-op. If fn fails the transaction
// rolls back and the row survives for the next attempt.
func (r *Repository) DeleteWithLock(ctx context.Context, eventID string, fn func(Record) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanRecord(tx.QueryRow(ctx, selectRecord+`
		WHERE event_id = $1
		FOR UPDATE SKIP LOCKED
	`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}

	if err := fn(rec); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM outbox_events WHERE event_id = $1`, rec.EventID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteEventsWithLock claims up to batchSize rows in timestamp order,
// skipping rows locked by concurrent workers, and for each invokes fn then
// deletes the row. Any fn failure aborts the whole transaction: no partial
// batch commit, every claimed row survives for a future pass.
func (r *Repository) DeleteEventsWithLock(ctx context.Context, batchSize int, fn func(Record) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, selectRecord+`
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return err
	}

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		records = append(records, rec)
	}
	rows.Close()
	if rows.Err() != nil {
		return rows.Err()
	}

	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM outbox_events WHERE event_id = $1`, rec.EventID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const selectRecord = `
	SELECT event_id, event_type, aggregate_id, payload, version, created_at, traceparent, tracestate
	FROM outbox_events`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.EventID, &rec.EventType, &rec.AggregateID, &rec.Payload, &rec.Version, &rec.Timestamp, &rec.Traceparent, &rec.Tracestate)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
