package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marketetl/internal/contracts"
)

// EventRepository implements contracts.EventRepository over
// data.events_daily.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new event repository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// UpsertEvents writes calendar entries keyed (date, event type).
func (r *EventRepository) UpsertEvents(ctx context.Context, events []contracts.EventRecord) error {
	query := `
		INSERT INTO data.events_daily (date, event_type, event_name, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, event_type) DO UPDATE SET
			event_name = EXCLUDED.event_name,
			source = EXCLUDED.source
	`

	for _, e := range events {
		if _, err := r.pool.Exec(ctx, query, e.Date, string(e.EventType), e.EventName, e.Source); err != nil {
			return fmt.Errorf("upsert event %s %s: %w", e.EventType, e.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// Range returns events inside [start, end], ascending by date.
func (r *EventRepository) Range(ctx context.Context, start, end time.Time) ([]contracts.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, event_type, event_name, source
		FROM data.events_daily
		WHERE date BETWEEN $1 AND $2
		ORDER BY date ASC, event_type ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("event range: %w", err)
	}
	defer rows.Close()

	var events []contracts.EventRecord
	for rows.Next() {
		var e contracts.EventRecord
		var et string
		if err := rows.Scan(&e.Date, &et, &e.EventName, &e.Source); err != nil {
			return nil, err
		}
		e.EventType = contracts.EventType(et)
		events = append(events, e)
	}
	return events, rows.Err()
}
