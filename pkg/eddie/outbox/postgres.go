package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// PostgresLog persists events to PostgreSQL for multi-process
// deployments where several hub instances share one log.
type PostgresLog struct {
	db *sql.DB
}

// OpenPostgresLog connects to Postgres and ensures the event schema
// exists.
func OpenPostgresLog(dsn string) (*PostgresLog, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.Exec(`
		create table if not exists permission_events (
			seq bigserial primary key,
			id text not null unique,
			permission_id text not null,
			payload jsonb not null,
			committed_at timestamptz not null default now(),
			delivered boolean not null default false
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		create index if not exists idx_permission_events_undelivered
		on permission_events(seq) where not delivered
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &PostgresLog{db: db}, nil
}

// Commit implements Log.
func (p *PostgresLog) Commit(ctx context.Context, evt permission.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		insert into permission_events (id, permission_id, payload)
		values ($1, $2, $3)
		on conflict (id) do nothing
	`, evt.ID, evt.PermissionID, payload)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// ReplayAll implements Log.
func (p *PostgresLog) ReplayAll(ctx context.Context) ([]permission.Event, error) {
	return p.replay(ctx, `
		select payload from permission_events
		order by seq
	`)
}

// ReplayUndelivered implements Log.
func (p *PostgresLog) ReplayUndelivered(ctx context.Context) ([]permission.Event, error) {
	return p.replay(ctx, `
		select payload from permission_events
		where not delivered
		order by seq
	`)
}

func (p *PostgresLog) replay(ctx context.Context, query string) ([]permission.Event, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	defer rows.Close()

	var out []permission.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt permission.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Acknowledge implements Log.
func (p *PostgresLog) Acknowledge(ctx context.Context, eventID string) error {
	res, err := p.db.ExecContext(ctx, `
		update permission_events set delivered = true where id = $1
	`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return ErrLogClosed
		}
		return fmt.Errorf("acknowledge event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Log.
func (p *PostgresLog) Close() error { return p.db.Close() }
