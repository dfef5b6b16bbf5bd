package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore archives call records in PostgreSQL. Turns are stored
// as a JSONB document since the archive is write-mostly and always read
// whole-call.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			call_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			advisor TEXT NOT NULL,
			reply_mode TEXT NOT NULL,
			turns JSONB NOT NULL DEFAULT '[]'::jsonb,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_user_ended ON call_records (user_id, ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, record CallRecord) error {
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	turns, err := json.Marshal(record.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_records (call_id, user_id, advisor, reply_mode, turns, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (call_id) DO UPDATE SET turns = EXCLUDED.turns, ended_at = EXCLUDED.ended_at`,
		record.CallID,
		record.UserID,
		record.Advisor,
		record.ReplyMode,
		turns,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT call_id, user_id, advisor, reply_mode, turns, started_at, ended_at
		 FROM call_records WHERE user_id=$1 ORDER BY ended_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	items := make([]CallRecord, 0, limit)
	for rows.Next() {
		var r CallRecord
		var turns []byte
		if err := rows.Scan(&r.CallID, &r.UserID, &r.Advisor, &r.ReplyMode, &turns, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		if err := json.Unmarshal(turns, &r.Turns); err != nil {
			return nil, fmt.Errorf("decode turns: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
