// Package audit keeps a text-free trail of how each chat request ended.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wolfman30/greanly/internal/chat"
)

// Entry is one stored chat outcome.
type Entry struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Categories   []string  `json:"categories,omitempty"`
	TopScore     float64   `json:"top_score"`
	Steps        int       `json:"steps"`
	ToolCalls    int       `json:"tool_calls"`
	InputTokens  int32     `json:"input_tokens"`
	OutputTokens int32     `json:"output_tokens"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter narrows a listing. Zero values mean no constraint.
type Filter struct {
	Outcome string
	Since   time.Time
	Limit   int
}

// Store writes chat outcomes to Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record implements chat.Recorder.
func (s *Store) Record(ctx context.Context, rec chat.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// categories is NOT NULL; pq.Array(nil) would send NULL.
	categories := rec.Categories
	if categories == nil {
		categories = []string{}
	}

	query := `
		INSERT INTO chat_audit (
			id, request_id, outcome, categories, top_score,
			steps, tool_calls, input_tokens, output_tokens, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(),
		nullString(rec.RequestID),
		rec.Outcome,
		pq.Array(categories),
		rec.TopScore,
		rec.Steps,
		rec.ToolCalls,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Duration.Milliseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert chat outcome: %w", err)
	}
	return nil
}

// List returns the most recent outcomes first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, request_id, outcome, categories, top_score,
			   steps, tool_calls, input_tokens, output_tokens, duration_ms, created_at
		FROM chat_audit
		WHERE 1=1
	`
	var args []any
	argIdx := 1
	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, filter.Outcome)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query chat outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var requestID sql.NullString
		var categories pq.StringArray
		if err := rows.Scan(
			&e.ID, &requestID, &e.Outcome, &categories, &e.TopScore,
			&e.Steps, &e.ToolCalls, &e.InputTokens, &e.OutputTokens, &e.DurationMS, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan chat outcome: %w", err)
		}
		e.RequestID = requestID.String
		e.Categories = []string(categories)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate chat outcomes: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
