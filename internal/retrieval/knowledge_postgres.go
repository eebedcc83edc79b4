package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresKnowledgeRepository stores passages in the knowledge_documents table.
type PostgresKnowledgeRepository struct {
	db pgxQuerier
}

func NewPostgresKnowledgeRepository(pool *pgxpool.Pool) *PostgresKnowledgeRepository {
	if pool == nil {
		panic("retrieval: pgx pool required")
	}
	return &PostgresKnowledgeRepository{db: pool}
}

func newPostgresKnowledgeRepositoryWithDB(db pgxQuerier) *PostgresKnowledgeRepository {
	if db == nil {
		panic("retrieval: db required")
	}
	return &PostgresKnowledgeRepository{db: db}
}

func (r *PostgresKnowledgeRepository) AppendDocuments(ctx context.Context, namespace string, docs []string) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO knowledge_documents (namespace, content)
		SELECT $1, unnest($2::text[])
	`, namespace, docs)
	if err != nil {
		return fmt.Errorf("retrieval: insert knowledge: %w", err)
	}
	return nil
}

// ReplaceDocuments deletes, reinserts and bumps the namespace version in one transaction.
func (r *PostgresKnowledgeRepository) ReplaceDocuments(ctx context.Context, namespace string, docs []string) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("retrieval: begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM knowledge_documents WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("retrieval: clear knowledge: %w", err)
	}
	if len(docs) > 0 {
		if _, err = tx.Exec(ctx, `
			INSERT INTO knowledge_documents (namespace, content)
			SELECT $1, unnest($2::text[])
		`, namespace, docs); err != nil {
			return fmt.Errorf("retrieval: insert knowledge: %w", err)
		}
	}
	if _, err = tx.Exec(ctx, bumpVersionSQL, namespace); err != nil {
		return fmt.Errorf("retrieval: bump knowledge version: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("retrieval: commit replace: %w", err)
	}
	return nil
}

func (r *PostgresKnowledgeRepository) GetDocuments(ctx context.Context, namespace string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT content FROM knowledge_documents
		WHERE namespace = $1
		ORDER BY id
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query knowledge: %w", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("retrieval: scan knowledge: %w", err)
		}
		docs = append(docs, content)
	}
	return docs, rows.Err()
}

func (r *PostgresKnowledgeRepository) LoadAll(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.Query(ctx, `SELECT namespace, content FROM knowledge_documents ORDER BY namespace, id`)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query knowledge: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var namespace, content string
		if err := rows.Scan(&namespace, &content); err != nil {
			return nil, fmt.Errorf("retrieval: scan knowledge: %w", err)
		}
		result[namespace] = append(result[namespace], content)
	}
	return result, rows.Err()
}

func (r *PostgresKnowledgeRepository) GetVersion(ctx context.Context, namespace string) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `SELECT version FROM knowledge_versions WHERE namespace = $1`, namespace).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("retrieval: get knowledge version: %w", err)
	}
	return version, nil
}

const bumpVersionSQL = `
	INSERT INTO knowledge_versions (namespace, version, updated_at)
	VALUES ($1, 1, now())
	ON CONFLICT (namespace) DO UPDATE
	SET version = knowledge_versions.version + 1, updated_at = now()
	RETURNING version
`

func (r *PostgresKnowledgeRepository) BumpVersion(ctx context.Context, namespace string) (int64, error) {
	var version int64
	if err := r.db.QueryRow(ctx, bumpVersionSQL, namespace).Scan(&version); err != nil {
		return 0, fmt.Errorf("retrieval: bump knowledge version: %w", err)
	}
	return version, nil
}
