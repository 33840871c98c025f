package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusys/bulkimport/internal/domain"
)

// importHistoryRepository implements ImportHistoryRepository over Postgres.
type importHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewImportHistoryRepository creates the Postgres-backed audit repository.
func NewImportHistoryRepository(pool *pgxpool.Pool) ImportHistoryRepository {
	return &importHistoryRepository{pool: pool}
}

func (r *importHistoryRepository) Record(ctx context.Context, entry domain.ImportHistory) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO import_history (
			id, entity_type, file_name, policy,
			total_rows, imported, updated, skipped, rejected,
			status, actor, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.EntityType, entry.FileName, entry.Policy,
		entry.TotalRows, entry.Imported, entry.Updated, entry.Skipped, entry.Rejected,
		entry.Status, entry.Actor, entry.CreatedAt, entry.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record import history: %w", err)
	}
	return nil
}

func (r *importHistoryRepository) List(ctx context.Context, entityType string, limit, offset int) ([]domain.ImportHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, entity_type, file_name, policy,
		       total_rows, imported, updated, skipped, rejected,
		       status, actor, created_at, completed_at
		FROM import_history
		WHERE ($1 = '' OR entity_type = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, entityType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list import history: %w", err)
	}
	defer rows.Close()

	var entries []domain.ImportHistory
	for rows.Next() {
		var e domain.ImportHistory
		var actor *string
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.FileName, &e.Policy,
			&e.TotalRows, &e.Imported, &e.Updated, &e.Skipped, &e.Rejected,
			&e.Status, &actor, &e.CreatedAt, &e.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import history row: %w", err)
		}
		if actor != nil {
			e.Actor = *actor
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
