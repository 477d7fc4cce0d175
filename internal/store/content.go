package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ContentStore is the per-project durable update log. Each row is one opaque
// incremental update from the mergeable-document library; the log is only
// ever appended to or dropped wholesale when a project is deleted.
type ContentStore struct {
	db *sql.DB
}

func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{db: db}
}

func (s *ContentStore) AppendUpdate(ctx context.Context, projectID string, update []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_updates (project_id, update_data) VALUES ($1, $2)
	`, projectID, update)
	if err != nil {
		return fmt.Errorf("append content update: %w", err)
	}
	return nil
}

// Updates returns the project's full update log in append order. An empty
// log is not an error; a fresh project simply has nothing persisted yet.
func (s *ContentStore) Updates(ctx context.Context, projectID string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT update_data FROM content_updates WHERE project_id = $1 ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load content updates: %w", err)
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var update []byte
		if err := rows.Scan(&update); err != nil {
			return nil, fmt.Errorf("scan content update: %w", err)
		}
		updates = append(updates, update)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content updates: %w", err)
	}
	return updates, nil
}

func (s *ContentStore) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM content_updates WHERE project_id = $1
	`, projectID); err != nil {
		return fmt.Errorf("delete content updates: %w", err)
	}
	return nil
}
