package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ArchiveStore is the append-only revision table. There is deliberately no
// update or delete method; the database trigger enforces the same at the
// schema level.
type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

func (s *ArchiveStore) Insert(ctx context.Context, snapshot RevisionSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revisions (project_id, revision_id, parent_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, snapshot.ProjectID, snapshot.RevisionID, snapshot.ParentID, snapshot.Data, snapshot.Timestamp)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

// History returns every snapshot for the project in no particular order;
// callers sort by recency.
func (s *ArchiveStore) History(ctx context.Context, projectID string) ([]RevisionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, revision_id, parent_id, data, created_at
		FROM revisions
		WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var snapshots []RevisionSnapshot
	for rows.Next() {
		var snap RevisionSnapshot
		if err := rows.Scan(&snap.ProjectID, &snap.RevisionID, &snap.ParentID, &snap.Data, &snap.Timestamp); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return snapshots, nil
}

func (s *ArchiveStore) Get(ctx context.Context, projectID, revisionID string) (RevisionSnapshot, error) {
	var snap RevisionSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, revision_id, parent_id, data, created_at
		FROM revisions
		WHERE project_id = $1 AND revision_id = $2
	`, projectID, revisionID).Scan(&snap.ProjectID, &snap.RevisionID, &snap.ParentID, &snap.Data, &snap.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return RevisionSnapshot{}, ErrNotFound
	}
	if err != nil {
		return RevisionSnapshot{}, fmt.Errorf("get revision: %w", err)
	}
	return snap, nil
}
