package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tapestry/engine/internal/util"
)

// CatalogStore is the durable table of project descriptors. Every method runs
// as a single statement or transaction scoped to that call; isolation between
// concurrent processes comes from the database, not from this type.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) Create(ctx context.Context, name string) (ProjectMetadata, error) {
	project := ProjectMetadata{
		ID:          util.NewID("prj"),
		ProjectName: name,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, project_name, modified_date)
		VALUES ($1, $2, NOW())
		RETURNING modified_date
	`, project.ID, project.ProjectName).Scan(&project.ModifiedDate)
	if err != nil {
		return ProjectMetadata{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

// List returns every project, most recently modified first.
func (s *CatalogStore) List(ctx context.Context) ([]ProjectMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_name, modified_date, parent_revision
		FROM projects
		ORDER BY modified_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectMetadata
	for rows.Next() {
		var p ProjectMetadata
		if err := rows.Scan(&p.ID, &p.ProjectName, &p.ModifiedDate, &p.ParentRevision); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func (s *CatalogStore) Get(ctx context.Context, id string) (ProjectMetadata, error) {
	var p ProjectMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_name, modified_date, parent_revision
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.ProjectName, &p.ModifiedDate, &p.ParentRevision)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectMetadata{}, ErrNotFound
	}
	if err != nil {
		return ProjectMetadata{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *CatalogStore) Rename(ctx context.Context, id, name string) error {
	return s.update(ctx, "rename project", `
		UPDATE projects SET project_name = $2, modified_date = NOW() WHERE id = $1
	`, id, name)
}

// Touch bumps modified_date; called on every content mutation.
func (s *CatalogStore) Touch(ctx context.Context, id string) error {
	return s.update(ctx, "touch project", `
		UPDATE projects SET modified_date = NOW() WHERE id = $1
	`, id)
}

// SetParentRevision moves the project's revision head. The archive calls this
// only after the snapshot row has committed.
func (s *CatalogStore) SetParentRevision(ctx context.Context, id, revisionID string) error {
	return s.update(ctx, "set parent revision", `
		UPDATE projects SET parent_revision = $2 WHERE id = $1
	`, id, revisionID)
}

func (s *CatalogStore) Delete(ctx context.Context, id string) error {
	return s.update(ctx, "delete project", `DELETE FROM projects WHERE id = $1`, id)
}

// BackfillModifiedDate stamps legacy rows that predate the modified_date
// column. It is the same statement migration 0002 runs, exposed so the
// backfill can be re-applied; rows that already carry a date are untouched.
func (s *CatalogStore) BackfillModifiedDate(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET modified_date = NOW() WHERE modified_date IS NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("backfill modified_date: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backfill rows affected: %w", err)
	}
	return affected, nil
}

func (s *CatalogStore) update(ctx context.Context, verb, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", verb, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
