// Package app is the JSON surface the UI talks to. It performs no retry and
// no user messaging; failures are returned for the UI to present.
package app

import (
	"context"
	"sort"

	"tapestry/engine/internal/bridge"
	"tapestry/engine/internal/session"
	"tapestry/engine/internal/store"
)

type catalogReader interface {
	List(ctx context.Context) ([]store.ProjectMetadata, error)
	Get(ctx context.Context, id string) (store.ProjectMetadata, error)
}

type archiveService interface {
	SaveRevision(ctx context.Context, project store.ProjectMetadata) (store.RevisionSnapshot, error)
	History(ctx context.Context, projectID string) ([]store.RevisionSnapshot, error)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type Service struct {
	catalog     catalogReader
	archive     archiveService
	coordinator *session.Coordinator
	state       *bridge.Adapter
	db          pinger
}

// New wires the service. db may be nil; the readiness probe then only
// reports the process itself.
func New(catalog catalogReader, archive archiveService, coordinator *session.Coordinator, state *bridge.Adapter, db pinger) *Service {
	return &Service{
		catalog:     catalog,
		archive:     archive,
		coordinator: coordinator,
		state:       state,
		db:          db,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *Service) ListProjects(ctx context.Context) ([]store.ProjectMetadata, error) {
	return s.catalog.List(ctx)
}

func (s *Service) CreateProject(ctx context.Context, name string) (*session.Active, error) {
	return s.coordinator.Create(ctx, name)
}

func (s *Service) OpenProject(ctx context.Context, id string) (*session.Active, error) {
	return s.coordinator.Open(ctx, id)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	return s.coordinator.Delete(ctx, id)
}

func (s *Service) RenameProject(ctx context.Context, id, name string) error {
	return s.coordinator.Rename(ctx, id, name)
}

func (s *Service) GetState(ctx context.Context) (string, error) {
	return s.state.Get(ctx)
}

func (s *Service) SetState(ctx context.Context, value string) error {
	return s.state.Set(ctx, value)
}

// SaveRevision archives the project's current durable content and returns
// the new snapshot.
func (s *Service) SaveRevision(ctx context.Context, projectID string) (store.RevisionSnapshot, error) {
	project, err := s.catalog.Get(ctx, projectID)
	if err != nil {
		return store.RevisionSnapshot{}, err
	}
	return s.archive.SaveRevision(ctx, project)
}

// History returns the project's revisions, most recent first. The archive
// fetch itself is unordered; recency ordering is this caller's concern.
func (s *Service) History(ctx context.Context, projectID string) ([]store.RevisionSnapshot, error) {
	snapshots, err := s.archive.History(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// LoadRevision forks the revision into a new project and opens it.
func (s *Service) LoadRevision(ctx context.Context, projectID, revisionID string) (*session.Active, error) {
	return s.coordinator.LoadRevision(ctx, projectID, revisionID)
}
