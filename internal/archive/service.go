// Package archive layers an immutable revision history on top of the live
// project content. Snapshots are taken from the durable update log, never
// from an in-memory document, so a revision always reflects the latest
// persisted state.
package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/automerge/automerge-go"

	"tapestry/engine/internal/store"
	"tapestry/engine/internal/util"
)

type Catalog interface {
	Get(ctx context.Context, id string) (store.ProjectMetadata, error)
	Create(ctx context.Context, name string) (store.ProjectMetadata, error)
	SetParentRevision(ctx context.Context, id, revisionID string) error
}

type Snapshots interface {
	Insert(ctx context.Context, snapshot store.RevisionSnapshot) error
	History(ctx context.Context, projectID string) ([]store.RevisionSnapshot, error)
	Get(ctx context.Context, projectID, revisionID string) (store.RevisionSnapshot, error)
}

type Contents interface {
	AppendUpdate(ctx context.Context, projectID string, update []byte) error
	Updates(ctx context.Context, projectID string) ([][]byte, error)
}

// Mirror receives each saved revision after it has committed; failures are
// logged, never propagated.
type Mirror interface {
	MirrorRevision(projectID, projectName string, snapshot store.RevisionSnapshot) error
}

type Service struct {
	catalog   Catalog
	snapshots Snapshots
	contents  Contents
	mirror    Mirror
	now       func() time.Time
}

// New wires the archive. mirror may be nil.
func New(catalog Catalog, snapshots Snapshots, contents Contents, mirror Mirror) *Service {
	return &Service{
		catalog:   catalog,
		snapshots: snapshots,
		contents:  contents,
		mirror:    mirror,
		now:       time.Now,
	}
}

// SaveRevision converts the project's current durable content into an
// immutable snapshot chained onto the project's prior head. The catalog head
// moves only after the snapshot row has committed, so a crash mid-operation
// never leaves a head pointing at a missing snapshot.
func (s *Service) SaveRevision(ctx context.Context, project store.ProjectMetadata) (store.RevisionSnapshot, error) {
	data, err := s.currentContent(ctx, project.ID)
	if err != nil {
		return store.RevisionSnapshot{}, err
	}

	snapshot := store.RevisionSnapshot{
		ProjectID:  project.ID,
		RevisionID: util.NewID("rev"),
		ParentID:   project.ParentRevision,
		Data:       data,
		Timestamp:  s.now(),
	}
	if err := s.snapshots.Insert(ctx, snapshot); err != nil {
		return store.RevisionSnapshot{}, err
	}
	if err := s.catalog.SetParentRevision(ctx, project.ID, snapshot.RevisionID); err != nil {
		return store.RevisionSnapshot{}, err
	}

	if s.mirror != nil {
		if err := s.mirror.MirrorRevision(project.ID, project.ProjectName, snapshot); err != nil {
			log.Printf("archive: mirror revision %s: %v", snapshot.RevisionID, err)
		}
	}
	return snapshot, nil
}

// History returns the project's snapshots; callers sort by recency.
func (s *Service) History(ctx context.Context, projectID string) ([]store.RevisionSnapshot, error) {
	return s.snapshots.History(ctx, projectID)
}

// LoadRevision forks the given revision into a brand-new project and returns
// its metadata. The source project's catalog row and content log are never
// touched. The fork's parent revision records the source revision id.
func (s *Service) LoadRevision(ctx context.Context, projectID, revisionID string) (store.ProjectMetadata, error) {
	source, err := s.catalog.Get(ctx, projectID)
	if err != nil {
		return store.ProjectMetadata{}, err
	}
	snapshot, err := s.snapshots.Get(ctx, projectID, revisionID)
	if err != nil {
		return store.ProjectMetadata{}, err
	}

	fork, err := s.catalog.Create(ctx, source.ProjectName+" revision")
	if err != nil {
		return store.ProjectMetadata{}, err
	}
	if err := s.contents.AppendUpdate(ctx, fork.ID, snapshot.Data); err != nil {
		return store.ProjectMetadata{}, err
	}
	if err := s.catalog.SetParentRevision(ctx, fork.ID, revisionID); err != nil {
		return store.ProjectMetadata{}, err
	}
	fork.ParentRevision = revisionID
	return fork, nil
}

// currentContent merges the durable update log into one full serialized
// document. The log is read directly; an open live document plays no part.
func (s *Service) currentContent(ctx context.Context, projectID string) ([]byte, error) {
	updates, err := s.contents.Updates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	doc := automerge.New()
	for _, update := range updates {
		if err := doc.LoadIncremental(update); err != nil {
			return nil, fmt.Errorf("merge content log: %w", err)
		}
	}
	return doc.Save(), nil
}
