// Package session sequences project create/open/switch/delete as composite
// operations and owns the single active-document slot for this process.
package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"tapestry/engine/internal/broadcast"
	"tapestry/engine/internal/document"
	"tapestry/engine/internal/store"
)

// ErrNoSession is returned when an operation needs an active project and
// none is open or being opened. It marks a programming error in the caller,
// not a storage failure.
var ErrNoSession = errors.New("no active project session")

// DefaultProjectName is given to projects created without a name.
const DefaultProjectName = "Untitled project"

type Catalog interface {
	Create(ctx context.Context, name string) (store.ProjectMetadata, error)
	Get(ctx context.Context, id string) (store.ProjectMetadata, error)
	Rename(ctx context.Context, id, name string) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type Contents interface {
	document.ContentLog
	DeleteProject(ctx context.Context, projectID string) error
}

// Forker creates a new project from an archived revision; it is the archive
// service in production.
type Forker interface {
	LoadRevision(ctx context.Context, projectID, revisionID string) (store.ProjectMetadata, error)
}

// Active is the explicit session object for one open project: its catalog
// row as of open time, and the live document store.
type Active struct {
	Project store.ProjectMetadata
	Store   *document.Store
}

// Coordinator guarantees at most one live document store, one channel
// subscription, and one content-log consumer per process. Every composite
// operation is serialized by one mutex; a caller blocked on that mutex is
// exactly a caller waiting on a pending open.
type Coordinator struct {
	catalog  Catalog
	contents Contents
	channel  *broadcast.Channel
	forker   Forker

	onRehydrate func(projectID string)

	mu     sync.Mutex
	active *Active
}

func New(catalog Catalog, contents Contents, channel *broadcast.Channel, forker Forker) *Coordinator {
	return &Coordinator{
		catalog:  catalog,
		contents: contents,
		channel:  channel,
		forker:   forker,
	}
}

// OnRehydrate registers the application-state notification. It fires after
// durable sync and migration have completed, never before. The callback must
// not call back into the coordinator. Set before first use; not synchronized.
func (c *Coordinator) OnRehydrate(fn func(projectID string)) {
	c.onRehydrate = fn
}

// Create makes a new catalog row and opens it as the active project.
func (c *Coordinator) Create(ctx context.Context, name string) (*Active, error) {
	if name == "" {
		name = DefaultProjectName
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	project, err := c.catalog.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.activateLocked(ctx, project)
}

// Open switches the active slot to the given project. Any previously active
// document store is destroyed first, and its destruction completes before
// the new store starts receiving broadcasts.
func (c *Coordinator) Open(ctx context.Context, id string) (*Active, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	project, err := c.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.activateLocked(ctx, project)
}

// LoadRevision forks an archived revision into a new project and opens it.
func (c *Coordinator) LoadRevision(ctx context.Context, projectID, revisionID string) (*Active, error) {
	if c.forker == nil {
		return nil, ErrNoSession
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fork, err := c.forker.LoadRevision(ctx, projectID, revisionID)
	if err != nil {
		return nil, err
	}
	return c.activateLocked(ctx, fork)
}

// Delete removes the project; if it is currently active the slot is cleared
// first.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.Project.ID == id {
		if err := c.active.Store.Destroy(); err != nil {
			return err
		}
		c.active = nil
	}
	if err := c.catalog.Delete(ctx, id); err != nil {
		return err
	}
	return c.contents.DeleteProject(ctx, id)
}

func (c *Coordinator) Rename(ctx context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.catalog.Rename(ctx, id, name); err != nil {
		return err
	}
	if c.active != nil && c.active.Project.ID == id {
		c.active.Project.ProjectName = name
	}
	return nil
}

// Active returns the current session, or nil when none is open. It blocks
// while a composite operation is in flight, so a call racing a project
// switch resolves against whichever project becomes active.
func (c *Coordinator) Active() *Active {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Resolve is Active for callers that require a session: it waits out any
// pending open and fails with ErrNoSession when none results.
func (c *Coordinator) Resolve() (*Active, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, ErrNoSession
	}
	return c.active, nil
}

// Close destroys the active session on shutdown.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	err := c.active.Store.Destroy()
	c.active = nil
	return err
}

// activateLocked replaces the active slot with a freshly opened store for
// project. Caller holds c.mu.
func (c *Coordinator) activateLocked(ctx context.Context, project store.ProjectMetadata) (*Active, error) {
	if c.active != nil {
		if err := c.active.Store.Destroy(); err != nil {
			return nil, err
		}
		c.active = nil
	}

	projectID := project.ID
	docStore := document.New(projectID, c.channel, c.contents, func() {
		if err := c.catalog.Touch(context.Background(), projectID); err != nil {
			log.Printf("session: touch project %s: %v", projectID, err)
		}
	})

	if err := docStore.Persist(ctx); err != nil {
		_ = docStore.Destroy()
		return nil, err
	}
	if err := docStore.StartSyncing(ctx); err != nil {
		_ = docStore.Destroy()
		return nil, err
	}

	c.active = &Active{Project: project, Store: docStore}
	if c.onRehydrate != nil {
		c.onRehydrate(projectID)
	}
	return c.active, nil
}
