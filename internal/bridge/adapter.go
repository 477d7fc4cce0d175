// Package bridge exposes the active document's serialized content as a
// single opaque blob to the application state container.
package bridge

import (
	"context"

	"tapestry/engine/internal/session"
)

// Adapter resolves every call against the coordinator's active slot rather
// than holding a document reference of its own. A get or set issued just
// before a project switch therefore lands on whichever document becomes
// active once the switch completes.
type Adapter struct {
	coordinator *session.Coordinator
}

func New(coordinator *session.Coordinator) *Adapter {
	return &Adapter{coordinator: coordinator}
}

// Get returns the serialized content of the active document. When an open or
// create is in flight the call waits for it to finish; with no session at
// all it fails with session.ErrNoSession.
func (a *Adapter) Get(ctx context.Context) (string, error) {
	active, err := a.coordinator.Resolve()
	if err != nil {
		return "", err
	}
	return active.Store.SerializedContent()
}

// Set overwrites the serialized content wholesale. The write applies to the
// in-memory document immediately and reaches durable storage and other
// processes through the document store's own pipeline; callers do not wait
// on durability beyond that.
func (a *Adapter) Set(ctx context.Context, value string) error {
	active, err := a.coordinator.Resolve()
	if err != nil {
		return err
	}
	return active.Store.SetSerializedContent(ctx, value)
}
