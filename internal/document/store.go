// Package document owns the live mergeable document for one open project and
// keeps it durable and consistent with other processes. The document itself
// is an automerge doc; this package only transports its updates and never
// inspects them.
package document

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/automerge/automerge-go"

	"tapestry/engine/internal/broadcast"
	"tapestry/engine/internal/util"
)

// ErrDestroyed is returned by mutations after Destroy.
var ErrDestroyed = errors.New("document store destroyed")

// ContentLog is the durable update log for project content.
type ContentLog interface {
	AppendUpdate(ctx context.Context, projectID string, update []byte) error
	Updates(ctx context.Context, projectID string) ([][]byte, error)
}

// Store binds one project's automerge doc to the durable update log and the
// sync channel. A process holds at most one Store per open project; the
// logical content is shared with other processes by broadcast-and-merge.
type Store struct {
	projectID string
	clientID  string
	channel   *broadcast.Channel
	contents  ContentLog
	onChanged func()

	mu  sync.Mutex
	doc *automerge.Doc

	sub       *broadcast.Subscription
	recvDone  chan struct{}
	destroyed bool
}

// New constructs the store with a fresh, empty document. onChanged fires
// after every local mutation has been persisted and broadcast; it may be nil.
func New(projectID string, channel *broadcast.Channel, contents ContentLog, onChanged func()) *Store {
	return &Store{
		projectID: projectID,
		clientID:  util.NewClientID(),
		channel:   channel,
		contents:  contents,
		onChanged: onChanged,
		doc:       automerge.New(),
	}
}

func (s *Store) ProjectID() string { return s.projectID }

// ClientID is the ephemeral identity this store publishes under.
func (s *Store) ClientID() string { return s.clientID }

// Persist replays the durable update log into the document (the first full
// synchronization from storage) and then runs the one-time metadata
// migration. It must complete before the document is handed to consumers.
func (s *Store) Persist(ctx context.Context) error {
	updates, err := s.contents.Updates(ctx, s.projectID)
	if err != nil {
		return fmt.Errorf("sync from storage: %w", err)
	}

	s.mu.Lock()
	for _, update := range updates {
		if err := s.doc.LoadIncremental(update); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("replay update: %w", err)
		}
	}
	// Reset the incremental cursor so the migration below is the only thing
	// the next SaveIncremental emits.
	_ = s.doc.SaveIncremental()
	migrated, err := migrate(s.doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("migrate document: %w", err)
	}
	update := s.doc.SaveIncremental()
	s.mu.Unlock()

	if migrated && len(update) > 0 {
		if err := s.contents.AppendUpdate(ctx, s.projectID, update); err != nil {
			return fmt.Errorf("persist migration: %w", err)
		}
	}
	return nil
}

// migrate stamps documents that predate versioned metadata. Guarded by the
// presence of the version key, so re-running is a no-op.
func migrate(doc *automerge.Doc) (bool, error) {
	version, err := doc.Path("meta", "version").Get()
	if err != nil {
		return false, err
	}
	if !version.IsVoid() {
		return false, nil
	}
	if err := doc.Path("meta", "version").Set(1); err != nil {
		return false, err
	}
	if err := doc.Path("meta", "projectName").Set("default"); err != nil {
		return false, err
	}
	return true, nil
}

// StartSyncing subscribes to the sync channel and begins merging inbound
// updates for this project into the local document. Messages published by
// this store itself are skipped; that is an efficiency, not a correctness
// requirement, since merging is idempotent.
func (s *Store) StartSyncing(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sub, err := s.channel.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe sync channel: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		_ = sub.Close()
		return ErrDestroyed
	}
	s.sub = sub
	s.recvDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range sub.Messages() {
			if msg.ProjectID != s.projectID || msg.ClientID == s.clientID {
				continue
			}
			s.mu.Lock()
			if s.destroyed {
				s.mu.Unlock()
				return
			}
			if err := s.doc.LoadIncremental(msg.Update); err != nil {
				log.Printf("document %s: apply remote update: %v", s.projectID, err)
			}
			s.mu.Unlock()
		}
	}()
	return nil
}

// Apply runs one local mutation against the document, then persists the
// resulting incremental update, broadcasts it, and fires onChanged. Durable
// persistence happens before the broadcast.
func (s *Store) Apply(ctx context.Context, mutate func(doc *automerge.Doc) error) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if err := mutate(s.doc); err != nil {
		s.mu.Unlock()
		return err
	}
	update := s.doc.SaveIncremental()
	s.mu.Unlock()

	if len(update) == 0 {
		return nil
	}
	if err := s.contents.AppendUpdate(ctx, s.projectID, update); err != nil {
		return err
	}
	if err := s.channel.Publish(ctx, broadcast.SyncMessage{
		ClientID:  s.clientID,
		ProjectID: s.projectID,
		Update:    update,
	}); err != nil {
		return err
	}
	if s.onChanged != nil {
		s.onChanged()
	}
	return nil
}

// SerializedContent returns the document's root content value as one opaque
// string; empty when nothing has been written yet.
func (s *Store) SerializedContent() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return "", ErrDestroyed
	}
	value, err := s.doc.Path("content").Get()
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	if value.IsVoid() {
		return "", nil
	}
	return value.Str(), nil
}

// SetSerializedContent overwrites the root content value wholesale.
func (s *Store) SetSerializedContent(ctx context.Context, value string) error {
	return s.Apply(ctx, func(doc *automerge.Doc) error {
		return doc.Path("content").Set(value)
	})
}

// Destroy stops the receive loop and releases the subscription. It is
// idempotent and safe to call without a prior StartSyncing; when it returns,
// no listener of this store will fire again.
func (s *Store) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	sub := s.sub
	done := s.recvDone
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	if err != nil {
		return fmt.Errorf("close subscription: %w", err)
	}
	return nil
}
