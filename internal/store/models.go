package store

import "time"

// ProjectMetadata is one row of the project catalog. ParentRevision is the
// head of the project's revision chain, empty until the first saved revision.
type ProjectMetadata struct {
	ID             string
	ProjectName    string
	ModifiedDate   time.Time
	ParentRevision string
}

// RevisionSnapshot is one immutable row of the revision archive. Data holds
// the full serialized document as persisted at save time. ParentID links the
// chain back through the project's prior head; empty for the first revision.
type RevisionSnapshot struct {
	ProjectID  string
	RevisionID string
	ParentID   string
	Data       []byte
	Timestamp  time.Time
}
