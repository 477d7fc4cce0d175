// Package gitrepo mirrors saved revisions into a per-project git repository,
// one commit per revision. The mirror is an export surface; the revision
// table in the database stays the source of truth.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"tapestry/engine/internal/store"
)

type revisionManifest struct {
	RevisionID  string    `json:"revisionId"`
	ParentID    string    `json:"parentId,omitempty"`
	ProjectName string    `json:"projectName"`
	Timestamp   time.Time `json:"timestamp"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// MirrorRevision commits the snapshot into the project's mirror repo,
// creating the repo on first use.
func (s *Service) MirrorRevision(projectID, projectName string, snapshot store.RevisionSnapshot) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, worktree, err := s.ensureRepo(projectID)
	if err != nil {
		return err
	}

	path := s.repoPath(projectID)
	if err := os.WriteFile(filepath.Join(path, "snapshot.bin"), snapshot.Data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	manifest, err := json.MarshalIndent(revisionManifest{
		RevisionID:  snapshot.RevisionID,
		ParentID:    snapshot.ParentID,
		ProjectName: projectName,
		Timestamp:   snapshot.Timestamp,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "revision.json"), append(manifest, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if _, err := worktree.Add("snapshot.bin"); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}
	if _, err := worktree.Add("revision.json"); err != nil {
		return fmt.Errorf("git add manifest: %w", err)
	}
	hash, err := worktree.Commit(fmt.Sprintf("Revision %s", snapshot.RevisionID), &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Tapestry Engine",
			Email: "engine@tapestry.local",
			When:  snapshot.Timestamp,
		},
	})
	if err != nil {
		return fmt.Errorf("commit revision: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("advance main: %w", err)
	}
	return nil
}

// RevisionCommits returns the mirror's commit messages, newest first. Mostly
// a debugging surface; the archive table is authoritative.
func (s *Service) RevisionCommits(projectID string) ([]string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return nil, fmt.Errorf("open mirror repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read mirror head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read mirror log: %w", err)
	}
	defer iter.Close()

	var messages []string
	err = iter.ForEach(func(commit *object.Commit) error {
		messages = append(messages, commit.Message)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate mirror log: %w", err)
	}
	return messages, nil
}

func (s *Service) ensureRepo(projectID string) (*git.Repository, *git.Worktree, error) {
	path := s.repoPath(projectID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open repo: %w", err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return nil, nil, fmt.Errorf("open worktree: %w", err)
		}
		return repo, worktree, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, worktree, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}
