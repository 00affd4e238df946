// Package store is the authoritative model of every team workspace under a
// root directory. All mutations flow through one serial queue so the on-disk
// state observes a total order of writes; reads go straight to disk, which
// the atomic-replace and newline-commit invariants of fsio make safe.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mkdir700/pi-team/internal/audit"
	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
)

// teamSubdirs is the scaffold every team directory carries. artifacts is
// reserved for clients and never written by the store.
var teamSubdirs = []string{"tasks", "threads", "inboxes", "audit", "artifacts", "idempotency"}

// ErrClosed is returned by mutations submitted after Close.
var ErrClosed = errors.New("store is closed")

// Config configures a Store.
type Config struct {
	// Root is the workspace root holding one directory per team.
	Root string
	// Logger receives transition logs. Pass zerolog.Nop() to silence.
	Logger zerolog.Logger
}

// Store owns the workspace files. Safe for concurrent use.
type Store struct {
	root string
	log  zerolog.Logger

	ops  chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	audits map[string]*audit.Log
}

// New creates a Store rooted at cfg.Root, creating the root (0700) if
// missing, and starts the mutation queue.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("store root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}
	if err := fsio.SecureDir(root); err != nil {
		return nil, err
	}

	s := &Store{
		root:   root,
		log:    cfg.Logger,
		ops:    make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		audits: make(map[string]*audit.Log),
	}
	go s.run()
	return s, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string { return s.root }

// Close stops the mutation queue and closes the audit logs. Mutations
// submitted afterwards fail with ErrClosed; an already-accepted mutation
// runs to completion first.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		s.mu.Lock()
		for _, l := range s.audits {
			l.Close()
		}
		s.audits = make(map[string]*audit.Log)
		s.mu.Unlock()
	})
	return nil
}

// run is the single consumer of the mutation queue.
func (s *Store) run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			close(s.done)
			return
		}
	}
}

// mutate submits fn to the serial queue and waits for it. The context is
// honored only while waiting to be accepted; once accepted, the mutation
// always runs to completion so the on-disk model cannot be abandoned
// half-applied.
func (s *Store) mutate(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	wrapped := func() { errc <- fn() }
	select {
	case s.ops <- wrapped:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// teamDir validates the id and resolves the team directory under the root.
func (s *Store) teamDir(teamID string) (string, error) {
	if !model.ValidID(teamID) {
		return "", model.Invalid(model.CodeInvalidTeamID, "team id %q is not allowed", teamID)
	}
	dir, err := fsio.SafeJoin(s.root, teamID)
	if err != nil {
		return "", err
	}
	return dir, nil
}

// existingTeamDir is teamDir plus a presence check.
func (s *Store) existingTeamDir(teamID string) (string, error) {
	dir, err := s.teamDir(teamID)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", model.NotFound(model.CodeTeamNotFound, "no team %q under %s", teamID, s.root)
	}
	return dir, nil
}

// EnsureTeamDirs scaffolds the team directory and its subdirectory set,
// all mode 0700, and returns the team directory. Idempotent.
func (s *Store) EnsureTeamDirs(teamID string) (string, error) {
	dir, err := s.teamDir(teamID)
	if err != nil {
		return "", err
	}
	if err := fsio.SecureDir(dir); err != nil {
		return "", err
	}
	for _, sub := range teamSubdirs {
		if err := fsio.SecureDir(filepath.Join(dir, sub)); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// auditLog returns the open audit log for a team directory, opening it on
// first use.
func (s *Store) auditLog(dir string) (*audit.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.audits[dir]; ok {
		return l, nil
	}
	l, err := audit.Open(filepath.Join(dir, "audit", "events.jsonl"))
	if err != nil {
		return nil, err
	}
	s.audits[dir] = l
	return l, nil
}
