// Package session implements the session registry (C7): the subsystem that
// composes the merge queue engine and the workspace integrity engine with
// user-facing lifecycle operations. It embeds neither's logic.
package session

import (
	"context"
	"errors"
	"time"
)

// Session is one isolated development session: a named pairing of a
// version-control workspace with optional bead and agent associations
// (SPEC_FULL.md §3.5).
type Session struct {
	Name          string
	WorkspacePath string
	BeadID        string
	AgentID       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      map[string]string
	Paused        bool
}

// ErrNotFound is returned when a named session does not exist.
var ErrNotFound = errors.New("session: not found")

// ErrAlreadyExists is returned by Create when name is already registered.
var ErrAlreadyExists = errors.New("session: already exists")

// Filter narrows List.
type Filter struct {
	All     bool
	BeadID  string
	AgentID string
	Paused  *bool
}

// Store is the session registry's persistence dependency.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, name string) (Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, f Filter) ([]Session, error)
	Rename(ctx context.Context, oldName, newName string) error
}
