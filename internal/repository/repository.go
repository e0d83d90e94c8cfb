package repository

import (
	"context"
	"errors"

	"github.com/isqad/livelook-collab/internal/core"
)

var ErrNotFound = errors.New("session not found")

// Record is the persisted part of a session: metadata and the last known
// shared state. Members are never persisted.
type Record struct {
	Session *core.Session
	State   core.SharedState
}

type SessionsRepository interface {
	Find(ctx context.Context, id string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	// SaveState stores the state unless a newer version is stored already
	SaveState(ctx context.Context, id string, state core.SharedState) error
}
