package repository

import (
	"context"
	"sync"

	"github.com/isqad/livelook-collab/internal/core"
)

// Memory keeps sessions for the lifetime of the process
type Memory struct {
	lock    sync.RWMutex
	records map[string]*Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) Find(_ context.Context, id string) (*Record, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{Session: rec.Session.Clone(), State: rec.State.Clone()}, nil
}

func (m *Memory) Create(_ context.Context, rec *Record) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.records[rec.Session.ID]; ok {
		return nil
	}

	session := rec.Session.Clone()
	session.Users = []*core.User{}
	m.records[session.ID] = &Record{Session: session, State: rec.State.Clone()}

	return nil
}

func (m *Memory) SaveState(_ context.Context, id string, state core.SharedState) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.State.Version < state.Version {
		rec.State = state.Clone()
	}
	return nil
}
