package presence

import (
	"sync"
	"time"

	"github.com/isqad/livelook-collab/internal/core"
)

// Roster is the local view of the session and its users. Readers always
// get copies.
type Roster struct {
	lock    sync.RWMutex
	session *core.Session
}

func NewRoster() *Roster {
	return &Roster{}
}

func (r *Roster) Reset(session *core.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if session == nil {
		r.session = nil
		return
	}
	r.session = session.Clone()
}

// Join records the user as online
func (r *Roster) Join(user *core.User, at time.Time) *core.User {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.session == nil || user == nil {
		return nil
	}

	u := user.Clone()
	u.Touch(at)
	r.session.UpsertUser(u)

	return r.session.FindUser(u.ID).Clone()
}

// Leave removes the user and returns the last known copy
func (r *Roster) Leave(id core.UserID) *core.User {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.session == nil {
		return nil
	}

	u := r.session.FindUser(id)
	if u == nil {
		return nil
	}
	left := u.Clone()
	left.IsOnline = false
	r.session.RemoveUser(id)

	return left
}

func (r *Roster) UpdatePresence(id core.UserID, p core.PresencePayload) bool {
	return r.update(id, func(u *core.User) {
		u.IsOnline = p.IsOnline
		u.LastSeen = p.LastSeen
	})
}

func (r *Roster) UpdateCursor(id core.UserID, cursor core.Cursor, at time.Time) bool {
	return r.update(id, func(u *core.User) {
		c := cursor
		u.Cursor = &c
		u.Touch(at)
	})
}

func (r *Roster) UpdateSelection(id core.UserID, selection core.Selection, at time.Time) bool {
	return r.update(id, func(u *core.User) {
		s := selection
		u.Selection = &s
		u.Touch(at)
	})
}

func (r *Roster) update(id core.UserID, fn func(u *core.User)) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.session == nil {
		return false
	}
	u := r.session.FindUser(id)
	if u == nil {
		return false
	}
	fn(u)

	return true
}

func (r *Roster) User(id core.UserID) *core.User {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.session == nil {
		return nil
	}
	if u := r.session.FindUser(id); u != nil {
		return u.Clone()
	}
	return nil
}

func (r *Roster) Session() *core.Session {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.session == nil {
		return nil
	}
	return r.session.Clone()
}

func (r *Roster) Online() []*core.User {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.session == nil {
		return nil
	}

	users := make([]*core.User, 0, len(r.session.Users))
	for _, u := range r.session.Users {
		if u.IsOnline {
			users = append(users, u.Clone())
		}
	}
	return users
}
