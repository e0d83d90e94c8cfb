package core

import "time"

type ConflictPolicy string

const (
	LastWriteWinsPolicy ConflictPolicy = "last-write-wins"
	MergePolicy         ConflictPolicy = "merge"
)

type SessionSettings struct {
	MaxUsers       *int           `json:"maxUsers,omitempty"`
	AllowGuests    *bool          `json:"allowGuests,omitempty"`
	AutoSync       *bool          `json:"autoSync,omitempty"`
	ConflictPolicy ConflictPolicy `json:"conflictPolicy"`
}

// AutoSyncEnabled is true unless settings explicitly turn it off
func (s SessionSettings) AutoSyncEnabled() bool {
	return s.AutoSync == nil || *s.AutoSync
}

// Full reports whether a session with n members can't accept one more
func (s SessionSettings) Full(n int) bool {
	return s.MaxUsers != nil && *s.MaxUsers > 0 && n >= *s.MaxUsers
}

type Session struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt int64           `json:"createdAt"`
	OwnerID   UserID          `json:"ownerId"`
	Users     []*User         `json:"users"`
	Settings  SessionSettings `json:"settings"`
}

// NewSession builds an empty session owned by ownerID
func NewSession(id string, name string, ownerID UserID, createdAt time.Time) *Session {
	return &Session{
		ID:        id,
		Name:      name,
		CreatedAt: Millis(createdAt),
		OwnerID:   ownerID,
		Users:     []*User{},
		Settings:  SessionSettings{ConflictPolicy: LastWriteWinsPolicy},
	}
}

// Clone returns a deep copy of the session with all its users
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	c := *s
	c.Users = make([]*User, 0, len(s.Users))
	for _, u := range s.Users {
		c.Users = append(c.Users, u.Clone())
	}

	return &c
}

func (s *Session) FindUser(id UserID) *User {
	for _, u := range s.Users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// UpsertUser replaces the user with the same ID or appends a new one
func (s *Session) UpsertUser(user *User) {
	user.IsOwner = user.ID == s.OwnerID
	for i, u := range s.Users {
		if u.ID == user.ID {
			s.Users[i] = user
			return
		}
	}
	s.Users = append(s.Users, user)
}

// RemoveUser deletes the user in place, returns false when it is unknown
func (s *Session) RemoveUser(id UserID) bool {
	for i, u := range s.Users {
		if u.ID == id {
			s.Users = append(s.Users[:i], s.Users[i+1:]...)
			return true
		}
	}
	return false
}
