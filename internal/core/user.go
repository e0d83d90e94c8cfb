package core

import "time"

// UserID identifies a collaborator within a session
type UserID string

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Selection struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// User is a collaborator of the session
type User struct {
	ID          UserID     `json:"id"`
	DisplayName string     `json:"displayName"`
	Color       string     `json:"color,omitempty"`
	Cursor      *Cursor    `json:"cursor,omitempty"`
	Selection   *Selection `json:"selection,omitempty"`
	IsOwner     bool       `json:"isOwner"`
	IsOnline    bool       `json:"isOnline"`
	LastSeen    int64      `json:"lastSeen"`
}

// Clone returns a deep copy so callers can't mutate the owner's record
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	c := *u
	if u.Cursor != nil {
		cursor := *u.Cursor
		c.Cursor = &cursor
	}
	if u.Selection != nil {
		selection := *u.Selection
		c.Selection = &selection
	}

	return &c
}

// Touch marks user as online at the given moment
func (u *User) Touch(at time.Time) {
	u.IsOnline = true
	u.LastSeen = Millis(at)
}

// Millis converts time to unix milliseconds used on the wire
func Millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
