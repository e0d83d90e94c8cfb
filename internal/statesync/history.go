package statesync

import "github.com/isqad/livelook-collab/internal/core"

// HistoryRing is a fixed-capacity stack of past states. When full, Push
// drops the oldest entry. It is guarded by the owning Synchronizer.
type HistoryRing struct {
	buf   []core.SharedState
	head  int
	count int
}

func NewHistoryRing(capacity int) *HistoryRing {
	return &HistoryRing{buf: make([]core.SharedState, capacity)}
}

func (r *HistoryRing) Push(s core.SharedState) {
	if len(r.buf) == 0 {
		return
	}

	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = s.Clone()
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// Pop removes and returns the newest entry
func (r *HistoryRing) Pop() (core.SharedState, bool) {
	if r.count == 0 {
		return core.SharedState{}, false
	}

	idx := (r.head + r.count - 1) % len(r.buf)
	s := r.buf[idx]
	r.buf[idx] = core.SharedState{}
	r.count--

	return s, true
}

func (r *HistoryRing) Len() int {
	return r.count
}

// Snapshot returns copies of all entries, oldest first
func (r *HistoryRing) Snapshot() []core.SharedState {
	out := make([]core.SharedState, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)].Clone()
	}
	return out
}
