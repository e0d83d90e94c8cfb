package statesync

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/eventbus"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

// DefaultMaxHistorySize bounds the undo history when Options leave it unset
const DefaultMaxHistorySize = 100

// ErrUninitialized is returned by local edits made before session info arrived
var ErrUninitialized = errors.New("state synchronizer is not initialized")

// Outcome reports what HandleRemoteState did with a remote state
type Outcome string

const (
	Accepted  Outcome = "accepted"
	Ignored   Outcome = "ignored"
	Duplicate Outcome = "duplicate"
	Resolved  Outcome = "resolved"
)

// Broadcaster delivers sync messages to peers
type Broadcaster interface {
	Broadcast(msg *core.SyncMessage, exclude core.UserID) int
	Send(peerID core.UserID, msg *core.SyncMessage)
}

// Options configure a Synchronizer. Zero values fall back to the
// last-write-wins resolver, DefaultMaxHistorySize and time.Now.
type Options struct {
	UserID         core.UserID
	MaxHistorySize int
	Resolver       Resolver
	Broadcaster    Broadcaster
	Events         eventbus.Publisher
	Clock          func() time.Time
}

// Synchronizer owns the authoritative local copy of the shared state. One
// mutex guards state, base and history together so that conflict resolution
// never interleaves with a local edit.
type Synchronizer struct {
	userID      core.UserID
	broadcaster Broadcaster
	events      eventbus.Publisher
	now         func() time.Time

	lock        sync.Mutex
	initialized bool
	resolver    Resolver
	state       core.SharedState
	base        core.SharedState
	history     *HistoryRing
	conflicts   uint64
}

type pendingEvent struct {
	name    eventbus.Event
	payload interface{}
}

func New(opts Options) *Synchronizer {
	if opts.MaxHistorySize <= 0 {
		opts.MaxHistorySize = DefaultMaxHistorySize
	}
	if opts.Resolver == nil {
		opts.Resolver = LastWriteWins{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Synchronizer{
		userID:      opts.UserID,
		broadcaster: opts.Broadcaster,
		events:      opts.Events,
		now:         opts.Clock,
		resolver:    opts.Resolver,
		history:     NewHistoryRing(opts.MaxHistorySize),
	}
}

// Initialize adopts the session snapshot. Once initialized, later snapshots
// (e.g. after a reconnect) are treated as ordinary remote states so offline
// edits aren't thrown away.
func (s *Synchronizer) Initialize(state core.SharedState) Outcome {
	s.lock.Lock()
	if s.initialized {
		s.lock.Unlock()
		return s.HandleRemoteState(state)
	}

	if state.Colors == nil {
		state.Colors = map[string]string{}
	}
	prev := s.state
	s.state = state.Clone()
	s.base = state.Clone()
	s.initialized = true
	current := s.state.Clone()
	s.lock.Unlock()

	log.Debug().Str("service", "statesync").Int64("version", state.Version).Msg("initialized")

	s.emit(pendingEvent{eventbus.StateChanged, eventbus.StateChange{Previous: prev, Current: current, Source: eventbus.RemoteSource}})

	return Accepted
}

func (s *Synchronizer) SetResolver(r Resolver) {
	if r == nil {
		return
	}
	s.lock.Lock()
	s.resolver = r
	s.lock.Unlock()
}

// ApplyLocalEdit overlays patch onto the current state, bumps the version
// by one and broadcasts the full state to peers
func (s *Synchronizer) ApplyLocalEdit(patch core.StatePatch) (core.SharedState, error) {
	return s.ApplyLocalChange(func(core.SharedState) core.StatePatch { return patch })
}

// ApplyLocalChange is ApplyLocalEdit with the patch computed from the
// current state under the same lock
func (s *Synchronizer) ApplyLocalChange(fn func(current core.SharedState) core.StatePatch) (core.SharedState, error) {
	s.lock.Lock()
	if !s.initialized {
		s.lock.Unlock()
		return core.SharedState{}, ErrUninitialized
	}

	prev := s.state
	s.history.Push(prev)

	next := prev.Apply(fn(prev.Clone()))
	next.Version = prev.Version + 1
	next.LastModified = core.Millis(s.now())
	next.LastModifiedBy = s.userID
	s.state = next

	s.broadcastLocked(next)
	current := next.Clone()
	s.lock.Unlock()

	telemetry.StateUpdateCounter.WithLabelValues("local").Inc()

	s.emit(pendingEvent{eventbus.StateChanged, eventbus.StateChange{Previous: prev.Clone(), Current: current, Source: eventbus.LocalSource}})

	return current, nil
}

// HandleRemoteState runs the conflict resolution protocol:
//  1. remote ahead: accept
//  2. same version, remote newer: accept
//  3. remote behind (or identical to local): ignore
//  4. otherwise: resolve, adopt with version max+1, re-broadcast
func (s *Synchronizer) HandleRemoteState(remote core.SharedState) Outcome {
	if remote.Colors == nil {
		remote.Colors = map[string]string{}
	}

	s.lock.Lock()
	if !s.initialized {
		s.lock.Unlock()
		log.Warn().Str("service", "statesync").Msg("remote state before session info, ignored")
		return Ignored
	}

	local := s.state
	var (
		outcome Outcome
		events  []pendingEvent
	)

	switch {
	case remote.Version > local.Version,
		remote.Version == local.Version && remote.LastModified > local.LastModified:
		s.state = remote.Clone()
		s.base = remote.Clone()
		outcome = Accepted
		events = append(events, pendingEvent{eventbus.StateChanged, eventbus.StateChange{Previous: local.Clone(), Current: remote.Clone(), Source: eventbus.RemoteSource}})
	case remote.Version < local.Version:
		outcome = Ignored
	case remote.Identical(local):
		outcome = Duplicate
	default:
		resolved := s.resolver.Resolve(local.Clone(), remote.Clone(), s.base.Clone())
		resolved.Version = maxVersion(local.Version, remote.Version) + 1
		if resolved.Colors == nil {
			resolved.Colors = map[string]string{}
		}

		s.state = resolved
		s.base = resolved.Clone()
		s.conflicts++
		s.broadcastLocked(resolved)

		outcome = Resolved
		events = append(events,
			pendingEvent{eventbus.StateChanged, eventbus.StateChange{Previous: local.Clone(), Current: resolved.Clone(), Source: eventbus.ResolvedSource}},
			pendingEvent{eventbus.ConflictDetected, eventbus.Conflict{Local: local.Clone(), Remote: remote.Clone(), Resolved: resolved.Clone()}},
		)
	}
	s.lock.Unlock()

	telemetry.StateUpdateCounter.WithLabelValues(string(outcome)).Inc()
	log.Debug().Str("service", "statesync").Str("outcome", string(outcome)).
		Int64("local", local.Version).Int64("remote", remote.Version).Msg("remote state handled")

	s.emit(events...)

	return outcome
}

// HandleRemoteDelta applies a patch computed against baseVersion. Deltas
// against any other version are dropped; a later full state repairs that.
func (s *Synchronizer) HandleRemoteDelta(sender core.UserID, timestamp int64, delta core.DeltaPayload) Outcome {
	s.lock.Lock()
	if !s.initialized || delta.BaseVersion != s.state.Version {
		s.lock.Unlock()
		return Ignored
	}
	candidate := s.state.Apply(delta.Patch)
	s.lock.Unlock()

	candidate.Version = delta.BaseVersion + 1
	candidate.LastModified = timestamp
	candidate.LastModifiedBy = sender

	return s.HandleRemoteState(candidate)
}

// Undo restores the most recent history entry verbatim. The version isn't
// bumped, so peers ahead of it keep their state.
func (s *Synchronizer) Undo() bool {
	s.lock.Lock()
	prev, ok := s.history.Pop()
	if !ok {
		s.lock.Unlock()
		return false
	}

	current := s.state
	s.state = prev
	s.broadcastLocked(prev)
	s.lock.Unlock()

	s.emit(pendingEvent{eventbus.StateChanged, eventbus.StateChange{Previous: current.Clone(), Current: prev.Clone(), Source: eventbus.UndoSource}})

	return true
}

// SendFullSync pushes the current state to exactly one peer
func (s *Synchronizer) SendFullSync(peerID core.UserID) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.initialized {
		return ErrUninitialized
	}

	msg, err := s.stateMessage(s.state)
	if err != nil {
		return err
	}
	s.broadcaster.Send(peerID, msg)

	return nil
}

// Rebroadcast sends the current state to every reachable peer
func (s *Synchronizer) Rebroadcast() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.initialized {
		return 0
	}
	return s.broadcastLocked(s.state)
}

// State returns a copy of the current state
func (s *Synchronizer) State() (core.SharedState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state.Clone(), s.initialized
}

func (s *Synchronizer) Base() core.SharedState {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.base.Clone()
}

func (s *Synchronizer) History() []core.SharedState {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.history.Snapshot()
}

func (s *Synchronizer) HistoryLen() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.history.Len()
}

func (s *Synchronizer) Conflicts() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.conflicts
}

func (s *Synchronizer) stateMessage(state core.SharedState) (*core.SyncMessage, error) {
	msg, err := core.NewSyncMessage(core.StateMessage, s.userID, core.Millis(s.now()), state)
	if err != nil {
		return nil, err
	}
	version := state.Version
	msg.Version = &version

	return msg, nil
}

// broadcastLocked must be called with the lock held
func (s *Synchronizer) broadcastLocked(state core.SharedState) int {
	if s.broadcaster == nil {
		return 0
	}

	msg, err := s.stateMessage(state)
	if err != nil {
		log.Error().Err(err).Str("service", "statesync").Msg("can't encode state")
		return 0
	}

	return s.broadcaster.Broadcast(msg, "")
}

func (s *Synchronizer) emit(events ...pendingEvent) {
	if s.events == nil {
		return
	}
	for _, e := range events {
		s.events.Emit(e.name, e.payload)
	}
}

func maxVersion(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
