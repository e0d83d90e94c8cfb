package statesync

import (
	"sort"
	"strings"

	"github.com/isqad/livelook-collab/internal/core"
)

// Resolver decides the outcome of two conflicting states of the same version.
// base is the last reconciled state both sides started from.
type Resolver interface {
	Resolve(local, remote, base core.SharedState) core.SharedState
}

type ResolverFunc func(local, remote, base core.SharedState) core.SharedState

func (f ResolverFunc) Resolve(local, remote, base core.SharedState) core.SharedState {
	return f(local, remote, base)
}

// LastWriteWins keeps whichever state Supersedes the other. base is ignored.
type LastWriteWins struct{}

func (LastWriteWins) Resolve(local, remote, _ core.SharedState) core.SharedState {
	if Supersedes(remote, local) {
		return remote.Clone()
	}
	return local.Clone()
}

// Supersedes orders two states by lastModified, then lastModifiedBy, then
// content. Both peers of a conflict get the same answer, so their resolved
// states are identical.
func Supersedes(a, b core.SharedState) bool {
	if a.LastModified != b.LastModified {
		return a.LastModified > b.LastModified
	}
	if a.LastModifiedBy != b.LastModifiedBy {
		return a.LastModifiedBy > b.LastModifiedBy
	}
	return contentKey(a) > contentKey(b)
}

func contentKey(s core.SharedState) string {
	keys := make([]string, 0, len(s.Colors))
	for k := range s.Colors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(s.Theme)
	b.WriteByte(0)
	b.WriteString(s.Mode)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Colors[k])
	}
	return b.String()
}

// FieldMerge is a three-way merge: a field changed by one side only keeps
// that side's value, a field changed by both takes the value of the state
// that Supersedes.
// Colors merge per key.
type FieldMerge struct{}

func (FieldMerge) Resolve(local, remote, base core.SharedState) core.SharedState {
	remoteWins := Supersedes(remote, local)

	winner := local
	if remoteWins {
		winner = remote
	}
	out := winner.Clone()

	out.Theme = mergeField(base.Theme, local.Theme, remote.Theme, remoteWins)
	out.Mode = mergeField(base.Mode, local.Mode, remote.Mode, remoteWins)

	keys := make(map[string]struct{}, len(local.Colors)+len(remote.Colors))
	for k := range base.Colors {
		keys[k] = struct{}{}
	}
	for k := range local.Colors {
		keys[k] = struct{}{}
	}
	for k := range remote.Colors {
		keys[k] = struct{}{}
	}

	out.Colors = make(map[string]string, len(keys))
	for k := range keys {
		b, inBase := base.Colors[k]
		l, inLocal := local.Colors[k]
		r, inRemote := remote.Colors[k]

		localChanged := inLocal != inBase || l != b
		remoteChanged := inRemote != inBase || r != b

		value, present := l, inLocal
		switch {
		case remoteChanged && !localChanged:
			value, present = r, inRemote
		case remoteChanged && localChanged && remoteWins:
			value, present = r, inRemote
		}
		if present {
			out.Colors[k] = value
		}
	}

	return out
}

func mergeField(base, local, remote string, remoteWins bool) string {
	localChanged := local != base
	remoteChanged := remote != base

	switch {
	case remoteChanged && !localChanged:
		return remote
	case localChanged && !remoteChanged:
		return local
	case remoteWins:
		return remote
	default:
		return local
	}
}

// ResolverFor maps a session conflict policy to a resolver
func ResolverFor(policy core.ConflictPolicy) Resolver {
	if policy == core.MergePolicy {
		return FieldMerge{}
	}
	return LastWriteWins{}
}
