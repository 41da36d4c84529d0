// Package state holds the back office's denormalized client collections.
//
// A user's uploaded and pool photo ids live in two places: the row in Users and,
// once loaded, Details[id].User. Details[id].ImageData carries a per-photo InPool
// flag and Modal may point at one photo. The transforms in reconcile.go are the
// only code that rewrites these fields, so every copy moves together.
package state

import (
	"errors"
	"sort"
	"sync"

	"hotlympics/core"
)

// ErrClosed is returned when a transform resolves after the store was closed.
var ErrClosed = errors.New("state store closed")

// State is a value snapshot of the client collections.
type State struct {
	Users    []core.AdminUser                 `json:"users"`
	Details  map[core.UserID]core.UserDetails `json:"details"`
	Modal    *core.PhotoModal                 `json:"modal,omitempty"`
	Expanded map[core.UserID]struct{}         `json:"-"`
}

// New returns an empty state with initialised maps.
func New() State {
	return State{
		Users:    []core.AdminUser{},
		Details:  map[core.UserID]core.UserDetails{},
		Expanded: map[core.UserID]struct{}{},
	}
}

// Clone returns a deep copy so transforms never alias their input.
func (s State) Clone() State {
	cp := State{
		Users:    make([]core.AdminUser, len(s.Users)),
		Details:  make(map[core.UserID]core.UserDetails, len(s.Details)),
		Expanded: make(map[core.UserID]struct{}, len(s.Expanded)),
	}
	for i, u := range s.Users {
		cp.Users[i] = u.Clone()
	}
	for k, d := range s.Details {
		cp.Details[k] = d.Clone()
	}
	for k := range s.Expanded {
		cp.Expanded[k] = struct{}{}
	}
	if s.Modal != nil {
		m := *s.Modal
		cp.Modal = &m
	}
	return cp
}

// User returns the Users row for id.
func (s State) User(id core.UserID) (core.AdminUser, bool) {
	for _, u := range s.Users {
		if u.ID == id {
			return u, true
		}
	}
	return core.AdminUser{}, false
}

// KnownUser returns the freshest copy of a user: loaded details first, then the list row.
func (s State) KnownUser(id core.UserID) (core.AdminUser, bool) {
	if d, ok := s.Details[id]; ok {
		return d.User, true
	}
	return s.User(id)
}

// ExpandedIDs lists expanded users in sorted order.
func (s State) ExpandedIDs() []core.UserID {
	out := make([]core.UserID, 0, len(s.Expanded))
	for id := range s.Expanded {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PhotoKey is the pending-mark key of an image.
func PhotoKey(id core.ImageID) string { return "image:" + string(id) }

// UserKey is the pending-mark key of a user.
func UserKey(id core.UserID) string { return "user:" + string(id) }

// Store owns the live State. Transforms run under its lock against the state
// current at resolution time, not a copy taken when a remote call started.
type Store struct {
	mu      sync.Mutex
	st      State
	pending map[string]struct{}
	closed  bool
}

// NewStore wraps an initial state.
func NewStore(initial State) *Store {
	st := initial.Clone()
	return &Store{st: st, pending: map[string]struct{}{}}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Clone()
}

// Apply replaces the state with fn(current). fn must be pure.
func (s *Store) Apply(fn func(State) State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.st = fn(s.st)
	return nil
}

// TryMark sets a pending mark; false means a mutation on key is already in flight.
func (s *Store) TryMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[key]; busy {
		return false
	}
	s.pending[key] = struct{}{}
	return true
}

// Unmark clears a pending mark.
func (s *Store) Unmark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
}

// IsPending reports whether key has a mutation in flight.
func (s *Store) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Pending lists in-flight keys in sorted order.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for k := range s.pending {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close detaches the store; later Apply calls are no-ops returning ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
