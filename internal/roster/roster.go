// Package roster provides the lobby's authoritative record of connected
// participants. All state lives behind a single lock and is reachable only
// through the atomic operations below.
package roster

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/mathblast/internal/protocol"
)

var (
	// ErrUnknownConnection is returned for operations on an unregistered connection ID.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrDuplicateConnection is returned when a connection ID is registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrNotJoined is returned for READY/LEVEL updates from a connection without a name.
	ErrNotJoined = errors.New("connection has not joined")
)

// Sender is the connection handle a participant is attached to.
type Sender interface {
	// Send enqueues one protocol line for delivery.
	Send(line string) error
	// Close closes the underlying connection.
	Close() error
}

type entry struct {
	id     string
	sender Sender
	name   string
	ready  bool
	level  int
}

func (e *entry) participant() protocol.Participant {
	return protocol.Participant{Name: e.name, Level: e.level, Ready: e.ready}
}

// Roster tracks every live connection and the participant bound to it.
// All methods are safe for concurrent use.
type Roster struct {
	mu      sync.RWMutex
	entries []*entry          // named entries first in join order, then unnamed
	byID    map[string]*entry // connection ID → entry
}

// New creates an empty Roster.
func New() *Roster {
	return &Roster{
		byID: make(map[string]*entry),
	}
}

// Register attaches a freshly accepted connection without a name.
//
// Precondition: id must be non-empty; sender must be non-nil.
// Postcondition: The connection receives broadcasts but is absent from snapshots.
func (r *Roster) Register(id string, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}
	e := &entry{id: id, sender: sender, level: 1}
	r.byID[id] = e
	r.entries = append(r.entries, e)
	return nil
}

// Join binds name to the connection. A first JOIN places the participant at
// the end of the join order; a later JOIN on the same connection renames it
// in place.
//
// Postcondition: Returns the joined participant and the snapshot taken under the same lock.
func (r *Roster) Join(id, name string) (protocol.Participant, []protocol.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return protocol.Participant{}, nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if e.name == "" {
		r.moveAfterNamed(e)
	}
	e.name = name
	return e.participant(), r.snapshotLocked(), nil
}

// moveAfterNamed repositions e directly after the last named entry.
func (r *Roster) moveAfterNamed(e *entry) {
	rest := make([]*entry, 0, len(r.entries))
	named := make([]*entry, 0, len(r.entries))
	for _, other := range r.entries {
		switch {
		case other == e:
		case other.name != "":
			named = append(named, other)
		default:
			rest = append(rest, other)
		}
	}
	r.entries = append(append(named, e), rest...)
}

// SetReady updates the ready flag of the participant bound to the connection.
//
// Postcondition: Returns the updated participant, the snapshot, and whether the
// ready barrier holds after the update, all observed under one lock.
func (r *Roster) SetReady(id string, ready bool) (protocol.Participant, []protocol.Participant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.namedLocked(id)
	if err != nil {
		return protocol.Participant{}, nil, false, err
	}
	e.ready = ready
	return e.participant(), r.snapshotLocked(), r.barrierLocked(), nil
}

// SetLevel updates the level of the participant bound to the connection.
// Levels below 1 are stored as 1.
func (r *Roster) SetLevel(id string, level int) ([]protocol.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.namedLocked(id)
	if err != nil {
		return nil, err
	}
	if level < 1 {
		level = 1
	}
	e.level = level
	return r.snapshotLocked(), nil
}

// Leave removes the connection.
//
// Postcondition: Returns the removed participant, whether it had a name, and
// the snapshot after removal.
func (r *Roster) Leave(id string) (protocol.Participant, bool, []protocol.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return protocol.Participant{}, false, nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	delete(r.byID, id)
	for i, other := range r.entries {
		if other == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return e.participant(), e.name != "", r.snapshotLocked(), nil
}

// Snapshot returns the named participants in join order.
func (r *Roster) Snapshot() []protocol.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Senders returns a stable copy of every registered connection handle,
// named or not, suitable for iterating outside the lock.
func (r *Roster) Senders() []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sender, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.sender)
	}
	return out
}

// ReadyBarrier reports whether at least one named participant exists and
// every named participant is ready.
func (r *Roster) ReadyBarrier() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.barrierLocked()
}

// Len returns the number of named participants.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.name != "" {
			n++
		}
	}
	return n
}

// Connections returns the number of registered connections, named or not.
func (r *Roster) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Roster) namedLocked(id string) (*entry, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if e.name == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotJoined, id)
	}
	return e, nil
}

func (r *Roster) snapshotLocked() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.entries))
	for _, e := range r.entries {
		if e.name != "" {
			out = append(out, e.participant())
		}
	}
	return out
}

func (r *Roster) barrierLocked() bool {
	named := 0
	for _, e := range r.entries {
		if e.name == "" {
			continue
		}
		if !e.ready {
			return false
		}
		named++
	}
	return named > 0
}
