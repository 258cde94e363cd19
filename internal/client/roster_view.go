package client

import "github.com/cory-johannsen/mathblast/internal/protocol"

// RosterView is the client's mirror of the lobby roster. It is rebuilt from
// LIST snapshots and patched by JOIN, LEAVE, and READY events in between.
//
// A RosterView is not safe for concurrent use; the owning UI context is its
// only reader and writer.
type RosterView struct {
	entries []protocol.Participant
}

// Replace discards the current entries in favor of participants.
func (v *RosterView) Replace(participants []protocol.Participant) {
	v.entries = append(v.entries[:0:0], participants...)
}

// Join appends name at level 1, not ready, unless it is already present.
func (v *RosterView) Join(name string) {
	if v.index(name) >= 0 {
		return
	}
	v.entries = append(v.entries, protocol.Participant{Name: name, Level: 1})
}

// Leave removes the first entry called name.
//
// Postcondition: Returns true if an entry was removed.
func (v *RosterView) Leave(name string) bool {
	i := v.index(name)
	if i < 0 {
		return false
	}
	v.entries = append(v.entries[:i], v.entries[i+1:]...)
	return true
}

// SetReady updates the ready flag of name if present.
func (v *RosterView) SetReady(name string, ready bool) bool {
	i := v.index(name)
	if i < 0 {
		return false
	}
	v.entries[i].Ready = ready
	return true
}

// SetLevel updates the level of name if present.
func (v *RosterView) SetLevel(name string, level int) bool {
	i := v.index(name)
	if i < 0 {
		return false
	}
	v.entries[i].Level = level
	return true
}

// Participants returns a copy of the entries in roster order.
func (v *RosterView) Participants() []protocol.Participant {
	return append([]protocol.Participant(nil), v.entries...)
}

// Len returns the number of entries.
func (v *RosterView) Len() int { return len(v.entries) }

func (v *RosterView) index(name string) int {
	for i, p := range v.entries {
		if p.Name == name {
			return i
		}
	}
	return -1
}
