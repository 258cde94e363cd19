package client

import (
	"strings"

	"github.com/cory-johannsen/mathblast/internal/protocol"
)

// EventKind identifies what an incoming lobby line meant to the agent.
type EventKind int

// Event kinds delivered on Agent.Events.
const (
	EventJoin EventKind = iota + 1
	EventLeave
	EventChat
	EventReady
	EventList
	EventStart
	EventDisconnected
)

// String returns the lower-case event kind name.
func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventChat:
		return "chat"
	case EventReady:
		return "ready"
	case EventList:
		return "list"
	case EventStart:
		return "start"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one lobby notification handed from the reader goroutine to the UI context.
type Event struct {
	Kind  EventKind
	Name  string
	Text  string
	Ready bool
	// Roster is set for EventList.
	Roster []protocol.Participant
	// Err is set for EventDisconnected.
	Err error

	// gen ties the event to the connection that produced it. Zero matches any.
	gen uint64
}

// parseEvent converts a received line into an Event. Lines the agent has no
// use for, including unknown commands and malformed messages, report false.
func parseEvent(line string) (Event, bool) {
	msg, err := protocol.Decode(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return Event{}, false
	}

	switch msg.Command {
	case protocol.CmdJoin:
		return Event{Kind: EventJoin, Name: msg.Field(0)}, true
	case protocol.CmdLeave:
		return Event{Kind: EventLeave, Name: msg.Field(0)}, true
	case protocol.CmdChat:
		return Event{Kind: EventChat, Name: msg.Field(0), Text: msg.Field(1)}, true
	case protocol.CmdReady:
		return Event{Kind: EventReady, Name: msg.Field(0), Ready: msg.Field(1) == "1"}, true
	case protocol.CmdList:
		roster, err := protocol.ParseSnapshot(msg.Field(0))
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: EventList, Roster: roster}, true
	case protocol.CmdStart:
		return Event{Kind: EventStart}, true
	}
	return Event{}, false
}
