// Package protocol implements the line-oriented lobby wire format shared by
// the lobby server and the client agent.
//
// Every message is one UTF-8 line of the form COMMAND:field[:field]. Fields
// after the name are never escaped, so a chat text may itself contain colons.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command identifies a protocol message kind.
type Command string

// Wire commands.
const (
	CmdJoin       Command = "JOIN"
	CmdLeave      Command = "LEAVE"
	CmdChat       Command = "CHAT"
	CmdReady      Command = "READY"
	CmdLevel      Command = "LEVEL"
	CmdList       Command = "LIST"
	CmdListQuery  Command = "LIST?"
	CmdStart      Command = "START"
	CmdStartQuery Command = "START?"
)

var (
	// ErrUnknownCommand is returned by Decode for lines without a recognized command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformed is returned for a recognized command with missing or invalid fields.
	ErrMalformed = errors.New("malformed message")
	// ErrInvalidUTF8 is returned for lines that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
)

// fieldCounts is the number of fields each command carries.
var fieldCounts = map[Command]int{
	CmdJoin: 1, CmdLeave: 1, CmdChat: 2, CmdReady: 2, CmdLevel: 2,
	CmdList: 1, CmdListQuery: 0, CmdStart: 0, CmdStartQuery: 0,
}

// Message is a decoded protocol line.
type Message struct {
	Command Command
	// Fields holds the command arguments in wire order.
	Fields []string
}

// Field returns the i-th field, or "" if absent.
func (m Message) Field(i int) string {
	if i < 0 || i >= len(m.Fields) {
		return ""
	}
	return m.Fields[i]
}

// String renders the message as a wire line without the trailing newline.
// It performs no validation; use Encode for untrusted field values.
func (m Message) String() string {
	switch m.Command {
	case CmdListQuery, CmdStartQuery:
		return string(m.Command)
	case CmdStart:
		return string(CmdStart) + ":"
	}
	return string(m.Command) + ":" + strings.Join(m.Fields, ":")
}

// Encode validates m and renders it as a wire line without the trailing newline.
//
// Postcondition: Decode(Encode(m)) yields m for every m that Encode accepts.
func Encode(m Message) (string, error) {
	for _, f := range m.Fields {
		if strings.ContainsAny(f, "\r\n") {
			return "", fmt.Errorf("%w: %s field contains a line break", ErrMalformed, m.Command)
		}
	}

	n, ok := fieldCounts[m.Command]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, m.Command)
	}
	if len(m.Fields) != n {
		return "", fmt.Errorf("%w: %s takes %d fields, got %d", ErrMalformed, m.Command, n, len(m.Fields))
	}

	switch m.Command {
	case CmdJoin, CmdLeave, CmdChat, CmdReady, CmdLevel:
		if !ValidName(m.Fields[0]) {
			return "", fmt.Errorf("%w: invalid name %q", ErrMalformed, m.Fields[0])
		}
	}
	if m.Command == CmdReady && m.Fields[1] != "0" && m.Fields[1] != "1" {
		return "", fmt.Errorf("%w: ready flag must be 0 or 1, got %q", ErrMalformed, m.Fields[1])
	}
	return m.String(), nil
}

// Decode parses a single wire line. A trailing "\r" is ignored.
//
// Postcondition: Returns ErrUnknownCommand for lines the server should pass
// through unchanged, ErrMalformed or ErrInvalidUTF8 for lines to drop.
func Decode(line string) (Message, error) {
	if !utf8.ValidString(line) {
		return Message{}, ErrInvalidUTF8
	}
	line = strings.TrimSuffix(line, "\r")

	switch line {
	case string(CmdListQuery):
		return ListQuery(), nil
	case string(CmdStartQuery):
		return StartQuery(), nil
	}

	head, rest, found := strings.Cut(line, ":")
	if !found {
		return Message{}, ErrUnknownCommand
	}

	cmd := Command(head)
	switch cmd {
	case CmdJoin, CmdLeave:
		if !ValidName(rest) {
			return Message{}, fmt.Errorf("%w: invalid name %q", ErrMalformed, rest)
		}
		return Message{Command: cmd, Fields: []string{rest}}, nil

	case CmdChat, CmdReady, CmdLevel:
		name, value, ok := strings.Cut(rest, ":")
		if !ok || !ValidName(name) {
			return Message{}, fmt.Errorf("%w: %s needs <name>:<value>", ErrMalformed, cmd)
		}
		if cmd == CmdReady && value != "0" && value != "1" {
			return Message{}, fmt.Errorf("%w: ready flag must be 0 or 1, got %q", ErrMalformed, value)
		}
		return Message{Command: cmd, Fields: []string{name, value}}, nil

	case CmdList:
		return Message{Command: CmdList, Fields: []string{rest}}, nil

	case CmdStart:
		return Start(), nil
	}
	return Message{}, ErrUnknownCommand
}

// ValidName reports whether name can be carried in a name field: non-empty,
// free of the protocol separators ':', ',' and ';', and free of control characters.
func ValidName(name string) bool {
	if name == "" || strings.ContainsAny(name, ":,;") {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Join builds JOIN:<name>.
func Join(name string) Message { return Message{Command: CmdJoin, Fields: []string{name}} }

// Leave builds LEAVE:<name>.
func Leave(name string) Message { return Message{Command: CmdLeave, Fields: []string{name}} }

// Chat builds CHAT:<name>:<text>.
func Chat(name, text string) Message {
	return Message{Command: CmdChat, Fields: []string{name, text}}
}

// Ready builds READY:<name>:<0|1>.
func Ready(name string, ready bool) Message {
	return Message{Command: CmdReady, Fields: []string{name, FormatFlag(ready)}}
}

// Level builds LEVEL:<name>:<level>.
func Level(name string, level int) Message {
	return Message{Command: CmdLevel, Fields: []string{name, strconv.Itoa(level)}}
}

// List builds LIST:<snapshot>.
func List(participants []Participant) Message {
	return Message{Command: CmdList, Fields: []string{FormatSnapshot(participants)}}
}

// ListQuery builds LIST?.
func ListQuery() Message { return Message{Command: CmdListQuery} }

// Start builds START:.
func Start() Message { return Message{Command: CmdStart} }

// StartQuery builds START?.
func StartQuery() Message { return Message{Command: CmdStartQuery} }

// FormatFlag renders a ready flag as "0" or "1".
func FormatFlag(ready bool) string {
	if ready {
		return "1"
	}
	return "0"
}
