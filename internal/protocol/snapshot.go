package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Participant is the wire-visible state of one named lobby member.
type Participant struct {
	Name  string
	Level int
	Ready bool
}

// FormatSnapshot renders participants as name,level,ready entries joined by ';'.
// Order is preserved.
func FormatSnapshot(participants []Participant) string {
	parts := make([]string, 0, len(participants))
	for _, p := range participants {
		parts = append(parts, fmt.Sprintf("%s,%d,%s", p.Name, p.Level, FormatFlag(p.Ready)))
	}
	return strings.Join(parts, ";")
}

// ParseSnapshot parses the body of a LIST line. An empty body is an empty roster.
//
// Postcondition: Returns participants in wire order, or an ErrMalformed-wrapped error.
func ParseSnapshot(body string) ([]Participant, error) {
	if body == "" {
		return []Participant{}, nil
	}

	entries := strings.Split(body, ";")
	out := make([]Participant, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Split(entry, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: snapshot entry %q", ErrMalformed, entry)
		}
		level, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot level %q", ErrMalformed, fields[1])
		}
		var ready bool
		switch fields[2] {
		case "0":
		case "1":
			ready = true
		default:
			return nil, fmt.Errorf("%w: snapshot ready flag %q", ErrMalformed, fields[2])
		}
		out = append(out, Participant{Name: fields[0], Level: level, Ready: ready})
	}
	return out, nil
}
