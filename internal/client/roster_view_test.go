package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/mathblast/internal/protocol"
)

func TestRosterViewIncrementalUpdates(t *testing.T) {
	var v RosterView
	v.Join("Ann")
	v.Join("Ben")
	v.Join("Ann")
	assert.Equal(t, 2, v.Len())

	assert.True(t, v.SetReady("Ben", true))
	assert.False(t, v.SetReady("Cat", true))
	assert.True(t, v.SetLevel("Ann", 5))
	assert.True(t, v.Leave("Ann"))
	assert.False(t, v.Leave("Ann"))

	assert.Equal(t, []protocol.Participant{{Name: "Ben", Level: 1, Ready: true}}, v.Participants())
}

func TestRosterViewReplaceCopies(t *testing.T) {
	src := []protocol.Participant{{Name: "Ann", Level: 2}}
	var v RosterView
	v.Replace(src)
	src[0].Name = "Mutated"

	got := v.Participants()
	assert.Equal(t, "Ann", got[0].Name)
	got[0].Name = "AlsoMutated"
	assert.Equal(t, "Ann", v.Participants()[0].Name)

	v.Replace(nil)
	assert.Equal(t, 0, v.Len())
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		line string
		want Event
		ok   bool
	}{
		{"JOIN:Ann", Event{Kind: EventJoin, Name: "Ann"}, true},
		{"LEAVE:Ann", Event{Kind: EventLeave, Name: "Ann"}, true},
		{"CHAT:Ann:a:b", Event{Kind: EventChat, Name: "Ann", Text: "a:b"}, true},
		{"READY:Ann:1", Event{Kind: EventReady, Name: "Ann", Ready: true}, true},
		{"READY:Ann:0", Event{Kind: EventReady, Name: "Ann"}, true},
		{"LIST:", Event{Kind: EventList, Roster: []protocol.Participant{}}, true},
		{"LIST:Ann,2,1", Event{Kind: EventList, Roster: []protocol.Participant{{Name: "Ann", Level: 2, Ready: true}}}, true},
		{"START:", Event{Kind: EventStart}, true},
		{"LIST:Ann,x,1", Event{}, false},
		{"LEVEL:Ann:3", Event{}, false},
		{"FOO:bar", Event{}, false},
		{"READY:Ann:maybe", Event{}, false},
		{"", Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseEvent(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "chat", EventChat.String())
	assert.Equal(t, "disconnected", EventDisconnected.String())
	assert.Equal(t, "unknown", EventKind(0).String())
	assert.Equal(t, "Connected", StatusConnected.String())
	assert.Equal(t, "Offline", StatusOffline.String())
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "placeholders.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPlaceholders(t *testing.T) {
	path := writeFile(t, `
placeholders:
  - name: Vega
    level: 4
    ready: true
  - name: Lyra
`)
	got, err := LoadPlaceholders(path)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Participant{
		{Name: "Vega", Level: 4, Ready: true},
		{Name: "Lyra", Level: 1},
	}, got)
}

func TestLoadPlaceholdersErrors(t *testing.T) {
	tests := map[string]string{
		"empty":        "placeholders: []\n",
		"invalid name": "placeholders:\n  - name: \"a:b\"\n",
		"bad yaml":     "placeholders: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPlaceholders(writeFile(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadPlaceholders(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSimulatedRosterPutsLocalPlayerFirst(t *testing.T) {
	local := protocol.Participant{Name: "Zed", Level: 2, Ready: true}
	got := SimulatedRoster(local, DefaultPlaceholders)
	require.Len(t, got, len(DefaultPlaceholders)+1)
	assert.Equal(t, local, got[0])
	assert.Equal(t, DefaultPlaceholders, got[1:])
}
