package client

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/mathblast/internal/protocol"
)

// DefaultPlaceholders are the canned opponents shown when no lobby is reachable.
var DefaultPlaceholders = []protocol.Participant{
	{Name: "Nova", Level: 3},
	{Name: "Orbit", Level: 2},
	{Name: "Comet", Level: 1},
}

type placeholderFile struct {
	Placeholders []struct {
		Name  string `yaml:"name"`
		Level int    `yaml:"level"`
		Ready bool   `yaml:"ready"`
	} `yaml:"placeholders"`
}

// LoadPlaceholders reads offline roster placeholders from a YAML file of the form
//
//	placeholders:
//	  - name: Nova
//	    level: 3
//
// Precondition: path must be a readable file.
// Postcondition: Returns at least one placeholder with a valid name and a level of at least 1.
func LoadPlaceholders(path string) ([]protocol.Participant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading placeholders %s: %w", path, err)
	}

	var file placeholderFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing placeholders %s: %w", path, err)
	}
	if len(file.Placeholders) == 0 {
		return nil, fmt.Errorf("placeholders %s: no entries", path)
	}

	out := make([]protocol.Participant, 0, len(file.Placeholders))
	for i, p := range file.Placeholders {
		if !protocol.ValidName(p.Name) {
			return nil, fmt.Errorf("placeholders %s: entry %d has invalid name %q", path, i, p.Name)
		}
		level := p.Level
		if level < 1 {
			level = 1
		}
		out = append(out, protocol.Participant{Name: p.Name, Level: level, Ready: p.Ready})
	}
	return out, nil
}

// SimulatedRoster builds the offline roster: the local player first, then the placeholders.
func SimulatedRoster(local protocol.Participant, placeholders []protocol.Participant) []protocol.Participant {
	out := make([]protocol.Participant, 0, len(placeholders)+1)
	out = append(out, local)
	return append(out, placeholders...)
}
