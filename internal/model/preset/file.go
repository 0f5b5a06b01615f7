package preset

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type presetFile struct {
	Presets []Preset `toml:"preset"`
}

// LoadFile reads extra presets from a TOML file of the form
//
//	[[preset]]
//	id = "reviewer"
//	name = "Code Reviewer"
//	prompt = "You review diffs..."
func LoadFile(path string) ([]Preset, error) {
	var file presetFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode presets %s: %w", path, err)
	}

	presets := make([]Preset, 0, len(file.Presets))
	for i, p := range file.Presets {
		p.ID = strings.TrimSpace(p.ID)
		p.Prompt = strings.TrimSpace(p.Prompt)
		if p.ID == "" || p.Prompt == "" {
			return nil, fmt.Errorf("preset #%d in %s: id and prompt are required", i+1, path)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		presets = append(presets, p)
	}
	return presets, nil
}
