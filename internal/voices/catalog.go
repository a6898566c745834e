package voices

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Voice describes one selectable speaker.
type Voice struct {
	Code    string `yaml:"code" json:"code"`
	Name    string `yaml:"name" json:"name"`
	Gender  string `yaml:"gender" json:"gender"`
	Grade   string `yaml:"grade" json:"grade"`
	Default bool   `yaml:"default,omitempty" json:"is_default"`
}

// Catalog is the set of voices offered to clients.
type Catalog struct {
	Voices []Voice `yaml:"voices"`
}

// Builtin returns the Kokoro British English voices.
func Builtin() Catalog {
	return Catalog{Voices: []Voice{
		{Code: "bf_emma", Name: "Emma", Gender: "female", Grade: "B-", Default: true},
		{Code: "bf_isabella", Name: "Isabella", Gender: "female", Grade: "C"},
		{Code: "bf_alice", Name: "Alice", Gender: "female", Grade: "D"},
		{Code: "bf_lily", Name: "Lily", Gender: "female", Grade: "D"},
		{Code: "bm_george", Name: "George", Gender: "male", Grade: "C"},
		{Code: "bm_fable", Name: "Fable", Gender: "male", Grade: "C"},
		{Code: "bm_lewis", Name: "Lewis", Gender: "male", Grade: "D+"},
		{Code: "bm_daniel", Name: "Daniel", Gender: "male", Grade: "D"},
	}}
}

// Load reads a catalog from disk. An empty path yields the builtin catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse voice catalog: %w", err)
	}
	if err := Validate(c); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate ensures the catalog is usable.
func Validate(c Catalog) error {
	if len(c.Voices) == 0 {
		return errors.New("voices must include at least one entry")
	}
	seen := make(map[string]bool, len(c.Voices))
	defaults := 0
	for i, v := range c.Voices {
		if v.Code == "" {
			return fmt.Errorf("voices[%d].code is required", i)
		}
		if v.Name == "" {
			return fmt.Errorf("voices[%d].name is required", i)
		}
		if seen[v.Code] {
			return fmt.Errorf("voice %q declared twice", v.Code)
		}
		seen[v.Code] = true
		if v.Default {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("exactly one default voice required, found %d", defaults)
	}
	return nil
}

// Lookup finds a voice by code.
func (c Catalog) Lookup(code string) (Voice, bool) {
	for _, v := range c.Voices {
		if v.Code == code {
			return v, true
		}
	}
	return Voice{}, false
}

// Default returns the default voice. It returns the first voice if none is
// flagged.
func (c Catalog) Default() Voice {
	for _, v := range c.Voices {
		if v.Default {
			return v
		}
	}
	if len(c.Voices) > 0 {
		return c.Voices[0]
	}
	return Voice{}
}
