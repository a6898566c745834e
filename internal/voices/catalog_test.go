package voices

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const catalogYAML = `voices:
  - code: af_heart
    name: Heart
    gender: female
    grade: A
    default: true
  - code: am_adam
    name: Adam
    gender: male
    grade: F+
`

func TestBuiltin(t *testing.T) {
	c := Builtin()
	if err := Validate(c); err != nil {
		t.Fatalf("builtin catalog invalid: %v", err)
	}
	if len(c.Voices) != 8 {
		t.Fatalf("expected 8 builtin voices, got %d", len(c.Voices))
	}
	if def := c.Default(); def.Code != "bf_emma" || def.Grade != "B-" {
		t.Fatalf("unexpected default voice %+v", def)
	}
	v, ok := c.Lookup("bm_lewis")
	if !ok || v.Name != "Lewis" || v.Gender != "male" || v.Grade != "D+" {
		t.Fatalf("unexpected lookup result %+v %v", v, ok)
	}
	if _, ok := c.Lookup("af_heart"); ok {
		t.Fatal("expected unknown voice lookup to fail")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Default().Code != "af_heart" || len(c.Voices) != 2 {
		t.Fatalf("unexpected catalog %+v", c)
	}
}

func TestLoadEmptyPathUsesBuiltin(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Default().Code != "bf_emma" {
		t.Fatalf("expected builtin catalog")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		want    string
	}{
		{"empty", Catalog{}, "at least one"},
		{"missing code", Catalog{Voices: []Voice{{Name: "X", Default: true}}}, "code is required"},
		{"missing name", Catalog{Voices: []Voice{{Code: "x", Default: true}}}, "name is required"},
		{"duplicate", Catalog{Voices: []Voice{{Code: "x", Name: "X", Default: true}, {Code: "x", Name: "Y"}}}, "declared twice"},
		{"no default", Catalog{Voices: []Voice{{Code: "x", Name: "X"}}}, "exactly one default"},
		{"two defaults", Catalog{Voices: []Voice{{Code: "x", Name: "X", Default: true}, {Code: "y", Name: "Y", Default: true}}}, "exactly one default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.catalog)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
