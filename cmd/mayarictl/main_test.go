package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestChunkJSONFromStdin(t *testing.T) {
	out, err := execute(t, "Hello world. This is Mayari.", "chunk", "--max-chars", "15", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rows []chunkRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(rows) != 2 || rows[0].Text != "Hello world." || rows[1].Chars != 15 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestChunkTableFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, []byte("a supercalifragilistic b"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "", "chunk", "--max-chars", "5", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "(overflow)") || !strings.Contains(out, "supercalifragilistic") {
		t.Fatalf("expected overflow marker, got:\n%s", out)
	}
}

func TestChunkRejectsInvalidMax(t *testing.T) {
	if _, err := execute(t, "text", "chunk", "--max-chars", "0"); err == nil {
		t.Fatal("expected error for zero max chars")
	}
}

func TestVoicesValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	data := "voices:\n  - code: bf_emma\n    name: Emma\n    default: true\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "", "voices", "validate", "--file", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "catalog valid (1 voices, default bf_emma)") {
		t.Fatalf("unexpected output %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("voices: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "", "voices", "validate", "--file", bad); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestVoicesListBuiltin(t *testing.T) {
	out, err := execute(t, "", "voices", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "bf_emma") || !strings.Contains(out, "bm_daniel") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
