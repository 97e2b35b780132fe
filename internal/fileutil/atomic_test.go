package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "marker.json")

	if err := WriteJSONAtomic(path, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSONAtomic(path, map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}

	var got map[string]int
	ok, err := ReadJSON(path, &got)
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got["n"] != 2 {
		t.Errorf("n = %d, want 2", got["n"])
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover files: %d entries", len(entries))
	}
}

func TestReadJSONMissing(t *testing.T) {
	var v map[string]any
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "none.json"), &v)
	if ok || err != nil {
		t.Errorf("ok=%v err=%v, want false nil", ok, err)
	}
}

func TestReadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{half"), 0o644)

	var v map[string]any
	ok, err := ReadJSON(path, &v)
	if !ok || err == nil {
		t.Errorf("ok=%v err=%v, want true and an error", ok, err)
	}
}
