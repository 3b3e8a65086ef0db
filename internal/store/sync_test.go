package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "auth.json")

	if err := WriteFileAtomic(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("perm = %o, want 600", got)
	}

	// Overwrite keeps the file readable at all times and leaves no temp files.
	if err := WriteFileAtomic(path, []byte(`{"a":2}`), 0o600); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest empty dir: %v", err)
	}
	m.MarkFile("auth.json", []byte("abc"), true)
	m.MarkFile("usage_limits.json", []byte("xyz"), false)
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if !m2.IsFromRemote("auth.json") {
		t.Error("auth.json should be marked remote")
	}
	if m2.IsFromRemote("usage_limits.json") {
		t.Error("usage_limits.json should be local-only")
	}
	if m2.Changed("auth.json", []byte("abc")) {
		t.Error("unchanged content reported as changed")
	}
	if !m2.Changed("auth.json", []byte("abcd")) {
		t.Error("changed content not detected")
	}
	if !m2.Changed("unknown.json", []byte("abc")) {
		t.Error("unknown files must count as changed")
	}
}

func TestManifestOrphans(t *testing.T) {
	m := &SyncManifest{ManagedFiles: map[string]FileInfo{}}
	m.MarkFile("a.json", []byte("1"), true)
	m.MarkFile("b.json", []byte("2"), true)
	m.MarkFile("local.json", []byte("3"), false)

	orphans := m.GetOrphanedFiles(map[string]bool{"a.json": true})
	if len(orphans) != 1 || orphans[0] != "b.json" {
		t.Errorf("orphans = %v, want [b.json]", orphans)
	}
}

func TestSyncableSelection(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"auth.json", true},
		{"usage_limits.json", true},
		{ManifestFileName, false},
		{"usage.db", false},
		{"config.yaml", false},
	}
	for _, tc := range cases {
		if got := syncable(tc.name); got != tc.want {
			t.Errorf("syncable(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
