package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

func TestReal_WriteFileAtomic(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.json")
	fsys := fs.NewReal()

	if err := fsys.WriteFileAtomic(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if string(data) != `{"a":1}` {
		t.Errorf("unexpected content %q", data)
	}

	// Overwrite replaces the content in full.
	if err := fsys.WriteFileAtomic(path, []byte(`{"b":2}`), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if string(data) != `{"b":2}` {
		t.Errorf("unexpected content after overwrite %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}

	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestReal_Exists(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "present")
	fsys := fs.NewReal()

	exists, err := fsys.Exists(path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}

	if exists {
		t.Error("expected missing file")
	}

	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	exists, err = fsys.Exists(path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}

	if !exists {
		t.Error("expected file to exist")
	}
}
