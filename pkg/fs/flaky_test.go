package fs_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

var errBoom = errors.New("boom")

func TestFlaky_FailNextConsumedOnce(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "target.json")
	flaky := fs.NewFlaky(fs.NewReal())

	flaky.FailNext(fs.OpWriteFileAtomic, "target", errBoom)

	if err := flaky.WriteFileAtomic(path, []byte("{}"), 0o644); !errors.Is(err, errBoom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	// Armed failure is consumed; the next call passes through.
	if err := flaky.WriteFileAtomic(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("expected passthrough, got %v", err)
	}
}

func TestFlaky_PathFilter(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	flaky := fs.NewFlaky(fs.NewReal())

	flaky.FailNext(fs.OpWriteFileAtomic, "other.json", errBoom)

	// Non-matching path is untouched; the rule stays armed.
	if err := flaky.WriteFileAtomic(filepath.Join(tmpDir, "a.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("expected passthrough, got %v", err)
	}

	if err := flaky.WriteFileAtomic(filepath.Join(tmpDir, "other.json"), nil, 0o644); !errors.Is(err, errBoom) {
		t.Fatalf("expected injected error, got %v", err)
	}
}

func TestFlaky_FailN(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "x")
	flaky := fs.NewFlaky(fs.NewReal())

	flaky.FailN(fs.OpStat, "", errBoom, 2)

	for i := range 2 {
		if _, err := flaky.Stat(path); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected injected error, got %v", i, err)
		}
	}

	if _, err := flaky.Stat(path); errors.Is(err, errBoom) {
		t.Fatal("rule must be exhausted after two failures")
	}
}
