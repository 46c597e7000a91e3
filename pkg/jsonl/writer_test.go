package jsonl_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colebaker/jsonlstore/pkg/fs"
	"github.com/colebaker/jsonlstore/pkg/jsonl"
)

func openWriter(t *testing.T, path string, opts jsonl.WriterOptions) *jsonl.Writer {
	t.Helper()

	w, err := jsonl.OpenWriter(fs.NewReal(), path, opts)
	require.NoError(t, err, "opening writer")

	return w
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "reading data file")

	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return nil
	}

	return strings.Split(content, "\n")
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	records := []any{
		map[string]any{"id": float64(1), "name": "ada"},
		map[string]any{"id": float64(2), "name": "grace/hopper"},
		[]any{"scalar", float64(3)},
		"just a string",
	}

	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}

	_, err := w.Finish(false)
	require.NoError(t, err)

	reader, err := jsonl.OpenReader(fs.NewReal(), path, jsonl.ReaderOptions{})
	require.NoError(t, err)

	got, err := reader.Records()
	require.NoError(t, err)
	assert.Equal(t, records, got, "decoded sequence must equal written sequence in order")
}

func TestWriter_UnescapedOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	require.NoError(t, w.Write(map[string]any{"url": "a/b", "name": "héllo"}))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "a/b", "slashes must not be escaped")
	assert.Contains(t, lines[0], "héllo", "non-ASCII must not be escaped")
}

func TestWriter_DedupIdempotence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	record := map[string]any{"id": 1}

	require.NoError(t, w.WriteToken(record, "a"))
	require.NoError(t, w.WriteToken(record, "a"))

	st, err := w.Finish(false)
	require.NoError(t, err)

	assert.Len(t, readLines(t, path), 1, "duplicate token must not append a line")
	assert.Equal(t, int64(1), st.Sidecar.Rows, "duplicate token must not count")

	reader, err := jsonl.OpenReader(fs.NewReal(), path, jsonl.ReaderOptions{})
	require.NoError(t, err)

	seen, err := reader.ContainsToken("a")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestWriter_ResumeConsistency(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")

	w := openWriter(t, path, jsonl.WriterOptions{})
	for i := range 3 {
		require.NoError(t, w.Write(map[string]any{"n": i}))
	}
	require.NoError(t, w.Close())

	w = openWriter(t, path, jsonl.WriterOptions{Mode: jsonl.ModeAppend})
	for i := 3; i < 5; i++ {
		require.NoError(t, w.Write(map[string]any{"n": i}))
	}
	require.NoError(t, w.Close())

	fsys := fs.NewReal()
	states := jsonl.NewStateRepository(fsys, jsonl.NewSidecarStore(fsys))

	st := states.Load(path)
	assert.Equal(t, int64(5), st.Sidecar.Rows, "resumed writer must continue prior counts")
	assert.Len(t, readLines(t, path), 5)
}

func TestWriter_ResumeLoadsTokenIndex(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")

	w := openWriter(t, path, jsonl.WriterOptions{})
	require.NoError(t, w.WriteToken(map[string]any{"id": 1}, "a"))
	require.NoError(t, w.Close())

	w = openWriter(t, path, jsonl.WriterOptions{Mode: jsonl.ModeAppend})
	require.NoError(t, w.WriteToken(map[string]any{"id": 1}, "a"), "token from prior session must dedup")
	require.NoError(t, w.WriteToken(map[string]any{"id": 2}, "b"))

	st, err := w.Finish(false)
	require.NoError(t, err)

	assert.Equal(t, int64(2), st.Sidecar.Rows)
	assert.Len(t, readLines(t, path), 2)
}

func TestWriter_TruncateResetsSidecars(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")

	w := openWriter(t, path, jsonl.WriterOptions{})
	require.NoError(t, w.WriteToken(map[string]any{"id": 1}, "a"))
	require.NoError(t, w.Close())

	w = openWriter(t, path, jsonl.WriterOptions{Mode: jsonl.ModeTruncate, ResetSidecars: true})
	require.NoError(t, w.WriteToken(map[string]any{"id": 9}, "a"), "reset index must not dedup old tokens")

	st, err := w.Finish(false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), st.Sidecar.Rows, "truncate+reset starts a new artifact")
	assert.Len(t, readLines(t, path), 1)
}

func TestWriter_EnsureDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deep", "nested", "items.jsonl")

	_, err := jsonl.OpenWriter(fs.NewReal(), path, jsonl.WriterOptions{})
	require.Error(t, err, "missing parent dir without EnsureDir must fail")

	w := openWriter(t, path, jsonl.WriterOptions{EnsureDir: true})
	require.NoError(t, w.Write(map[string]any{"ok": true}))
	require.NoError(t, w.Close())
}

func TestWriter_OpenTouchesSidecar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	defer func() { _ = w.Close() }()

	// Sidecar exists with timestamps before any record is written.
	fsys := fs.NewReal()
	st := jsonl.NewStateRepository(fsys, jsonl.NewSidecarStore(fsys)).Load(path)

	require.True(t, st.SidecarExists)
	assert.NotNil(t, st.Sidecar.StartedAt)
	assert.NotNil(t, st.Sidecar.UpdatedAt)
	assert.Equal(t, int64(0), st.Sidecar.Rows)
	assert.False(t, st.Sidecar.Completed)
}

func TestWriter_Scenario(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	require.NoError(t, w.WriteToken(map[string]any{"id": 1}, "a"))
	require.NoError(t, w.WriteToken(map[string]any{"id": 2}, "b"))

	st, err := w.Finish(true)
	require.NoError(t, err)

	assert.Len(t, readLines(t, path), 2)
	assert.Equal(t, int64(2), st.Sidecar.Rows)
	assert.True(t, st.Sidecar.Completed)
	assert.True(t, st.Fresh)

	reader, err := jsonl.OpenReader(fs.NewReal(), path, jsonl.ReaderOptions{})
	require.NoError(t, err)

	seenA, err := reader.ContainsToken("a")
	require.NoError(t, err)
	assert.True(t, seenA)

	seenZ, err := reader.ContainsToken("z")
	require.NoError(t, err)
	assert.False(t, seenZ)
}

func TestWriter_ClosedFailsFast(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close must be idempotent")

	assert.ErrorIs(t, w.Write(map[string]any{"id": 1}), jsonl.ErrWriterClosed)
	assert.ErrorIs(t, w.MarkComplete(), jsonl.ErrWriterClosed)

	_, err := w.Finish(false)
	assert.ErrorIs(t, err, jsonl.ErrWriterClosed)
}

func TestWriter_SerializationFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	require.Error(t, w.Write(make(chan int)), "unencodable record must fail the call")

	st, err := w.Finish(false)
	require.NoError(t, err)

	assert.Equal(t, int64(0), st.Sidecar.Rows, "failed write must not count")
	assert.Empty(t, readLines(t, path))
}

func TestWriter_SidecarPersistFailurePropagates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	flaky := fs.NewFlaky(fs.NewReal())

	w, err := jsonl.OpenWriter(flaky, path, jsonl.WriterOptions{})
	require.NoError(t, err)

	flaky.FailNext(fs.OpWriteFileAtomic, ".sidecar.json", errInjected)

	assert.ErrorIs(t, w.Write(map[string]any{"id": 1}), errInjected)

	// The writer stays usable; close still persists and releases.
	require.NoError(t, w.Write(map[string]any{"id": 2}))
	require.NoError(t, w.Close())
}

func TestWriter_MarkCompleteKeepsFileOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{})

	require.NoError(t, w.Write(map[string]any{"id": 1}))
	require.NoError(t, w.MarkComplete())
	require.NoError(t, w.Write(map[string]any{"id": 2}), "file stays open after MarkComplete")

	st, err := w.Finish(false)
	require.NoError(t, err)

	assert.True(t, st.Sidecar.Completed)
	assert.Equal(t, int64(2), st.Sidecar.Rows)
}

func TestWriter_WithLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl")
	w := openWriter(t, path, jsonl.WriterOptions{UseLock: true})

	// A second writer cannot take the lock while the first holds it.
	_, err := fs.NewLocker(fs.NewReal()).TryLock(jsonl.LockPath(path))
	assert.ErrorIs(t, err, fs.ErrWouldBlock)

	require.NoError(t, w.Close())

	// Released on close.
	lock, err := fs.NewLocker(fs.NewReal()).TryLock(jsonl.LockPath(path))
	require.NoError(t, err)
	require.NoError(t, lock.Close())
}

func TestWriter_GzipRoundTripAndResume(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "items.jsonl.gz")

	w := openWriter(t, path, jsonl.WriterOptions{})
	require.NoError(t, w.Write(map[string]any{"n": float64(0)}))
	require.NoError(t, w.Write(map[string]any{"n": float64(1)}))

	st, err := w.Finish(false)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Sidecar.Rows)

	// Appending opens a second gzip member; readers see one stream.
	w = openWriter(t, path, jsonl.WriterOptions{Mode: jsonl.ModeAppend})
	require.NoError(t, w.Write(map[string]any{"n": float64(2)}))

	st, err = w.Finish(true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Sidecar.Rows)
	assert.True(t, st.Fresh, "facts captured after the gzip tail is flushed")

	reader, err := jsonl.OpenReader(fs.NewReal(), path, jsonl.ReaderOptions{})
	require.NoError(t, err)

	got, err := reader.Records()
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"n": float64(0)},
		map[string]any{"n": float64(1)},
		map[string]any{"n": float64(2)},
	}, got)
}

func TestWriter_ErrInvalidInputs(t *testing.T) {
	t.Parallel()

	_, err := jsonl.OpenWriter(nil, "x.jsonl", jsonl.WriterOptions{})
	assert.ErrorIs(t, err, jsonl.ErrNilFS)

	_, err = jsonl.OpenWriter(fs.NewReal(), "", jsonl.WriterOptions{})
	assert.Error(t, err)
}

func TestWriter_LockReleasedWhenOpenFails(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "items.jsonl")
	flaky := fs.NewFlaky(fs.NewReal())

	// Fail the initial sidecar touch so opening aborts after the data file
	// and lock were already acquired.
	flaky.FailNext(fs.OpWriteFileAtomic, ".sidecar.json", errInjected)

	_, err := jsonl.OpenWriter(flaky, path, jsonl.WriterOptions{UseLock: true})
	require.Error(t, err)

	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	// Lock must not leak.
	lock, err := fs.NewLocker(fs.NewReal()).TryLock(jsonl.LockPath(path))
	require.NoError(t, err)
	require.NoError(t, lock.Close())
}
