package jsonl

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

const countChunkSize = 64 * 1024

// Counter answers row/byte questions about a data file, preferring the
// sidecar's authoritative counters over a full file scan.
//
// The policy is load-bearing for large files: a sidecar, when present,
// trumps a scan. Only a file with no sidecar at all is counted the slow
// way, streaming in chunks (gzip-aware) without loading the file into
// memory.
type Counter struct {
	fs       fs.FS
	sidecars *SidecarStore
}

// NewCounter creates a Counter over the given filesystem and sidecar store.
// Panics if either is nil.
func NewCounter(fsys fs.FS, sidecars *SidecarStore) *Counter {
	if fsys == nil {
		panic(ErrNilFS)
	}

	if sidecars == nil {
		panic("sidecars is nil")
	}

	return &Counter{fs: fsys, sidecars: sidecars}
}

// Rows returns the row count for path.
//
// A readable sidecar answers in O(1) without touching the data file — even
// when its counter is stale relative to the file. Otherwise the file is
// scanned counting newlines.
func (c *Counter) Rows(path string) (int64, error) {
	if sc, ok := c.sidecars.read(path); ok {
		return sc.Rows, nil
	}

	return c.scanRows(path)
}

// Bytes returns the cumulative byte count for path: the sidecar's counter
// when readable, otherwise the data file's current size (0 if absent).
func (c *Counter) Bytes(path string) (int64, error) {
	if sc, ok := c.sidecars.read(path); ok {
		return sc.Bytes, nil
	}

	info, err := c.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat data file: %w", err)
	}

	return info.Size(), nil
}

func (c *Counter) scanRows(path string) (int64, error) {
	file, err := c.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening data file: %w", err)
	}

	defer func() { _ = file.Close() }()

	var src io.Reader = file

	if gzipPath(path) {
		gz, err := gzip.NewReader(file)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil
			}

			return 0, fmt.Errorf("opening gzip stream: %w", err)
		}

		defer func() { _ = gz.Close() }()

		src = gz
	}

	return countLines(src)
}

// countLines counts newline-terminated lines in chunked reads. Trailing
// bytes without a final newline still count as a line.
func countLines(r io.Reader) (int64, error) {
	buf := make([]byte, countChunkSize)

	var (
		count       int64
		sawData     bool
		endsNewline bool
	)

	for {
		n, err := r.Read(buf)

		if n > 0 {
			sawData = true
			endsNewline = buf[n-1] == '\n'

			for _, b := range buf[:n] {
				if b == '\n' {
					count++
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return 0, fmt.Errorf("reading data file: %w", err)
		}
	}

	if sawData && !endsNewline {
		count++
	}

	return count, nil
}
