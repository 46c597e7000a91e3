package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/klauspost/compress/gzip"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

// Scanner limits for one physical line.
const (
	readerBufSize = 64 * 1024
	maxLineBytes  = 16 << 20
)

// ReaderOptions configures [OpenReader].
type ReaderOptions struct {
	// StartAtLine labels the first yielded line. It is purely a label
	// offset, not a seek: the reader always scans from byte 0 and yields
	// StartAtLine + (valid lines seen so far) - 1. A caller that already
	// knows "N records are resumed" can keep its numbering consistent with
	// a previous run without re-deriving an absolute line count.
	// Must be >= 1. Default: 1.
	StartAtLine int

	// TokenField names the record field [Reader.ContainsToken] compares
	// during its full-scan fallback when no index file exists. Empty means
	// no scan fallback: a missing index answers "no known duplicates".
	TokenField string
}

// Reader streams decoded JSON values from a data file, plain or gzip
// (selected purely by filename suffix, matching the writer).
//
// Each iteration opens the file afresh and reads it lazily one physical
// line at a time. Blank lines are skipped without consuming a line number.
// Lines that fail JSON decoding are skipped too: the last line of a file
// whose writer was killed mid-write may be truncated JSON, and it must not
// abort an otherwise-valid read.
type Reader struct {
	fsys       fs.FS
	path       string
	startAt    int
	tokenField string
	err        error
}

// OpenReader opens path for streaming reads.
//
// Fails fast if the data file does not exist or StartAtLine is < 1.
func OpenReader(fsys fs.FS, path string, opts ReaderOptions) (*Reader, error) {
	if fsys == nil {
		return nil, ErrNilFS
	}

	startAt := opts.StartAtLine
	if startAt == 0 {
		startAt = 1
	}

	if startAt < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrStartLine, opts.StartAtLine)
	}

	if _, err := fsys.Stat(path); err != nil {
		return nil, fmt.Errorf("opening reader: %w", err)
	}

	return &Reader{
		fsys:       fsys,
		path:       path,
		startAt:    startAt,
		tokenField: opts.TokenField,
	}, nil
}

// Path returns the data file path this reader scans.
func (r *Reader) Path() string {
	return r.path
}

// Lines returns an iterator over (lineNumber, decodedValue) pairs.
//
// Check [Reader.Err] after iteration completes; a mid-stream I/O failure
// ends the iteration early rather than yielding an error value.
func (r *Reader) Lines() iter.Seq2[int, any] {
	return func(yield func(int, any) bool) {
		r.err = nil

		file, err := r.fsys.Open(r.path)
		if err != nil {
			r.err = fmt.Errorf("opening data file: %w", err)

			return
		}

		defer func() { _ = file.Close() }()

		var src io.Reader = file

		if gzipPath(r.path) {
			gz, err := gzip.NewReader(file)
			if err != nil {
				// An empty .gz target has no stream header yet; treat it
				// as zero records, consistent with an empty plain file.
				if !errors.Is(err, io.EOF) {
					r.err = fmt.Errorf("opening gzip stream: %w", err)
				}

				return
			}

			defer func() { _ = gz.Close() }()

			src = gz
		}

		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, readerBufSize), maxLineBytes)

		lineNo := r.startAt

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var value any

			if err := json.Unmarshal(line, &value); err != nil {
				continue
			}

			if !yield(lineNo, value) {
				return
			}

			lineNo++
		}

		if err := scanner.Err(); err != nil {
			r.err = fmt.Errorf("scanning data file: %w", err)
		}
	}
}

// Err returns the error, if any, from the most recent iteration.
func (r *Reader) Err() error {
	return r.err
}

// First peeks at the first record without reading the whole file.
// Returns ok == false for an empty (or all-invalid) file.
func (r *Reader) First() (any, bool, error) {
	for _, value := range r.Lines() {
		return value, true, nil
	}

	return nil, false, r.err
}

// Records decodes the whole file into memory.
// Prefer [Reader.Lines] for large files.
func (r *Reader) Records() ([]any, error) {
	var records []any

	for _, value := range r.Lines() {
		records = append(records, value)
	}

	if r.err != nil {
		return nil, r.err
	}

	return records, nil
}

// ContainsToken reports whether a record with the given deduplication token
// was written to this file.
//
// The on-disk token index is the fast path and, when present, the
// authoritative answer — no data scan happens even for a miss. Without an
// index file the answer is best-effort: the data file is scanned comparing
// each record's configured token field, or, when no token field is
// configured, the answer is simply false ("no known duplicates", not "no
// duplicates").
func (r *Reader) ContainsToken(token string) (bool, error) {
	indexPath := IndexPath(r.path)

	exists, err := r.fsys.Exists(indexPath)
	if err != nil {
		return false, fmt.Errorf("checking token index: %w", err)
	}

	if exists {
		return LoadTokenIndex(r.fsys, indexPath).Contains(token), nil
	}

	if r.tokenField == "" {
		return false, nil
	}

	for _, value := range r.Lines() {
		record, ok := value.(map[string]any)
		if !ok {
			continue
		}

		if field, ok := record[r.tokenField].(string); ok && field == token {
			return true, nil
		}
	}

	return false, r.err
}
