package jsonl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

const (
	dataPerm       = 0o644
	defaultDirPerm = 0o755
)

// Mode selects how a writer opens its target file.
type Mode int

const (
	// ModeAppend resumes an existing artifact: the file is opened for
	// append and the existing token index is loaded.
	ModeAppend Mode = iota

	// ModeTruncate starts over: the file is truncated and the in-memory
	// token index starts empty.
	ModeTruncate
)

// WriterOptions configures [OpenWriter].
type WriterOptions struct {
	// Mode selects append or truncate. Default: ModeAppend.
	Mode Mode

	// EnsureDir creates the target's parent directories before opening.
	EnsureDir bool

	// DirPerm is the permission for directories created by EnsureDir.
	// Default: 0o755.
	DirPerm os.FileMode

	// ResetSidecars deletes any pre-existing sidecar/index files before
	// starting. Only meaningful with ModeTruncate: truncate begins a
	// genuinely new artifact.
	ResetSidecars bool

	// UseLock acquires an exclusive, path-derived flock before proceeding.
	// Acquisition blocks until the lock is available; callers needing a
	// timeout wrap OpenWriter in their own retry loop using
	// [fs.Locker.LockWithTimeout] semantics.
	UseLock bool

	// SyncEachWrite fsyncs the data file after every appended record.
	// Default off: the durability point of this design is the atomic
	// sidecar rename, not the data append.
	SyncEachWrite bool

	// Logger receives errors from teardown paths that must not fail
	// (idempotent Close). Defaults to a discard logger.
	Logger *slog.Logger
}

// Writer owns a single target file's append lifecycle: it acquires
// exclusive access, appends one JSON line per record, updates the
// [SidecarStore] and [TokenIndex] per write, and finalizes on close.
//
// A Writer is created in the open state by [OpenWriter] and moves to the
// closed state via [Writer.Finish] or [Writer.Close]; every other operation
// fails with [ErrWriterClosed] once closed. Safe for concurrent use, though
// the design is single-writer: cross-process exclusion comes from the
// advisory lock, not from this mutex.
//
// For gzip targets (suffix .gz or .gzip) the Bytes counter tracks
// uncompressed line bytes written to the stream.
type Writer struct {
	mu sync.Mutex

	fsys     fs.FS
	path     string
	sidecars *SidecarStore
	states   *StateRepository
	index    *TokenIndex
	logger   *slog.Logger

	file     fs.File
	gz       *gzip.Writer
	out      io.Writer
	lock     *fs.Lock
	syncEach bool
	closed   bool
}

// OpenWriter opens path for appending records.
//
// Opening optionally creates parent directories and acquires the writer
// lock, loads or resets the token index according to the mode, opens the
// underlying handle (gzip-compressed iff the path suffix says so), and
// touches the sidecar once with zero deltas so StartedAt/UpdatedAt and
// file facts exist even if no record is ever written.
func OpenWriter(fsys fs.FS, path string, opts WriterOptions) (*Writer, error) {
	if fsys == nil {
		return nil, ErrNilFS
	}

	if path == "" {
		return nil, errors.New("path is empty")
	}

	if opts.EnsureDir {
		perm := opts.DirPerm
		if perm == 0 {
			perm = defaultDirPerm
		}

		if err := fsys.MkdirAll(filepath.Dir(path), perm); err != nil {
			return nil, fmt.Errorf("creating parent dir: %w", err)
		}
	}

	var lock *fs.Lock

	if opts.UseLock {
		var err error

		lock, err = fs.NewLocker(fsys).Lock(LockPath(path))
		if err != nil {
			return nil, fmt.Errorf("acquiring writer lock: %w", err)
		}
	}

	sidecars := NewSidecarStore(fsys)

	w := &Writer{
		fsys:     fsys,
		path:     path,
		sidecars: sidecars,
		states:   NewStateRepository(fsys, sidecars),
		lock:     lock,
		syncEach: opts.SyncEachWrite,
		logger:   opts.Logger,
	}

	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}

	if err := w.openData(opts); err != nil {
		if lock != nil {
			_ = lock.Close()
		}

		return nil, err
	}

	if _, err := sidecars.Touch(path, 0, 0, true); err != nil {
		w.closeDataLocked()

		if lock != nil {
			_ = lock.Close()
		}

		return nil, fmt.Errorf("touching sidecar: %w", err)
	}

	return w, nil
}

func (w *Writer) openData(opts WriterOptions) error {
	flag := os.O_CREATE | os.O_WRONLY

	switch opts.Mode {
	case ModeTruncate:
		flag |= os.O_TRUNC

		if opts.ResetSidecars {
			if err := w.sidecars.Reset(w.path); err != nil {
				return fmt.Errorf("resetting sidecars: %w", err)
			}
		}

		w.index = NewTokenIndex()
	case ModeAppend:
		flag |= os.O_APPEND
		w.index = LoadTokenIndex(w.fsys, IndexPath(w.path))
	default:
		return fmt.Errorf("unknown mode %d", opts.Mode)
	}

	file, err := w.fsys.OpenFile(w.path, flag, dataPerm)
	if err != nil {
		return fmt.Errorf("opening data file: %w", err)
	}

	w.file = file
	w.out = file

	if gzipPath(w.path) {
		w.gz = gzip.NewWriter(file)
		w.out = w.gz
	}

	return nil
}

// Path returns the data file path this writer appends to.
func (w *Writer) Path() string {
	return w.path
}

// Write appends record as one JSON line without deduplication.
func (w *Writer) Write(record any) error {
	return w.WriteToken(record, "")
}

// WriteToken appends record as one JSON line unless token has been seen
// before.
//
// A non-empty token already present in the index makes the call a no-op: no
// bytes are appended, no counter moves, and no sidecar touch happens.
// Otherwise the record is serialized (UTF-8, slashes and non-ASCII left
// unescaped), appended with a trailing newline, the token is recorded, and
// the sidecar is touched with the row/byte deltas and fresh file facts.
//
// Serialization failure of the record is propagated and nothing is appended.
func (w *Writer) WriteToken(record any, token string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	if token != "" && w.index.Contains(token) {
		return nil
	}

	line, err := encodeLine(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}

	// Flush compressed output per record so a crashed writer leaves the
	// appended lines readable, matching the plain-file behavior.
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			return fmt.Errorf("flushing gzip stream: %w", err)
		}
	}

	if w.syncEach {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("syncing data file: %w", err)
		}
	}

	if token != "" {
		w.index.Add(token)
	}

	if _, err := w.sidecars.Touch(w.path, 1, int64(len(line)), true); err != nil {
		return fmt.Errorf("touching sidecar: %w", err)
	}

	return nil
}

// MarkComplete marks the sidecar completed without closing the file.
func (w *Writer) MarkComplete() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	if _, err := w.sidecars.MarkComplete(w.path, true); err != nil {
		return fmt.Errorf("marking complete: %w", err)
	}

	return nil
}

// Finish closes the writer and returns the resulting state.
//
// The data stream is closed first (flushing any compressed tail), then the
// sidecar is touched — with Completed forced when markComplete is true — so
// the captured file facts reflect the final bytes on disk and the state
// loads as fresh. The token index is persisted and the lock released last.
func (w *Writer) Finish(markComplete bool) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return State{}, ErrWriterClosed
	}

	var errs []error

	if err := w.closeDataLocked(); err != nil {
		errs = append(errs, err)
	}

	var touchErr error

	if markComplete {
		_, touchErr = w.sidecars.MarkComplete(w.path, true)
	} else {
		_, touchErr = w.sidecars.Touch(w.path, 0, 0, true)
	}

	if touchErr != nil {
		errs = append(errs, fmt.Errorf("final sidecar touch: %w", touchErr))
	}

	if err := w.releaseLocked(); err != nil {
		errs = append(errs, err)
	}

	w.closed = true

	if err := errors.Join(errs...); err != nil {
		return State{}, err
	}

	return w.states.Load(w.path), nil
}

// Close closes the writer, persisting the token index and releasing the
// lock even if an earlier write failed.
//
// Close is idempotent and safe to call from teardown paths (defer): errors
// are reported to the side-channel logger as well as returned, so a
// deferred call that discards the result still surfaces them.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	var errs []error

	if err := w.closeDataLocked(); err != nil {
		errs = append(errs, err)
	}

	if _, err := w.sidecars.Touch(w.path, 0, 0, true); err != nil {
		errs = append(errs, fmt.Errorf("final sidecar touch: %w", err))
	}

	if err := w.releaseLocked(); err != nil {
		errs = append(errs, err)
	}

	w.closed = true

	err := errors.Join(errs...)
	if err != nil {
		w.logger.Error("closing jsonl writer", "path", w.path, "err", err)
	}

	return err
}

// closeDataLocked closes the compressed stream and the underlying handle.
// Idempotent; callers hold w.mu.
func (w *Writer) closeDataLocked() error {
	var errs []error

	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing gzip stream: %w", err))
		}

		w.gz = nil
	}

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("syncing data file: %w", err))
		}

		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing data file: %w", err))
		}

		w.file = nil
	}

	return errors.Join(errs...)
}

// releaseLocked persists the token index and releases the writer lock.
// Callers hold w.mu.
func (w *Writer) releaseLocked() error {
	var errs []error

	if w.index != nil {
		if err := w.index.Persist(w.fsys, IndexPath(w.path)); err != nil {
			errs = append(errs, err)
		}
	}

	if w.lock != nil {
		if err := w.lock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing writer lock: %w", err))
		}

		w.lock = nil
	}

	return errors.Join(errs...)
}

// encodeLine serializes record to one newline-terminated JSON line with
// slashes and non-ASCII left unescaped.
func encodeLine(record any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(record); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
