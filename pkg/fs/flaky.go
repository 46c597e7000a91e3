package fs

import (
	"os"
	"strings"
	"sync"
)

// Op identifies an [FS] operation for fault injection with [Flaky].
type Op string

// Operations that [Flaky] can fail.
const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpMkdirAll        Op = "mkdirall"
	OpStat            Op = "stat"
	OpExists          Op = "exists"
	OpRemove          Op = "remove"
)

// Flaky wraps an [FS] and injects deterministic failures for testing.
//
// Failures are armed with [Flaky.FailNext] and consumed one per matching
// call; unmatched operations pass through to the underlying filesystem.
// Unlike probabilistic fault injection, a test can target exactly the
// operation and path it wants to see fail.
//
// Safe for concurrent use.
type Flaky struct {
	fs FS

	mu    sync.Mutex
	rules []*flakyRule
}

type flakyRule struct {
	op        Op
	substr    string
	err       error
	remaining int
}

// NewFlaky returns a Flaky wrapping fsys with no failures armed.
func NewFlaky(fsys FS) *Flaky {
	return &Flaky{fs: fsys}
}

// FailNext arms a single failure: the next call of op whose path contains
// substr returns err instead of running. An empty substr matches any path.
func (f *Flaky) FailNext(op Op, substr string, err error) {
	f.FailN(op, substr, err, 1)
}

// FailN arms n consecutive failures for op on paths containing substr.
func (f *Flaky) FailN(op Op, substr string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, &flakyRule{op: op, substr: substr, err: err, remaining: n})
}

// take consumes one armed failure matching (op, path), if any.
func (f *Flaky) take(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, r := range f.rules {
		if r.op != op || !strings.Contains(path, r.substr) {
			continue
		}

		r.remaining--
		if r.remaining <= 0 {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
		}

		return r.err
	}

	return nil
}

func (f *Flaky) Open(path string) (File, error) {
	if err := f.take(OpOpen, path); err != nil {
		return nil, err
	}

	return f.fs.Open(path)
}

func (f *Flaky) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.take(OpOpenFile, path); err != nil {
		return nil, err
	}

	return f.fs.OpenFile(path, flag, perm)
}

func (f *Flaky) ReadFile(path string) ([]byte, error) {
	if err := f.take(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

func (f *Flaky) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.take(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

func (f *Flaky) MkdirAll(path string, perm os.FileMode) error {
	if err := f.take(OpMkdirAll, path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

func (f *Flaky) Stat(path string) (os.FileInfo, error) {
	if err := f.take(OpStat, path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

func (f *Flaky) Exists(path string) (bool, error) {
	if err := f.take(OpExists, path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

func (f *Flaky) Remove(path string) error {
	if err := f.take(OpRemove, path); err != nil {
		return err
	}

	return f.fs.Remove(path)
}

// Compile-time interface check.
var _ FS = (*Flaky)(nil)
