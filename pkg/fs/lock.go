package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a lock cannot be acquired without waiting.
	//
	// It is returned by [Locker.TryLock] when the lock is held by another
	// process, and by [Locker.LockWithTimeout] when the acquisition timeout
	// expires.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned when a timeout is <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errInodeMismatch is an internal sentinel indicating the lock file was
	// replaced between open and flock. Callers retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// Locker provides file-based locking using flock(2).
//
// flock is advisory and applies to an inode (an open file), not a pathname.
// All cooperating writers must take the lock for it to have effect.
//
// Locker verifies that the file descriptor it locked still refers to the file
// currently at path at the moment the lock is acquired, protecting the
// open-to-flock window against the lock file being replaced. Do not replace
// or unlink the lock file while locks may be held.
//
// This implementation is Unix-only.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that uses the given filesystem for file operations.
func NewLocker(fsys FS) *Locker {
	return &Locker{
		fs:    fsys,
		flock: unix.Flock,
	}
}

// Lock represents a held exclusive file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the underlying file descriptor.
//
// Close is idempotent; calling it again after a successful release returns
// nil. On Unix, closing the descriptor releases any flock held through it,
// so even when the explicit unlock fails a successful close still releases
// the lock in practice. If both unlocking and closing fail, Close returns an
// error wrapping both (see [errors.Join]); callers can do little beyond
// logging it.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// Lock acquires an exclusive lock on the file at path, blocking until the
// lock is available.
//
// The lock file and its parent directories are created lazily. This method
// blocks in the kernel with no timeout; it can wait indefinitely if another
// process holds the lock and never releases it. Use [Locker.LockWithTimeout]
// or [Locker.TryLock] to bound the wait.
//
// Races where the lock file is replaced (deleted and recreated) during
// acquisition are handled by re-checking the inode after flock and retrying.
func (l *Locker) Lock(path string) (*Lock, error) {
	for {
		file, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, false)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

// TryLock attempts to acquire an exclusive lock without blocking.
//
// Returns immediately with [ErrWouldBlock] if the lock is held elsewhere.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lockPolling(path, 0)
}

// LockWithTimeout attempts to acquire an exclusive lock, retrying with
// exponential backoff (1ms to 25ms) until the timeout expires.
//
// The timeout is best-effort: the method polls and sleeps, so it may
// overshoot slightly under scheduler delay.
//
// Returns an error satisfying errors.Is with [ErrWouldBlock] if the timeout
// expires before the lock is acquired.
// Returns [ErrInvalidTimeout] if timeout <= 0.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, timeout)
}

// lockPolling acquires a lock using non-blocking flock with retries.
//
//   - timeout == 0: try once (TryLock behavior)
//   - timeout > 0: retry with backoff until timeout
func (l *Locker) lockPolling(path string, timeout time.Duration) (*Lock, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	backoff := time.Millisecond

	for {
		file, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, true)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		retryable := errors.Is(err, ErrWouldBlock) || errors.Is(err, errInodeMismatch)
		if !retryable {
			return nil, err
		}

		if timeout == 0 {
			return nil, ErrWouldBlock
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		time.Sleep(min(backoff, remaining))

		if backoff < 25*time.Millisecond {
			backoff = min(backoff*2, 25*time.Millisecond)
		}
	}
}

// acquire flocks the given file and verifies the inode still matches path.
// On failure the file is unlocked (if needed) but NOT closed; the caller
// closes it.
//
// Returns:
//   - nil: lock acquired
//   - ErrWouldBlock: lock held elsewhere (nonblocking mode only)
//   - errInodeMismatch: file at path was replaced, caller should retry
func (l *Locker) acquire(file File, path string, nonblocking bool) error {
	fd := int(file.Fd())

	how := unix.LOCK_EX
	if nonblocking {
		how |= unix.LOCK_NB
	}

	if err := flockRetryEINTR(l.flock, fd, how); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.inodeMatchesPath(path, fd)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ENOENT) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

func (l *Locker) openLockFile(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath verifies that the locked descriptor still refers to the
// file currently at path.
//
// flock locks by inode, not pathname. If the lock file is deleted and
// recreated while we are blocked waiting, two processes can each flock a
// different inode and both believe they locked the path. Comparing
// (dev, inode) of the descriptor against the current file at path right
// after flock closes that window; on mismatch the caller unlocks and retries.
func (l *Locker) inodeMatchesPath(path string, fd int) (bool, error) {
	var openStat unix.Stat_t
	if err := unix.Fstat(fd, &openStat); err != nil {
		return false, fmt.Errorf("fstat lock fd: %w", err)
	}

	var pathStat unix.Stat_t
	if err := unix.Stat(path, &pathStat); err != nil {
		return false, err
	}

	return openStat.Dev == pathStat.Dev && openStat.Ino == pathStat.Ino, nil
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// EINTR means the syscall was interrupted by a signal before completing;
// the call didn't fail, it just needs to be retried. Retries are capped to
// avoid spinning under pathological signal storms.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
