package fs_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

func TestLocker_LockAndRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.jsonl.lock")
	locker := fs.NewLocker(fs.NewReal())

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Held: a second non-blocking attempt fails.
	_, tryErr := locker.TryLock(path)
	if !errors.Is(tryErr, fs.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", tryErr)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Released: a new attempt succeeds.
	second, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}

	if err := second.Close(); err != nil {
		t.Fatalf("close second: %v", err)
	}
}

func TestLocker_CreatesParentDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deep", "nested", "data.jsonl.lock")
	locker := fs.NewLocker(fs.NewReal())

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLock_CloseIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.jsonl.lock")
	locker := fs.NewLocker(fs.NewReal())

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
}

func TestLocker_LockWithTimeoutExpires(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.jsonl.lock")
	locker := fs.NewLocker(fs.NewReal())

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	defer func() { _ = lock.Close() }()

	start := time.Now()

	_, timeoutErr := locker.LockWithTimeout(path, 50*time.Millisecond)
	if !errors.Is(timeoutErr, fs.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", timeoutErr)
	}

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("timeout returned too early after %v", elapsed)
	}
}

func TestLocker_LockWithTimeoutInvalid(t *testing.T) {
	t.Parallel()

	locker := fs.NewLocker(fs.NewReal())

	_, err := locker.LockWithTimeout(filepath.Join(t.TempDir(), "x.lock"), 0)
	if !errors.Is(err, fs.ErrInvalidTimeout) {
		t.Fatalf("expected ErrInvalidTimeout, got %v", err)
	}
}

func TestLocker_LockWithTimeoutAcquiresAfterRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.jsonl.lock")
	locker := fs.NewLocker(fs.NewReal())

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		time.Sleep(20 * time.Millisecond)

		_ = lock.Close()
	}()

	second, err := locker.LockWithTimeout(path, 2*time.Second)
	if err != nil {
		t.Fatalf("expected acquisition after release, got %v", err)
	}

	wg.Wait()

	if err := second.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
