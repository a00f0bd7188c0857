package store

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// fileLock is an exclusive advisory flock on a sidecar file next to the
// database.
type fileLock struct {
	f *os.File
}

// acquireFileLock blocks until it holds path.
func acquireFileLock(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // G304: derived from the configured db path
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

// release is nil-safe.
func (l *fileLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
	l.f = nil
}

// acquireMigrationLock serializes goose runs across eco processes opening
// the same fresh database.
func acquireMigrationLock(dbPath string) (*fileLock, error) {
	return acquireFileLock(dbPath + ".migrate.lock")
}

// WriteLock serializes writers of one event log. A writer must hold it from
// the replay that builds its in-memory state until its last record is
// persisted; otherwise two processes validate against the same stale view
// and both append.
type WriteLock struct {
	l *fileLock
}

// AcquireWriteLock blocks until it holds <dbPath>.submit.lock. In-memory
// databases are private to one process and get a no-op lock.
func AcquireWriteLock(dbPath string) (*WriteLock, error) {
	if isMemoryPath(dbPath) {
		return &WriteLock{}, nil
	}
	l, err := acquireFileLock(dbPath + ".submit.lock")
	if err != nil {
		return nil, err
	}
	return &WriteLock{l: l}, nil
}

// Release drops the lock. It is nil-safe and idempotent.
func (w *WriteLock) Release() {
	if w == nil {
		return
	}
	w.l.release()
	w.l = nil
}
