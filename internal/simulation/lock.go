package simulation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"trainflow/internal/fileutil"
)

var (
	// ErrLockContention means another live process holds the simulation lock.
	ErrLockContention = errors.New("simulation lock is held by another process")
	// ErrLockLost means the lock file vanished or was taken over while running.
	ErrLockLost = errors.New("simulation lock lost")
)

// FileLock is an exclusive advisory lock on a well-known file that records
// the owning pid. A lock left by a dead process is free again because the
// kernel drops flock locks with their descriptor.
type FileLock struct {
	path string
	pid  int
	f    *os.File
}

// lockAttempts bounds how often AcquireLock retries when the lock file is
// swapped between open and flock.
const lockAttempts = 5

// AcquireLock takes the lock without blocking.
func AcquireLock(path string) (*FileLock, error) {
	for range lockAttempts {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file %s: %w", path, err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, ErrLockContention
			}
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		// A releasing owner may have unlinked the file we opened; a lock on
		// an orphaned inode excludes nobody.
		if !lockedCurrentFile(f, path) {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			continue
		}

		pid := os.Getpid()
		if err := writePID(f, pid); err != nil {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			return nil, fmt.Errorf("write lock file %s: %w", path, err)
		}
		return &FileLock{path: path, pid: pid, f: f}, nil
	}
	return nil, fmt.Errorf("%w: %s kept changing while locking", ErrLockContention, path)
}

// lockedCurrentFile reports whether f is still the file at path.
func lockedCurrentFile(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) PID() int { return l.pid }

// Verify checks that the lock file still exists and still names this
// process.
func (l *FileLock) Verify() error {
	pid, err := ReadLockPID(l.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	if pid != l.pid {
		return fmt.Errorf("%w: lock file names pid %d", ErrLockLost, pid)
	}
	return nil
}

// Release unlocks and deletes the lock file. The file is only deleted while
// it still names this process.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	var errs []error
	if pid, err := ReadLockPID(l.path); err == nil && pid == l.pid {
		errs = append(errs, fileutil.RemoveIfExists(l.path))
	}
	return errors.Join(append(errs, l.Close())...)
}

// Close drops the flock and the descriptor but never touches the lock file.
func (l *FileLock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := errors.Join(unix.Flock(int(l.f.Fd()), unix.LOCK_UN), l.f.Close())
	l.f = nil
	return err
}

// ReadLockPID returns the pid recorded in a lock file.
func ReadLockPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("malformed lock file %s: %w", path, err)
	}
	return pid, nil
}

// ProcessAlive probes pid with signal 0.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
