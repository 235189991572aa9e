package simulation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.lock")

	first, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := AcquireLock(path); !errors.Is(err, ErrLockContention) {
		t.Errorf("second AcquireLock err = %v, want ErrLockContention", err)
	}

	pid, err := ReadLockPID(path)
	if err != nil {
		t.Fatalf("ReadLockPID: %v", err)
	}
	if pid != os.Getpid() || first.PID() != os.Getpid() {
		t.Errorf("lock pid = %d (file %d), want %d", first.PID(), pid, os.Getpid())
	}
	if err := first.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Release: %v", err)
	}

	second, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestFileLockVerifyDetectsLoss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.lock")
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer l.Release()

	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Verify(); !errors.Is(err, ErrLockLost) {
		t.Errorf("Verify after takeover = %v, want ErrLockLost", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := l.Verify(); !errors.Is(err, ErrLockLost) {
		t.Errorf("Verify after removal = %v, want ErrLockLost", err)
	}
}

func TestReleaseKeepsForeignLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.lock")
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	if err := os.WriteFile(path, []byte("12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("foreign lock file removed: %v", err)
	}
}

func TestCloseLeavesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.lock")
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pid, err := ReadLockPID(path); err != nil || pid != os.Getpid() {
		t.Errorf("lock file after Close = %d, %v; want our pid", pid, err)
	}

	// The flock is gone, so the file can be taken again.
	again, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock after Close: %v", err)
	}
	again.Release()
}

func TestLockedCurrentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.lock")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if !lockedCurrentFile(f, path) {
		t.Errorf("freshly opened file not reported as current")
	}

	// Another owner unlinks and recreates the path.
	replacement := filepath.Join(dir, "next.lock")
	if err := os.WriteFile(replacement, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(replacement, path); err != nil {
		t.Fatal(err)
	}
	if lockedCurrentFile(f, path) {
		t.Errorf("replaced file still reported as current")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if lockedCurrentFile(f, path) {
		t.Errorf("unlinked file still reported as current")
	}
}

func TestAcquireLockAfterReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.lock")

	stale, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	defer stale.Close()

	// The old flock sits on an unlinked inode and must not block the path.
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock on recreated path: %v", err)
	}
	defer l.Release()

	held, err := l.f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	current, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(held, current) {
		t.Errorf("lock not held on the file at %s", path)
	}
}

func TestReadLockPIDMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.lock")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLockPID(path); err == nil {
		t.Errorf("ReadLockPID on malformed file succeeded")
	}
}

func TestProcessAlive(t *testing.T) {
	tests := []struct {
		pid  int
		want bool
	}{
		{os.Getpid(), true},
		{0, false},
		{-1, false},
	}
	for _, tt := range tests {
		if got := ProcessAlive(tt.pid); got != tt.want {
			t.Errorf("ProcessAlive(%d) = %v, want %v", tt.pid, got, tt.want)
		}
	}
}
