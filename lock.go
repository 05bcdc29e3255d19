package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockFilePermissions lets other users read the owner PID.
const lockFilePermissions = 0o644

// libraryLock marks a library database as owned by one `playtrack run`. The
// lock file sits next to the database, holds the owner's PID and is
// flocked for the lifetime of the daemon.
type libraryLock struct {
	path string
	f    *os.File
}

// lockPath returns the lock file guarding database.
func lockPath(database string) string {
	return database + ".lock"
}

// acquireLibraryLock takes exclusive ownership of database. It fails at once
// when another daemon already serves the same library.
func acquireLibraryLock(database string) (*libraryLock, error) {
	if database == "" {
		return nil, errors.New("library database path is empty")
	}

	path := lockPath(database)
	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating library directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening library lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, pidErr := ownerPID(path); pidErr == nil {
			return nil, fmt.Errorf("another playtrack run (PID %d) is already using library %s", pid, database)
		}

		return nil, fmt.Errorf("another playtrack run is already using library %s", database)
	}

	if err := writeOwner(f); err != nil {
		f.Close()
		return nil, err
	}

	return &libraryLock{path: path, f: f}, nil
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating library lock: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing library lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing library lock: %w", err)
	}

	return nil
}

// Release removes the lock file and drops the flock.
func (l *libraryLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// ownerPID reads the PID recorded in a library lock file.
func ownerPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading library lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid owner PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalOwner delivers sig to the daemon serving database. A lock file left
// by a process that no longer exists is removed.
func signalOwner(database string, sig syscall.Signal) error {
	path := lockPath(database)

	pid, err := ownerPID(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no playtrack run is using library %s", database)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding playtrack run (PID %d): %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return fmt.Errorf("playtrack run (PID %d) for library %s is gone, stale lock removed", pid, database)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signalling playtrack run (PID %d): %w", pid, err)
	}

	return nil
}
