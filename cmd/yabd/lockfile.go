package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// errAlreadyRunning is returned when another daemon holds the instance lock.
var errAlreadyRunning = errors.New("another yabd instance is already running")

// instanceLock is an exclusive flock on a well-known file. Two daemons driving
// the same backlight would fight over it, so only one may run.
type instanceLock struct {
	f *os.File
}

// acquireInstanceLock takes the lock without blocking.
func acquireInstanceLock(path string) (*instanceLock, error) {
	f, err := os.OpenFile(ExpandPath(path), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (lock %s)", errAlreadyRunning, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// Record the owner for humans; the lock itself is the flock.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &instanceLock{f: f}, nil
}

// Release drops the lock. The file is left in place.
func (l *instanceLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
