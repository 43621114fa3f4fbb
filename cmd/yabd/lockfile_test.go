package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireInstanceLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yabd.lock")

	first, err := acquireInstanceLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := acquireInstanceLock(path); !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("expected errAlreadyRunning, got %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if strings.TrimSpace(string(b)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected pid in lock file, got %q", b)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := acquireInstanceLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestInstanceLock_ReleaseNil(t *testing.T) {
	var l *instanceLock
	if err := l.Release(); err != nil {
		t.Fatalf("expected nil release to be a no-op, got %v", err)
	}
}

func TestAcquireInstanceLock_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "yabd.lock")
	if _, err := acquireInstanceLock(path); err == nil {
		t.Fatalf("expected error for a lock file in a missing directory")
	}
}
