// Package testutil provides shared testing helpers: temp-file SQLite
// databases, temp-file vector sidecars, and common assertions.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir creates a temporary directory for testing, cleaned up
// automatically.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// TempDBPath returns a path to a not-yet-created SQLite file inside a fresh
// temp directory.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// TempVectorPath returns a path to a not-yet-created vector sidecar file
// inside a fresh temp directory.
func TempVectorPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.vectors")
}

// TempFile creates a temporary file with the given content, cleaned up
// automatically.
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
