// Package testsupport holds shared helpers for package tests.
package testsupport

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"recorder-agent/repository"
)

// NewRepo opens a throwaway sqlite-backed repository under the test's temp
// directory.
func NewRepo(t *testing.T) repository.Repository {
	t.Helper()
	repo, err := repository.NewRepo(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	return repo
}

// Context returns a context carrying a discarding logger, so code under test
// can call zerolog.Ctx without polluting test output.
func Context(t *testing.T) context.Context {
	t.Helper()
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}
