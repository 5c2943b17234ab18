// Package commit provides the file-commit sink consumed by the orchestrator
// after a phase's output is approved.
package commit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"conductor/pkg/utils"
)

// Result identifies a committed file.
type Result struct {
	SHA string
	URL string
}

// Sink writes one file with a commit message and returns its identity.
type Sink interface {
	Commit(ctx context.Context, path, content, message string) (Result, error)
}

// LocalSink writes files under a base directory, for tests and offline runs.
// The returned SHA is synthetic but unique per write.
type LocalSink struct {
	baseDir string
	mu      sync.Mutex
}

// NewLocalSink creates a sink rooted at baseDir.
func NewLocalSink(baseDir string) (*LocalSink, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create commit directory %s: %w", baseDir, err)
	}
	return &LocalSink{baseDir: baseDir}, nil
}

// Commit implements Sink.
func (s *LocalSink) Commit(_ context.Context, path, content, _ string) (Result, error) {
	if strings.Contains(path, "..") {
		return Result{}, fmt.Errorf("path %s escapes the commit root", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := filepath.Join(s.baseDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return Result{
		SHA: utils.SyntheticSHA(),
		URL: "file://" + full,
	}, nil
}
