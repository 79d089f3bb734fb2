// Package cpfile is the local output collaborator: it writes the emitted
// byte stream to a temporary file alongside the destination path and only
// publishes it -- fsync, then rename -- once the transfer completes
// cleanly, so a crash or abort never leaves a truncated file at the
// destination name.
package cpfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink is an io.Writer that stages writes in a temporary file and
// publishes them atomically on Commit.
type Sink struct {
	destPath string
	tmpPath  string
	f        *os.File
}

// Create opens a temp file in the same directory as destPath (so the
// final rename is same-filesystem and atomic).
func Create(destPath string) (*Sink, error) {
	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Sink{destPath: destPath, tmpPath: tmp.Name(), f: tmp}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Commit fsyncs the staged contents and renames the temp file onto
// destPath. After Commit, the Sink must not be used again.
func (s *Sink) Commit() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		os.Remove(s.tmpPath)
		return fmt.Errorf("fsync %s: %w", s.tmpPath, err)
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("close %s: %w", s.tmpPath, err)
	}
	if err := os.Rename(s.tmpPath, s.destPath); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("publish %s: %w", s.destPath, err)
	}
	return nil
}

// Abort closes and discards the temp file without publishing it. Safe to
// call after a failed Commit; a no-op if the temp file is already gone.
func (s *Sink) Abort() {
	s.f.Close()
	os.Remove(s.tmpPath)
}

var _ io.Writer = (*Sink)(nil)
