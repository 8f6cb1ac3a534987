// Package importservice is the domain layer shared by the HTTP API, the inbox watcher
// and the MCP server: it spools uploads, queues imports and reads collection stats.
package importservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/jobs"
)

// Service coordinates the import queue and the destination collection.
type Service struct {
	queue    *jobs.Queue
	col      *collection.Collection
	spoolDir string
}

// NewService creates a service. Uploaded files are spooled into spoolDir.
func NewService(queue *jobs.Queue, col *collection.Collection, spoolDir string) *Service {
	return &Service{queue: queue, col: col, spoolDir: spoolDir}
}

// Upload spools r to disk and queues it for import under the display name name.
// The spooled copy is removed once the job finishes.
func (s *Service) Upload(_ context.Context, name string, r io.Reader) (jobs.Job, error) {
	name = filepath.Base(name)
	if _, err := jobs.KindFor(name); err != nil {
		return jobs.Job{}, err
	}
	if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
		return jobs.Job{}, fmt.Errorf("importservice: create spool dir: %w", err)
	}

	f, err := os.CreateTemp(s.spoolDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return jobs.Job{}, fmt.Errorf("importservice: create spool file: %w", err)
	}
	_, err = io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		if errors.Is(err, syscall.ENOSPC) {
			return jobs.Job{}, fmt.Errorf("importservice: spool upload: %w: %w", apperr.ErrNoSpace, err)
		}
		return jobs.Job{}, fmt.Errorf("importservice: spool upload: %w", err)
	}

	job, err := s.queue.Submit(jobs.Request{Source: f.Name(), Name: name, RemoveSource: true})
	if err != nil {
		_ = os.Remove(f.Name())
		return jobs.Job{}, err
	}
	return job, nil
}

// Enqueue queues the package or collection file at path, which must exist.
func (s *Service) Enqueue(path string) (jobs.Job, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jobs.Job{}, fmt.Errorf("importservice: %s: %w", path, apperr.ErrNotFound)
		}
		return jobs.Job{}, fmt.Errorf("importservice: stat: %w", err)
	}
	if info.IsDir() {
		return jobs.Job{}, fmt.Errorf("%w: %s is a directory", jobs.ErrUnsupported, path)
	}
	return s.queue.Submit(jobs.Request{Source: path})
}

// Job returns the job with the given id.
func (s *Service) Job(id string) (jobs.Job, error) {
	return s.queue.Get(id)
}

// Jobs returns all retained jobs, newest first.
func (s *Service) Jobs() []jobs.Job {
	return s.queue.List()
}

// Wait blocks until the job finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (jobs.Job, error) {
	return s.queue.Wait(ctx, id)
}

// Stats reads collection counters between imports.
func (s *Service) Stats(ctx context.Context) (collection.Stats, error) {
	var st collection.Stats
	err := s.queue.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.col.Stats(ctx)
		return err
	})
	return st, err
}
