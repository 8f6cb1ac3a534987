// Package inbox watches a drop directory and queues every package or collection file
// that lands in it. Finished files are moved to done/ or failed/.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ankiport/internal/jobs"
)

// Subdirectories of the inbox.
const (
	ProcessingDir = "processing"
	DoneDir       = "done"
	FailedDir     = "failed"
)

// Service queues files and reports when their jobs finish.
type Service interface {
	Enqueue(path string) (jobs.Job, error)
	Wait(ctx context.Context, id string) (jobs.Job, error)
}

// Watch processes files dropped into dir until ctx is cancelled. A file is picked up
// once no write to it has been seen for settle. Files already present when Watch
// starts are picked up too, and files left in processing/ by an earlier run are
// queued again.
func Watch(ctx context.Context, dir string, svc Service, logger *slog.Logger, settle time.Duration) error {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	for _, sub := range []string{ProcessingDir, DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("inbox: create %s: %w", sub, err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", dir, err)
	}
	logger.Info("inbox: started", slog.String("dir", dir))

	in := &inbox{dir: dir, svc: svc, logger: logger}
	defer in.wg.Wait()

	ready := make(chan string, 16)
	pending := make(map[string]*time.Timer)
	schedule := func(path string) {
		if t, ok := pending[path]; ok {
			t.Reset(settle)
			return
		}
		pending[path] = time.AfterFunc(settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	in.resume(ctx)
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if e.Type().IsRegular() && supported(e.Name()) {
				schedule(filepath.Join(dir, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case path := <-ready:
			delete(pending, path)
			in.claim(ctx, path)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !supported(ev.Name) {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr != nil || !info.Mode().IsRegular() {
				continue
			}
			schedule(ev.Name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

type inbox struct {
	dir    string
	svc    Service
	logger *slog.Logger
	wg     sync.WaitGroup
}

func supported(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	_, err := jobs.KindFor(name)
	return err == nil
}

// claim moves a settled file into processing/ and queues it.
func (in *inbox) claim(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	target, err := move(path, filepath.Join(in.dir, ProcessingDir))
	if err != nil {
		in.logger.Warn("inbox: claim failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	in.enqueue(ctx, target)
}

// resume queues files an earlier run left in processing/.
func (in *inbox) resume(ctx context.Context) {
	entries, err := os.ReadDir(filepath.Join(in.dir, ProcessingDir))
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && supported(e.Name()) {
			in.enqueue(ctx, filepath.Join(in.dir, ProcessingDir, e.Name()))
		}
	}
}

func (in *inbox) enqueue(ctx context.Context, path string) {
	job, err := in.svc.Enqueue(path)
	if err != nil {
		in.logger.Warn("inbox: enqueue failed", slog.String("path", path), slog.String("error", err.Error()))
		in.finish(path, false, err.Error())
		return
	}
	in.logger.Info("inbox: queued", slog.String("path", path), slog.String("job", job.ID))

	in.wg.Go(func() {
		done, err := in.svc.Wait(ctx, job.ID)
		if err != nil {
			// Shutting down; the file stays in processing/ for the next run.
			return
		}
		in.finish(path, done.State == jobs.StateSucceeded, failureReport(done))
	})
}

// finish moves a processed file to done/ or failed/. Failed files get a .log sidecar
// holding report.
func (in *inbox) finish(path string, ok bool, report string) {
	sub := DoneDir
	if !ok {
		sub = FailedDir
	}
	target, err := move(path, filepath.Join(in.dir, sub))
	if err != nil {
		in.logger.Warn("inbox: move failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if !ok && report != "" {
		if err := os.WriteFile(target+".log", []byte(report+"\n"), 0o644); err != nil {
			in.logger.Warn("inbox: write report failed", slog.String("path", target), slog.String("error", err.Error()))
		}
	}
	in.logger.Info("inbox: finished", slog.String("path", target), slog.Bool("ok", ok))
}

func failureReport(job jobs.Job) string {
	lines := []string{job.Error}
	if job.Result != nil {
		lines = append(lines, job.Result.Log...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// move renames path into dir, suffixing the name when the target already exists.
func move(path, dir string) (string, error) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	target := filepath.Join(dir, name)
	for i := 1; ; i++ {
		_, err := os.Lstat(target)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}
