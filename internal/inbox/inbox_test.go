package inbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/ankiport/internal/importer"
	"github.com/starford/ankiport/internal/jobs"
)

// fakeService succeeds every job except those whose file name contains "bad".
type fakeService struct {
	mu     sync.Mutex
	queued []string
}

func (f *fakeService) Enqueue(path string) (jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, filepath.Base(path))
	return jobs.Job{ID: path, Source: path}, nil
}

func (f *fakeService) Wait(_ context.Context, id string) (jobs.Job, error) {
	if strings.Contains(filepath.Base(id), "bad") {
		return jobs.Job{
			ID:     id,
			State:  jobs.StateFailed,
			Error:  "import failed",
			Result: &importer.Result{Log: []string{importer.InvalidPackageMessage}},
		}, nil
	}
	return jobs.Job{ID: id, State: jobs.StateSucceeded}, nil
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func startWatch(t *testing.T, dir string, svc Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = Watch(ctx, dir, svc, logger, 50*time.Millisecond)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestInbox_DroppedFileImported(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{}
	startWatch(t, dir, svc)

	_ = os.WriteFile(filepath.Join(dir, "deck.apkg"), []byte("pkg"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return exists(filepath.Join(dir, DoneDir, "deck.apkg"))
	}, "dropped file not moved to done/")
	if exists(filepath.Join(dir, "deck.apkg")) {
		t.Error("file still in inbox")
	}
}

func TestInbox_FailedImportWritesReport(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{}
	startWatch(t, dir, svc)

	_ = os.WriteFile(filepath.Join(dir, "bad.apkg"), []byte("junk"), 0o644)

	report := filepath.Join(dir, FailedDir, "bad.apkg.log")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return exists(report)
	}, "failed file has no report")
	data, _ := os.ReadFile(report)
	if !strings.Contains(string(data), importer.InvalidPackageMessage) {
		t.Errorf("report = %q", data)
	}
	if !exists(filepath.Join(dir, FailedDir, "bad.apkg")) {
		t.Error("failed file not moved to failed/")
	}
}

func TestInbox_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{}
	startWatch(t, dir, svc)

	_ = os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, ".partial.apkg"), []byte("x"), 0o644)
	time.Sleep(300 * time.Millisecond)

	if svc.count() != 0 {
		t.Errorf("queued %d files, want 0", svc.count())
	}
	if !exists(filepath.Join(dir, "readme.txt")) {
		t.Error("unrelated file was moved")
	}
}

func TestInbox_PicksUpExistingAndLeftoverFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, ProcessingDir), 0o755)
	_ = os.WriteFile(filepath.Join(dir, "early.anki2"), []byte("col"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, ProcessingDir, "left.colpkg"), []byte("pkg"), 0o644)

	svc := &fakeService{}
	startWatch(t, dir, svc)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return exists(filepath.Join(dir, DoneDir, "early.anki2")) &&
			exists(filepath.Join(dir, DoneDir, "left.colpkg"))
	}, "existing files not processed")
}

func TestMoveAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, DoneDir)
	_ = os.MkdirAll(dst, 0o755)
	_ = os.WriteFile(filepath.Join(dst, "deck.apkg"), []byte("old"), 0o644)
	src := filepath.Join(dir, "deck.apkg")
	_ = os.WriteFile(src, []byte("new"), 0o644)

	target, err := move(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(target) != "deck-1.apkg" {
		t.Errorf("target = %s, want deck-1.apkg", target)
	}
	data, _ := os.ReadFile(filepath.Join(dst, "deck.apkg"))
	if string(data) != "old" {
		t.Error("existing file overwritten")
	}
}
