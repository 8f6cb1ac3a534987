package importservice

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/importer"
	"github.com/starford/ankiport/internal/jobs"
	"github.com/starford/ankiport/internal/models"
	"github.com/starford/ankiport/internal/testutil"
)

type env struct {
	svc   *Service
	dir   string
	spool string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	col := testutil.Collection(t, dir, "collection.anki2", testutil.Epoch, testutil.Epoch)
	store := testutil.MediaStore(t, col.Path())
	q := jobs.New(jobs.ImportRunner{
		Collection: col,
		Media:      store,
		Options:    []importer.Option{importer.WithLogger(quiet), importer.WithTempDir(t.TempDir())},
	}, jobs.WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	spool := filepath.Join(dir, "spool")
	return env{svc: NewService(q, col, spool), dir: dir, spool: spool}
}

func (e env) wait(t *testing.T, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := e.svc.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func buildPackage(t *testing.T, dir string) string {
	t.Helper()
	m := testutil.Model(1001, "Basic", []string{"Front", "Back"}, "Card 1")
	src := testutil.Collection(t, filepath.Join(dir, "export"), "collection.anki2", testutil.Epoch, testutil.Epoch)
	n, cards := testutil.Note(m, 1, "guid-1", 100, models.DefaultDeckID, "front", "back")
	testutil.Insert(t, src, m, n, cards...)
	require.NoError(t, src.Close())
	pkg := filepath.Join(dir, "deck.apkg")
	testutil.Package(t, pkg, src.Path(), "collection.anki21", nil)
	return pkg
}

func TestUploadQueuesAndRemovesSpool(t *testing.T) {
	e := newEnv(t)
	pkg := buildPackage(t, e.dir)
	f, err := os.Open(pkg)
	require.NoError(t, err)
	defer f.Close()

	job, err := e.svc.Upload(context.Background(), "../../deck.apkg", f)
	require.NoError(t, err)
	assert.Equal(t, "deck.apkg", job.Name)

	job = e.wait(t, job.ID)
	require.Equal(t, jobs.StateSucceeded, job.State, job.Error)
	assert.Equal(t, 1, job.Result.Added)

	left, err := os.ReadDir(e.spool)
	require.NoError(t, err)
	assert.Empty(t, left)

	st, err := e.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Notes)
	assert.Equal(t, 1, st.Cards)
}

func TestUploadRejectsUnsupported(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Upload(context.Background(), "notes.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, jobs.ErrUnsupported)
	_, statErr := os.Stat(e.spool)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestUploadInvalidPackageFails(t *testing.T) {
	e := newEnv(t)
	job, err := e.svc.Upload(context.Background(), "broken.apkg", strings.NewReader("not a zip"))
	require.NoError(t, err)
	job = e.wait(t, job.ID)
	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Equal(t, []string{importer.InvalidPackageMessage}, job.Result.Log)
}

func TestEnqueue(t *testing.T) {
	e := newEnv(t)
	pkg := buildPackage(t, e.dir)

	job, err := e.svc.Enqueue(pkg)
	require.NoError(t, err)
	job = e.wait(t, job.ID)
	assert.Equal(t, jobs.StateSucceeded, job.State)
	// Local files are left in place.
	_, err = os.Stat(pkg)
	assert.NoError(t, err)

	_, err = e.svc.Enqueue(filepath.Join(e.dir, "missing.apkg"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := e.svc.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Len(t, e.svc.Jobs(), 1)
}
