package importer

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/models"
	"github.com/starford/ankiport/internal/testutil"
)

// failingReader yields data and then fails with err.
type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

// memSource serves media from memory. Names listed in broken fail mid-read.
type memSource struct {
	files  map[string]string
	broken map[string]error
	static []string
}

func (s memSource) Open(name string) (io.ReadCloser, error) {
	if err, ok := s.broken[name]; ok {
		return &failingReader{data: "partial", err: err}, nil
	}
	data, ok := s.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (s memSource) StaticFiles() ([]string, error) { return s.static, nil }

var errDiskFull = &os.PathError{Op: "read", Path: "big.png", Err: syscall.ENOSPC}

func mediaSource(t *testing.T, dir string) string {
	t.Helper()
	m1 := basic()
	return source(t, dir, "src.anki2", testutil.Epoch, func(col *collection.Collection) {
		n, cards := testutil.Note(m1, 1, "img", 100, models.DefaultDeckID, `<img src="big.png">`, "b")
		testutil.Insert(t, col, m1, n, cards...)
	})
}

func TestImportAbortsWhenMediaRunsOutOfSpace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := mediaSource(t, dir)
	d := newDest(t, dir, testutil.Epoch)

	_, err := d.importer().ImportCollectionWithMedia(ctx, src, memSource{
		broken: map[string]error{"big.png": errDiskFull},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNoSpace)
	var ie *apperr.ImportError
	assert.True(t, errors.As(err, &ie))

	assert.Zero(t, noteCount(t, d.col))
	assert.Zero(t, cardCount(t, d.col))
	assert.Nil(t, d.col.Model(basic().ID))
	assert.False(t, d.col.InTx())
	assert.False(t, d.store.Have("big.png"))
	entries, err := d.store.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportAbortsWhenStaticMediaRunsOutOfSpace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := mediaSource(t, dir)
	d := newDest(t, dir, testutil.Epoch)

	_, err := d.importer().ImportCollectionWithMedia(ctx, src, memSource{
		files:  map[string]string{"big.png": "png"},
		broken: map[string]error{"_font.ttf": errDiskFull},
		static: []string{"_font.ttf"},
	})
	require.ErrorIs(t, err, apperr.ErrNoSpace)

	assert.Zero(t, noteCount(t, d.col))
	assert.Zero(t, cardCount(t, d.col))
	entries, err := d.store.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportSkipsUnreadableMedia(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := mediaSource(t, dir)
	d := newDest(t, dir, testutil.Epoch)

	res, err := d.importer().ImportCollectionWithMedia(ctx, src, memSource{
		broken: map[string]error{"big.png": io.ErrUnexpectedEOF},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Zero(t, res.MediaCopied)
	assert.False(t, d.store.Have("big.png"))

	n, err := d.col.NoteByGUID(ctx, "img")
	require.NoError(t, err)
	assert.Contains(t, n.Fields, `<img src="big.png">`)
}

func TestResolveKeepsRenamedFileWhenIndexFails(t *testing.T) {
	ctx := context.Background()
	d := newDest(t, t.TempDir(), testutil.Epoch)
	_, err := d.store.Write(ctx, "a.png", strings.NewReader("destination"))
	require.NoError(t, err)
	// With the index closed the copy lands on disk but cannot be recorded.
	require.NoError(t, d.store.Close())

	m := &mediaReconciler{
		src:    memSource{files: map[string]string{"a.png": "source"}},
		dst:    d.store,
		limit:  DefaultMediaPickLimit,
		logger: quietLogger(),
	}
	got, err := m.resolve(ctx, 42, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "a_42.png", got)
	assert.True(t, d.store.Have("a_42.png"))
}
