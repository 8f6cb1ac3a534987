package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/models"
	"github.com/starford/ankiport/internal/testutil"
)

func TestImportPackage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m1 := basic()
	srcDir := filepath.Join(dir, "export")
	src := source(t, srcDir, "collection.anki2", testutil.Epoch, func(col *collection.Collection) {
		n, cards := testutil.Note(m1, 1, "g", 100, models.DefaultDeckID, "<img src=\"caf\u00e9.jpg\">", "[sound:hello.mp3]")
		testutil.Insert(t, col, m1, n, cards...)
	})
	pkg := filepath.Join(dir, "deck.apkg")
	// The package stores the decomposed form; notes reference the composed one.
	testutil.Package(t, pkg, src, "collection.anki21", map[string][]byte{
		"cafe\u0301.jpg": []byte("jpeg"),
		"hello.mp3":      []byte("mp3"),
		"_font.ttf":      []byte("font"),
		"latex-abc.png":  []byte("latex"),
		"unused.png":     []byte("unused"),
	})

	d := newDest(t, dir, testutil.Epoch)
	res, err := d.importer(WithTempDir(t.TempDir())).ImportPackage(ctx, pkg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 4, res.MediaCopied)

	assert.Equal(t, "jpeg", string(testutil.ReadFile(t, d.store.Dir(), "caf\u00e9.jpg")))
	assert.True(t, d.store.Have("hello.mp3"))
	assert.True(t, d.store.Have("_font.ttf"))
	assert.True(t, d.store.Have("latex-abc.png"))
	assert.False(t, d.store.Have("unused.png"))

	n, err := d.col.NoteByGUID(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "<img src=\"caf\u00e9.jpg\">\x1f[sound:hello.mp3]", n.Fields)
}

func TestImportPackagePrefersAnki21(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m1 := basic()
	old := source(t, filepath.Join(dir, "old"), "collection.anki2", testutil.Epoch, func(col *collection.Collection) {
		n, cards := testutil.Note(m1, 1, "legacy", 100, models.DefaultDeckID, "f", "b")
		testutil.Insert(t, col, m1, n, cards...)
	})
	cur := source(t, filepath.Join(dir, "new"), "collection.anki2", testutil.Epoch, func(col *collection.Collection) {
		n, cards := testutil.Note(m1, 1, "current", 100, models.DefaultDeckID, "f", "b")
		testutil.Insert(t, col, m1, n, cards...)
	})

	pkg := filepath.Join(dir, "both.apkg")
	out, err := os.Create(pkg)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, path := range map[string]string{"collection.anki2": old, "collection.anki21": cur} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	d := newDest(t, dir, testutil.Epoch)
	_, err = d.importer().ImportPackage(ctx, pkg)
	require.NoError(t, err)

	_, err = d.col.NoteByGUID(ctx, "current")
	assert.NoError(t, err)
	_, err = d.col.NoteByGUID(ctx, "legacy")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestImportInvalidPackage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.apkg")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a zip"), 0o644))

	noCollection := filepath.Join(dir, "empty.apkg")
	out, err := os.Create(noCollection)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("media")
	require.NoError(t, err)
	_, err = w.Write([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	badCollection := filepath.Join(dir, "bad.apkg")
	testutil.WriteFile(t, dir, "fake.anki2", []byte("not sqlite"))
	testutil.Package(t, badCollection, filepath.Join(dir, "fake.anki2"), "collection.anki2", nil)

	d := newDest(t, dir, testutil.Epoch)
	for _, pkg := range []string{garbage, noCollection, badCollection} {
		t.Run(filepath.Base(pkg), func(t *testing.T) {
			res, err := d.importer().ImportPackage(ctx, pkg)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrInvalidPackage)
			assert.True(t, IsInvalidPackage(err))
			assert.Equal(t, []string{InvalidPackageMessage}, res.Log)
			assert.Zero(t, noteCount(t, d.col))
			assert.False(t, d.col.InTx())
		})
	}
}
