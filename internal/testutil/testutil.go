// Package testutil provides shared test helpers for building collections, media folders,
// and packages.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/media"
	"github.com/starford/ankiport/internal/models"
)

// Day is one scheduler day.
const Day = 24 * time.Hour

// Epoch is the reference instant fixtures are created around.
var Epoch = time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC)

// Clock returns a fixed time source.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Collection creates a collection file named name in dir, created at crt and observing
// now. It is closed when the test ends.
func Collection(t testing.TB, dir, name string, crt, now time.Time) *collection.Collection {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	col, err := collection.Create(filepath.Join(dir, name), crt, collection.WithClock(Clock(now)))
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	t.Cleanup(func() { col.Close() })
	return col
}

// MediaStore opens the media folder belonging to the collection file colPath.
func MediaStore(t testing.TB, colPath string) *media.Store {
	t.Helper()
	dir := strings.TrimSuffix(colPath, filepath.Ext(colPath)) + ".media"
	store, err := media.Open(dir, dir+".db")
	if err != nil {
		t.Fatalf("open media store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Model builds a note type with the given fields and one template per template name.
func Model(id int64, name string, fields []string, templates ...string) *models.Model {
	m := &models.Model{ID: id, Name: name, CSS: ".card {}"}
	for i, f := range fields {
		m.Fields = append(m.Fields, models.Field{Name: f, Ord: i, Font: "Arial", Size: 20})
	}
	for i, tn := range templates {
		m.Templates = append(m.Templates, models.Template{
			Name: tn,
			Ord:  i,
			Qfmt: "{{" + fields[0] + "}}",
			Afmt: "{{FrontSide}}<hr id=answer>{{" + fields[len(fields)-1] + "}}",
		})
	}
	return m
}

// Note builds a note with one card per template of m, all placed in deck did.
func Note(m *models.Model, id int64, guid string, mod int64, did int64, fields ...string) (models.Note, []models.Card) {
	n := models.Note{
		ID:     id,
		GUID:   guid,
		MID:    m.ID,
		Mod:    mod,
		Fields: models.JoinFields(fields),
	}
	cards := make([]models.Card, len(m.Templates))
	for i := range m.Templates {
		cards[i] = models.Card{
			ID:     id*10 + int64(i),
			NID:    id,
			DID:    did,
			Ord:    i,
			Mod:    mod,
			Type:   models.CardTypeNew,
			Queue:  models.QueueNew,
			Due:    id,
			Factor: models.StartingFactor,
		}
	}
	return n, cards
}

// Insert writes a note with its cards and registers the note type first.
func Insert(t testing.TB, col *collection.Collection, m *models.Model, n models.Note, cards ...models.Card) {
	t.Helper()
	ctx := context.Background()
	if col.Model(m.ID) == nil {
		cp, err := m.Clone()
		if err != nil {
			t.Fatalf("clone model: %v", err)
		}
		col.UpdateModel(cp)
		if err := col.Save(ctx); err != nil {
			t.Fatalf("save model: %v", err)
		}
	}
	if err := col.InsertNotes(ctx, []models.Note{n}); err != nil {
		t.Fatalf("insert note: %v", err)
	}
	if err := col.InsertCards(ctx, cards); err != nil {
		t.Fatalf("insert cards: %v", err)
	}
	if err := col.UpdateFieldCache(ctx, []int64{n.ID}); err != nil {
		t.Fatalf("field cache: %v", err)
	}
}

// WriteFile writes data to dir/name, creating dir.
func WriteFile(t testing.TB, dir, name string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile reads dir/name.
func ReadFile(t testing.TB, dir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

// Package writes a package at path holding the collection file colPath under
// entryName and the given media files.
func Package(t testing.TB, path, colPath, entryName string, files map[string][]byte) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	zw := zip.NewWriter(out)

	w, err := zw.Create(entryName)
	if err != nil {
		t.Fatal(err)
	}
	colData, err := os.ReadFile(colPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(colData); err != nil {
		t.Fatal(err)
	}

	names := make(map[string]string, len(files))
	i := 0
	for name, data := range files {
		key := strconv.Itoa(i)
		i++
		names[key] = name
		w, err := zw.Create(key)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	mw, err := zw.Create("media")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(mw).Encode(names); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}
