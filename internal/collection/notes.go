package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/models"
)

// NoteRef is the identity and version of a note, keyed elsewhere by guid.
type NoteRef struct {
	ID  int64
	Mod int64
	MID int64
}

const noteColumns = `id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data`

// NoteCount returns the number of notes.
func (c *Collection) NoteCount(ctx context.Context) (int, error) {
	return c.count(ctx, `SELECT count() FROM notes`)
}

// ForEachNoteRef calls fn with the id, guid, mod, and mid of every note.
func (c *Collection) ForEachNoteRef(ctx context.Context, fn func(guid string, ref NoteRef)) error {
	rows, err := c.q().QueryContext(ctx, `SELECT id, guid, mod, mid FROM notes`)
	if err != nil {
		return fmt.Errorf("collection: note refs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var guid string
		var ref NoteRef
		if err := rows.Scan(&ref.ID, &guid, &ref.Mod, &ref.MID); err != nil {
			return fmt.Errorf("collection: scan note ref: %w", err)
		}
		fn(guid, ref)
	}
	return rows.Err()
}

// ForEachNote streams every note, in id order, to fn. Iteration stops at the first error.
func (c *Collection) ForEachNote(ctx context.Context, fn func(n models.Note) error) error {
	rows, err := c.q().QueryContext(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY id`)
	if err != nil {
		return fmt.Errorf("collection: stream notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Note returns the note with the given id.
func (c *Collection) Note(ctx context.Context, id int64) (*models.Note, error) {
	row := c.q().QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// NoteByGUID returns the note with the given guid.
func (c *Collection) NoteByGUID(ctx context.Context, guid string) (*models.Note, error) {
	row := c.q().QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE guid = ?`, guid)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// InsertNotes writes notes with insert-or-replace semantics in one prepared batch.
func (c *Collection) InsertNotes(ctx context.Context, notes []models.Note) error {
	if len(notes) == 0 {
		return nil
	}
	return c.execMany(ctx, `INSERT OR REPLACE INTO notes VALUES (?,?,?,?,?,?,?,?,?,?,?)`, len(notes), func(i int) []any {
		n := notes[i]
		return []any{n.ID, n.GUID, n.MID, n.Mod, n.USN, n.Tags, n.Fields, n.SortField, n.Checksum, n.Flags, n.Data}
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (models.Note, error) {
	var n models.Note
	var sfld any
	err := s.Scan(&n.ID, &n.GUID, &n.MID, &n.Mod, &n.USN, &n.Tags, &n.Fields, &sfld, &n.Checksum, &n.Flags, &n.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return n, err
		}
		return n, fmt.Errorf("collection: scan note: %w", err)
	}
	n.SortField = asString(sfld)
	return n, nil
}

// sfld is declared INTEGER so numeric sort fields sort numerically; it may come back
// as any storage class.
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func (c *Collection) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := c.q().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("collection: count: %w", err)
	}
	return n, nil
}

// execMany runs query once per row inside the current transaction, or inside a
// short transaction of its own when none is open.
func (c *Collection) execMany(ctx context.Context, query string, n int, row func(i int) []any) error {
	if c.tx == nil {
		if err := c.Begin(ctx); err != nil {
			return err
		}
		if err := c.execMany(ctx, query, n, row); err != nil {
			_ = c.Rollback(ctx)
			return err
		}
		return c.Commit(ctx)
	}
	stmt, err := c.tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("collection: prepare: %w", err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("collection: exec batch row %d: %w", i, err)
		}
	}
	return nil
}
