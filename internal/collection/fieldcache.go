package collection

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/ankiport/internal/checksum"
	"github.com/starford/ankiport/internal/mediaref"
	"github.com/starford/ankiport/internal/models"
)

// idChunk bounds the number of ids bound into a single IN clause.
const idChunk = 500

// UpdateFieldCache recomputes the sort field and first-field checksum of the given notes.
func (c *Collection) UpdateFieldCache(ctx context.Context, nids []int64) error {
	return forChunks(nids, func(chunk []int64) error {
		notes, err := c.notesByID(ctx, chunk)
		if err != nil {
			return err
		}
		for _, n := range notes {
			m := c.models[n.MID]
			if m == nil {
				continue
			}
			fields := n.FieldList()
			sortIdx := m.SortField
			if sortIdx < 0 || sortIdx >= len(fields) {
				sortIdx = 0
			}
			sfld := mediaref.StripHTMLMedia(fields[sortIdx])
			csum := checksum.Field(mediaref.StripHTMLMedia(fields[0]))
			if _, err := c.q().ExecContext(ctx, `UPDATE notes SET sfld = ?, csum = ? WHERE id = ?`, sfld, csum, n.ID); err != nil {
				return fmt.Errorf("collection: update field cache of %d: %w", n.ID, err)
			}
		}
		return nil
	})
}

// RegisterNoteTags adds the tags used by the given notes to the tag registry.
func (c *Collection) RegisterNoteTags(ctx context.Context, nids []int64) error {
	return forChunks(nids, func(chunk []int64) error {
		notes, err := c.notesByID(ctx, chunk)
		if err != nil {
			return err
		}
		for _, n := range notes {
			for _, tag := range n.TagList() {
				if c.hasTag(tag) {
					continue
				}
				c.tags[tag] = c.usn
				c.dirty = true
			}
		}
		return nil
	})
}

func (c *Collection) hasTag(tag string) bool {
	if _, ok := c.tags[tag]; ok {
		return true
	}
	for t := range c.tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (c *Collection) notesByID(ctx context.Context, ids []int64) ([]models.Note, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := c.q().QueryContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("collection: notes by id: %w", err)
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func forChunks(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
