package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/models"
)

// idStride is added to a source id until it no longer collides with a destination id.
const idStride = 999

// noteIndex is the note state shared between the note and card phases.
type noteIndex struct {
	byGUID  map[string]collection.NoteRef
	used    map[int64]struct{}
	ignored map[string]struct{}
}

func loadNoteIndex(ctx context.Context, dst *collection.Collection) (*noteIndex, error) {
	idx := &noteIndex{
		byGUID:  make(map[string]collection.NoteRef),
		used:    make(map[int64]struct{}),
		ignored: make(map[string]struct{}),
	}
	err := dst.ForEachNoteRef(ctx, func(guid string, ref collection.NoteRef) {
		idx.byGUID[guid] = ref
		idx.used[ref.ID] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// claim returns the first id at or above id, in steps of idStride, that is unused and
// marks it used.
func claim(used map[int64]struct{}, id int64) int64 {
	for {
		if _, ok := used[id]; !ok {
			used[id] = struct{}{}
			return id
		}
		id += idStride
	}
}

// mergeNotes streams the source notes into the destination, adding new guids and
// updating older duplicates of compatible note types.
func mergeNotes(ctx context.Context, r *importRun) error {
	idx, err := loadNoteIndex(ctx, r.dst)
	if err != nil {
		return err
	}
	r.notes = idx

	total, err := r.src.NoteCount(ctx)
	if err != nil {
		return err
	}
	tk := newTicker(total, func(pct int) { r.progress.Report(pct, 0, 0) })
	usn := r.dst.USN()

	var (
		add, update []models.Note
		dirty       []int64
		conflicts   []string
	)
	flush := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.dst.InsertNotes(ctx, add); err != nil {
			return err
		}
		if err := r.dst.InsertNotes(ctx, update); err != nil {
			return err
		}
		r.logger.Debug("importer: flushed notes", slog.Int("added", len(add)), slog.Int("updated", len(update)))
		add, update = add[:0], update[:0]
		return nil
	}
	refresh := func() error {
		if err := r.dst.UpdateFieldCache(ctx, dirty); err != nil {
			return err
		}
		if err := r.dst.RegisterNoteTags(ctx, dirty); err != nil {
			return err
		}
		dirty = dirty[:0]
		return nil
	}

	err = r.src.ForEachNote(ctx, func(n models.Note) error {
		defer tk.tick()
		mid, err := r.remap.model(n.MID)
		if err != nil {
			return err
		}
		existing, found := idx.byGUID[n.GUID]
		switch {
		case !found:
			n.ID = claim(idx.used, n.ID)
			n.MID = mid
			n.USN = usn
			if n.Fields, err = r.media.munge(ctx, mid, n.Fields); err != nil {
				return err
			}
			add = append(add, n)
			dirty = append(dirty, n.ID)
			idx.byGUID[n.GUID] = collection.NoteRef{ID: n.ID, Mod: n.Mod, MID: mid}
			r.result.Added++
		case existing.MID != mid:
			r.result.Dupes++
			r.result.Ignored++
			idx.ignored[n.GUID] = struct{}{}
			conflicts = append(conflicts, fmt.Sprintf("%s: %s",
				r.modelName(existing.MID), strings.ReplaceAll(n.Fields, models.FieldSeparator, ",")))
		case r.allowUpdate && existing.Mod < n.Mod:
			r.result.Dupes++
			n.ID = existing.ID
			n.MID = mid
			n.USN = usn
			if n.Fields, err = r.media.munge(ctx, mid, n.Fields); err != nil {
				return err
			}
			update = append(update, n)
			dirty = append(dirty, n.ID)
			idx.byGUID[n.GUID] = collection.NoteRef{ID: n.ID, Mod: n.Mod, MID: mid}
			r.result.Updated++
		default:
			r.result.Dupes++
			r.result.Unchanged++
		}

		if len(add) >= r.batchSize || len(update) >= r.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		if len(dirty) >= r.batchSize {
			// Staged rows must reach the table before their caches are rebuilt.
			if err := flush(); err != nil {
				return err
			}
			return refresh()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("importer: merge notes: %w", err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("importer: merge notes: %w", err)
	}
	if err := refresh(); err != nil {
		return fmt.Errorf("importer: refresh note caches: %w", err)
	}
	r.progress.Report(100, 0, 0)

	r.result.Log = append(r.result.Log, fmt.Sprintf("%d notes added, %d notes updated, %d notes unchanged.",
		r.result.Added, r.result.Updated, r.result.Unchanged))
	if len(conflicts) > 0 {
		r.result.Log = append(r.result.Log, "Some updates were ignored because the note type has changed:")
		r.result.Log = append(r.result.Log, conflicts...)
	}
	r.logger.Info("importer: notes merged",
		slog.Int("added", r.result.Added),
		slog.Int("updated", r.result.Updated),
		slog.Int("unchanged", r.result.Unchanged),
		slog.Int("ignored", r.result.Ignored))
	return nil
}

func (r *importRun) modelName(mid int64) string {
	if m := r.dst.Model(mid); m != nil {
		return m.Name
	}
	return fmt.Sprintf("note type %d", mid)
}
