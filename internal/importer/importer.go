// Package importer merges one collection, or a package holding one, into another:
// notes are deduplicated by guid, ids are remapped, media is reconciled by content, and
// scheduling is rebased onto the destination's day reference.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/media"
)

// Result summarises a finished import.
type Result struct {
	Added       int      `json:"added"`
	Updated     int      `json:"updated"`
	Dupes       int      `json:"dupes"`
	Unchanged   int      `json:"unchanged"`
	Ignored     int      `json:"ignored"`
	Cards       int      `json:"cards"`
	Revlog      int      `json:"revlog"`
	MediaCopied int      `json:"media_copied"`
	Log         []string `json:"log"`
}

// Importer merges collections into one destination collection and its media folder.
// It is not safe for concurrent use.
type Importer struct {
	dst   *collection.Collection
	media *media.Store
	settings
}

// New creates an Importer writing into dst and store.
func New(dst *collection.Collection, store *media.Store, opts ...Option) *Importer {
	im := &Importer{dst: dst, media: store, settings: defaultSettings()}
	for _, opt := range opts {
		opt(&im.settings)
	}
	return im
}

// importRun carries the accumulator state of a single import through its phases.
type importRun struct {
	settings
	src, dst *collection.Collection
	remap    *remapper
	media    *mediaReconciler
	notes    *noteIndex
	result   *Result
}

// ImportCollection merges the collection file at path. Media is read from the folder
// next to it (collection.anki2 -> collection.media) when that folder exists.
func (im *Importer) ImportCollection(ctx context.Context, path string) (*Result, error) {
	return im.importFile(ctx, path, DirSource{Dir: MediaDirFor(path)})
}

// ImportCollectionWithMedia merges the collection file at path reading media from src.
func (im *Importer) ImportCollectionWithMedia(ctx context.Context, path string, src MediaSource) (*Result, error) {
	return im.importFile(ctx, path, src)
}

// MediaDirFor returns the media folder that belongs to a collection file.
func MediaDirFor(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".media"
}

func (im *Importer) importFile(ctx context.Context, path string, srcMedia MediaSource) (*Result, error) {
	res := &Result{}
	im.progress.Report(0, 0, 0)

	src, cleanup, err := im.openSource(ctx, path)
	if err != nil {
		return res, apperr.NewImportError("open source collection", err)
	}
	defer cleanup()

	if err := im.merge(ctx, src, srcMedia, res); err != nil {
		im.logger.Error("importer: import failed", slog.String("source", path), slog.String("error", err.Error()))
		return res, apperr.NewImportError("import failed", err)
	}
	im.postCommit(ctx, res)
	im.logger.Info("importer: import finished",
		slog.String("source", path),
		slog.Int("added", res.Added),
		slog.Int("cards", res.Cards),
		slog.Int("media", res.MediaCopied))
	return res, nil
}

// openSource opens the source read-only. When its scheduler version differs from the
// destination's and it carries scheduling state, a converted snapshot is opened instead
// so the source file itself is never written.
func (im *Importer) openSource(ctx context.Context, path string) (*collection.Collection, func(), error) {
	src, err := collection.OpenReadOnly(path, collection.WithClock(im.clock))
	if err != nil {
		return nil, nil, err
	}
	want := im.dst.SchedVer()
	if src.SchedVer() == want {
		return src, func() { src.Close() }, nil
	}
	scheduled, err := src.HasScheduledCards(ctx)
	if err != nil || !scheduled {
		if err != nil {
			src.Close()
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	}

	dir, err := os.MkdirTemp(im.tempDir, "sched-*")
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("importer: snapshot dir: %w", err)
	}
	removeDir := func() { _ = os.RemoveAll(dir) }
	snapPath := filepath.Join(dir, "collection.anki2")
	err = src.CopyTo(ctx, snapPath)
	src.Close()
	if err != nil {
		removeDir()
		return nil, nil, err
	}
	if err := convertScheduler(ctx, snapPath, want, collection.WithClock(im.clock)); err != nil {
		removeDir()
		return nil, nil, err
	}
	im.logger.Info("importer: converted source scheduler", slog.Int("to", want))

	snap, err := collection.OpenReadOnly(snapPath, collection.WithClock(im.clock))
	if err != nil {
		removeDir()
		return nil, nil, err
	}
	return snap, func() {
		snap.Close()
		removeDir()
	}, nil
}

func convertScheduler(ctx context.Context, path string, ver int, clock collection.Option) error {
	col, err := collection.Open(path, clock)
	if err != nil {
		return err
	}
	defer col.Close()
	if err := col.Begin(ctx); err != nil {
		return err
	}
	if ver == 1 {
		err = col.MoveToV1(ctx)
	} else {
		err = col.MoveToV2(ctx)
	}
	if err != nil {
		_ = col.Rollback(ctx)
		return fmt.Errorf("importer: convert scheduler: %w", err)
	}
	return col.Commit(ctx)
}

// merge runs the note, card, and static media phases inside the destination and media
// index transactions. On error both are rolled back.
func (im *Importer) merge(ctx context.Context, src *collection.Collection, srcMedia MediaSource, res *Result) (err error) {
	if err := im.dst.Begin(ctx); err != nil {
		return err
	}
	if err := im.media.Begin(ctx); err != nil {
		_ = im.dst.Rollback(ctx)
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := im.dst.Rollback(ctx); rerr != nil {
			im.logger.Error("importer: rollback collection", slog.String("error", rerr.Error()))
		}
		if rerr := im.media.Rollback(); rerr != nil {
			im.logger.Error("importer: rollback media index", slog.String("error", rerr.Error()))
		}
	}()

	run := &importRun{
		settings: im.settings,
		src:      src,
		dst:      im.dst,
		remap:    newRemapper(src, im.dst, im.deckPrefix),
		media: &mediaReconciler{
			src:    srcMedia,
			dst:    im.media,
			limit:  im.mediaPickLimit,
			logger: im.logger,
		},
		result: res,
	}

	if im.deckPrefix != "" {
		did, err := im.dst.DeckID(im.deckPrefix)
		if err != nil {
			return err
		}
		im.dst.SelectDeck(did)
	}

	if err := mergeNotes(ctx, run); err != nil {
		return err
	}
	if err := mergeCards(ctx, run); err != nil {
		return err
	}
	if err := run.media.copyStatic(ctx); err != nil {
		return fmt.Errorf("importer: static media: %w", err)
	}
	res.MediaCopied = run.media.copied
	im.progress.Report(100, 100, 25)

	for _, did := range run.remap.mappedDecks() {
		if err := im.dst.MaybeRandomizeDeck(ctx, did); err != nil {
			return err
		}
	}
	im.progress.Report(100, 100, 50)

	if err := im.dst.Commit(ctx); err != nil {
		return err
	}
	committed = true
	if err := im.media.Commit(); err != nil {
		// The collection is already committed; only the add log is lost.
		im.logger.Error("importer: commit media index", slog.String("error", err.Error()))
		_ = im.media.Rollback()
	}
	return nil
}

// postCommit runs best-effort maintenance and recomputes the new-card position.
// Failures are reported in the import log and never fail the import.
func (im *Importer) postCommit(ctx context.Context, res *Result) {
	warn := func(step string, err error) {
		im.logger.Warn("importer: "+step, slog.String("error", err.Error()))
		res.Log = append(res.Log, fmt.Sprintf("Import succeeded, but %s failed; run a database check: %v", step, err))
	}
	if err := im.dst.Vacuum(ctx); err != nil {
		warn("vacuum", err)
	}
	im.progress.Report(100, 100, 65)
	if err := im.dst.Analyze(ctx); err != nil {
		warn("analyze", err)
	}
	im.progress.Report(100, 100, 75)

	if err := im.dst.UpdateNextPos(ctx); err != nil {
		warn("position update", err)
	} else if err := im.dst.Save(ctx); err != nil {
		warn("position update", err)
	}
	im.progress.Report(100, 100, 100)
}

// IsInvalidPackage reports whether err was caused by an unreadable package.
func IsInvalidPackage(err error) bool {
	return errors.Is(err, apperr.ErrInvalidPackage)
}
