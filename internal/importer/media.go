package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/media"
	"github.com/starford/ankiport/internal/mediaref"
)

// mediaReconciler brings the media referenced by imported notes into the destination
// folder, renaming on content conflicts.
type mediaReconciler struct {
	src    MediaSource
	dst    *media.Store
	limit  int
	logger *slog.Logger
	copied int
}

// munge rewrites the media references of a joined field string for a note of the
// destination model mid.
func (m *mediaReconciler) munge(ctx context.Context, mid int64, flds string) (string, error) {
	return mediaref.Rewrite(flds, func(fname string) (string, error) {
		return m.resolve(ctx, mid, fname)
	})
}

// resolve returns the destination filename a reference to fname should use. Only an
// out-of-space failure is returned as an error.
func (m *mediaReconciler) resolve(ctx context.Context, mid int64, fname string) (string, error) {
	srcFile, err := m.src.Open(fname)
	if err != nil {
		return fname, nil
	}
	defer srcFile.Close()

	base, ext := mediaref.SplitFilename(fname)
	lname := fmt.Sprintf("%s_%d%s", base, mid, ext)
	if m.dst.Have(lname) {
		return lname, nil
	}

	src := media.PrefixReader(srcFile, m.limit)
	if !m.dst.Have(fname) {
		_, err := m.write(ctx, fname, src)
		return fname, err
	}

	dstFile, err := m.dst.Open(fname)
	if err != nil {
		m.logger.Warn("importer: open destination media", slog.String("file", fname), slog.String("error", err.Error()))
		return fname, nil
	}
	defer dstFile.Close()
	same, err := media.SamePrefix(src, media.PrefixReader(dstFile, m.limit), m.limit)
	if err != nil {
		m.logger.Warn("importer: compare media", slog.String("file", fname), slog.String("error", err.Error()))
		return fname, nil
	}
	if same {
		return fname, nil
	}

	ok, err := m.write(ctx, lname, src)
	if !ok {
		return fname, err
	}
	return lname, nil
}

// write copies r into the destination under name. A failed copy is logged and reported
// as not written; only running out of space is returned as an error. A file that is in
// place but missing from the index still counts as written.
func (m *mediaReconciler) write(ctx context.Context, name string, r io.Reader) (bool, error) {
	if _, err := m.dst.Write(ctx, name, r); err != nil {
		if errors.Is(err, media.ErrNotRecorded) {
			m.logger.Warn("importer: record media", slog.String("file", name), slog.String("error", err.Error()))
			m.copied++
			return true, nil
		}
		if errors.Is(err, apperr.ErrNoSpace) {
			return false, err
		}
		m.logger.Warn("importer: copy media", slog.String("file", name), slog.String("error", err.Error()))
		return false, nil
	}
	m.copied++
	return true, nil
}

// copyStatic copies the source's static files that the destination lacks.
func (m *mediaReconciler) copyStatic(ctx context.Context) error {
	names, err := m.src.StaticFiles()
	if err != nil {
		m.logger.Warn("importer: list static media", slog.String("error", err.Error()))
		return nil
	}
	for _, name := range names {
		if m.dst.Have(name) {
			continue
		}
		f, err := m.src.Open(name)
		if err != nil {
			m.logger.Warn("importer: open static media", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		_, err = m.write(ctx, name, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
