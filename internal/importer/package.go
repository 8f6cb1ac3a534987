package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/media"
)

// Entry names inside a package.
const (
	entryCollection21 = "collection.anki21"
	entryCollection2  = "collection.anki2"
	entryMediaMap     = "media"
)

// InvalidPackageMessage is the log line recorded when a package cannot be read.
const InvalidPackageMessage = "The file is not a valid package."

// ImportPackage merges a package (.apkg or .colpkg) into the destination. The package is
// validated before the destination is touched.
func (im *Importer) ImportPackage(ctx context.Context, path string) (*Result, error) {
	dir, err := os.MkdirTemp(im.tempDir, "pkg-*")
	if err != nil {
		return &Result{}, apperr.NewImportError("prepare package", err)
	}
	defer os.RemoveAll(dir)

	zr, err := zip.OpenReader(path)
	if err != nil {
		return im.invalid(path, err)
	}
	defer zr.Close()

	colPath, src, err := unpack(&zr.Reader, dir)
	if err != nil {
		return im.invalid(path, err)
	}
	probe, err := collection.OpenReadOnly(colPath)
	if err != nil {
		return im.invalid(path, err)
	}
	probe.Close()

	return im.importFile(ctx, colPath, src)
}

func (im *Importer) invalid(path string, cause error) (*Result, error) {
	im.logger.Warn("importer: invalid package", slog.String("package", path), slog.String("error", cause.Error()))
	res := &Result{Log: []string{InvalidPackageMessage}}
	return res, apperr.NewImportError(InvalidPackageMessage, fmt.Errorf("%w: %w", apperr.ErrInvalidPackage, cause))
}

// unpack extracts the collection database into dir and indexes the package's media
// entries by their original, normalized filenames.
func unpack(zr *zip.Reader, dir string) (string, zipSource, error) {
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	colEntry := entries[entryCollection21]
	if colEntry == nil {
		colEntry = entries[entryCollection2]
	}
	if colEntry == nil {
		return "", zipSource{}, fmt.Errorf("no collection entry")
	}
	colPath := filepath.Join(dir, entryCollection2)
	if err := extract(colEntry, colPath); err != nil {
		return "", zipSource{}, err
	}

	src := zipSource{files: make(map[string]*zip.File)}
	mapEntry := entries[entryMediaMap]
	if mapEntry == nil {
		return colPath, src, nil
	}
	rc, err := mapEntry.Open()
	if err != nil {
		return "", zipSource{}, fmt.Errorf("open media map: %w", err)
	}
	defer rc.Close()
	var names map[string]string
	if err := json.NewDecoder(rc).Decode(&names); err != nil {
		return "", zipSource{}, fmt.Errorf("decode media map: %w", err)
	}
	for key, name := range names {
		if f := entries[key]; f != nil {
			src.files[media.Normalize(name)] = f
		}
	}
	return colPath, src, nil
}

func extract(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
