package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/starford/ankiport/internal/media"
)

// MediaSource gives read access to the media files of the collection being imported.
type MediaSource interface {
	// Open opens the named file. Missing files yield an error matching os.ErrNotExist.
	Open(name string) (io.ReadCloser, error)
	// StaticFiles lists files that are copied whether or not a note references them.
	StaticFiles() ([]string, error)
}

// DirSource reads media from a collection's media folder.
type DirSource struct {
	Dir string
}

// Open implements MediaSource.
func (s DirSource) Open(name string) (io.ReadCloser, error) {
	if s.Dir == "" || name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("importer: media %q: %w", name, os.ErrNotExist)
	}
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		f, err = os.Open(filepath.Join(s.Dir, media.Normalize(name)))
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// StaticFiles implements MediaSource. Files prefixed with an underscore are static.
func (s DirSource) StaticFiles() ([]string, error) {
	if s.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("importer: list media: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), "_") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// zipSource reads media stored inside a package under numeric entry names.
type zipSource struct {
	files map[string]*zip.File
}

func (s zipSource) Open(name string) (io.ReadCloser, error) {
	f, ok := s.files[media.Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("importer: media %q: %w", name, os.ErrNotExist)
	}
	return f.Open()
}

// StaticFiles lists underscore and latex- prefixed files.
func (s zipSource) StaticFiles() ([]string, error) {
	var out []string
	for name := range s.files {
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, "latex-") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
