package jobs

import (
	"context"
	"fmt"
	"slices"

	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/importer"
	"github.com/starford/ankiport/internal/media"
)

// ImportRunner runs jobs against one destination collection and media folder.
type ImportRunner struct {
	Collection *collection.Collection
	Media      *media.Store
	Options    []importer.Option
}

// Run implements Runner.
func (r ImportRunner) Run(ctx context.Context, job Job, progress importer.Progress) (*importer.Result, error) {
	opts := append(slices.Clip(r.Options), importer.WithProgress(progress))
	im := importer.New(r.Collection, r.Media, opts...)
	switch job.Kind {
	case KindPackage:
		return im.ImportPackage(ctx, job.Source)
	case KindCollection:
		return im.ImportCollection(ctx, job.Source)
	default:
		return nil, fmt.Errorf("jobs: %w: %s", ErrUnsupported, job.Kind)
	}
}
