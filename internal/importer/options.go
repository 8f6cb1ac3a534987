package importer

import (
	"log/slog"
	"time"
)

// Default tuning values.
const (
	DefaultBatchSize      = 1000
	DefaultMediaPickLimit = 1024
)

// Option configures an Importer.
type Option func(*settings)

type settings struct {
	deckPrefix     string
	allowUpdate    bool
	batchSize      int
	mediaPickLimit int
	tempDir        string
	logger         *slog.Logger
	progress       Progress
	clock          func() time.Time
}

func defaultSettings() settings {
	return settings{
		allowUpdate:    true,
		batchSize:      DefaultBatchSize,
		mediaPickLimit: DefaultMediaPickLimit,
		logger:         slog.Default(),
		progress:       NopProgress{},
		clock:          time.Now,
	}
}

// WithDeckPrefix replaces the top-level deck of every imported card with prefix.
func WithDeckPrefix(prefix string) Option {
	return func(s *settings) {
		s.deckPrefix = prefix
	}
}

// WithAllowUpdate controls whether newer duplicates overwrite existing notes.
func WithAllowUpdate(allow bool) Option {
	return func(s *settings) {
		s.allowUpdate = allow
	}
}

// WithBatchSize sets how many staged rows are held before a bulk write.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMediaPickLimit sets how many leading bytes are compared when two media files
// share a name.
func WithMediaPickLimit(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.mediaPickLimit = n
		}
	}
}

// WithTempDir sets where package contents and scheduler snapshots are unpacked.
func WithTempDir(dir string) Option {
	return func(s *settings) {
		s.tempDir = dir
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress sets the progress sink.
func WithProgress(p Progress) Option {
	return func(s *settings) {
		if p != nil {
			s.progress = p
		}
	}
}

// WithClock overrides the time source used for the source collection's day arithmetic
// and for modification stamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.clock = now
		}
	}
}
