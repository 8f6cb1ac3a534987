package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ankiport/internal/importer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Collection CollectionConfig  `yaml:"collection"`
	Import     ImportConfig      `yaml:"import"`
	Inbox      InboxConfig       `yaml:"inbox"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Collection.Validate(); err != nil {
		return err
	}
	if err := c.Import.Validate(); err != nil {
		return err
	}
	if err := c.Inbox.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// MaxUploadMB bounds uploaded package size.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *HTTPConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.MaxUploadMB, validation.Min(1)),
	)
}

// CollectionConfig locates the destination collection and its media folder.
type CollectionConfig struct {
	Path     string `yaml:"path"`
	MediaDir string `yaml:"media_dir"`
	MediaDB  string `yaml:"media_db"`
}

// Validate validates the collection configuration.
func (c *CollectionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// MediaDirPath returns the media folder, defaulting to the one next to the collection.
func (c *CollectionConfig) MediaDirPath() string {
	if c.MediaDir != "" {
		return c.MediaDir
	}
	return strings.TrimSuffix(c.Path, filepath.Ext(c.Path)) + ".media"
}

// MediaDBPath returns the media index database path.
func (c *CollectionConfig) MediaDBPath() string {
	if c.MediaDB != "" {
		return c.MediaDB
	}
	return c.MediaDirPath() + ".db"
}

// ImportConfig holds the merge settings and the job queue limits.
type ImportConfig struct {
	DeckPrefix     string `yaml:"deck_prefix"`
	AllowUpdate    bool   `yaml:"allow_update"`
	BatchSize      int    `yaml:"batch_size"`
	MediaPickLimit int    `yaml:"media_pick_limit"`
	SpoolDir       string `yaml:"spool_dir"`
	TempDir        string `yaml:"temp_dir"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	RetainJobs     int    `yaml:"retain_jobs"`
}

// Validate validates the import configuration.
func (c *ImportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MediaPickLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.SpoolDir, validation.Required),
		validation.Field(&c.QueueCapacity, validation.Min(1)),
		validation.Field(&c.RetainJobs, validation.Min(1)),
	)
}

// Options converts the configuration into importer options.
func (c *ImportConfig) Options(logger *slog.Logger) []importer.Option {
	return []importer.Option{
		importer.WithDeckPrefix(c.DeckPrefix),
		importer.WithAllowUpdate(c.AllowUpdate),
		importer.WithBatchSize(c.BatchSize),
		importer.WithMediaPickLimit(c.MediaPickLimit),
		importer.WithTempDir(c.TempDir),
		importer.WithLogger(logger),
	}
}

// InboxConfig holds the drop directory watcher configuration.
type InboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	Settle  time.Duration `yaml:"settle"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Settle, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:        8080,
				MaxUploadMB: 512,
			},
		},
		Collection: CollectionConfig{
			Path: "./data/collection.anki2",
		},
		Import: ImportConfig{
			AllowUpdate:    true,
			BatchSize:      importer.DefaultBatchSize,
			MediaPickLimit: importer.DefaultMediaPickLimit,
			SpoolDir:       "./data/spool",
			QueueCapacity:  64,
			RetainJobs:     100,
		},
		Inbox: InboxConfig{
			Path:   "./data/inbox",
			Settle: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
