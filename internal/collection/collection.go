// Package collection provides SQLite-backed access to a flashcard collection: notes, cards,
// review history, and the note types, decks, and configuration stored in the col row.
package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ankiport/internal/models"
)

// ErrInvalid is returned when a file does not hold a usable collection.
var ErrInvalid = errors.New("collection: invalid collection file")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Collection wraps one collection database.
type Collection struct {
	path     string
	conn     *sql.DB
	tx       *sql.Tx
	readOnly bool
	closed   bool
	now      func() time.Time

	crt    int64
	mod    int64
	scm    int64
	ver    int
	usn    int
	ls     int64
	conf   map[string]any
	models map[int64]*models.Model
	decks  map[int64]*models.Deck
	dconf  map[int64]*models.DeckConfig
	tags   map[string]int
	dirty  bool
}

// Option configures a Collection.
type Option func(*Collection)

// WithClock overrides the time source used for timestamps and day arithmetic.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) {
		c.now = now
	}
}

// Open opens an existing collection for reading and writing.
func Open(path string, opts ...Option) (*Collection, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("collection: stat %s: %w", path, err)
	}
	return open(path, path+"?_journal_mode=WAL&_busy_timeout=5000", false, opts)
}

// OpenReadOnly opens an existing collection without write access.
func OpenReadOnly(path string, opts ...Option) (*Collection, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("collection: stat %s: %w", path, err)
	}
	return open(path, "file:"+path+"?mode=ro&_busy_timeout=5000", true, opts)
}

// Create creates a new empty collection at path with a default deck and options group.
// crt is the creation time that anchors day arithmetic.
func Create(path string, crt time.Time, opts ...Option) (*Collection, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("collection: open db: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("collection: apply schema: %w", err)
	}

	decks, _ := json.Marshal(map[string]*models.Deck{
		"1": {ID: models.DefaultDeckID, Name: "Default", Conf: models.DefaultConfigID, Extra: models.NewDeckExtra()},
	})
	dconf, _ := json.Marshal(map[string]*models.DeckConfig{
		"1": defaultDeckConfig(),
	})
	conf, _ := json.Marshal(map[string]any{
		"nextPos":  1,
		"schedVer": 2,
		"curDeck":  models.DefaultDeckID,
	})
	ms := crt.UnixMilli()
	_, err = conn.Exec(`
		INSERT OR IGNORE INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		VALUES (1, ?, ?, ?, ?, 0, 0, 0, ?, '{}', ?, ?, '{}')
	`, crt.Unix(), ms, ms, schemaVersion, string(conf), string(decks), string(dconf))
	if err != nil {
		return nil, fmt.Errorf("collection: insert col row: %w", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("collection: close: %w", err)
	}
	return Open(path, opts...)
}

func open(path, dsn string, readOnly bool, opts []Option) (*Collection, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("collection: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("collection: ping: %w", err)
	}
	if !readOnly {
		// A single writer connection keeps transaction state on one handle.
		conn.SetMaxOpenConns(1)
	}
	c := &Collection{
		path:     path,
		conn:     conn,
		readOnly: readOnly,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.load(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database. An open transaction is rolled back. Closing
// twice is a no-op.
func (c *Collection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.conn.Close()
}

// Path returns the file path of the collection.
func (c *Collection) Path() string { return c.path }

// ReadOnly reports whether the collection was opened without write access.
func (c *Collection) ReadOnly() bool { return c.readOnly }

func (c *Collection) q() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// Begin starts a transaction; every subsequent operation runs inside it until
// Commit or Rollback.
func (c *Collection) Begin(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("collection: transaction already open")
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("collection: begin tx: %w", err)
	}
	c.tx = tx
	return nil
}

// InTx reports whether a transaction is open.
func (c *Collection) InTx() bool { return c.tx != nil }

// Commit writes pending col row changes and commits the open transaction.
func (c *Collection) Commit(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("collection: no open transaction")
	}
	if err := c.flush(ctx); err != nil {
		return err
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		_ = c.load(ctx)
		return fmt.Errorf("collection: commit: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction and discards in-memory changes.
func (c *Collection) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	err := tx.Rollback()
	// The registries must be reloaded even when ctx is what aborted the transaction.
	if lerr := c.load(context.WithoutCancel(ctx)); lerr != nil {
		return lerr
	}
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("collection: rollback: %w", err)
	}
	return nil
}

// Save writes pending col row changes outside of a transaction.
func (c *Collection) Save(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("collection: save inside transaction, use Commit")
	}
	return c.flush(ctx)
}

func (c *Collection) load(ctx context.Context) error {
	var confJSON, modelsJSON, decksJSON, dconfJSON, tagsJSON string
	err := c.q().QueryRowContext(ctx, `
		SELECT crt, mod, scm, ver, usn, ls, conf, models, decks, dconf, tags FROM col
	`).Scan(&c.crt, &c.mod, &c.scm, &c.ver, &c.usn, &c.ls, &confJSON, &modelsJSON, &decksJSON, &dconfJSON, &tagsJSON)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, c.path, err)
	}

	conf := map[string]any{}
	if err := json.Unmarshal([]byte(confJSON), &conf); err != nil {
		return fmt.Errorf("%w: conf: %v", ErrInvalid, err)
	}
	rawModels := map[string]*models.Model{}
	if err := json.Unmarshal([]byte(modelsJSON), &rawModels); err != nil {
		return fmt.Errorf("%w: models: %v", ErrInvalid, err)
	}
	rawDecks := map[string]*models.Deck{}
	if err := json.Unmarshal([]byte(decksJSON), &rawDecks); err != nil {
		return fmt.Errorf("%w: decks: %v", ErrInvalid, err)
	}
	rawConf := map[string]*models.DeckConfig{}
	if err := json.Unmarshal([]byte(dconfJSON), &rawConf); err != nil {
		return fmt.Errorf("%w: dconf: %v", ErrInvalid, err)
	}
	tags := map[string]int{}
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return fmt.Errorf("%w: tags: %v", ErrInvalid, err)
	}

	c.conf = conf
	c.models = make(map[int64]*models.Model, len(rawModels))
	for _, m := range rawModels {
		c.models[m.ID] = m
	}
	c.decks = make(map[int64]*models.Deck, len(rawDecks))
	for _, d := range rawDecks {
		c.decks[d.ID] = d
	}
	c.dconf = make(map[int64]*models.DeckConfig, len(rawConf))
	for _, dc := range rawConf {
		c.dconf[dc.ID] = dc
	}
	c.tags = tags
	c.dirty = false
	return nil
}

func (c *Collection) flush(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	if c.readOnly {
		return fmt.Errorf("collection: %s is read-only", c.path)
	}
	c.mod = c.now().UnixMilli()

	rawModels := make(map[string]*models.Model, len(c.models))
	for id, m := range c.models {
		rawModels[strconv.FormatInt(id, 10)] = m
	}
	rawDecks := make(map[string]*models.Deck, len(c.decks))
	for id, d := range c.decks {
		rawDecks[strconv.FormatInt(id, 10)] = d
	}
	rawConf := make(map[string]*models.DeckConfig, len(c.dconf))
	for id, dc := range c.dconf {
		rawConf[strconv.FormatInt(id, 10)] = dc
	}

	confJSON, err := json.Marshal(c.conf)
	if err != nil {
		return fmt.Errorf("collection: marshal conf: %w", err)
	}
	modelsJSON, err := json.Marshal(rawModels)
	if err != nil {
		return fmt.Errorf("collection: marshal models: %w", err)
	}
	decksJSON, err := json.Marshal(rawDecks)
	if err != nil {
		return fmt.Errorf("collection: marshal decks: %w", err)
	}
	dconfJSON, err := json.Marshal(rawConf)
	if err != nil {
		return fmt.Errorf("collection: marshal dconf: %w", err)
	}
	tagsJSON, err := json.Marshal(c.tags)
	if err != nil {
		return fmt.Errorf("collection: marshal tags: %w", err)
	}

	_, err = c.q().ExecContext(ctx, `
		UPDATE col SET crt = ?, mod = ?, scm = ?, ver = ?, usn = ?, ls = ?,
			conf = ?, models = ?, decks = ?, dconf = ?, tags = ?
	`, c.crt, c.mod, c.scm, c.ver, c.usn, c.ls,
		string(confJSON), string(modelsJSON), string(decksJSON), string(dconfJSON), string(tagsJSON))
	if err != nil {
		return fmt.Errorf("collection: update col: %w", err)
	}
	c.dirty = false
	return nil
}

// USN returns the update sequence number stamped on local changes.
func (c *Collection) USN() int { return c.usn }

// Now returns the current time of the collection clock.
func (c *Collection) Now() time.Time { return c.now() }

// IntTime returns the current time in seconds.
func (c *Collection) IntTime() int64 { return c.now().Unix() }

// Created returns the creation timestamp in seconds.
func (c *Collection) Created() int64 { return c.crt }

// SetCreated overrides the creation timestamp, shifting the collection's day reference.
func (c *Collection) SetCreated(crt int64) {
	c.crt = crt
	c.dirty = true
}

// SchemaModified returns the schema modification time in milliseconds.
func (c *Collection) SchemaModified() int64 { return c.scm }

// ModSchema marks the schema as changed. It must be called before bulk model
// mutation so that the next sync is a full one.
func (c *Collection) ModSchema() {
	c.scm = c.now().UnixMilli()
	c.dirty = true
}

// Config returns a collection configuration value.
func (c *Collection) Config(key string) (any, bool) {
	v, ok := c.conf[key]
	return v, ok
}

// SetConfig stores a collection configuration value.
func (c *Collection) SetConfig(key string, v any) {
	c.conf[key] = v
	c.dirty = true
}

func (c *Collection) configInt(key string, def int64) int64 {
	v, ok := c.conf[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i
		}
	}
	return def
}

// nextID returns a millisecond timestamp id that is not a key of used.
func nextID[T any](now time.Time, used map[int64]T) int64 {
	id := now.UnixMilli()
	for {
		if _, ok := used[id]; !ok {
			return id
		}
		id++
	}
}

func defaultDeckConfig() *models.DeckConfig {
	return &models.DeckConfig{
		ID:   models.DefaultConfigID,
		Name: "Default",
		New: models.NewConfig{
			Order:         models.NewCardsDue,
			PerDay:        20,
			Delays:        []float64{1, 10},
			InitialFactor: models.StartingFactor,
			Extra: models.Extra{
				"ints":     json.RawMessage(`[1,4,7]`),
				"bury":     json.RawMessage(`true`),
				"separate": json.RawMessage(`true`),
			},
		},
		Rev: models.RevConfig{
			PerDay: 200,
			Ease4:  1.3,
			MaxIvl: 36500,
			Extra: models.Extra{
				"fuzz":     json.RawMessage(`0.05`),
				"ivlFct":   json.RawMessage(`1`),
				"bury":     json.RawMessage(`true`),
				"minSpace": json.RawMessage(`1`),
			},
		},
		Extra: models.Extra{
			"lapse":    json.RawMessage(`{"delays":[10],"mult":0,"minInt":1,"leechFails":8,"leechAction":0}`),
			"maxTaken": json.RawMessage(`60`),
			"timer":    json.RawMessage(`0`),
			"autoplay": json.RawMessage(`true`),
			"replayq":  json.RawMessage(`true`),
			"dyn":      json.RawMessage(`false`),
		},
	}
}
