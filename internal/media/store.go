// Package media manages a collection's media folder and the index database that
// records which files were added locally.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/checksum"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS media (
	fname TEXT PRIMARY KEY,
	csum  TEXT,
	mtime INTEGER NOT NULL,
	dirty INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_dirty ON media (dirty);
`

// ErrNotRecorded is returned by Write when the file reached the folder but the index
// could not record it.
var ErrNotRecorded = errors.New("media: file stored but not recorded")

// Entry is one row of the media index.
type Entry struct {
	Name     string
	Checksum string
	Mtime    int64
	Dirty    bool
}

// Store is the media folder of one collection together with its index.
type Store struct {
	dir string
	db  *sql.DB
	tx  *sql.Tx
	now func() time.Time
}

// Open opens the media folder dir, creating it when missing, and the index at dbPath.
func Open(dir, dbPath string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("media: resolve dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("media: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("media: open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("media: apply schema: %w", err)
	}
	return &Store{dir: abs, db: db, now: time.Now}, nil
}

// Close closes the index. An open transaction is rolled back.
func (s *Store) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

// Dir returns the absolute path of the media folder.
func (s *Store) Dir() string { return s.dir }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Begin starts an index transaction. File writes are never transactional.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("media: transaction already open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("media: begin tx: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open index transaction.
func (s *Store) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("media: no open transaction")
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("media: commit: %w", err)
	}
	return nil
}

// Rollback aborts the open index transaction.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("media: rollback: %w", err)
	}
	return nil
}

// Normalize returns the NFC form of a media filename.
func Normalize(name string) string {
	return norm.NFC.String(name)
}

// path resolves a media filename inside the folder. Media folders are flat, so any
// name carrying a directory component is rejected.
func (s *Store) path(name string) (string, error) {
	name = Normalize(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("media: invalid filename %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Have reports whether a file with the given name exists in the folder.
func (s *Store) Have(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Open opens a media file for reading.
func (s *Store) Open(name string) (*os.File, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("media: open %s: %w", name, err)
	}
	return f, nil
}

// Write atomically stores the contents of r under name and records the addition in
// the index. It returns the normalized name. Running out of disk space yields an
// error matching apperr.ErrNoSpace. When only the index update fails the name is
// returned together with an error matching ErrNotRecorded.
func (s *Store) Write(ctx context.Context, name string, r io.Reader) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	name = filepath.Base(p)

	tmp, err := os.CreateTemp(s.dir, ".media-tmp-*")
	if err != nil {
		return "", fsError("create temp", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	h := checksum.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		return "", fsError("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fsError("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fsError("close temp", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return "", fsError("rename", err)
	}
	success = true

	if err := s.markFileAdd(ctx, name, checksum.Hex(h)); err != nil {
		return name, fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}
	return name, nil
}

// MarkFileAdd records that name was added locally and still needs syncing.
func (s *Store) MarkFileAdd(ctx context.Context, name string) error {
	f, err := s.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	h := checksum.New()
	if _, err := io.Copy(h, f); err != nil {
		return fsError("read", err)
	}
	return s.markFileAdd(ctx, Normalize(name), checksum.Hex(h))
}

func (s *Store) markFileAdd(ctx context.Context, name, csum string) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT OR REPLACE INTO media (fname, csum, mtime, dirty) VALUES (?, ?, ?, 1)
	`, name, csum, s.now().Unix())
	if err != nil {
		return fmt.Errorf("media: record %s: %w", name, err)
	}
	return nil
}

// Entries returns the index rows ordered by filename.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT fname, coalesce(csum, ''), mtime, dirty FROM media ORDER BY fname`)
	if err != nil {
		return nil, fmt.Errorf("media: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Checksum, &e.Mtime, &e.Dirty); err != nil {
			return nil, fmt.Errorf("media: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// fsError wraps a file-system failure, folding out-of-space conditions into
// apperr.ErrNoSpace.
func fsError(action string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("media: %s: %w: %w", action, apperr.ErrNoSpace, err)
	}
	return fmt.Errorf("media: %s: %w", action, err)
}
