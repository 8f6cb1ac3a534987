package collection

import (
	"context"
	"fmt"
)

// Stats summarises the contents of a collection.
type Stats struct {
	Notes    int   `json:"notes"`
	Cards    int   `json:"cards"`
	Revlog   int   `json:"revlog"`
	Models   int   `json:"models"`
	Decks    int   `json:"decks"`
	Tags     int   `json:"tags"`
	SchedVer int   `json:"sched_ver"`
	Today    int64 `json:"today"`
	NextPos  int64 `json:"next_pos"`
}

// Stats returns entity counts and scheduling counters.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Notes, err = c.NoteCount(ctx); err != nil {
		return st, err
	}
	if st.Cards, err = c.CardCount(ctx); err != nil {
		return st, err
	}
	if st.Revlog, err = c.RevlogCount(ctx); err != nil {
		return st, err
	}
	st.Models = len(c.models)
	st.Decks = len(c.decks)
	st.Tags = len(c.tags)
	st.SchedVer = c.SchedVer()
	st.Today = c.Today()
	st.NextPos = c.NextPos()
	return st, nil
}

// Vacuum rebuilds the database file to reclaim free pages.
func (c *Collection) Vacuum(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("collection: vacuum inside transaction")
	}
	if _, err := c.conn.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("collection: vacuum: %w", err)
	}
	return nil
}

// Analyze refreshes the query planner statistics.
func (c *Collection) Analyze(ctx context.Context) error {
	if _, err := c.q().ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("collection: analyze: %w", err)
	}
	return nil
}

// CopyTo writes a consistent copy of the database to path. It works on read-only
// collections.
func (c *Collection) CopyTo(ctx context.Context, path string) error {
	if _, err := c.conn.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("collection: copy to %s: %w", path, err)
	}
	return nil
}
