package collection

import (
	"context"
	"fmt"

	"github.com/starford/ankiport/internal/models"
)

const cardColumns = `c.id, c.nid, c.did, c.ord, c.mod, c.usn, c.type, c.queue, c.due, c.ivl, c.factor,
	c.reps, c.lapses, c.left, c.odue, c.odid, c.flags, c.data`

// CardCount returns the number of cards.
func (c *Collection) CardCount(ctx context.Context) (int, error) {
	return c.count(ctx, `SELECT count() FROM cards`)
}

// ForEachCardSlot calls fn with the note guid, template ordinal, and id of every card.
func (c *Collection) ForEachCardSlot(ctx context.Context, fn func(guid string, ord int, cid int64)) error {
	rows, err := c.q().QueryContext(ctx, `SELECT n.guid, c.ord, c.id FROM cards c, notes n WHERE c.nid = n.id`)
	if err != nil {
		return fmt.Errorf("collection: card slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var guid string
		var ord int
		var cid int64
		if err := rows.Scan(&guid, &ord, &cid); err != nil {
			return fmt.Errorf("collection: scan card slot: %w", err)
		}
		fn(guid, ord, cid)
	}
	return rows.Err()
}

// ForEachCard streams every card that belongs to a note, along with the note's guid.
// Iteration stops at the first error returned by fn.
func (c *Collection) ForEachCard(ctx context.Context, fn func(guid string, card models.Card) error) error {
	rows, err := c.q().QueryContext(ctx, `SELECT n.guid, `+cardColumns+` FROM cards c, notes n WHERE c.nid = n.id ORDER BY c.id`)
	if err != nil {
		return fmt.Errorf("collection: stream cards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var guid string
		var cd models.Card
		if err := rows.Scan(&guid, &cd.ID, &cd.NID, &cd.DID, &cd.Ord, &cd.Mod, &cd.USN, &cd.Type, &cd.Queue,
			&cd.Due, &cd.Ivl, &cd.Factor, &cd.Reps, &cd.Lapses, &cd.Left, &cd.ODue, &cd.ODID, &cd.Flags, &cd.Data); err != nil {
			return fmt.Errorf("collection: scan card: %w", err)
		}
		if err := fn(guid, cd); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CardsOfNote returns the cards of a note ordered by template ordinal.
func (c *Collection) CardsOfNote(ctx context.Context, nid int64) ([]models.Card, error) {
	rows, err := c.q().QueryContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.nid = ? ORDER BY c.ord`, nid)
	if err != nil {
		return nil, fmt.Errorf("collection: cards of note: %w", err)
	}
	defer rows.Close()
	var out []models.Card
	for rows.Next() {
		var cd models.Card
		if err := rows.Scan(&cd.ID, &cd.NID, &cd.DID, &cd.Ord, &cd.Mod, &cd.USN, &cd.Type, &cd.Queue,
			&cd.Due, &cd.Ivl, &cd.Factor, &cd.Reps, &cd.Lapses, &cd.Left, &cd.ODue, &cd.ODID, &cd.Flags, &cd.Data); err != nil {
			return nil, fmt.Errorf("collection: scan card: %w", err)
		}
		out = append(out, cd)
	}
	return out, rows.Err()
}

// HasScheduledCards reports whether any card sits outside the new queue.
func (c *Collection) HasScheduledCards(ctx context.Context) (bool, error) {
	n, err := c.count(ctx, `SELECT count() FROM (SELECT 1 FROM cards WHERE queue != ? LIMIT 1)`, models.QueueNew)
	return n > 0, err
}

// InsertCards writes cards with insert-or-ignore semantics in one prepared batch.
func (c *Collection) InsertCards(ctx context.Context, cards []models.Card) error {
	if len(cards) == 0 {
		return nil
	}
	return c.execMany(ctx, `INSERT OR IGNORE INTO cards VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, len(cards), func(i int) []any {
		cd := cards[i]
		return []any{cd.ID, cd.NID, cd.DID, cd.Ord, cd.Mod, cd.USN, cd.Type, cd.Queue, cd.Due, cd.Ivl,
			cd.Factor, cd.Reps, cd.Lapses, cd.Left, cd.ODue, cd.ODID, cd.Flags, cd.Data}
	})
}

// RevlogCount returns the number of review log entries.
func (c *Collection) RevlogCount(ctx context.Context) (int, error) {
	return c.count(ctx, `SELECT count() FROM revlog`)
}

// Revlog returns the review history of a card in id order.
func (c *Collection) Revlog(ctx context.Context, cid int64) ([]models.RevlogEntry, error) {
	rows, err := c.q().QueryContext(ctx, `
		SELECT id, cid, usn, ease, ivl, lastIvl, factor, time, type
		FROM revlog WHERE cid = ? ORDER BY id
	`, cid)
	if err != nil {
		return nil, fmt.Errorf("collection: revlog: %w", err)
	}
	defer rows.Close()
	var out []models.RevlogEntry
	for rows.Next() {
		var r models.RevlogEntry
		if err := rows.Scan(&r.ID, &r.CID, &r.USN, &r.Ease, &r.Ivl, &r.LastIvl, &r.Factor, &r.Time, &r.Type); err != nil {
			return nil, fmt.Errorf("collection: scan revlog: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertRevlog writes review log entries with insert-or-ignore semantics.
func (c *Collection) InsertRevlog(ctx context.Context, entries []models.RevlogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return c.execMany(ctx, `INSERT OR IGNORE INTO revlog VALUES (?,?,?,?,?,?,?,?,?)`, len(entries), func(i int) []any {
		r := entries[i]
		return []any{r.ID, r.CID, r.USN, r.Ease, r.Ivl, r.LastIvl, r.Factor, r.Time, r.Type}
	})
}
