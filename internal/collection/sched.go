package collection

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/starford/ankiport/internal/models"
)

const secondsPerDay = 86400

// Today returns the number of whole days elapsed since the collection was created.
// Review due dates are expressed in this unit.
func (c *Collection) Today() int64 {
	return (c.now().Unix() - c.crt) / secondsPerDay
}

// SchedVer returns the scheduler version of the collection.
func (c *Collection) SchedVer() int {
	return int(c.configInt("schedVer", 1))
}

// NextPos returns the position the next new card will receive.
func (c *Collection) NextPos() int64 {
	return c.configInt("nextPos", 1)
}

// UpdateNextPos recomputes the next new-card position from the largest due among new cards.
func (c *Collection) UpdateNextPos(ctx context.Context) error {
	var next int64
	err := c.q().QueryRowContext(ctx, `SELECT coalesce(max(due), 0) + 1 FROM cards WHERE type = ?`, models.CardTypeNew).Scan(&next)
	if err != nil {
		return fmt.Errorf("collection: max new due: %w", err)
	}
	c.SetConfig("nextPos", next)
	return nil
}

// MaybeRandomizeDeck shuffles the new cards of did when its options ask for random order.
func (c *Collection) MaybeRandomizeDeck(ctx context.Context, did int64) error {
	dc := c.DeckConfigFor(did)
	if dc == nil || dc.New.Order != models.NewCardsRandom {
		return nil
	}
	return c.RandomizeDeck(ctx, did)
}

// RandomizeDeck assigns shuffled positions to the new cards of did. Cards of the same
// note keep sharing a position.
func (c *Collection) RandomizeDeck(ctx context.Context, did int64) error {
	rows, err := c.q().QueryContext(ctx, `SELECT DISTINCT nid FROM cards WHERE did = ? AND type = ? ORDER BY nid`, did, models.CardTypeNew)
	if err != nil {
		return fmt.Errorf("collection: randomize select: %w", err)
	}
	var nids []int64
	for rows.Next() {
		var nid int64
		if err := rows.Scan(&nid); err != nil {
			rows.Close()
			return fmt.Errorf("collection: randomize scan: %w", err)
		}
		nids = append(nids, nid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	rand.Shuffle(len(nids), func(i, j int) { nids[i], nids[j] = nids[j], nids[i] })

	now := c.IntTime()
	for i, nid := range nids {
		if _, err := c.q().ExecContext(ctx, `
			UPDATE cards SET due = ?, mod = ?, usn = ? WHERE nid = ? AND did = ? AND type = ?
		`, i+1, now, c.usn, nid, did, models.CardTypeNew); err != nil {
			return fmt.Errorf("collection: randomize update: %w", err)
		}
	}
	return nil
}

// MoveToV2 converts card and review state from scheduler v1 semantics to v2.
func (c *Collection) MoveToV2(ctx context.Context) error {
	if err := c.emptyAllFiltered(ctx); err != nil {
		return err
	}
	// v1 kept relearning review cards' original due in odue.
	if _, err := c.q().ExecContext(ctx, `
		UPDATE cards SET due = odue, queue = ?, type = ?, mod = ?, usn = ?, odue = 0
		WHERE queue IN (?, ?) AND type IN (?, ?)
	`, models.QueueRev, models.CardTypeRev, c.IntTime(), c.usn,
		models.QueueLrn, models.QueueDayLearnRelearn, models.CardTypeRev, models.CardTypeRelearning); err != nil {
		return fmt.Errorf("collection: v2 relearning: %w", err)
	}
	if err := c.forgetLearning(ctx); err != nil {
		return err
	}
	if _, err := c.q().ExecContext(ctx, `
		UPDATE revlog SET ease = ease + 1 WHERE ease IN (2, 3) AND type IN (?, ?)
	`, models.RevlogLrn, models.RevlogRelrn); err != nil {
		return fmt.Errorf("collection: v2 remap answers: %w", err)
	}
	c.SetConfig("schedVer", 2)
	return nil
}

// MoveToV1 converts card and review state from scheduler v2 semantics to v1.
func (c *Collection) MoveToV1(ctx context.Context) error {
	if err := c.emptyAllFiltered(ctx); err != nil {
		return err
	}
	if _, err := c.q().ExecContext(ctx, `
		UPDATE cards SET due = ? + ivl, queue = ?, type = ?, mod = ?, usn = ?, odue = 0
		WHERE queue IN (?, ?) AND type IN (?, ?)
	`, c.Today(), models.QueueRev, models.CardTypeRev, c.IntTime(), c.usn,
		models.QueueLrn, models.QueueDayLearnRelearn, models.CardTypeRev, models.CardTypeRelearning); err != nil {
		return fmt.Errorf("collection: v1 relearning: %w", err)
	}
	if err := c.forgetLearning(ctx); err != nil {
		return err
	}
	if _, err := c.q().ExecContext(ctx, `UPDATE cards SET queue = ? WHERE queue = ?`,
		models.QueueUserBuried, models.QueueSchedBuried); err != nil {
		return fmt.Errorf("collection: v1 buried: %w", err)
	}
	// v1 has no suspended or buried (re)learning cards.
	if _, err := c.q().ExecContext(ctx, `
		UPDATE cards SET
			type = (CASE WHEN type = ? THEN ? WHEN type IN (?, ?) THEN ? ELSE type END),
			due = (CASE WHEN odue != 0 THEN odue ELSE due END),
			odue = 0, mod = ?, usn = ?
		WHERE queue < 0
	`, models.CardTypeLrn, models.CardTypeNew, models.CardTypeRev, models.CardTypeRelearning, models.CardTypeRev,
		c.IntTime(), c.usn); err != nil {
		return fmt.Errorf("collection: v1 suspended learning: %w", err)
	}
	if _, err := c.q().ExecContext(ctx, `
		UPDATE revlog SET ease = ease - 1 WHERE ease IN (3, 4) AND type IN (?, ?)
	`, models.RevlogLrn, models.RevlogRelrn); err != nil {
		return fmt.Errorf("collection: v1 remap answers: %w", err)
	}
	c.SetConfig("schedVer", 1)
	return nil
}

func (c *Collection) emptyAllFiltered(ctx context.Context) error {
	_, err := c.q().ExecContext(ctx, `
		UPDATE cards SET did = odid,
			queue = (CASE WHEN type = ? THEN ? WHEN type = ? THEN ? ELSE type END),
			type = (CASE WHEN type = ? THEN ? WHEN type = ? THEN ? ELSE type END),
			due = odue, odue = 0, odid = 0, usn = ?
		WHERE odid != 0
	`, models.CardTypeLrn, models.QueueNew, models.CardTypeRelearning, models.QueueRev,
		models.CardTypeLrn, models.CardTypeNew, models.CardTypeRelearning, models.CardTypeRev,
		c.usn)
	if err != nil {
		return fmt.Errorf("collection: empty filtered decks: %w", err)
	}
	return nil
}

// forgetLearning resets cards still in a learning queue to new cards placed at the
// end of the new queue.
func (c *Collection) forgetLearning(ctx context.Context) error {
	rows, err := c.q().QueryContext(ctx, `SELECT id FROM cards WHERE queue IN (?, ?) ORDER BY nid, ord`,
		models.QueueLrn, models.QueueDayLearnRelearn)
	if err != nil {
		return fmt.Errorf("collection: select learning: %w", err)
	}
	var cids []int64
	for rows.Next() {
		var cid int64
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return fmt.Errorf("collection: scan learning: %w", err)
		}
		cids = append(cids, cid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	pos := c.NextPos()
	now := c.IntTime()
	for _, cid := range cids {
		if _, err := c.q().ExecContext(ctx, `
			UPDATE cards SET type = ?, queue = ?, ivl = 0, due = ?, odue = 0, factor = ?, mod = ?, usn = ?
			WHERE id = ?
		`, models.CardTypeNew, models.QueueNew, pos, models.StartingFactor, now, c.usn, cid); err != nil {
			return fmt.Errorf("collection: forget card %d: %w", cid, err)
		}
		pos++
	}
	if len(cids) > 0 {
		c.SetConfig("nextPos", pos)
	}
	return nil
}
