package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/ankiport/internal/models"
)

// cardSlot identifies a card across collections: its note and template ordinal.
type cardSlot struct {
	guid string
	ord  int
}

// mergeCards copies the cards of merged notes, with their review history, into the
// destination. Cards whose slot already exists there are left alone.
func mergeCards(ctx context.Context, r *importRun) error {
	slots := make(map[cardSlot]struct{})
	used := make(map[int64]struct{})
	err := r.dst.ForEachCardSlot(ctx, func(guid string, ord int, cid int64) {
		slots[cardSlot{guid, ord}] = struct{}{}
		used[cid] = struct{}{}
	})
	if err != nil {
		return fmt.Errorf("importer: load card slots: %w", err)
	}

	total, err := r.src.CardCount(ctx)
	if err != nil {
		return err
	}
	tk := newTicker(total, func(pct int) { r.progress.Report(100, pct, 0) })
	usn := r.dst.USN()
	aheadBy := r.src.Today() - r.dst.Today()

	var (
		cards  []models.Card
		revlog []models.RevlogEntry
	)
	flushCards := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.dst.InsertCards(ctx, cards); err != nil {
			return err
		}
		r.logger.Debug("importer: flushed cards", slog.Int("count", len(cards)))
		cards = cards[:0]
		return nil
	}
	flushRevlog := func() error {
		if err := r.dst.InsertRevlog(ctx, revlog); err != nil {
			return err
		}
		r.logger.Debug("importer: flushed revlog", slog.Int("count", len(revlog)))
		revlog = revlog[:0]
		return nil
	}

	err = r.src.ForEachCard(ctx, func(guid string, c models.Card) error {
		defer tk.tick()
		if _, ok := r.notes.ignored[guid]; ok {
			return nil
		}
		note, ok := r.notes.byGUID[guid]
		if !ok {
			return nil
		}
		slot := cardSlot{guid, c.Ord}
		if _, ok := slots[slot]; ok {
			return nil
		}
		slots[slot] = struct{}{}

		srcID := c.ID
		c.ID = claim(used, c.ID)
		c.NID = note.ID
		c.Mod = r.dst.IntTime()
		c.USN = usn

		// A card in a filtered deck goes back to its home deck.
		home := c.DID
		if c.ODID != 0 {
			home = c.ODID
		}
		did, err := r.remap.deck(home)
		if err != nil {
			return err
		}
		c.DID = did
		rebase(&c, aheadBy)

		entries, err := r.src.Revlog(ctx, srcID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			e.CID = c.ID
			e.USN = usn
			revlog = append(revlog, e)
		}
		cards = append(cards, c)
		r.result.Cards++
		r.result.Revlog += len(entries)

		if len(cards) >= r.batchSize {
			if err := flushCards(); err != nil {
				return err
			}
		}
		if len(revlog) >= r.batchSize {
			return flushRevlog()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("importer: merge cards: %w", err)
	}
	if err := flushCards(); err != nil {
		return fmt.Errorf("importer: merge cards: %w", err)
	}
	if err := flushRevlog(); err != nil {
		return fmt.Errorf("importer: merge revlog: %w", err)
	}
	r.progress.Report(100, 100, 0)
	r.logger.Info("importer: cards merged", slog.Int("cards", r.result.Cards), slog.Int("revlog", r.result.Revlog))
	return nil
}

// rebase shifts a card's day-relative due dates by aheadBy days and turns a filtered
// card back into a normal one.
func rebase(c *models.Card, aheadBy int64) {
	if c.Queue == models.QueueRev || c.Queue == models.QueueDayLearnRelearn || c.Type == models.CardTypeRev {
		c.Due -= aheadBy
	}
	if c.ODue != 0 {
		c.ODue -= aheadBy
	}
	if c.ODID == 0 {
		return
	}
	c.ODID = 0
	c.Due = c.ODue
	c.ODue = 0
	if c.Type == models.CardTypeLrn {
		c.Queue = models.QueueNew
		c.Type = models.CardTypeNew
	} else {
		c.Queue = c.Type
	}
}
