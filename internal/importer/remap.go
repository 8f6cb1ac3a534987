package importer

import (
	"fmt"
	"strings"

	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/models"
)

// remapper translates source note type and deck ids into destination ids. Each source
// id is resolved once per import.
type remapper struct {
	src, dst  *collection.Collection
	prefix    string
	models    map[int64]int64
	decks     map[int64]int64
	visiting  map[int64]bool
	schemaMod bool
}

func newRemapper(src, dst *collection.Collection, prefix string) *remapper {
	return &remapper{
		src:      src,
		dst:      dst,
		prefix:   prefix,
		models:   make(map[int64]int64),
		decks:    make(map[int64]int64),
		visiting: make(map[int64]bool),
	}
}

// model returns the destination id for the source note type srcMid. Ids are probed
// upward from srcMid until a free id or one holding an identically structured note
// type is found; the source definition is installed there.
func (r *remapper) model(srcMid int64) (int64, error) {
	if mid, ok := r.models[srcMid]; ok {
		return mid, nil
	}
	srcModel := r.src.Model(srcMid)
	if srcModel == nil {
		return 0, fmt.Errorf("importer: source note type %d missing", srcMid)
	}
	srcHash := srcModel.SchemaHash()

	mid := srcMid
	for {
		dstModel := r.dst.Model(mid)
		if dstModel == nil || dstModel.SchemaHash() == srcHash {
			break
		}
		mid++
	}

	if !r.schemaMod {
		r.dst.ModSchema()
		r.schemaMod = true
	}
	m, err := srcModel.Clone()
	if err != nil {
		return 0, fmt.Errorf("importer: copy note type %d: %w", srcMid, err)
	}
	m.ID = mid
	m.Mod = r.dst.IntTime()
	m.USN = r.dst.USN()
	r.dst.UpdateModel(m)

	r.models[srcMid] = mid
	return mid, nil
}

// deck returns the destination id for the source deck srcDid, matching decks by name
// and creating missing ones along with their parents.
func (r *remapper) deck(srcDid int64) (int64, error) {
	if did, ok := r.decks[srcDid]; ok {
		return did, nil
	}
	g := r.src.Deck(srcDid)
	if g == nil {
		g = r.src.Deck(models.DefaultDeckID)
	}
	if g == nil {
		g = &models.Deck{ID: srcDid, Name: "Default"}
	}

	r.visiting[srcDid] = true
	defer delete(r.visiting, srcDid)

	name := g.Name
	if r.prefix != "" {
		parts := models.DeckPath(name)
		name = r.prefix
		if len(parts) > 1 {
			name += models.DeckSeparator + strings.Join(parts[1:], models.DeckSeparator)
		}
	}

	// Parents known to the source are mapped through it so their descriptions and
	// options come along.
	parents := models.DeckPath(name)
	for i := 1; i < len(parents); i++ {
		head := strings.Join(parents[:i], models.DeckSeparator)
		if p := r.src.DeckByName(head); p != nil && !r.visiting[p.ID] {
			if _, err := r.deck(p.ID); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := r.dst.DeckID(head); err != nil {
			return 0, fmt.Errorf("importer: create parent deck %q: %w", head, err)
		}
	}

	did, err := r.dst.DeckID(name)
	if err != nil {
		return 0, fmt.Errorf("importer: create deck %q: %w", name, err)
	}
	d := r.dst.Deck(did)
	if g.Conf != 0 && g.Conf != models.DefaultConfigID {
		if conf := r.src.DeckConfig(g.Conf); conf != nil {
			cp, err := conf.Clone()
			if err != nil {
				return 0, fmt.Errorf("importer: copy options of deck %q: %w", name, err)
			}
			r.dst.SaveDeckConfig(cp)
			d.Conf = cp.ID
		}
	}
	d.Desc = g.Desc
	r.dst.SaveDeck(d)

	r.decks[srcDid] = did
	return did, nil
}

// mappedDecks returns the distinct destination decks cards were imported into.
func (r *remapper) mappedDecks() []int64 {
	seen := make(map[int64]struct{}, len(r.decks))
	var out []int64
	for _, did := range r.decks {
		if _, ok := seen[did]; ok {
			continue
		}
		seen[did] = struct{}{}
		out = append(out, did)
	}
	return out
}
