package collection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/ankiport/internal/models"
)

// Model returns the note type with the given id, or nil.
func (c *Collection) Model(id int64) *models.Model {
	return c.models[id]
}

// HaveModel reports whether a note type with the given id exists.
func (c *Collection) HaveModel(id int64) bool {
	_, ok := c.models[id]
	return ok
}

// Models returns every note type ordered by id.
func (c *Collection) Models() []*models.Model {
	out := make([]*models.Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateModel installs m under its id, replacing any existing note type.
func (c *Collection) UpdateModel(m *models.Model) {
	c.models[m.ID] = m
	c.dirty = true
}

// AddModel installs m under a fresh id and returns that id.
func (c *Collection) AddModel(m *models.Model) int64 {
	if m.ID == 0 || c.HaveModel(m.ID) {
		m.ID = nextID(c.now(), c.models)
	}
	m.Mod = c.IntTime()
	m.USN = c.usn
	c.UpdateModel(m)
	return m.ID
}

// Deck returns the deck with the given id, or nil.
func (c *Collection) Deck(id int64) *models.Deck {
	return c.decks[id]
}

// Decks returns every deck ordered by name.
func (c *Collection) Decks() []*models.Deck {
	out := make([]*models.Deck, 0, len(c.decks))
	for _, d := range c.decks {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeckByName finds a deck by its full name, case-insensitively.
func (c *Collection) DeckByName(name string) *models.Deck {
	name = normalizeDeckName(name)
	for _, d := range c.decks {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}

// DeckID returns the id of the deck called name, creating it and any missing
// ancestors.
func (c *Collection) DeckID(name string) (int64, error) {
	name = normalizeDeckName(name)
	if name == "" {
		return 0, fmt.Errorf("collection: empty deck name")
	}
	if d := c.DeckByName(name); d != nil {
		return d.ID, nil
	}
	parts := models.DeckPath(name)
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], models.DeckSeparator)
		p := c.DeckByName(parent)
		if p == nil {
			c.newDeck(parent)
			continue
		}
		if p.IsFiltered() {
			return 0, fmt.Errorf("collection: filtered deck %q cannot have children", p.Name)
		}
	}
	return c.newDeck(name).ID, nil
}

func (c *Collection) newDeck(name string) *models.Deck {
	d := &models.Deck{
		ID:    nextID(c.now(), c.decks),
		Name:  name,
		Conf:  models.DefaultConfigID,
		Mod:   c.IntTime(),
		USN:   c.usn,
		Extra: models.NewDeckExtra(),
	}
	c.decks[d.ID] = d
	c.dirty = true
	return d
}

// SaveDeck stores d, refreshing its modification time and usn.
func (c *Collection) SaveDeck(d *models.Deck) {
	d.Mod = c.IntTime()
	d.USN = c.usn
	c.decks[d.ID] = d
	c.dirty = true
}

// SelectDeck makes did the current deck.
func (c *Collection) SelectDeck(did int64) {
	c.SetConfig("curDeck", did)
}

// CurrentDeck returns the id of the current deck.
func (c *Collection) CurrentDeck() int64 {
	return c.configInt("curDeck", models.DefaultDeckID)
}

// DeckConfig returns the options group with the given id, or nil.
func (c *Collection) DeckConfig(id int64) *models.DeckConfig {
	return c.dconf[id]
}

// DeckConfigFor returns the options group of a deck, falling back to the default group.
func (c *Collection) DeckConfigFor(did int64) *models.DeckConfig {
	d := c.decks[did]
	if d != nil && !d.IsFiltered() {
		if dc := c.dconf[d.Conf]; dc != nil {
			return dc
		}
	}
	return c.dconf[models.DefaultConfigID]
}

// SaveDeckConfig stores dc under its id.
func (c *Collection) SaveDeckConfig(dc *models.DeckConfig) {
	dc.Mod = c.IntTime()
	dc.USN = c.usn
	c.dconf[dc.ID] = dc
	c.dirty = true
}

// Tags returns every registered tag, sorted.
func (c *Collection) Tags() []string {
	out := make([]string, 0, len(c.tags))
	for t := range c.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeDeckName(name string) string {
	parts := models.DeckPath(name)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, models.DeckSeparator)
}
