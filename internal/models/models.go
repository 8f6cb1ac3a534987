// Package models defines the collection entities shared by storage and import.
package models

import (
	"encoding/json"
	"strings"

	"github.com/starford/ankiport/internal/checksum"
)

// FieldSeparator joins the fields of a note in its flds column.
const FieldSeparator = "\x1f"

// DeckSeparator separates the components of a deck tree path.
const DeckSeparator = "::"

// Well-known ids.
const (
	DefaultDeckID   int64 = 1
	DefaultConfigID int64 = 1
)

// StartingFactor is the ease factor given to forgotten cards.
const StartingFactor = 2500

// Card types.
const (
	CardTypeNew        = 0
	CardTypeLrn        = 1
	CardTypeRev        = 2
	CardTypeRelearning = 3
)

// Card queues.
const (
	QueueSchedBuried     = -3
	QueueUserBuried      = -2
	QueueSuspended       = -1
	QueueNew             = 0
	QueueLrn             = 1
	QueueRev             = 2
	QueueDayLearnRelearn = 3
	QueuePreview         = 4
)

// Review log kinds.
const (
	RevlogLrn   = 0
	RevlogRev   = 1
	RevlogRelrn = 2
	RevlogCram  = 3
)

// New card ordering stored in a deck configuration.
const (
	NewCardsRandom = 0
	NewCardsDue    = 1
)

// Note is one row of the notes table.
type Note struct {
	ID        int64
	GUID      string
	MID       int64
	Mod       int64
	USN       int
	Tags      string
	Fields    string
	SortField string
	Checksum  int64
	Flags     int
	Data      string
}

// FieldList splits the joined field string.
func (n *Note) FieldList() []string {
	return SplitFields(n.Fields)
}

// TagList returns the space separated tags of the note.
func (n *Note) TagList() []string {
	return strings.Fields(n.Tags)
}

// SplitFields splits a joined field string into its fields.
func SplitFields(flds string) []string {
	return strings.Split(flds, FieldSeparator)
}

// JoinFields joins fields with the field separator.
func JoinFields(fields []string) string {
	return strings.Join(fields, FieldSeparator)
}

// Card is one row of the cards table.
type Card struct {
	ID     int64
	NID    int64
	DID    int64
	Ord    int
	Mod    int64
	USN    int
	Type   int
	Queue  int
	Due    int64
	Ivl    int64
	Factor int64
	Reps   int
	Lapses int
	Left   int
	ODue   int64
	ODID   int64
	Flags  int
	Data   string
}

// RevlogEntry is one row of the revlog table.
type RevlogEntry struct {
	ID      int64
	CID     int64
	USN     int
	Ease    int
	Ivl     int64
	LastIvl int64
	Factor  int64
	Time    int64
	Type    int
}

// Field describes one field of a note type.
type Field struct {
	Name   string `json:"name"`
	Ord    int    `json:"ord"`
	Sticky bool   `json:"sticky"`
	RTL    bool   `json:"rtl"`
	Font   string `json:"font"`
	Size   int    `json:"size"`
	Extra  Extra  `json:"-"`
}

func (f *Field) UnmarshalJSON(data []byte) error {
	type plain Field
	return decodeKeeping(data, (*plain)(f), &f.Extra)
}

func (f Field) MarshalJSON() ([]byte, error) {
	type plain Field
	return encodeKeeping(plain(f), f.Extra)
}

// Template describes one card template of a note type.
type Template struct {
	Name  string `json:"name"`
	Ord   int    `json:"ord"`
	Qfmt  string `json:"qfmt"`
	Afmt  string `json:"afmt"`
	Bqfmt string `json:"bqfmt"`
	Bafmt string `json:"bafmt"`
	DID   *int64 `json:"did"`
	Extra Extra  `json:"-"`
}

func (t *Template) UnmarshalJSON(data []byte) error {
	type plain Template
	return decodeKeeping(data, (*plain)(t), &t.Extra)
}

func (t Template) MarshalJSON() ([]byte, error) {
	type plain Template
	return encodeKeeping(plain(t), t.Extra)
}

// Model is a note type: the field and template definitions shared by its notes.
type Model struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      int             `json:"type"`
	Mod       int64           `json:"mod"`
	USN       int             `json:"usn"`
	SortField int             `json:"sortf"`
	DID       int64           `json:"did"`
	Fields    []Field         `json:"flds"`
	Templates []Template      `json:"tmpls"`
	CSS       string          `json:"css"`
	LatexPre  string          `json:"latexPre"`
	LatexPost string          `json:"latexPost"`
	Tags      []string        `json:"tags"`
	Req       json.RawMessage `json:"req,omitempty"`
	Extra     Extra           `json:"-"`
}

func (m *Model) UnmarshalJSON(data []byte) error {
	type plain Model
	return decodeKeeping(data, (*plain)(m), &m.Extra)
}

func (m Model) MarshalJSON() ([]byte, error) {
	type plain Model
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return encodeKeeping(plain(m), m.Extra)
}

// Clone returns a deep copy of the model, undeclared keys included.
func (m *Model) Clone() (*Model, error) {
	return cloneJSON(m)
}

// SchemaHash is the structural signature of the model: its field names followed by
// its template names. Styling and template bodies do not contribute.
func (m *Model) SchemaHash() string {
	var b strings.Builder
	for _, f := range m.Fields {
		b.WriteString(f.Name)
	}
	for _, t := range m.Templates {
		b.WriteString(t.Name)
	}
	return checksum.SumString(b.String())
}

// Deck is a normal or filtered deck.
type Deck struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Desc      string `json:"desc"`
	Conf      int64  `json:"conf,omitempty"`
	Dyn       int    `json:"dyn"`
	Mod       int64  `json:"mod"`
	USN       int    `json:"usn"`
	Collapsed bool   `json:"collapsed"`
	Extra     Extra  `json:"-"`
}

func (d *Deck) UnmarshalJSON(data []byte) error {
	type plain Deck
	return decodeKeeping(data, (*plain)(d), &d.Extra)
}

func (d Deck) MarshalJSON() ([]byte, error) {
	type plain Deck
	return encodeKeeping(plain(d), d.Extra)
}

// IsFiltered reports whether the deck is a filtered deck.
func (d *Deck) IsFiltered() bool {
	return d.Dyn != 0
}

// NewDeckExtra returns the per-day counters and limits a freshly created normal deck
// carries besides its declared fields.
func NewDeckExtra() Extra {
	return Extra{
		"newToday":  json.RawMessage(`[0,0]`),
		"revToday":  json.RawMessage(`[0,0]`),
		"lrnToday":  json.RawMessage(`[0,0]`),
		"timeToday": json.RawMessage(`[0,0]`),
		"extendNew": json.RawMessage(`10`),
		"extendRev": json.RawMessage(`50`),
	}
}

// DeckPath splits a deck name into its tree components.
func DeckPath(name string) []string {
	return strings.Split(name, DeckSeparator)
}

// NewConfig holds the new-card options of a deck configuration.
type NewConfig struct {
	Order         int       `json:"order"`
	PerDay        int       `json:"perDay"`
	Delays        []float64 `json:"delays"`
	InitialFactor int       `json:"initialFactor"`
	Extra         Extra     `json:"-"`
}

func (n *NewConfig) UnmarshalJSON(data []byte) error {
	type plain NewConfig
	return decodeKeeping(data, (*plain)(n), &n.Extra)
}

func (n NewConfig) MarshalJSON() ([]byte, error) {
	type plain NewConfig
	return encodeKeeping(plain(n), n.Extra)
}

// RevConfig holds the review options of a deck configuration.
type RevConfig struct {
	PerDay int     `json:"perDay"`
	Ease4  float64 `json:"ease4"`
	MaxIvl int64   `json:"maxIvl"`
	Extra  Extra   `json:"-"`
}

func (r *RevConfig) UnmarshalJSON(data []byte) error {
	type plain RevConfig
	return decodeKeeping(data, (*plain)(r), &r.Extra)
}

func (r RevConfig) MarshalJSON() ([]byte, error) {
	type plain RevConfig
	return encodeKeeping(plain(r), r.Extra)
}

// DeckConfig is an options group shared by decks.
type DeckConfig struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Mod   int64     `json:"mod"`
	USN   int       `json:"usn"`
	New   NewConfig `json:"new"`
	Rev   RevConfig `json:"rev"`
	Extra Extra     `json:"-"`
}

func (dc *DeckConfig) UnmarshalJSON(data []byte) error {
	type plain DeckConfig
	return decodeKeeping(data, (*plain)(dc), &dc.Extra)
}

func (dc DeckConfig) MarshalJSON() ([]byte, error) {
	type plain DeckConfig
	return encodeKeeping(plain(dc), dc.Extra)
}

// Clone returns a deep copy of the options group, undeclared keys included.
func (dc *DeckConfig) Clone() (*DeckConfig, error) {
	return cloneJSON(dc)
}
