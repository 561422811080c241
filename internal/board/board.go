package board

import (
	"encoding/json"
	"strings"
)

// ColumnID names one of the three fixed retrospective columns.
type ColumnID string

const (
	WentWell    ColumnID = "went-well"
	ToImprove   ColumnID = "to-improve"
	ActionItems ColumnID = "action-items"
)

// DefaultName is used for boards that were never named.
const DefaultName = "Untitled Board"

// NormalizeName trims a user-supplied board name, falling back to DefaultName.
func NormalizeName(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return DefaultName
}

// Card is a single sticky note. Its ID is unique within a board.
type Card struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Votes     int    `json:"votes"`
	Author    string `json:"author"`
	CreatedAt int64  `json:"createdAt"`
}

// Columns holds the ordered cards of each fixed column. The struct shape
// guarantees all three columns exist.
type Columns struct {
	WentWell    []Card
	ToImprove   []Card
	ActionItems []Card
}

// Get returns the cards of column id.
func (c Columns) Get(id ColumnID) ([]Card, bool) {
	switch id {
	case WentWell:
		return c.WentWell, true
	case ToImprove:
		return c.ToImprove, true
	case ActionItems:
		return c.ActionItems, true
	}
	return nil, false
}

// with returns a copy of c whose column id is replaced by cards.
func (c Columns) with(id ColumnID, cards []Card) Columns {
	switch id {
	case WentWell:
		c.WentWell = cards
	case ToImprove:
		c.ToImprove = cards
	case ActionItems:
		c.ActionItems = cards
	}
	return c
}

func nonNil(cards []Card) []Card {
	if cards == nil {
		return []Card{}
	}
	return cards
}

// MarshalJSON encodes the columns as an object keyed by column id. Empty
// columns encode as [] rather than null.
func (c Columns) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[ColumnID][]Card{
		WentWell:    nonNil(c.WentWell),
		ToImprove:   nonNil(c.ToImprove),
		ActionItems: nonNil(c.ActionItems),
	})
}

// UnmarshalJSON decodes an object keyed by column id. Missing columns become
// empty and unknown keys are dropped.
func (c *Columns) UnmarshalJSON(data []byte) error {
	var raw map[ColumnID][]Card
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Columns{
		WentWell:    nonNil(raw[WentWell]),
		ToImprove:   nonNil(raw[ToImprove]),
		ActionItems: nonNil(raw[ActionItems]),
	}
	return nil
}

// Empty returns a board state with three empty columns.
func Empty() Columns {
	return Columns{WentWell: []Card{}, ToImprove: []Card{}, ActionItems: []Card{}}
}

// Board is the live board of a session.
type Board struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Columns        Columns `json:"columns"`
	LastMutationTs int64   `json:"lastMutationTs"`
}
