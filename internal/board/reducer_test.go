package board

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func card(id, text string, votes int) Card {
	return Card{ID: id, Text: text, Votes: votes, Author: "Bob", CreatedAt: 1000}
}

func stateWith(col ColumnID, cards ...Card) Columns {
	return Empty().with(col, cards)
}

func TestApplyCreate(t *testing.T) {
	state := Columns{
		WentWell:    []Card{card("c1", "first", 0)},
		ToImprove:   []Card{card("existing", "", 2)},
		ActionItems: []Card{},
	}

	next := Apply(state, Action{Type: Create, ColumnID: WentWell, CardID: "c2", Author: "Alice", Timestamp: 42})

	require.Len(t, next.WentWell, 2)
	assert.Equal(t, "c1", next.WentWell[0].ID)
	assert.Equal(t, Card{ID: "c2", Text: "", Votes: 0, Author: "Alice", CreatedAt: 42}, next.WentWell[1])
	assert.Same(t, &state.ToImprove[0], &next.ToImprove[0], "untouched columns keep their backing array")
	assert.Len(t, state.WentWell, 1, "input must not be mutated")
}

func TestApplyCreateUnknownColumn(t *testing.T) {
	state := Empty()
	next := Apply(state, Action{Type: Create, ColumnID: "nope", CardID: "c1"})
	assert.Equal(t, state, next)
}

func TestApplyUpdate(t *testing.T) {
	state := stateWith(WentWell, card("c1", "old", 5), card("c2", "b", 0))

	next := Apply(state, Action{Type: Update, ColumnID: WentWell, CardID: "c1", Text: "new text"})

	assert.Equal(t, "new text", next.WentWell[0].Text)
	assert.Equal(t, 5, next.WentWell[0].Votes)
	assert.Equal(t, "Bob", next.WentWell[0].Author)
	assert.Equal(t, "b", next.WentWell[1].Text)
	assert.Equal(t, "old", state.WentWell[0].Text)

	missing := Apply(state, Action{Type: Update, ColumnID: WentWell, CardID: "zzz", Text: "x"})
	assert.Equal(t, state, missing)
}

func TestApplyVoteRepeated(t *testing.T) {
	state := stateWith(ToImprove, card("c1", "", 3), card("c2", "", 7))

	const n = 5
	for i := 0; i < n; i++ {
		state = Apply(state, Action{Type: Vote, ColumnID: ToImprove, CardID: "c1"})
	}

	assert.Equal(t, 3+n, state.ToImprove[0].Votes)
	assert.Equal(t, 7, state.ToImprove[1].Votes)
}

func TestApplyDelete(t *testing.T) {
	state := stateWith(ActionItems, card("c1", "a", 0), card("c2", "b", 0))

	next := Apply(state, Action{Type: Delete, ColumnID: ActionItems, CardID: "c1"})
	require.Len(t, next.ActionItems, 1)
	assert.Equal(t, "c2", next.ActionItems[0].ID)

	again := Apply(next, Action{Type: Delete, ColumnID: ActionItems, CardID: "c1"})
	assert.Equal(t, next, again)
}

func TestApplyMoveWithinColumn(t *testing.T) {
	state := stateWith(WentWell, card("a", "", 0), card("b", "", 0), card("c", "", 0), card("d", "", 0))

	next := Apply(state, Action{
		Type: Move, CardID: "a",
		SourceColumnID: WentWell, DestColumnID: WentWell,
		SourceIndex: 0, DestIndex: 2,
	})

	assert.Equal(t, []string{"b", "c", "a", "d"}, ids(next.WentWell))

	back := Apply(next, Action{
		Type: Move, CardID: "d",
		SourceColumnID: WentWell, DestColumnID: WentWell,
		SourceIndex: 3, DestIndex: 0,
	})
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids(back.WentWell))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(state.WentWell))
}

func TestApplyMoveSamePositionIsNoop(t *testing.T) {
	state := stateWith(WentWell, card("a", "", 0), card("b", "", 0))

	next := Apply(state, Action{
		Type: Move, SourceColumnID: WentWell, DestColumnID: WentWell,
		SourceIndex: 1, DestIndex: 1,
	})
	assert.Equal(t, state, next)
}

func TestApplyMoveAcrossColumns(t *testing.T) {
	moved := Card{ID: "x", Text: "keep me", Votes: 4, Author: "Alice", CreatedAt: 77}
	state := Columns{
		WentWell:    []Card{card("a", "", 0), moved},
		ToImprove:   []Card{card("b", "", 0)},
		ActionItems: []Card{},
	}

	next := Apply(state, Action{
		Type: Move, CardID: "x",
		SourceColumnID: WentWell, DestColumnID: ToImprove,
		SourceIndex: 1, DestIndex: 0,
	})

	assert.Equal(t, []string{"a"}, ids(next.WentWell))
	require.Len(t, next.ToImprove, 2)
	assert.Equal(t, moved, next.ToImprove[0])
	assert.Equal(t, "b", next.ToImprove[1].ID)
	assert.Len(t, state.WentWell, 2)
}

func TestApplyMoveUsesPositionNotID(t *testing.T) {
	state := stateWith(WentWell, card("a", "", 0), card("b", "", 0))

	next := Apply(state, Action{
		Type: Move, CardID: "a",
		SourceColumnID: WentWell, DestColumnID: ActionItems,
		SourceIndex: 1, DestIndex: 0,
	})

	assert.Equal(t, []string{"a"}, ids(next.WentWell))
	assert.Equal(t, []string{"b"}, ids(next.ActionItems))
}

func TestApplyMoveOutOfRange(t *testing.T) {
	state := stateWith(WentWell, card("a", "", 0))

	next := Apply(state, Action{
		Type: Move, SourceColumnID: WentWell, DestColumnID: ToImprove,
		SourceIndex: 3, DestIndex: 0,
	})
	assert.Equal(t, state, next)

	clamped := Apply(state, Action{
		Type: Move, SourceColumnID: WentWell, DestColumnID: ToImprove,
		SourceIndex: 0, DestIndex: 99,
	})
	assert.Equal(t, []string{"a"}, ids(clamped.ToImprove))
}

func TestApplyUnknownKind(t *testing.T) {
	state := stateWith(WentWell, card("a", "t", 1))

	for _, kind := range []ActionKind{"EXPLODE", "", Rename} {
		next := Apply(state, Action{Type: kind, ColumnID: WentWell, CardID: "a"})
		assert.Equal(t, state, next, "kind %q", kind)
	}
}

func TestActionKindKnown(t *testing.T) {
	for _, kind := range []ActionKind{Create, Update, Vote, Delete, Move, Rename} {
		assert.True(t, kind.Known(), "kind %q", kind)
	}
	assert.False(t, ActionKind("BOGUS").Known())
	assert.False(t, ActionKind("").Known())
}

func TestColumnsJSON(t *testing.T) {
	data, err := json.Marshal(Columns{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"went-well":[],"to-improve":[],"action-items":[]}`, string(data))

	var cols Columns
	require.NoError(t, json.Unmarshal([]byte(`{"went-well":[{"id":"a","votes":2}],"bogus":[]}`), &cols))
	assert.Equal(t, []string{"a"}, ids(cols.WentWell))
	assert.NotNil(t, cols.ToImprove)
	assert.NotNil(t, cols.ActionItems)
}

func ids(cards []Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.ID)
	}
	return out
}
