package board

// Apply returns the columns that result from applying a to cols. It never
// mutates cols: the column(s) an action touches are copied, every other
// column is returned as the same slice. Actions that cannot be applied
// (unknown kind, unknown column, missing card, out-of-range index) return
// cols unchanged.
func Apply(cols Columns, a Action) Columns {
	switch a.Type {
	case Create:
		cards, ok := cols.Get(a.ColumnID)
		if !ok {
			return cols
		}
		next := make([]Card, len(cards), len(cards)+1)
		copy(next, cards)
		next = append(next, Card{
			ID:        a.CardID,
			Author:    a.Author,
			CreatedAt: a.Timestamp,
		})
		return cols.with(a.ColumnID, next)

	case Update:
		return updateCard(cols, a.ColumnID, a.CardID, func(c *Card) { c.Text = a.Text })

	case Vote:
		return updateCard(cols, a.ColumnID, a.CardID, func(c *Card) { c.Votes++ })

	case Delete:
		cards, ok := cols.Get(a.ColumnID)
		if !ok {
			return cols
		}
		i := indexOf(cards, a.CardID)
		if i < 0 {
			return cols
		}
		next := make([]Card, 0, len(cards)-1)
		next = append(next, cards[:i]...)
		next = append(next, cards[i+1:]...)
		return cols.with(a.ColumnID, next)

	case Move:
		return move(cols, a)
	}
	return cols
}

func indexOf(cards []Card, id string) int {
	for i := range cards {
		if cards[i].ID == id {
			return i
		}
	}
	return -1
}

func updateCard(cols Columns, col ColumnID, id string, fn func(*Card)) Columns {
	cards, ok := cols.Get(col)
	if !ok {
		return cols
	}
	i := indexOf(cards, id)
	if i < 0 {
		return cols
	}
	next := make([]Card, len(cards))
	copy(next, cards)
	fn(&next[i])
	return cols.with(col, next)
}

// move resolves the card by position, not id: during concurrent reorders the
// card at SourceIndex is the one that moves.
func move(cols Columns, a Action) Columns {
	src, ok := cols.Get(a.SourceColumnID)
	if !ok {
		return cols
	}
	dst, ok := cols.Get(a.DestColumnID)
	if !ok {
		return cols
	}
	if a.SourceIndex < 0 || a.SourceIndex >= len(src) {
		return cols
	}
	same := a.SourceColumnID == a.DestColumnID
	if same && a.SourceIndex == a.DestIndex {
		return cols
	}

	moved := src[a.SourceIndex]
	nextSrc := make([]Card, 0, len(src))
	nextSrc = append(nextSrc, src[:a.SourceIndex]...)
	nextSrc = append(nextSrc, src[a.SourceIndex+1:]...)

	var nextDst []Card
	if same {
		nextDst = nextSrc
	} else {
		nextDst = make([]Card, len(dst), len(dst)+1)
		copy(nextDst, dst)
	}
	nextDst = insertAt(nextDst, clamp(a.DestIndex, 0, len(nextDst)), moved)

	if same {
		return cols.with(a.SourceColumnID, nextDst)
	}
	return cols.with(a.SourceColumnID, nextSrc).with(a.DestColumnID, nextDst)
}

func insertAt(cards []Card, i int, c Card) []Card {
	cards = append(cards, Card{})
	copy(cards[i+1:], cards[i:])
	cards[i] = c
	return cards
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
