package board

// ActionKind identifies a board mutation.
type ActionKind string

const (
	Create ActionKind = "CREATE"
	Update ActionKind = "UPDATE"
	Vote   ActionKind = "VOTE"
	Delete ActionKind = "DELETE"
	Move   ActionKind = "MOVE"
	// Rename changes the board name. The reducer leaves columns untouched;
	// the session applies it to the board name.
	Rename ActionKind = "RENAME"
)

// Known reports whether k is one of the defined action kinds.
func (k ActionKind) Known() bool {
	switch k {
	case Create, Update, Vote, Delete, Move, Rename:
		return true
	}
	return false
}

// Action is a single mutation intent. Only the fields relevant to Type are
// set; the rest stay at their zero value.
type Action struct {
	Type      ActionKind `json:"type"`
	ColumnID  ColumnID   `json:"columnId,omitempty"`
	CardID    string     `json:"cardId,omitempty"`
	Author    string     `json:"author,omitempty"`
	Text      string     `json:"text,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"`

	SourceColumnID ColumnID `json:"sourceColumnId,omitempty"`
	DestColumnID   ColumnID `json:"destColumnId,omitempty"`
	SourceIndex    int      `json:"sourceIndex,omitempty"`
	DestIndex      int      `json:"destIndex,omitempty"`

	BoardName string `json:"boardName,omitempty"`
}
