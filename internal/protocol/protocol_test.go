package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retroboard/internal/board"
	"retroboard/internal/roster"
)

func TestEncodeTagsMessages(t *testing.T) {
	data, err := Encode(ActionMessage{Action: board.Action{Type: board.Vote, ColumnID: board.WentWell, CardID: "c1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ACTION","action":{"type":"VOTE","columnId":"went-well","cardId":"c1"}}`, string(data))

	data, err = Encode(Announce{UserName: "Alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ANNOUNCE","userName":"Alice"}`, string(data))
}

func TestDecodeSyncState(t *testing.T) {
	raw := `{
		"type": "SYNC_STATE",
		"state": {"went-well": [{"id": "c1", "text": "", "votes": 0, "author": "Alice", "createdAt": 5}]},
		"boardName": "Retro",
		"onlineUsers": [{"name": "Alice", "isHost": true}],
		"stateTs": 99
	}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	st, ok := msg.(SyncState)
	require.True(t, ok)
	assert.Equal(t, "Retro", st.BoardName)
	assert.Equal(t, int64(99), st.StateTs)
	assert.Equal(t, []roster.User{{Name: "Alice", IsHost: true}}, st.OnlineUsers)
	require.Len(t, st.State.WentWell, 1)
	assert.Equal(t, "Alice", st.State.WentWell[0].Author)
	assert.Empty(t, st.State.ToImprove)
}

func TestDecodeAnnounceWithCheckpoint(t *testing.T) {
	state := board.Empty()
	state.ActionItems = []board.Card{{ID: "x", Text: "ship it"}}
	data, err := Encode(Announce{UserName: "Bob", SavedTs: 1234, SavedState: &state, SavedBoardName: "Old"})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	ann := msg.(Announce)
	assert.Equal(t, int64(1234), ann.SavedTs)
	require.NotNil(t, ann.SavedState)
	assert.Equal(t, "ship it", ann.SavedState.ActionItems[0].Text)
	assert.Equal(t, "Old", ann.SavedBoardName)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"PING"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Decode([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownType))

	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}
