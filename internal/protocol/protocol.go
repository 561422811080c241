// Package protocol defines the messages participants exchange over a peer
// connection. The set of messages is closed: Decode only ever returns one of
// the three types declared here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"retroboard/internal/board"
	"retroboard/internal/roster"
)

// Type is the wire discriminator of a message.
type Type string

const (
	TypeAnnounce  Type = "ANNOUNCE"
	TypeAction    Type = "ACTION"
	TypeSyncState Type = "SYNC_STATE"
)

// ErrUnknownType is returned by Decode for a message tag it does not know.
var ErrUnknownType = errors.New("unknown message type")

// Message is implemented by Announce, ActionMessage and SyncState only.
type Message interface {
	Type() Type
	sealed()
}

// Announce is sent once by a guest right after its connection opens, and
// again when the guest changes its display name. The saved fields carry the
// guest's own checkpoint, if it has one.
type Announce struct {
	UserName       string         `json:"userName"`
	SavedTs        int64          `json:"savedTs,omitempty"`
	SavedState     *board.Columns `json:"savedState,omitempty"`
	SavedBoardName string         `json:"savedBoardName,omitempty"`
}

// ActionMessage relays a guest's mutation to the host.
type ActionMessage struct {
	Action board.Action `json:"action"`
}

// SyncState is the full snapshot the host sends to every connection.
type SyncState struct {
	State       board.Columns `json:"state"`
	BoardName   string        `json:"boardName"`
	OnlineUsers []roster.User `json:"onlineUsers"`
	StateTs     int64         `json:"stateTs"`
}

func (Announce) Type() Type      { return TypeAnnounce }
func (ActionMessage) Type() Type { return TypeAction }
func (SyncState) Type() Type     { return TypeSyncState }

func (Announce) sealed()      {}
func (ActionMessage) sealed() {}
func (SyncState) sealed()     {}

// Encode serializes m with its type tag.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	tag, _ := json.Marshal(m.Type())
	fields["type"] = tag
	return json.Marshal(fields)
}

// Decode parses a tagged message.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch envelope.Type {
	case TypeAnnounce:
		var m Announce
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeAction:
		var m ActionMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeSyncState:
		var m SyncState
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		if m.OnlineUsers == nil {
			m.OnlineUsers = []roster.User{}
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
}
