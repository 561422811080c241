package session

import (
	"retroboard/internal/board"
	"retroboard/internal/roster"
)

// Role is the participant's position in the arbitration protocol.
type Role string

const (
	RoleStarting        Role = "starting"
	RoleHost            Role = "host"
	RoleGuestConnecting Role = "guest-connecting"
	RoleGuestConnected  Role = "guest-connected"
	RoleGuestOffline    Role = "guest-offline"
	// RoleOffline serves the local checkpoint without a network.
	RoleOffline Role = "offline"
)

// IsGuest reports whether r is one of the guest states.
func (r Role) IsGuest() bool {
	return r == RoleGuestConnecting || r == RoleGuestConnected || r == RoleGuestOffline
}

// View is an immutable snapshot of the session for the presentation layer.
type View struct {
	BoardID     string        `json:"boardId"`
	BoardName   string        `json:"boardName"`
	UserName    string        `json:"userName"`
	Role        Role          `json:"role"`
	Columns     board.Columns `json:"columns"`
	OnlineUsers []roster.User `json:"onlineUsers"`
	StateTs     int64         `json:"stateTs"`
}
