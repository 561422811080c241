// Package signaling is the relay through which agents claim peer identities
// and exchange point-to-point messages. Identities live in Redis so several
// relay instances can serve one deployment.
package signaling

import (
	"encoding/json"
	"fmt"
)

type FrameType string

const (
	// FrameOpen confirms a claimed identity. Server to client.
	FrameOpen FrameType = "OPEN"
	// FrameIDTaken rejects a claim because another peer holds the identity.
	FrameIDTaken FrameType = "ID-TAKEN"
	// FrameConnect asks Dst to open logical connection Conn.
	FrameConnect FrameType = "CONNECT"
	// FrameAccept answers a CONNECT.
	FrameAccept FrameType = "ACCEPT"
	// FrameData carries one message on Conn.
	FrameData FrameType = "DATA"
	// FrameClose ends Conn.
	FrameClose FrameType = "CLOSE"
	// FrameUnavailable reports that Src could not be reached for Conn.
	FrameUnavailable FrameType = "UNAVAILABLE"
	// FrameLeave reports that Src disconnected from the relay.
	FrameLeave FrameType = "LEAVE"
	FrameError FrameType = "ERROR"
)

// Frame is the relay's wire unit. Src is always set by the relay, never
// trusted from the client.
type Frame struct {
	Type    FrameType `json:"type"`
	ID      string    `json:"id,omitempty"`
	Src     string    `json:"src,omitempty"`
	Dst     string    `json:"dst,omitempty"`
	Conn    string    `json:"conn,omitempty"`
	Payload string    `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func (f Frame) Encode() []byte {
	data, _ := json.Marshal(f)
	return data
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// ValidPeerID reports whether id can be claimed on the relay.
func ValidPeerID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
