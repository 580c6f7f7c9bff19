package models

import "encoding/json"

// FrameType names a websocket event
type FrameType string

const (
	// Client -> server
	FrameJoin     FrameType = "join"
	FrameLeave    FrameType = "leave"
	FrameSignal   FrameType = "signal"
	FrameChat     FrameType = "chat"
	FramePresence FrameType = "presence"

	// Server -> client, room scoped
	FrameHello      FrameType = "hello"
	FramePeers      FrameType = "peers"
	FramePeerJoined FrameType = "peer-joined"
	FramePeerLeft   FrameType = "peer-left"
	FrameLeft       FrameType = "left"
	FrameError      FrameType = "error"

	// Server -> client, personal channel
	FrameIncomingCall        FrameType = "incoming-call"
	FrameSessionConnect      FrameType = "session:connect"
	FrameSessionInstructions FrameType = "session:instructions"
	FrameNotification        FrameType = "notification"
)

// Frame is the envelope of every websocket message in either direction.
// Data is opaque to the relay for signal, chat and presence frames.
type Frame struct {
	Type   FrameType       `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a server frame with a JSON-encoded payload.
func NewFrame(t FrameType, roomID string, data any) (Frame, error) {
	f := Frame{Type: t, RoomID: roomID}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	f.Data = raw
	return f, nil
}

// PeersPayload is the membership snapshot sent to a joiner.
type PeersPayload struct {
	Peers []string `json:"peers"`
}

// PeerPayload identifies the connection that joined or left.
type PeerPayload struct {
	ID string `json:"id"`
}

// HelloPayload tells a new connection who it is.
type HelloPayload struct {
	ID    string `json:"id"`
	Party string `json:"party"`
	Role  Role   `json:"role"`
}

// ErrorPayload reports a refused frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatPayload is the body of a chat frame.
type ChatPayload struct {
	Text string `json:"text"`
	At   int64  `json:"at,omitempty"`
}
