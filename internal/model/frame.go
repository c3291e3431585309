package model

import "encoding/json"

const (
	// Client -> relay: announce presence and publish the current public key.
	FrameOnline = "online"
	// Both directions: an encrypted message.
	FrameMessage = "message"
	// Relay -> sender: the relay accepted the message for routing.
	FrameAck = "ack"
	// Relay -> sender: the message reached a live connection.
	FrameDelivered = "delivered"
	// Relay -> everyone else: a peer came online or went offline.
	FramePresence = "presence"
)

// Frame is one websocket event. Exactly one payload field is set,
// discriminated by Type.
type Frame struct {
	Type     string    `json:"type" validate:"required"`
	Presence *Presence `json:"presence,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Ack      *Ack      `json:"ack,omitempty"`
}

func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
