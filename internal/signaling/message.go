package signaling

import (
	"encoding/json"
	"errors"
)

// Message is the envelope exchanged with the relay.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message type constants.
const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypeICE    = "ice"

	TypeListeningStarted = "listening-started"
	TypeListeningStopped = "listening-stopped"
	TypeBroadcastStarted = "broadcast-started"
	TypeBroadcastStopped = "broadcast-stopped"

	TypeSpeakerConnected    = "speaker-connected"
	TypeSpeakerDisconnected = "speaker-disconnected"

	TypeParticipantCount        = "participant-count"
	TypeParticipantConnected    = "participant-connected"
	TypeParticipantDisconnected = "participant-disconnected"

	// TypeTimestamp carries "rtpTs:sendTs" pairs for the latency table.
	TypeTimestamp = "timestamp"
)

// ErrNoData is returned when decoding a message that carries no payload.
var ErrNoData = errors.New("message has no data")

// NewMessage builds a message, encoding data as JSON. A nil data leaves the payload empty.
func NewMessage(msgType string, data any) (*Message, error) {
	msg := &Message{Type: msgType}
	if data == nil {
		return msg, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return ErrNoData
	}
	return json.Unmarshal(m.Data, v)
}
