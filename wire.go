package tour

import (
	"encoding/json"
	"fmt"
)

// Message kinds exchanged over the transport.
const (
	// MessageSnapshot carries the full tour plus the live presence map.
	// Sent once per newly attached client.
	MessageSnapshot = "snapshot"

	// MessageUpdate carries an ordered patch against the tour.
	MessageUpdate = "update"

	// MessagePresence announces or clears the location a client is viewing.
	MessagePresence = "presence"
)

// Message is the envelope for all three wire message kinds.
//
// Presence has its own message kind end to end. Announcements carry the
// sender identity and a scene; a cleared presence omits the scene.
type Message struct {
	Type string `json:"type"`

	// Data holds the tour for snapshots and the raw patch for updates.
	Data json.RawMessage `json:"data,omitempty"`

	// Presence is the full presence map, sent with snapshots only.
	Presence map[string]string `json:"presence,omitempty"`

	// ID is the sender identity for presence messages. The hub stamps it
	// from the connection; any client-supplied value is ignored.
	ID string `json:"id,omitempty"`

	// Scene is the announced location for presence messages. Empty means
	// the presence entry is cleared.
	Scene string `json:"scene,omitempty"`
}

// EncodeSnapshot builds a snapshot message for a tour and presence map.
func EncodeSnapshot(t *Tour, presence map[string]string) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot tour: %w", err)
	}
	return json.Marshal(Message{
		Type:     MessageSnapshot,
		Data:     data,
		Presence: presence,
	})
}

// EncodeUpdate builds an update message carrying the raw patch verbatim.
func EncodeUpdate(patch Patch) ([]byte, error) {
	return json.Marshal(Message{
		Type: MessageUpdate,
		Data: json.RawMessage(patch),
	})
}

// EncodePresence builds a presence message. An empty scene clears the entry.
func EncodePresence(id, scene string) ([]byte, error) {
	return json.Marshal(Message{
		Type:  MessagePresence,
		ID:    id,
		Scene: scene,
	})
}

// DecodeMessage parses a wire message envelope.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case MessageSnapshot, MessageUpdate, MessagePresence:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}
