package message

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope exchanged over every broker topic. Payload always carries
// an "agent_id" key identifying the sender. Timestamp is seconds since epoch,
// floating point, and is the fence used to drop stale inter-round traffic.
type Message struct {
	Type      Tag            `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp float64        `json:"timestamp"`
}

// New builds a Message, stamping the sender's agent_id into the payload.
func New(tag Tag, senderID string, timestamp float64, payload map[string]any) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["agent_id"] = senderID
	return Message{Type: tag, Payload: payload, Timestamp: timestamp}
}

// SenderID extracts the agent_id field every message payload carries for its sender.
func (m Message) SenderID() string {
	if v, ok := m.Payload["agent_id"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Marshal encodes m using the standard library's strict JSON parser. Broker bodies
// are never deserialized by evaluating them as code; encoding/json is sufficient and
// correct here, not a stand-in for anything richer.
func (m Message) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a Message from JSON. A malformed body is the caller's to treat as
// a drop-and-continue case: log at warn and move on rather than crash the agent loop.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return m, nil
}

// IsStale reports whether m must be dropped by the timestamp fence: a receiver drops
// any message whose timestamp is earlier than its own latest observed event time.
func (m Message) IsStale(latestEventTimestamp float64) bool {
	return m.Timestamp < latestEventTimestamp
}

// IsSelf reports whether the message was published by selfID. Self-delivered
// broadcasts must be dropped by the receiver.
func (m Message) IsSelf(selfID string) bool {
	return m.SenderID() == selfID
}
