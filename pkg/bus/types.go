package bus

import "chatroom/pkg/message"

// InboundKind tells the gateway which session operation an inbound message maps to.
type InboundKind string

const (
	InboundText     InboundKind = "text"
	InboundButton   InboundKind = "button"
	InboundLocation InboundKind = "location"
	InboundConsent  InboundKind = "consent"
)

// Location is a position shared from a channel client.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

type InboundMessage struct {
	Channel    string            `json:"channel"`
	Kind       InboundKind       `json:"kind"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Title      string            `json:"title,omitempty"`
	Location   *Location         `json:"location,omitempty"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage carries one timeline entry to the channel that owns the chat.
type OutboundMessage struct {
	Channel    string        `json:"channel"`
	ChatID     string        `json:"chat_id"`
	SessionKey string        `json:"session_key,omitempty"`
	Entry      message.Entry `json:"entry"`
	Error      string        `json:"error,omitempty"`
}
