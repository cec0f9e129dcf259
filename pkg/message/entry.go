package message

import (
	"time"

	"github.com/google/uuid"
)

// BotSender is the sender of every backend-originated entry.
const BotSender = "bot"

// Entry is one message placed on the conversation timeline.
type Entry struct {
	Message   Message `json:"message"`
	Sender    string  `json:"sender"`
	Timestamp int64   `json:"timestamp"`
	ID        string  `json:"id"`
}

// NewEntry stamps msg with a fresh id and the given time.
func NewEntry(msg Message, sender string, at time.Time) Entry {
	return Entry{
		Message:   msg,
		Sender:    sender,
		Timestamp: at.UnixMilli(),
		ID:        uuid.NewString(),
	}
}

func (e Entry) IsBot() bool {
	return e.Sender == BotSender
}

// Time converts the epoch-ms timestamp back to a time.Time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Metadata travels with an outgoing message to the backend.
type Metadata map[string]any

const (
	MetaDisplayText = "displayText"
	MetaFromHost    = "from_host"
)

// DisplayText returns the non-empty display override, if any.
func (m Metadata) DisplayText() (string, bool) {
	if m == nil {
		return "", false
	}

	value, ok := m[MetaDisplayText].(string)
	if !ok || value == "" {
		return "", false
	}

	return value, true
}
