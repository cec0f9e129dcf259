package history

import (
	"encoding/json"
	"log/slog"
	"math"

	"chatroom/pkg/message"

	"github.com/google/uuid"
)

const (
	EventUser = "user"
	EventBot  = "bot"
)

// Tracker is the backend's conversation tracker as served by the tracker endpoint.
type Tracker struct {
	SenderID        string         `json:"sender_id"`
	Slots           map[string]any `json:"slots,omitempty"`
	LatestEventTime float64        `json:"latest_event_time,omitempty"`
	Paused          bool           `json:"paused,omitempty"`
	LatestMessage   map[string]any `json:"latest_message,omitempty"`
	Events          []Event        `json:"events"`
}

// Event is one tracker event. Only user and bot events are replayed.
type Event struct {
	Event     string         `json:"event"`
	Timestamp float64        `json:"timestamp"`
	MessageID string         `json:"message_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Data      *EventData     `json:"data,omitempty"`
}

type EventData struct {
	Buttons    []message.Button `json:"buttons,omitempty"`
	Image      string           `json:"image,omitempty"`
	Attachment json.RawMessage  `json:"attachment,omitempty"`
	Custom     map[string]any   `json:"custom,omitempty"`
}

// dataIDSuffix keeps the second entry of a text-plus-data event distinct.
const dataIDSuffix = ":data"

// Extract translates tracker events into timeline entries, preserving event order.
//
// Each event yields a text entry when it has text and, independently, at most
// one entry for its richest data payload.
func Extract(tracker Tracker) []message.Entry {
	log := slog.Default().With("component", "history")

	var entries []message.Entry
	for _, event := range tracker.Events {
		if event.Event != EventUser && event.Event != EventBot {
			continue
		}

		envelope := message.Entry{
			Timestamp: int64(math.Round(event.Timestamp * 1000)),
			Sender:    event.Event,
			ID:        event.MessageID,
		}
		if envelope.ID == "" {
			envelope.ID = uuid.NewString()
		}

		hasText := event.Text != ""
		if hasText {
			var custom map[string]any
			if event.Data != nil {
				custom = event.Data.Custom
			}
			entry := envelope
			entry.Message = message.NewText(displayText(event), custom)
			entries = append(entries, entry)
		}

		if msg, ok := dataMessage(event.Data, log); ok {
			entry := envelope
			if hasText {
				entry.ID += dataIDSuffix
			}
			entry.Message = msg
			entries = append(entries, entry)
		}
	}

	return entries
}

func displayText(event Event) string {
	if value, ok := event.Metadata[message.MetaDisplayText].(string); ok && value != "" {
		return value
	}

	return event.Text
}

func dataMessage(data *EventData, log *slog.Logger) (message.Message, bool) {
	if data == nil {
		return message.Message{}, false
	}

	switch {
	case len(data.Buttons) > 0:
		return message.NewButtons(data.Buttons), true
	case data.Image != "":
		return message.NewImage(data.Image), true
	case hasAttachment(data.Attachment):
		return message.ProjectAttachment(data.Attachment), true
	case data.Custom != nil && data.Custom["locate"] != nil:
		msg, err := message.ProjectLocate(data.Custom)
		if err != nil {
			log.Warn("Skipping malformed locate event", "error", err)
			return message.Message{}, false
		}
		return msg, true
	case data.Custom != nil && data.Custom["soundcloud"] != nil:
		return message.ProjectSoundcloud(data.Custom), true
	}

	if _, ok := message.HandoffFrom(data.Custom); ok {
		log.Error("Handoff events are not replayed from history")
	}

	return message.Message{}, false
}

func hasAttachment(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	return string(raw) != "null"
}
