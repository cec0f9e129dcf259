package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatroom/pkg/chaterr"
)

// ErrUnparseableMessage marks a bot message that produced no display content.
var ErrUnparseableMessage = errors.New("could not parse message from bot or empty message")

const (
	customSoundcloud  = "soundcloud"
	customLocate      = "locate"
	customHandoffHost = "handoff_host"
	customTitle       = "title"

	attachmentCarousel = "carousel"
)

// BotMessage is one element of a backend response batch.
type BotMessage struct {
	RecipientID string          `json:"recipient_id,omitempty"`
	Text        string          `json:"text,omitempty"`
	Buttons     []Button        `json:"buttons,omitempty"`
	Image       string          `json:"image,omitempty"`
	Attachment  json.RawMessage `json:"attachment,omitempty"`
	Custom      map[string]any  `json:"custom,omitempty"`
}

// Handoff redirects subsequent traffic to another backend host.
type Handoff struct {
	Host  string
	Title string
}

// Result is the outcome of parsing one message or one batch.
type Result struct {
	Messages []Message
	Handoff  *Handoff
}

type rule struct {
	name    string
	matches func(BotMessage) bool
	project func(BotMessage) (Message, error)
}

// rules are evaluated in order; every matching rule contributes one message.
var rules = []rule{
	{
		name:    "text",
		matches: func(m BotMessage) bool { return m.Text != "" },
		project: func(m BotMessage) (Message, error) { return NewText(m.Text, m.Custom), nil },
	},
	{
		name:    "buttons",
		matches: func(m BotMessage) bool { return len(m.Buttons) > 0 },
		project: func(m BotMessage) (Message, error) { return NewButtons(m.Buttons), nil },
	},
	{
		name:    "image",
		matches: func(m BotMessage) bool { return m.Image != "" },
		project: func(m BotMessage) (Message, error) { return NewImage(m.Image), nil },
	},
	{
		name:    "carousel",
		matches: func(m BotMessage) bool { return IsCarouselAttachment(m.Attachment) },
		project: func(m BotMessage) (Message, error) { return ProjectAttachment(m.Attachment), nil },
	},
	{
		name: "attachment",
		matches: func(m BotMessage) bool {
			return hasJSON(m.Attachment) && !IsCarouselAttachment(m.Attachment)
		},
		project: func(m BotMessage) (Message, error) {
			msg := ProjectAttachment(m.Attachment)
			if msg.Text != nil {
				msg.Text.Custom = m.Custom
			}
			return msg, nil
		},
	},
	{
		name:    "soundcloud",
		matches: func(m BotMessage) bool { return hasCustomKey(m.Custom, customSoundcloud) },
		project: func(m BotMessage) (Message, error) { return ProjectSoundcloud(m.Custom), nil },
	},
	{
		name:    "locate",
		matches: func(m BotMessage) bool { return hasCustomKey(m.Custom, customLocate) },
		project: func(m BotMessage) (Message, error) { return ProjectLocate(m.Custom) },
	},
}

// Parse expands one backend message into display messages.
//
// A handoff message yields no display messages and stops rule evaluation.
func Parse(m BotMessage) (Result, error) {
	if handoff, ok := HandoffFrom(m.Custom); ok {
		return Result{Handoff: &handoff}, nil
	}

	var out []Message
	for _, r := range rules {
		if !r.matches(m) {
			continue
		}
		msg, err := r.project(m)
		if err != nil {
			return Result{}, fmt.Errorf("project %s: %w", r.name, err)
		}
		out = append(out, msg)
	}

	if len(out) == 0 {
		return Result{}, ErrUnparseableMessage
	}

	return Result{Messages: out}, nil
}

// ParseBatch parses a whole response batch. Any unparseable message fails the
// batch and nothing is returned. Only the first handoff is kept.
func ParseBatch(batch []BotMessage) (Result, error) {
	var result Result
	for i, m := range batch {
		parsed, err := Parse(m)
		if err != nil {
			return Result{}, chaterr.Wrap(chaterr.UnparseableMessage, fmt.Sprintf("bot message %d", i), err)
		}
		result.Messages = append(result.Messages, parsed.Messages...)
		if parsed.Handoff != nil && result.Handoff == nil {
			result.Handoff = parsed.Handoff
		}
	}

	return result, nil
}

// HandoffFrom extracts a handoff signal from a custom payload.
func HandoffFrom(custom map[string]any) (Handoff, bool) {
	host, ok := custom[customHandoffHost].(string)
	if !ok || strings.TrimSpace(host) == "" {
		return Handoff{}, false
	}

	title, _ := custom[customTitle].(string)
	return Handoff{Host: strings.TrimSpace(host), Title: title}, true
}

// IsCarouselAttachment reports whether raw is an attachment of type carousel.
func IsCarouselAttachment(raw json.RawMessage) bool {
	if !hasJSON(raw) {
		return false
	}

	var typed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return false
	}

	return typed.Type == attachmentCarousel
}

// ProjectAttachment turns an attachment into a carousel or, for any other
// attachment, a text message whose body is the attachment URL.
func ProjectAttachment(raw json.RawMessage) Message {
	if IsCarouselAttachment(raw) {
		var typed struct {
			Payload json.RawMessage `json:"payload"`
		}
		_ = json.Unmarshal(raw, &typed)
		return NewCarousel(typed.Payload)
	}

	return NewText(attachmentBody(raw), nil)
}

// ProjectSoundcloud builds an audio embed from custom.soundcloud and custom.title.
func ProjectSoundcloud(custom map[string]any) Message {
	embed, _ := custom[customSoundcloud].(string)
	title, _ := custom[customTitle].(string)
	return NewAudioEmbed(embed, title)
}

// ProjectLocate decodes custom.locate.
func ProjectLocate(custom map[string]any) (Message, error) {
	raw, err := json.Marshal(custom[customLocate])
	if err != nil {
		return Message{}, fmt.Errorf("encode locate payload: %w", err)
	}

	var locate Locate
	if err := json.Unmarshal(raw, &locate); err != nil {
		return Message{}, fmt.Errorf("decode locate payload: %w", err)
	}

	return NewLocate(locate), nil
}

func attachmentBody(raw json.RawMessage) string {
	var body string
	if err := json.Unmarshal(raw, &body); err == nil {
		return body
	}

	var typed struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil && hasJSON(typed.Payload) {
		if err := json.Unmarshal(typed.Payload, &body); err == nil {
			return body
		}

		var ref struct {
			Src string `json:"src"`
			URL string `json:"url"`
		}
		if err := json.Unmarshal(typed.Payload, &ref); err == nil {
			if ref.Src != "" {
				return ref.Src
			}
			if ref.URL != "" {
				return ref.URL
			}
		}
	}

	return string(raw)
}

func hasJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func hasCustomKey(custom map[string]any, key string) bool {
	if custom == nil {
		return false
	}

	value, ok := custom[key]
	if !ok || value == nil {
		return false
	}
	if text, isText := value.(string); isText {
		return text != ""
	}

	return true
}
