package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind tags the active payload of a Message.
type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindButtons    Kind = "button-set"
	KindCarousel   Kind = "carousel"
	KindLocate     Kind = "locate"
	KindAudioEmbed Kind = "audio-embed"
	KindCustom     Kind = "custom"
)

// Message is the renderer-agnostic content of one chat bubble.
//
// Exactly one payload pointer is set and it matches Kind. Build values with the
// New* constructors.
type Message struct {
	Kind     Kind        `json:"type"`
	Text     *Text       `json:"text,omitempty"`
	Image    *Image      `json:"image,omitempty"`
	Buttons  *ButtonSet  `json:"buttons,omitempty"`
	Carousel *Carousel   `json:"carousel,omitempty"`
	Locate   *Locate     `json:"locate,omitempty"`
	Audio    *AudioEmbed `json:"audio,omitempty"`
	Custom   *Custom     `json:"custom,omitempty"`
}

type Text struct {
	Body   string         `json:"body"`
	Custom map[string]any `json:"custom,omitempty"`
}

type Image struct {
	URL string `json:"url"`
}

type Button struct {
	Payload  string `json:"payload"`
	Title    string `json:"title"`
	Selected bool   `json:"selected,omitempty"`
}

type ButtonSet struct {
	Buttons []Button `json:"buttons"`
}

type Carousel struct {
	Payload json.RawMessage `json:"payload"`
}

// Locate asks the surface for the user's position. Intent is sent with the best
// position appended; ErrorIntent is sent when no usable position exists.
type Locate struct {
	Intent      string `json:"intent"`
	ErrorIntent string `json:"errorIntent"`
	Message     string `json:"message,omitempty"`
}

type AudioEmbed struct {
	Embed string `json:"embed"`
	Title string `json:"title,omitempty"`
}

type Custom struct {
	Content json.RawMessage `json:"content"`
}

func NewText(body string, custom map[string]any) Message {
	return Message{Kind: KindText, Text: &Text{Body: body, Custom: custom}}
}

func NewImage(url string) Message {
	return Message{Kind: KindImage, Image: &Image{URL: url}}
}

func NewButtons(buttons []Button) Message {
	copied := make([]Button, len(buttons))
	copy(copied, buttons)
	return Message{Kind: KindButtons, Buttons: &ButtonSet{Buttons: copied}}
}

func NewCarousel(payload json.RawMessage) Message {
	return Message{Kind: KindCarousel, Carousel: &Carousel{Payload: payload}}
}

func NewLocate(locate Locate) Message {
	return Message{Kind: KindLocate, Locate: &locate}
}

func NewAudioEmbed(embed string, title string) Message {
	return Message{Kind: KindAudioEmbed, Audio: &AudioEmbed{Embed: embed, Title: title}}
}

// NewCustom wraps opaque content for surfaces that render their own widgets.
// Parse never produces it: unrecognized custom keys are unparseable.
func NewCustom(content json.RawMessage) Message {
	return Message{Kind: KindCustom, Custom: &Custom{Content: content}}
}

// Validate checks the tagged-union invariant.
func (m Message) Validate() error {
	set := 0
	for _, present := range []bool{
		m.Text != nil, m.Image != nil, m.Buttons != nil, m.Carousel != nil,
		m.Locate != nil, m.Audio != nil, m.Custom != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("message must carry exactly one payload, got %d", set)
	}

	switch m.Kind {
	case KindText:
		if m.Text == nil {
			return errors.New("text message without text payload")
		}
	case KindImage:
		if m.Image == nil || strings.TrimSpace(m.Image.URL) == "" {
			return errors.New("image message without url")
		}
	case KindButtons:
		if m.Buttons == nil || len(m.Buttons.Buttons) == 0 {
			return errors.New("button-set message without buttons")
		}
	case KindCarousel:
		if m.Carousel == nil {
			return errors.New("carousel message without payload")
		}
	case KindLocate:
		if m.Locate == nil {
			return errors.New("locate message without payload")
		}
	case KindAudioEmbed:
		if m.Audio == nil {
			return errors.New("audio-embed message without payload")
		}
	case KindCustom:
		if m.Custom == nil {
			return errors.New("custom message without payload")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}

	return nil
}

// VisibleText returns the human-visible text of a text message.
func (m Message) VisibleText() (string, bool) {
	if m.Kind != KindText || m.Text == nil {
		return "", false
	}

	return m.Text.Body, true
}
