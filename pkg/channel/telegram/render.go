package telegram

import (
	"encoding/json"
	"strconv"
	"strings"

	"chatroom/pkg/emoji"
	"chatroom/pkg/message"
)

const (
	callbackPrefix     = "b:"
	chooseOptionText   = "Choose an option:"
	shareLocationText  = "Please share your location."
	shareLocationLabel = "Share location"
)

// rendered is the Telegram form of one timeline message.
type rendered struct {
	text            string
	photoURL        string
	buttons         []message.Button
	requestLocation bool
}

type carouselPayload struct {
	Elements []carouselElement `json:"elements"`
}

type carouselElement struct {
	Title    string           `json:"title"`
	Subtitle string           `json:"subtitle"`
	ImageURL string           `json:"image_url"`
	Buttons  []message.Button `json:"buttons"`
}

// render maps a message onto what Telegram can show. Custom payloads have no
// rendering.
func render(msg message.Message) (rendered, bool) {
	switch msg.Kind {
	case message.KindText:
		body, _ := msg.VisibleText()
		body = strings.TrimSpace(emoji.FromShortcodes(body))
		if body == "" {
			return rendered{}, false
		}
		return rendered{text: body}, true
	case message.KindImage:
		return rendered{photoURL: msg.Image.URL}, true
	case message.KindButtons:
		return rendered{text: chooseOptionText, buttons: msg.Buttons.Buttons}, true
	case message.KindCarousel:
		return renderCarousel(msg.Carousel.Payload)
	case message.KindLocate:
		text := strings.TrimSpace(msg.Locate.Message)
		if text == "" {
			text = shareLocationText
		}
		return rendered{text: text, requestLocation: true}, true
	case message.KindAudioEmbed:
		title := strings.TrimSpace(msg.Audio.Title)
		if title == "" {
			return rendered{text: msg.Audio.Embed}, true
		}
		return rendered{text: title + "\n" + msg.Audio.Embed}, true
	default:
		return rendered{}, false
	}
}

// renderCarousel flattens carousel cards into one message with their titles
// and a keyboard holding every card's buttons.
func renderCarousel(raw json.RawMessage) (rendered, bool) {
	var payload carouselPayload
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Elements) == 0 {
		return rendered{}, false
	}

	var (
		lines   []string
		buttons []message.Button
	)
	for _, element := range payload.Elements {
		line := strings.TrimSpace(element.Title)
		if sub := strings.TrimSpace(element.Subtitle); sub != "" {
			line += " - " + sub
		}
		if line != "" {
			lines = append(lines, line)
		}
		buttons = append(buttons, element.Buttons...)
	}
	if len(lines) == 0 {
		lines = append(lines, chooseOptionText)
	}

	return rendered{text: strings.Join(lines, "\n"), buttons: buttons}, true
}

func callbackData(index int) string {
	return callbackPrefix + strconv.Itoa(index)
}

func parseCallbackData(data string) (int, bool) {
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(rest)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}
