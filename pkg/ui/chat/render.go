package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatroom/pkg/emoji"
	"chatroom/pkg/message"
)

// renderMessage turns one message into terminal text. Text bodies go through
// markdown; a nil markdown func leaves them as typed.
func renderMessage(msg message.Message, clickable bool, markdown func(string) string) string {
	if markdown == nil {
		markdown = func(s string) string { return s }
	}

	switch msg.Kind {
	case message.KindText:
		body, _ := msg.VisibleText()
		return markdown(emoji.FromShortcodes(body))
	case message.KindImage:
		return "🖼  " + msg.Image.URL
	case message.KindButtons:
		return renderButtons(msg.Buttons.Buttons, clickable)
	case message.KindCarousel:
		return renderCarousel(msg.Carousel.Payload)
	case message.KindLocate:
		text := strings.TrimSpace(msg.Locate.Message)
		if text == "" {
			text = "Looking up your location..."
		}
		return "📍 " + text
	case message.KindAudioEmbed:
		return strings.TrimSpace("🎵 " + msg.Audio.Title + " " + msg.Audio.Embed)
	default:
		return ""
	}
}

func renderButtons(buttons []message.Button, clickable bool) string {
	lines := make([]string, 0, len(buttons))
	for i, button := range buttons {
		mark := " "
		if button.Selected {
			mark = "✓"
		}
		label := fmt.Sprintf("[%d]%s %s", i+1, mark, button.Title)
		if !clickable {
			label = fmt.Sprintf("  %s %s", mark, button.Title)
		}
		lines = append(lines, label)
	}
	return strings.Join(lines, "\n")
}

func renderCarousel(raw json.RawMessage) string {
	var payload struct {
		Elements []struct {
			Title    string `json:"title"`
			Subtitle string `json:"subtitle"`
		} `json:"elements"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Elements) == 0 {
		return "🗂  carousel"
	}

	lines := make([]string, 0, len(payload.Elements))
	for _, element := range payload.Elements {
		line := "🗂  " + element.Title
		if element.Subtitle != "" {
			line += " - " + element.Subtitle
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
