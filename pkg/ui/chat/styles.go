package chat

import (
	"chatroom/pkg/message"

	"github.com/charmbracelet/lipgloss"
)

// palette holds the colors every style is derived from. Each color adapts to
// light and dark terminals.
type palette struct {
	brand   lipgloss.AdaptiveColor
	onBrand lipgloss.AdaptiveColor
	bot     lipgloss.AdaptiveColor
	user    lipgloss.AdaptiveColor
	surface lipgloss.AdaptiveColor
	muted   lipgloss.AdaptiveColor
	busy    lipgloss.AdaptiveColor
	danger  lipgloss.AdaptiveColor
}

var chatPalette = palette{
	brand:   lipgloss.AdaptiveColor{Light: "25", Dark: "24"},
	onBrand: lipgloss.AdaptiveColor{Light: "231", Dark: "230"},
	bot:     lipgloss.AdaptiveColor{Light: "31", Dark: "44"},
	user:    lipgloss.AdaptiveColor{Light: "166", Dark: "214"},
	surface: lipgloss.AdaptiveColor{Light: "255", Dark: "234"},
	muted:   lipgloss.AdaptiveColor{Light: "244", Dark: "246"},
	busy:    lipgloss.AdaptiveColor{Light: "136", Dark: "222"},
	danger:  lipgloss.AdaptiveColor{Light: "160", Dark: "203"},
}

// bubble styles one side of the conversation.
type bubble struct {
	label string
	title lipgloss.Style
	box   lipgloss.Style
}

type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	viewport   lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	inputLabel lipgloss.Style
	input      lipgloss.Style

	bot  bubble
	user bubble
}

func newTheme(p palette) theme {
	bold := lipgloss.NewStyle().Bold(true)

	return theme{
		header:     bold.Padding(0, 1).Foreground(p.onBrand).Background(p.brand),
		headerMeta: lipgloss.NewStyle().Foreground(p.muted),
		divider:    lipgloss.NewStyle().Foreground(p.brand),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.brand).
			Padding(0, 1),
		status:     bold.Foreground(p.muted),
		statusBusy: bold.Foreground(p.busy),
		statusErr:  bold.Foreground(p.danger),
		hint:       lipgloss.NewStyle().Foreground(p.muted).Italic(true),
		inputLabel: bold.Foreground(p.user),
		input: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(p.user).
			Padding(0, 1),
		bot:  newBubble("🤖", p.bot, p.surface),
		user: newBubble("🙂 You", p.user, p.surface),
	}
}

func newBubble(label string, accent lipgloss.AdaptiveColor, surface lipgloss.AdaptiveColor) bubble {
	return bubble{
		label: label,
		title: lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(surface).Background(accent),
		box: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder(), false, false, false, true).
			BorderForeground(accent).
			Background(surface).
			Padding(0, 1),
	}
}

func (t theme) bubbleFor(sender string) bubble {
	if sender == message.BotSender {
		return t.bot
	}
	return t.user
}
