package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"chatroom/pkg/attach"
	"chatroom/pkg/backend"
	"chatroom/pkg/bus"
	"chatroom/pkg/grouping"
	"chatroom/pkg/message"
	"chatroom/pkg/session"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

const uploadCommand = "/upload"

// Session is the part of session.Controller the chat surface drives.
type Session interface {
	View() session.View
	SendMessage(ctx context.Context, payload string, meta message.Metadata) error
	HandleButtonClick(ctx context.Context, title string, payload string) error
	SendFile(ctx context.Context, files []backend.File) (*backend.UploadResult, error)
	CompleteConsent(ctx context.Context) error
	Subscribe(ctx context.Context, buffer int) (<-chan bus.Event, func())
}

// Info is shown in the header. Uploads resolves /upload paths; nil allows
// any readable file.
type Info struct {
	UserID  string
	Host    string
	Uploads *attach.Guard
}

type eventMsg struct {
	event bus.Event
	ok    bool
}

type actionResultMsg struct {
	err error
}

type model struct {
	ctx     context.Context
	session Session
	events  <-chan bus.Event
	info    Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	renderer  *glamour.TermRenderer
	consent   *huh.Form
	accepted  bool
	view      session.View
	width     int
	height    int
	isReady   bool
	lastErr   string
	followLog bool
}

func newModel(ctx context.Context, sess Session, events <-chan bus.Event, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Type a message, a button number, or /upload <file>..."
	in.Focus()
	in.CharLimit = 0

	m := &model{
		ctx:       ctx,
		session:   sess,
		events:    events,
		info:      info,
		theme:     newTheme(chatPalette),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
	if sess != nil {
		m.view = sess.View()
	}
	if m.view.ConsentRequired {
		m.consent = consentForm(&m.accepted)
	}
	m.resizeComponents()

	return m
}

func consentForm(accepted *bool) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Start the conversation?").
				Description("Messages you send are stored by the assistant to answer you.").
				Affirmative("Accept").
				Negative("Decline").
				Value(accepted),
		),
	)
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitEventCmd(m.events)}
	if m.consent != nil {
		cmds = append(cmds, m.consent.Init())
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case eventMsg:
		if !typed.ok {
			return m, nil
		}
		m.refresh()
		if typed.event.Type == bus.EventSendFailed && typed.event.Error != "" {
			m.lastErr = typed.event.Error
		}
		return m, tea.Batch(waitEventCmd(m.events), m.spinnerCmd())
	case actionResultMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.view.Waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}

	if m.consent != nil {
		return m.updateConsent(msg)
	}

	switch typed := msg.(type) {
	case tea.KeyMsg:
		if typed.String() == "esc" {
			return m, tea.Quit
		}
		if m.handleViewportKey(typed) {
			return m, nil
		}
		if typed.String() == "enter" {
			return m.submit()
		}
	case tea.MouseMsg:
		if m.handleViewportMouse(typed) {
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) updateConsent(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.consent.Update(msg)
	if form, ok := next.(*huh.Form); ok {
		m.consent = form
	}

	switch m.consent.State {
	case huh.StateCompleted:
		m.consent = nil
		if !m.accepted {
			return m, tea.Quit
		}
		return m, tea.Batch(cmd, m.actionCmd(func(ctx context.Context) error {
			return m.session.CompleteConsent(ctx)
		}))
	case huh.StateAborted:
		return m, tea.Quit
	}

	return m, cmd
}

// submit interprets the input line: exit words quit, /upload sends a file, a
// number clicks the matching button of the clickable group, and anything else
// is a chat message.
func (m *model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if isExitCommand(text) {
		return m, tea.Quit
	}
	if m.view.Disabled {
		m.lastErr = "input is disabled while the assistant is unreachable"
		return m, nil
	}

	m.input.SetValue("")
	m.lastErr = ""
	m.followLog = true

	if path, ok := uploadPath(text); ok {
		return m, m.actionCmd(func(ctx context.Context) error {
			return uploadFile(ctx, m.session, m.info.Uploads, path)
		})
	}

	if button, ok := pickButton(m.view, text); ok {
		return m, m.actionCmd(func(ctx context.Context) error {
			return m.session.HandleButtonClick(ctx, button.Title, button.Payload)
		})
	}

	return m, tea.Batch(m.spinner.Tick, m.actionCmd(func(ctx context.Context) error {
		return m.session.SendMessage(ctx, text, nil)
	}))
}

func (m *model) actionCmd(action func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionResultMsg{err: action(ctx)}
	}
}

func (m *model) spinnerCmd() tea.Cmd {
	if m.view.Waiting {
		return m.spinner.Tick
	}
	return nil
}

func (m *model) refresh() {
	m.view = m.session.View()
	m.refreshViewport(false)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("💬 " + m.view.Title)
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"user:%s · host:%s · phase:%s",
		displayOrNA(m.info.UserID),
		displayOrNA(m.info.Host),
		m.view.Phase,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	if m.consent != nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, m.consent.View())
	}

	status := m.theme.status.Render("💡 Enter send  ·  number clicks a button  ·  /upload <file>  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	switch {
	case m.lastErr != "":
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	case m.view.Disabled:
		status = m.theme.statusErr.Render("📴 waiting for the assistant to come back...")
	case m.view.Waiting:
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s typing...", m.spinner.View()))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("🙂 You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 10
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(w-4),
	)
	if err == nil {
		m.renderer = renderer
	}
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.view.Groups))
	for i, group := range m.view.Groups {
		sections = append(sections, m.renderGroup(group, m.view.Clickable(i)))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) renderGroup(group grouping.Group, clickable bool) string {
	bodies := make([]string, 0, len(group.Entries))
	for _, entry := range group.Entries {
		if body := renderMessage(entry.Message, clickable, m.markdown); body != "" {
			bodies = append(bodies, body)
		}
	}
	body := strings.Join(bodies, "\n")

	style := m.theme.bubbleFor(group.Sender())
	label := style.label
	if group.Sender() == message.BotSender {
		label += " " + m.view.Title
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		style.title.Render(label),
		style.box.Width(m.viewport.Width).Render(body),
	)
}

func (m *model) markdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}

func max(a int, b int) int {
	if a > b {
		return a
	}

	return b
}

func waitEventCmd(events <-chan bus.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		return eventMsg{event: event, ok: ok}
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.LineUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.LineDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

// pickButton resolves a 1-based button number against the clickable group.
func pickButton(view session.View, input string) (message.Button, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return message.Button{}, false
	}

	buttons, ok := view.Buttons()
	if !ok || n < 1 || n > len(buttons) {
		return message.Button{}, false
	}
	return buttons[n-1], true
}

func uploadPath(input string) (string, bool) {
	rest, ok := strings.CutPrefix(input, uploadCommand)
	if !ok || (rest != "" && rest[0] != ' ') {
		return "", false
	}
	path := strings.TrimSpace(rest)
	return path, path != ""
}

func uploadFile(ctx context.Context, sess Session, uploads *attach.Guard, path string) error {
	file, err := uploads.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = sess.SendFile(ctx, []backend.File{{Name: filepath.Base(file.Name()), Body: file}})
	return err
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
