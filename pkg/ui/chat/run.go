package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"chatroom/pkg/attach"
	"chatroom/pkg/bus"
	"chatroom/pkg/message"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	eventBuffer = 256
	idlePoll    = 50 * time.Millisecond
)

// RunInteractive drives sess from a full-screen terminal UI until the user quits.
func RunInteractive(ctx context.Context, sess Session, info Info) error {
	events, unsubscribe := sess.Subscribe(ctx, eventBuffer)
	defer unsubscribe()

	model := newModel(ctx, sess, events, info)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

// RunPlain drives sess line by line for pipes and dumb terminals. Bot entries
// are printed as they reach the timeline. It returns when in is exhausted, an
// exit word is read, or ctx ends.
func RunPlain(ctx context.Context, sess Session, info Info, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out = &syncWriter{w: out}

	events, unsubscribe := sess.Subscribe(ctx, eventBuffer)
	defer unsubscribe()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for event := range events {
			if event.Type != bus.EventEntryAdded || event.Entry == nil || event.Entry.Sender != message.BotSender {
				continue
			}
			if body := renderMessage(event.Entry.Message, true, nil); body != "" {
				fmt.Fprintf(out, "bot> %s\n", body)
			}
		}
	}()

	drained, err := readLines(ctx, sess, info.Uploads, in, out)
	if drained && err == nil {
		waitIdle(ctx, sess)
	}
	cancel()
	unsubscribe()
	<-printed
	return err
}

// readLines reports drained when input ended rather than an exit word or ctx.
func readLines(ctx context.Context, sess Session, uploads *attach.Guard, in io.Reader, out io.Writer) (bool, error) {
	if sess.View().ConsentRequired {
		if err := sess.CompleteConsent(ctx); err != nil {
			return false, err
		}
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var text string
		select {
		case <-ctx.Done():
			return false, nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return true, err
				default:
					return false, nil
				}
			}
			text = strings.TrimSpace(line)
		}

		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return false, nil
		}

		var err error
		if path, ok := uploadPath(text); ok {
			err = uploadFile(ctx, sess, uploads, path)
		} else if button, ok := pickButton(sess.View(), text); ok {
			err = sess.HandleButtonClick(ctx, button.Title, button.Payload)
		} else {
			err = sess.SendMessage(ctx, text, nil)
		}
		if err != nil {
			fmt.Fprintf(out, "error> %v\n", err)
		}
	}
}

// waitIdle blocks until the session stops waiting for replies.
func waitIdle(ctx context.Context, sess Session) {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for sess.View().Waiting {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncWriter serializes writes from the reader loop and the event printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("👋 Conversation closed")
}
