package session

import (
	"sort"

	"chatroom/pkg/grouping"
	"chatroom/pkg/message"
)

// View is the render model of a session.
type View struct {
	Title           string
	Phase           Phase
	Waiting         bool
	Disabled        bool
	ConsentRequired bool
	Groups          []grouping.Group
	// LastClickable marks the final group as interactive.
	LastClickable bool
}

// View filters hidden text entries, orders the rest by timestamp and groups them.
func (c *Controller) View() View {
	c.mu.Lock()
	entries := make([]message.Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		if text, ok := entry.Message.VisibleText(); ok && c.hidden(text) {
			continue
		}
		entries = append(entries, entry)
	}
	view := View{
		Title:           c.title,
		Phase:           c.phaseLocked(),
		Waiting:         c.waiting,
		Disabled:        c.disabledLocked(),
		ConsentRequired: c.consentRequired,
	}
	c.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	view.Groups = grouping.Split(entries)
	view.LastClickable = len(view.Groups) > 0 && !view.Waiting && !view.Disabled

	return view
}

// Clickable reports whether group i accepts button clicks.
func (v View) Clickable(i int) bool {
	return v.LastClickable && i == len(v.Groups)-1
}

// Buttons returns the button set of the clickable group, if it has one.
func (v View) Buttons() ([]message.Button, bool) {
	if !v.LastClickable {
		return nil, false
	}

	last := v.Groups[len(v.Groups)-1]
	for _, entry := range last.Entries {
		if entry.Message.Kind == message.KindButtons && entry.Message.Buttons != nil {
			return entry.Message.Buttons.Buttons, true
		}
	}

	return nil, false
}

// Visible reports whether entry would appear in the View.
func (c *Controller) Visible(entry message.Entry) bool {
	text, ok := entry.Message.VisibleText()
	return !ok || !c.hidden(text)
}
