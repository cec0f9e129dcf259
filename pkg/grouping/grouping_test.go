package grouping

import (
	"testing"

	"chatroom/pkg/message"

	"github.com/google/go-cmp/cmp"
)

func text(id string, sender string, ts int64) message.Entry {
	return message.Entry{ID: id, Sender: sender, Timestamp: ts, Message: message.NewText(id, nil)}
}

func buttons(id string, ts int64) message.Entry {
	return message.Entry{
		ID:        id,
		Sender:    message.BotSender,
		Timestamp: ts,
		Message:   message.NewButtons([]message.Button{{Title: "Yes", Payload: "/affirm"}}),
	}
}

func ids(groups []Group) [][]string {
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		row := make([]string, 0, len(g.Entries))
		for _, e := range g.Entries {
			row = append(row, e.ID)
		}
		out = append(out, row)
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		entries []message.Entry
		want    [][]string
	}{
		{
			name: "empty",
			want: [][]string{},
		},
		{
			name:    "same sender within gap",
			entries: []message.Entry{text("a", "bot", 0), text("b", "bot", 1000), text("c", "bot", 2000)},
			want:    [][]string{{"a", "b", "c"}},
		},
		{
			name:    "sender change",
			entries: []message.Entry{text("a", "bot", 0), text("b", "u1", 10), text("c", "u1", 20), text("d", "bot", 30)},
			want:    [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name:    "button set isolated",
			entries: []message.Entry{text("a", "bot", 0), buttons("b", 10), text("c", "bot", 20)},
			want:    [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:    "adjacent button sets",
			entries: []message.Entry{buttons("a", 0), buttons("b", 10)},
			want:    [][]string{{"a"}, {"b"}},
		},
		{
			name:    "gap of exactly sixty seconds stays together",
			entries: []message.Entry{text("a", "bot", 0), text("b", "bot", 60000)},
			want:    [][]string{{"a", "b"}},
		},
		{
			name:    "gap over sixty seconds splits",
			entries: []message.Entry{text("a", "bot", 0), text("b", "bot", 60001)},
			want:    [][]string{{"a"}, {"b"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(Split(tc.entries))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("Split mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitConcatenationReproducesInput(t *testing.T) {
	entries := []message.Entry{
		text("a", "bot", 0), text("b", "bot", 5), buttons("c", 6),
		text("d", "u1", 7), text("e", "u1", 200000), text("f", "bot", 200001),
	}

	var flat []message.Entry
	for _, g := range Split(entries) {
		if len(g.Entries) == 0 {
			t.Fatal("group must not be empty")
		}
		for _, e := range g.Entries[1:] {
			if e.Sender != g.Sender() {
				t.Fatalf("group mixes senders: %q and %q", g.Sender(), e.Sender)
			}
		}
		flat = append(flat, g.Entries...)
	}

	if diff := cmp.Diff(entries, flat); diff != "" {
		t.Fatalf("concatenation mismatch (-want +got):\n%s", diff)
	}
}
