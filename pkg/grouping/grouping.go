package grouping

import "chatroom/pkg/message"

// MaxGap is the largest pause, in milliseconds, that keeps two entries together.
const MaxGap int64 = 60000

// Group is a non-empty run of consecutive entries rendered as one block.
type Group struct {
	Entries []message.Entry
}

// Sender returns the sender shared by the group.
func (g Group) Sender() string {
	if len(g.Entries) == 0 {
		return ""
	}
	return g.Entries[0].Sender
}

// Split partitions entries into display groups without reordering them.
//
// A boundary falls before an entry when the sender changes, when either side of
// the boundary is a button-set, or when the entry is more than MaxGap after its
// predecessor.
func Split(entries []message.Entry) []Group {
	if len(entries) == 0 {
		return nil
	}

	groups := make([]Group, 0, 1)
	current := []message.Entry{entries[0]}
	for i := 1; i < len(entries); i++ {
		if startsGroup(entries[i-1], entries[i]) {
			groups = append(groups, Group{Entries: current})
			current = nil
		}
		current = append(current, entries[i])
	}

	return append(groups, Group{Entries: current})
}

func startsGroup(previous message.Entry, current message.Entry) bool {
	switch {
	case previous.Message.Kind == message.KindButtons:
		return true
	case current.Message.Kind == message.KindButtons:
		return true
	case previous.Sender != current.Sender:
		return true
	default:
		return current.Timestamp-previous.Timestamp > MaxGap
	}
}
