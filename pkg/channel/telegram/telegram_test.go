package telegram

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"chatroom/pkg/bus"
	"chatroom/pkg/config"
	"chatroom/pkg/emoji"
	"chatroom/pkg/message"
)

func newTestAdapter(t *testing.T, allowFrom ...string) *Adapter {
	t.Helper()

	adapter, err := NewAdapter(config.TelegramConfig{Token: "123:abc", AllowFrom: allowFrom}, nil)
	require.NoError(t, err)
	return adapter
}

func TestNewAdapterRequiresToken(t *testing.T) {
	if _, err := NewAdapter(config.TelegramConfig{Token: "  "}, nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestSessionKey(t *testing.T) {
	if got := sessionKey(" 42 "); got != "telegram:42" {
		t.Fatalf("sessionKey = %q, want %q", got, "telegram:42")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestInboundFromUpdate(t *testing.T) {
	adapter := newTestAdapter(t, "7")

	tests := []struct {
		name   string
		update telego.Update
		ok     bool
		kind   bus.InboundKind
		text   string
	}{
		{
			name:   "text",
			update: telego.Update{UpdateID: 1, Message: &telego.Message{From: &telego.User{ID: 7}, Chat: telego.Chat{ID: 99}, Text: " hi "}},
			ok:     true,
			kind:   bus.InboundText,
			text:   "hi",
		},
		{
			name:   "start command grants consent",
			update: telego.Update{UpdateID: 2, Message: &telego.Message{From: &telego.User{ID: 7}, Chat: telego.Chat{ID: 99}, Text: "/start"}},
			ok:     true,
			kind:   bus.InboundConsent,
			text:   "/start",
		},
		{
			name:   "unauthorized sender",
			update: telego.Update{UpdateID: 3, Message: &telego.Message{From: &telego.User{ID: 8}, Chat: telego.Chat{ID: 99}, Text: "hi"}},
		},
		{
			name:   "no sender",
			update: telego.Update{UpdateID: 4, Message: &telego.Message{Chat: telego.Chat{ID: 99}, Text: "hi"}},
		},
		{
			name:   "empty text",
			update: telego.Update{UpdateID: 5, Message: &telego.Message{From: &telego.User{ID: 7}, Chat: telego.Chat{ID: 99}}},
		},
		{
			name:   "no message",
			update: telego.Update{UpdateID: 6},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inbound, ok := adapter.inboundFromUpdate(tc.update)
			require.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			require.Equal(t, tc.kind, inbound.Kind)
			require.Equal(t, tc.text, inbound.Content)
			require.Equal(t, "99", inbound.ChatID)
			require.Equal(t, "telegram:99", inbound.SessionKey)
		})
	}
}

func TestInboundLocation(t *testing.T) {
	adapter := newTestAdapter(t)

	inbound, ok := adapter.inboundFromUpdate(telego.Update{Message: &telego.Message{
		From:     &telego.User{ID: 1},
		Chat:     telego.Chat{ID: 2},
		Location: &telego.Location{Latitude: 60.17, Longitude: 24.94, HorizontalAccuracy: 12},
	}})
	require.True(t, ok)
	require.Equal(t, bus.InboundLocation, inbound.Kind)
	require.Equal(t, &bus.Location{Latitude: 60.17, Longitude: 24.94, Accuracy: 12}, inbound.Location)
}

func TestButtonCallbacksUseLatestSet(t *testing.T) {
	adapter := newTestAdapter(t)

	adapter.rememberButtons("5", []message.Button{{Title: "Yes", Payload: "/affirm"}, {Title: "No", Payload: "/deny"}})
	button, ok := adapter.buttonForCallback("5", callbackData(1))
	require.True(t, ok)
	require.Equal(t, "/deny", button.Payload)

	adapter.rememberButtons("5", []message.Button{{Title: "Again", Payload: "/restart"}})
	_, ok = adapter.buttonForCallback("5", callbackData(1))
	require.False(t, ok, "callbacks from an older keyboard must be ignored")

	_, ok = adapter.buttonForCallback("6", callbackData(0))
	require.False(t, ok)

	_, ok = adapter.buttonForCallback("5", "garbage")
	require.False(t, ok)
}

func TestParseCallbackData(t *testing.T) {
	tests := []struct {
		data  string
		index int
		ok    bool
	}{
		{"b:0", 0, true},
		{"b:12", 12, true},
		{"b:-1", 0, false},
		{"b:x", 0, false},
		{"x:1", 0, false},
	}
	for _, tc := range tests {
		index, ok := parseCallbackData(tc.data)
		if ok != tc.ok || index != tc.index {
			t.Fatalf("parseCallbackData(%q) = %d, %v; want %d, %v", tc.data, index, ok, tc.index, tc.ok)
		}
	}
}

func TestRender(t *testing.T) {
	buttons := []message.Button{{Title: "Yes", Payload: "/affirm"}}
	carousel := json.RawMessage(`{"template_type":"generic","elements":[
		{"title":"Room A","subtitle":"2 beds","buttons":[{"title":"Book A","payload":"/book{\"room\":\"a\"}"}]},
		{"title":"Room B","buttons":[{"title":"Book B","payload":"/book{\"room\":\"b\"}"}]}
	]}`)

	tests := []struct {
		name string
		msg  message.Message
		ok   bool
		want rendered
	}{
		{"text with shortcodes", message.NewText(emoji.ToShortcodes("hello \U0001F44D"), nil), true, rendered{text: "hello \U0001F44D"}},
		{"blank text", message.NewText("  ", nil), false, rendered{}},
		{"image", message.NewImage("https://example.com/a.png"), true, rendered{photoURL: "https://example.com/a.png"}},
		{"buttons", message.NewButtons(buttons), true, rendered{text: chooseOptionText, buttons: buttons}},
		{"locate default text", message.NewLocate(message.Locate{Intent: "/loc"}), true, rendered{text: shareLocationText, requestLocation: true}},
		{"audio", message.NewAudioEmbed("https://soundcloud.com/x", "Track"), true, rendered{text: "Track\nhttps://soundcloud.com/x"}},
		{"custom", message.NewCustom(json.RawMessage(`{}`)), false, rendered{}},
		{"carousel", message.NewCarousel(carousel), true, rendered{
			text: "Room A - 2 beds\nRoom B",
			buttons: []message.Button{
				{Title: "Book A", Payload: `/book{"room":"a"}`},
				{Title: "Book B", Payload: `/book{"room":"b"}`},
			},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := render(tc.msg)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDeliverRequiresRunningBot(t *testing.T) {
	adapter := newTestAdapter(t)

	err := adapter.Deliver(context.Background(), bus.OutboundMessage{ChatID: "1"})
	require.Error(t, err)
}

func TestInlineKeyboardCallbackData(t *testing.T) {
	markup := inlineKeyboard([]message.Button{{Title: "A"}, {Title: "B"}})
	require.Len(t, markup.InlineKeyboard, 2)
	require.Equal(t, "B", markup.InlineKeyboard[1][0].Text)
	require.Equal(t, "b:1", markup.InlineKeyboard[1][0].CallbackData)
}

func TestBotOptionsProxy(t *testing.T) {
	t.Parallel()

	options, err := botOptions(config.TelegramConfig{})
	require.NoError(t, err)
	require.Empty(t, options)

	options, err = botOptions(config.TelegramConfig{Proxy: "socks5://127.0.0.1:1080"})
	require.NoError(t, err)
	require.Len(t, options, 1)

	_, err = botOptions(config.TelegramConfig{Proxy: "not a url"})
	require.Error(t, err)
}
