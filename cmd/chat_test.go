package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"chatroom/pkg/backend"
	"chatroom/pkg/config"
	"chatroom/pkg/history"
	"chatroom/pkg/message"
	"chatroom/pkg/store"

	"github.com/stretchr/testify/require"
)

type echoBackend struct {
	mu      sync.Mutex
	senders []string
	events  []backend.Event
}

func (b *echoBackend) Health(context.Context) error { return nil }

func (b *echoBackend) SendMessage(_ context.Context, _ string, _ string, req backend.SendRequest) ([]message.BotMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders = append(b.senders, req.Sender)
	return []message.BotMessage{{RecipientID: req.Sender, Text: "echo " + req.Message}}, nil
}

func (b *echoBackend) FetchTracker(_ context.Context, _ string, userID string) (history.Tracker, error) {
	return history.Tracker{SenderID: userID}, nil
}

func (b *echoBackend) AppendEvents(_ context.Context, _ string, userID string, events []backend.Event) (history.Tracker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return history.Tracker{SenderID: userID}, nil
}

func (b *echoBackend) UploadAttachments(context.Context, string, []backend.File) (backend.UploadResult, error) {
	return backend.UploadResult{}, nil
}

func testApp(t *testing.T, client backend.Client) *app {
	t.Helper()

	cfg := &config.Config{}
	cfg.Session.RecoverHistory = true
	cfg.Session.MessageDelayMs = 5
	cfg.Store.Driver = "memory"
	cfg.ApplyDefaults()

	return &app{
		cfg:    cfg,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		client: client,
		store:  store.NewMemory(),
	}
}

func TestResolveMessage(t *testing.T) {
	previous := chatMessage
	t.Cleanup(func() { chatMessage = previous })

	chatMessage = ""
	if got := resolveMessage([]string{" hello", "there "}); got != "hello there" {
		t.Fatalf("resolveMessage(args) = %q, want %q", got, "hello there")
	}

	chatMessage = "  from flag "
	if got := resolveMessage([]string{"ignored"}); got != "from flag" {
		t.Fatalf("resolveMessage(flag) = %q, want %q", got, "from flag")
	}
}

func TestIsTerminalRejectsNonFiles(t *testing.T) {
	t.Parallel()

	if isTerminal(&bytes.Buffer{}) {
		t.Fatal("isTerminal(buffer) = true, want false")
	}
}

func TestRunChatSendsOneMessage(t *testing.T) {
	client := &echoBackend{}
	a := testApp(t, client)

	var out bytes.Buffer
	err := runChat(context.Background(), a, chatSurface(false, "hi", nil, &out))
	require.NoError(t, err)
	require.Contains(t, out.String(), "bot> echo hi")

	userID, err := a.store.Get(context.Background(), cliSessionKey)
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Equal(t, []string{userID}, client.senders)
}

func TestRunChatReusesRememberedUser(t *testing.T) {
	client := &echoBackend{}
	a := testApp(t, client)
	require.NoError(t, a.store.Put(context.Background(), cliSessionKey, "returning-user"))

	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), a, chatSurface(false, "", strings.NewReader("one\ntwo\n"), &out)))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Equal(t, []string{"returning-user", "returning-user"}, client.senders)
}

func TestParseEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "array", input: `[{"event":"slot","name":"city","value":"Oulu"},{"event":"restart"}]`, want: 2},
		{name: "single object", input: ` {"event":"restart"} `, want: 1},
		{name: "empty", input: "  ", wantErr: true},
		{name: "missing event field", input: `[{"name":"city"}]`, wantErr: true},
		{name: "not json", input: "slot city", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			events, err := parseEvents(strings.NewReader(tc.input))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, events, tc.want)
		})
	}
}

func TestWriteDocumentFormats(t *testing.T) {
	t.Parallel()

	tracker := history.Tracker{
		SenderID: "u1",
		Events:   []history.Event{{Event: "user", Text: "hi", Timestamp: 1}},
	}

	var yamlOut bytes.Buffer
	require.NoError(t, writeDocument(&yamlOut, "yaml", tracker))
	require.Contains(t, yamlOut.String(), "sender_id: u1")
	require.Contains(t, yamlOut.String(), "text: hi")

	var jsonOut bytes.Buffer
	require.NoError(t, writeDocument(&jsonOut, "JSON", tracker))
	require.Contains(t, jsonOut.String(), `"sender_id": "u1"`)

	require.Error(t, writeDocument(io.Discard, "toml", tracker))
}
