package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"chatroom/pkg/backend"
	"chatroom/pkg/bus"
	"chatroom/pkg/channel"
	"chatroom/pkg/chaterr"
	"chatroom/pkg/history"
	"chatroom/pkg/message"
	"chatroom/pkg/store"

	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu sync.Mutex

	healthErr   error
	healthCalls int
	senders     []string
	messages    []string
	sendErr     error
}

func (b *recordingBackend) Health(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthCalls++
	return b.healthErr
}

func (b *recordingBackend) SendMessage(_ context.Context, _ string, _ string, req backend.SendRequest) ([]message.BotMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders = append(b.senders, req.Sender)
	b.messages = append(b.messages, req.Message)
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	return []message.BotMessage{{RecipientID: req.Sender, Text: "ok:" + req.Message}}, nil
}

func (b *recordingBackend) FetchTracker(context.Context, string, string) (history.Tracker, error) {
	return history.Tracker{}, nil
}

func (b *recordingBackend) AppendEvents(context.Context, string, string, []backend.Event) (history.Tracker, error) {
	return history.Tracker{}, nil
}

func (b *recordingBackend) UploadAttachments(context.Context, string, []backend.File) (backend.UploadResult, error) {
	return backend.UploadResult{}, nil
}

func (b *recordingBackend) setHealthErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthErr = err
}

func (b *recordingBackend) snapshot() (int, []string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	senders := make([]string, len(b.senders))
	copy(senders, b.senders)

	messages := make([]string, len(b.messages))
	copy(messages, b.messages)

	return b.healthCalls, senders, messages
}

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage

	mu       sync.Mutex
	outbound []bus.OutboundMessage
	done     chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		if err := handler(ctx, inbound); err != nil {
			return err
		}
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) Deliver(_ context.Context, outbound bus.OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbound = append(a.outbound, outbound)
	return nil
}

func (a *scriptedAdapter) outbounds() []bus.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	outbound := make([]bus.OutboundMessage, len(a.outbound))
	copy(outbound, a.outbound)
	return outbound
}

// botTexts collects delivered bot text per session key.
func (a *scriptedAdapter) botTexts() map[string][]string {
	texts := make(map[string][]string)
	for _, outbound := range a.outbounds() {
		if outbound.Entry.Sender != message.BotSender {
			continue
		}
		if text, ok := outbound.Entry.Message.VisibleText(); ok {
			texts[outbound.SessionKey] = append(texts[outbound.SessionKey], text)
		}
	}
	return texts
}

func (a *scriptedAdapter) errors() []string {
	var errs []string
	for _, outbound := range a.outbounds() {
		if outbound.Error != "" {
			errs = append(errs, outbound.Error)
		}
	}
	return errs
}

func runService(t *testing.T, ctx context.Context, svc *Service, adapter *scriptedAdapter) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}
	return errCh
}

func waitRunExit(t *testing.T, errCh <-chan error) {
	t.Helper()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceRunE2ESessionContinuity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingBackend{}
	sessions := store.NewMemory()
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", Kind: bus.InboundText, ChatID: "100", SessionKey: "telegram:100", Content: "one"},
			{Channel: "telegram", Kind: bus.InboundText, ChatID: "100", SessionKey: "telegram:100", Content: "two"},
			{Channel: "telegram", Kind: bus.InboundText, ChatID: "200", SessionKey: "telegram:200", Content: "three"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(ctx, testConfig(t), client, sessions, []channel.Adapter{adapter}, nil, nil)
	require.NoError(t, err)

	errCh := runService(t, ctx, svc, adapter)

	require.Eventually(t, func() bool {
		texts := adapter.botTexts()
		return len(texts["telegram:100"]) == 2 && len(texts["telegram:200"]) == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	waitRunExit(t, errCh)

	healthCalls, senders, messages := client.snapshot()
	require.GreaterOrEqual(t, healthCalls, 1)
	require.ElementsMatch(t, []string{"one", "two", "three"}, messages)

	first, err := sessions.Get(context.Background(), "telegram:100")
	require.NoError(t, err)
	second, err := sessions.Get(context.Background(), "telegram:200")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	perUser := map[string]int{}
	for _, sender := range senders {
		perUser[sender]++
	}
	require.Equal(t, map[string]int{first: 2, second: 1}, perUser)

	texts := adapter.botTexts()
	require.Equal(t, []string{"ok:one", "ok:two"}, texts["telegram:100"])
	require.Equal(t, []string{"ok:three"}, texts["telegram:200"])
}

func TestGatewayServiceRunE2EBackendFailureReturnsOutboundError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingBackend{sendErr: chaterr.NewError(chaterr.NetworkFailure, "backend exploded")}
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", Kind: bus.InboundText, ChatID: "100", SessionKey: "telegram:100", Content: "trigger error"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(ctx, testConfig(t), client, store.NewMemory(), []channel.Adapter{adapter}, nil, nil)
	require.NoError(t, err)

	errCh := runService(t, ctx, svc, adapter)

	require.Eventually(t, func() bool { return len(adapter.errors()) == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	waitRunExit(t, errCh)

	require.Equal(t, []string{failureText}, adapter.errors())
	require.Equal(t, "telegram:100", adapter.outbounds()[len(adapter.outbounds())-1].SessionKey)
}

func TestGatewayServiceRunE2EConsentGate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	cfg.Session.RecoverHistory = false
	cfg.Session.StartMessage = "/start_greet"

	client := &recordingBackend{}
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", Kind: bus.InboundText, ChatID: "100", SessionKey: "telegram:100", Content: "too early"},
			{Channel: "telegram", Kind: bus.InboundConsent, ChatID: "100", SessionKey: "telegram:100", Content: "/start"},
			{Channel: "telegram", Kind: bus.InboundText, ChatID: "100", SessionKey: "telegram:100", Content: "hello"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(ctx, cfg, client, store.NewMemory(), []channel.Adapter{adapter}, nil, nil)
	require.NoError(t, err)

	errCh := runService(t, ctx, svc, adapter)

	require.Eventually(t, func() bool {
		return len(adapter.botTexts()["telegram:100"]) == 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	waitRunExit(t, errCh)

	_, _, messages := client.snapshot()
	require.Equal(t, []string{"/start_greet", "hello"}, messages)
	require.Equal(t, []string{consentPromptText}, adapter.errors())
	require.Equal(t, []string{"ok:/start_greet", "ok:hello"}, adapter.botTexts()["telegram:100"])
}

func TestGatewayServiceRunFailsWhenBackendDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingBackend{healthErr: fmt.Errorf("connection refused")}
	adapter := &scriptedAdapter{name: "telegram", done: make(chan struct{})}

	svc, err := NewService(ctx, testConfig(t), client, store.NewMemory(), []channel.Adapter{adapter}, nil, nil)
	require.NoError(t, err)

	err = svc.Run(ctx)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "connection refused"))
}

func TestGatewayServiceReadyzTransitionsOnBackendHealthRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingBackend{}
	cfg := testConfig(t)
	adapter := &scriptedAdapter{
		name: "telegram",
		done: make(chan struct{}),
	}

	svc, err := NewService(ctx, cfg, client, store.NewMemory(), []channel.Adapter{adapter}, nil, nil)
	require.NoError(t, err)

	errCh := runService(t, ctx, svc, adapter)

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", cfg.Gateway.Port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	client.setHealthErr(fmt.Errorf("temporary backend outage"))
	require.False(t, svc.monitor.Check(context.Background()))
	require.Equal(t, http.StatusServiceUnavailable, waitHTTPStatus(t, readyURL, 2*time.Second))

	client.setHealthErr(nil)
	require.True(t, svc.monitor.Check(context.Background()))
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	cancel()
	waitRunExit(t, errCh)
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
