package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatroom/pkg/message"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestInboundPreservesOrder(t *testing.T) {
	b := New(4)
	t.Cleanup(b.Close)

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, b.Enqueue(ctx, InboundMessage{Channel: "telegram", Kind: InboundText, Content: text}))
	}

	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.Content)
	}
}

func TestInboundAfterClose(t *testing.T) {
	b := New(1)
	b.Close()
	b.Close()

	require.ErrorIs(t, b.Enqueue(context.Background(), InboundMessage{Content: "late"}), ErrClosed)

	_, err := b.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestEnqueueWaitsForRoom(t *testing.T) {
	b := New(1)
	t.Cleanup(b.Close)

	require.NoError(t, b.Enqueue(context.Background(), InboundMessage{Content: "first"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Enqueue(ctx, InboundMessage{Content: "second"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enqueue on full queue = %v, want deadline exceeded", err)
	}
}

func TestNextUnblocksOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(1)
	done := make(chan error, 1)
	go func() {
		_, err := b.Next(context.Background())
		done <- err
	}()

	b.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Next did not unblock after close")
	}
}

func TestSubscriptionFilters(t *testing.T) {
	b := New(0)
	t.Cleanup(b.Close)

	ctx := context.Background()
	all, cancelAll := b.Subscribe(ctx, 4, nil)
	defer cancelAll()
	mine, cancelMine := b.Subscribe(ctx, 4, ForSession("telegram:1"))
	defer cancelMine()
	failures, cancelFailures := b.Subscribe(ctx, 4, OfType(EventSendFailed))
	defer cancelFailures()

	require.Equal(t, 2, b.Publish(Event{Type: EventEntryAdded, SessionKey: "telegram:1"}))
	require.Equal(t, 2, b.Publish(Event{Type: EventSendFailed, SessionKey: "telegram:2"}))

	require.Len(t, all, 2)
	require.Len(t, mine, 1)
	require.Len(t, failures, 1)

	got := <-mine
	require.Equal(t, "telegram:1", got.SessionKey)
	got = <-failures
	require.Equal(t, "telegram:2", got.SessionKey)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(0)
	t.Cleanup(b.Close)

	events, cancel := b.Subscribe(context.Background(), 1, nil)
	defer cancel()

	start := time.Now()
	require.Equal(t, 1, b.Publish(Event{Type: EventEntryAdded}))
	require.Equal(t, 0, b.Publish(Event{Type: EventStateChanged}))
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Publish blocked on a full subscriber")
	}

	require.Equal(t, uint64(1), b.Dropped())
	got := <-events
	require.Equal(t, EventEntryAdded, got.Type)
}

func TestCancelClosesSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(0)
	defer b.Close()

	ctx, stop := context.WithCancel(context.Background())
	byCtx, _ := b.Subscribe(ctx, 1, nil)
	byFunc, cancel := b.Subscribe(context.Background(), 1, nil)

	stop()
	cancel()
	cancel()

	for _, events := range []<-chan Event{byCtx, byFunc} {
		select {
		case _, ok := <-events:
			require.False(t, ok, "expected closed channel")
		case <-time.After(500 * time.Millisecond):
			t.Fatal("subscription did not close")
		}
	}

	require.Equal(t, 0, b.Publish(Event{Type: EventEntryAdded}))
}

func TestBufferedEventsSurviveClose(t *testing.T) {
	b := New(0)

	events, _ := b.Subscribe(context.Background(), 2, nil)
	entry := message.Entry{ID: "e1", Sender: message.BotSender, Message: message.NewText("hi", nil)}
	b.Publish(Event{Type: EventEntryAdded, Entry: &entry})
	b.Close()

	got, ok := <-events
	require.True(t, ok)
	require.Equal(t, "e1", got.Entry.ID)
	require.False(t, got.At.IsZero(), "expected publish to stamp event time")

	_, ok = <-events
	require.False(t, ok)

	late, _ := b.Subscribe(context.Background(), 1, nil)
	_, ok = <-late
	require.False(t, ok, "subscription on a closed bus should be closed")
}
