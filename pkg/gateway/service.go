package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatroom/pkg/backend"
	"chatroom/pkg/bus"
	"chatroom/pkg/channel"
	"chatroom/pkg/config"
	"chatroom/pkg/connectivity"
	"chatroom/pkg/store"
	"chatroom/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

const (
	eventBuffer      = 256
	inboundQueueSize = 128
)

// Service runs channel adapters against per-chat sessions. Channel input
// goes through the bus inbound queue; session events come back through a
// bus subscription and are delivered to the adapter that owns the chat.
type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	events   *bus.Bus
	manager  *sessionManager
	monitor  *connectivity.Monitor
	channels []channel.Adapter

	mu        sync.RWMutex
	startedAt time.Time
	states    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

func NewService(ctx context.Context, cfg *config.Config, client backend.Client, sessions store.Store, adapters []channel.Adapter, recorder *telemetry.Recorder, log *slog.Logger) (*Service, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case client == nil:
		return nil, errors.New("backend client is required")
	case sessions == nil:
		return nil, errors.New("session store is required")
	case len(adapters) == 0:
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	events := bus.New(inboundQueueSize)
	manager := newSessionManager(ctx, cfg, client, sessions, events, recorder, log)

	interval := time.Duration(cfg.Backend.HealthIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = config.DefaultHealthInterval * time.Second
	}
	monitor, err := connectivity.NewMonitor(client, interval, manager.targets, log)
	if err != nil {
		return nil, err
	}

	states := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		states[adapter.Name()] = channelState{}
	}

	s := &Service{
		cfg:      cfg,
		log:      log.With("component", "gateway.service"),
		events:   events,
		manager:  manager,
		monitor:  monitor,
		channels: adapters,
		states:   states,
	}
	manager.reply = s.deliver

	return s, nil
}

// Run blocks until ctx ends or a channel, the status server or the backend
// preflight fails. Sessions are closed before it returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.events.Close()
	defer s.manager.Close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if !s.monitor.Check(ctx) {
		return fmt.Errorf("backend health check failed: %s", s.monitor.Status().LastError)
	}

	events, unsubscribe := s.events.Subscribe(ctx, eventBuffer,
		bus.OfType(bus.EventEntryAdded, bus.EventSendFailed, bus.EventHandoff))
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveStatus(gctx) })
	g.Go(func() error { return s.monitor.Run(gctx) })
	g.Go(func() error {
		s.routeInbound(gctx)
		return nil
	})
	g.Go(func() error {
		s.pumpEvents(gctx, events)
		return nil
	})

	for _, adapter := range s.channels {
		g.Go(func() error {
			s.setChannelState(adapter.Name(), channelState{Running: true})
			err := adapter.Run(gctx, s.events.Enqueue)
			s.setChannelState(adapter.Name(), channelState{Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

// routeInbound feeds queued channel input to sessions in arrival order.
func (s *Service) routeInbound(ctx context.Context) {
	for {
		inbound, err := s.events.Next(ctx)
		if err != nil {
			return
		}
		if err := s.manager.Route(ctx, inbound); err != nil {
			s.log.Error("Failed to route inbound message", "channel", inbound.Channel, "session_key", inbound.SessionKey, "error", err)
		}
	}
}

// pumpEvents turns session events into channel deliveries.
func (s *Service) pumpEvents(ctx context.Context, events <-chan bus.Event) {
	for {
		var event bus.Event
		select {
		case <-ctx.Done():
			return
		case next, ok := <-events:
			if !ok {
				return
			}
			event = next
		}

		chat, ok := s.manager.lookup(event.SessionKey)
		if !ok {
			continue
		}

		switch event.Type {
		case bus.EventEntryAdded:
			if event.Entry == nil || !chat.controller.Visible(*event.Entry) {
				continue
			}
			s.deliver(ctx, bus.OutboundMessage{
				Channel:    chat.channel,
				ChatID:     chat.chatID,
				SessionKey: event.SessionKey,
				Entry:      *event.Entry,
			})
		case bus.EventSendFailed:
			s.deliver(ctx, chat.outbound(failureText))
		case bus.EventHandoff:
			s.log.Info("Session handed off", "session_key", event.SessionKey, "from", event.Payload["from"], "to", event.Payload["to"])
		}
	}
}

func (s *Service) deliver(ctx context.Context, outbound bus.OutboundMessage) {
	for _, adapter := range s.channels {
		if adapter.Name() != outbound.Channel {
			continue
		}
		if err := adapter.Deliver(ctx, outbound); err != nil {
			s.log.Error("Failed to deliver message", "channel", outbound.Channel, "session_key", outbound.SessionKey, "error", err)
		}
		return
	}

	s.log.Warn("No adapter for outbound message", "channel", outbound.Channel, "session_key", outbound.SessionKey)
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
