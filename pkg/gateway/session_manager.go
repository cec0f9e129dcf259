package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"chatroom/pkg/backend"
	"chatroom/pkg/bus"
	"chatroom/pkg/config"
	"chatroom/pkg/connectivity"
	"chatroom/pkg/locate"
	"chatroom/pkg/session"
	"chatroom/pkg/store"
	"chatroom/pkg/telemetry"
)

const inboxSize = 32

const (
	consentPromptText = "Send /start to begin the conversation."
	busyText          = "Please wait for the current reply."
	failureText       = "Sorry, the assistant is unavailable right now. Please try again."
)

// sessionManager owns one session controller per chat and feeds it inbound
// messages in arrival order.
type sessionManager struct {
	ctx      context.Context
	client   backend.Client
	cfg      *config.Config
	store    store.Store
	events   *bus.Bus
	recorder *telemetry.Recorder
	log      *slog.Logger
	reply    func(context.Context, bus.OutboundMessage)

	mu       sync.RWMutex
	sessions map[string]*chatSession
	closed   bool
}

// chatSession is the state tracked for one session key.
type chatSession struct {
	controller *session.Controller
	channel    string
	chatID     string
	inbox      chan bus.InboundMessage
	stop       chan struct{}
	done       chan struct{}
}

func newSessionManager(ctx context.Context, cfg *config.Config, client backend.Client, st store.Store, events *bus.Bus, recorder *telemetry.Recorder, log *slog.Logger) *sessionManager {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}

	return &sessionManager{
		ctx:      ctx,
		client:   client,
		cfg:      cfg,
		store:    st,
		events:   events,
		recorder: recorder,
		log:      log.With("component", "gateway.session_manager"),
		reply:    func(context.Context, bus.OutboundMessage) {},
		sessions: make(map[string]*chatSession),
	}
}

// Route hands one inbound message to its session, creating the session on first contact.
func (m *sessionManager) Route(ctx context.Context, inbound bus.InboundMessage) error {
	s, err := m.sessionFor(ctx, inbound)
	if err != nil {
		return err
	}

	select {
	case s.inbox <- inbound:
		return nil
	case <-s.done:
		return session.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sessionFor returns an existing session or lazily starts a new one.
func (m *sessionManager) sessionFor(ctx context.Context, inbound bus.InboundMessage) (*chatSession, error) {
	key := inbound.SessionKey
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, session.ErrSessionClosed
	}
	if s, ok = m.sessions[key]; ok {
		return s, nil
	}

	userID, err := store.ResolveUserID(ctx, m.store, key, "")
	if err != nil {
		return nil, fmt.Errorf("resolve user for %s: %w", key, err)
	}

	opts := session.OptionsFromConfig(m.cfg, userID)
	opts.SessionKey = key

	controller, err := session.New(m.client, opts,
		session.WithBus(m.events),
		session.WithRecorder(m.recorder),
		session.WithLogger(m.log),
	)
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", key, err)
	}

	s = &chatSession{
		controller: controller,
		channel:    inbound.Channel,
		chatID:     inbound.ChatID,
		inbox:      make(chan bus.InboundMessage, inboxSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.sessions[key] = s
	m.log.Info("Session started", "session_key", key, "user_id", userID)

	go m.work(s)
	return s, nil
}

func (m *sessionManager) work(s *chatSession) {
	defer close(s.done)

	if err := s.controller.Launch(m.ctx); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		m.log.Error("Failed to launch session", "session_key", s.controller.SessionKey(), "error", err)
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-s.stop:
			return
		case inbound := <-s.inbox:
			m.dispatch(m.ctx, s, inbound)
		}
	}
}

// dispatch maps one inbound message onto a controller operation.
func (m *sessionManager) dispatch(ctx context.Context, s *chatSession, inbound bus.InboundMessage) {
	c := s.controller

	var err error
	switch inbound.Kind {
	case bus.InboundConsent:
		err = c.CompleteConsent(ctx)
	case bus.InboundLocation:
		if inbound.Location != nil {
			loc := inbound.Location
			c.ReportPosition(locate.NewPosition(loc.Latitude, loc.Longitude, loc.Accuracy, time.Now()))
		}
	case bus.InboundButton:
		err = c.HandleButtonClick(ctx, inbound.Title, inbound.Content)
	default:
		if c.Snapshot().ConsentRequired {
			m.reply(ctx, s.outbound(consentPromptText))
			return
		}
		err = c.SendMessage(ctx, inbound.Content, nil)
	}

	switch {
	case err == nil, errors.Is(err, session.ErrSessionClosed):
	case errors.Is(err, session.ErrNotActionable):
		m.reply(ctx, s.outbound(busyText))
	default:
		// Backend failures already reached the channel as send_failed events.
		m.log.Debug("Inbound message failed", "session_key", inbound.SessionKey, "kind", inbound.Kind, "error", err)
	}
}

func (s *chatSession) outbound(errText string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:    s.channel,
		ChatID:     s.chatID,
		SessionKey: s.controller.SessionKey(),
		Error:      errText,
	}
}

func (m *sessionManager) lookup(key string) (*chatSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// targets lists every controller for connectivity fan-out.
func (m *sessionManager) targets() []connectivity.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]connectivity.Target, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s.controller)
	}
	return targets
}

// sessionSummary is one row of the /sessions listing.
type sessionSummary struct {
	SessionKey string `json:"session_key"`
	Channel    string `json:"channel"`
	UserID     string `json:"user_id"`
	Phase      string `json:"phase"`
	Waiting    bool   `json:"waiting"`
	Disabled   bool   `json:"disabled"`
	Entries    int    `json:"entries"`
	Host       string `json:"host"`
}

func (m *sessionManager) summaries() []sessionSummary {
	m.mu.RLock()
	sessions := make([]*chatSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		state := s.controller.Snapshot()
		out = append(out, sessionSummary{
			SessionKey: s.controller.SessionKey(),
			Channel:    s.channel,
			UserID:     state.UserID,
			Phase:      state.Phase.String(),
			Waiting:    state.Waiting,
			Disabled:   state.Disabled,
			Entries:    len(state.Entries),
			Host:       state.Host,
		})
	}
	slices.SortFunc(out, func(a, b sessionSummary) int {
		return strings.Compare(a.SessionKey, b.SessionKey)
	})
	return out
}

func (m *sessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops every controller and waits for the session workers.
func (m *sessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*chatSession)
	m.mu.Unlock()

	for _, s := range sessions {
		close(s.stop)
		s.controller.Close()
	}
	for _, s := range sessions {
		<-s.done
	}
}
