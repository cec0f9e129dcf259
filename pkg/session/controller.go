package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"chatroom/pkg/backend"
	"chatroom/pkg/bus"
	"chatroom/pkg/delivery"
	"chatroom/pkg/history"
	"chatroom/pkg/locate"
	"chatroom/pkg/message"
	"chatroom/pkg/telemetry"
)

var (
	// ErrNotActionable rejects a button click while a reply is pending or input is disabled.
	ErrNotActionable = errors.New("session is not accepting input")
	// ErrSessionClosed is returned by operations that complete after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrUploadInProgress rejects a second concurrent upload.
	ErrUploadInProgress = errors.New("upload already in progress")
)

// Phase is the coarse lifecycle position of a session.
type Phase int

const (
	// PhaseSplash waits for consent before the conversation starts.
	PhaseSplash Phase = iota
	PhaseActive
	PhaseAwaitingReply
)

func (p Phase) String() string {
	switch p {
	case PhaseSplash:
		return "splash"
	case PhaseActive:
		return "active"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a copied snapshot of the controller.
type State struct {
	UserID          string
	Phase           Phase
	Entries         []message.Entry
	Pending         []message.Entry
	Waiting         bool
	Disabled        bool
	ConsentRequired bool
	Host            string
	Channel         string
	Title           string
}

// Controller owns one conversation: its timeline, delivery queue, timers and
// backend traffic. All state sits behind mu; backend calls run without it.
type Controller struct {
	client   backend.Client
	opts     Options
	log      *slog.Logger
	events   *bus.Bus
	ownsBus  bool
	recorder *telemetry.Recorder
	source   locate.Source
	now      func() time.Time
	handoff  *regexp.Regexp

	positions *locate.History

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	mu              sync.Mutex
	entries         []message.Entry
	queue           *delivery.Queue
	waiting         bool
	splash          bool
	consentRequired bool
	host            string
	channel         string
	title           string
	offline         bool
	settling        bool
	uploading       bool
	cooling         bool
	launched        bool
	closed          bool
	watchCancel     context.CancelFunc

	reply    timerSlot
	settle   timerSlot
	cooldown timerSlot
	locating timerSlot
}

// New builds a controller. Call Launch to start it and Close to release it.
func New(client backend.Client, opts Options, options ...Option) (*Controller, error) {
	if client == nil {
		return nil, errors.New("backend client is required")
	}
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	opts.applyDefaults()

	d := deps{}
	for _, option := range options {
		option(&d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}

	ownsBus := false
	if d.bus == nil {
		d.bus = bus.New(0)
		ownsBus = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		client:    client,
		opts:      opts,
		log:       d.log.With("component", "session.controller", "session_key", opts.SessionKey),
		events:    d.bus,
		ownsBus:   ownsBus,
		recorder:  d.recorder,
		source:    d.source,
		now:       d.now,
		handoff:   regexp.MustCompile(`/(` + regexp.QuoteMeta(opts.HandoffIntent) + `)\b.*`),
		positions: locate.NewHistory(),
		ctx:       ctx,
		cancel:    cancel,
		queue:     delivery.NewQueue(),
		host:      opts.Host,
		channel:   opts.Channel,
		title:     opts.Title,
	}, nil
}

func (c *Controller) UserID() string {
	return c.opts.UserID
}

func (c *Controller) SessionKey() string {
	return c.opts.SessionKey
}

// Launch starts the drain loop and decides between recovering history and a
// fresh session. Without history recovery the session starts behind the
// consent gate and CompleteConsent sends the start message. A failed recovery
// leaves the session active without sending anything.
func (c *Controller) Launch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.launched {
		c.mu.Unlock()
		return errors.New("session already launched")
	}
	c.launched = true
	c.startDrainLoop()

	if !c.opts.RecoverHistory {
		c.splash = true
		c.consentRequired = true
		c.seedWelcome()
		c.publishStateLocked()
		c.mu.Unlock()
		c.log.Debug("Session waiting for consent")
		return nil
	}

	c.waiting = true
	host := c.host
	c.publishStateLocked()
	c.mu.Unlock()

	recovered, err := c.recover(ctx, host)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debug("Dropping history recovered after close")
		return ErrSessionClosed
	}
	c.waiting = false
	if len(recovered) > 0 {
		c.entries = recovered
		c.publishStateLocked()
		c.mu.Unlock()
		c.log.Info("Recovered conversation history", "entries", len(recovered))
		return nil
	}

	c.seedWelcome()
	c.publishStateLocked()
	c.mu.Unlock()

	if err != nil {
		c.log.Error("Couldn't recover message history", "error", err)
		return nil
	}

	return c.sendStart(ctx)
}

func (c *Controller) recover(ctx context.Context, host string) ([]message.Entry, error) {
	tracker, err := c.client.FetchTracker(ctx, host, c.opts.UserID)
	if err != nil {
		return nil, err
	}

	return history.Extract(tracker), nil
}

// CompleteConsent leaves the splash gate and sends the start message.
func (c *Controller) CompleteConsent(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if !c.splash {
		c.mu.Unlock()
		return nil
	}
	c.splash = false
	c.consentRequired = false
	c.publishStateLocked()
	c.mu.Unlock()

	return c.sendStart(ctx)
}

func (c *Controller) sendStart(ctx context.Context) error {
	if c.opts.StartMessage == "" {
		return nil
	}

	return c.SendMessage(ctx, c.opts.StartMessage, nil)
}

// seedWelcome places the welcome message on an empty timeline. Callers hold mu.
func (c *Controller) seedWelcome() {
	if c.opts.WelcomeMessage == "" || len(c.entries) > 0 {
		return
	}

	c.appendEntryLocked(message.NewEntry(message.NewText(c.opts.WelcomeMessage, nil), message.BotSender, c.now()))
}

// DrainOnce moves the front of the delivery queue onto the timeline.
func (c *Controller) DrainOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	entry, ok := c.queue.Pop()
	if !ok {
		return
	}

	c.appendEntryLocked(entry)
	c.waiting = c.queue.Len() > 0
	if entry.Message.Kind == message.KindLocate && entry.Message.Locate != nil {
		c.startLocateLocked(*entry.Message.Locate)
	}
	c.publishStateLocked()
}

func (c *Controller) startDrainLoop() {
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		if err := delivery.Run(c.ctx, c.opts.MessageDelay, c.DrainOnce); err != nil {
			c.log.Error("Delivery loop stopped", "error", err)
		}
	}()
}

// SetOnline feeds the connectivity signal. Input re-enables only after the
// settle delay once the connection returns.
func (c *Controller) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if !online {
		if !c.offline {
			c.log.Warn("Backend unreachable, disabling input")
		}
		c.offline = true
		c.settling = false
		c.settle.stop()
		c.publishStateLocked()
		return
	}

	if !c.offline {
		return
	}

	c.offline = false
	c.settling = true
	c.arm(&c.settle, c.opts.SettleDelay, func() func() {
		c.settling = false
		c.log.Info("Backend reachable again, input enabled")
		return nil
	})
	c.publishStateLocked()
}

// ReportPosition records a position fix for pending and future locate requests.
func (c *Controller) ReportPosition(p locate.Position) {
	c.positions.Add(p)
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]message.Entry, len(c.entries))
	copy(entries, c.entries)

	return State{
		UserID:          c.opts.UserID,
		Phase:           c.phaseLocked(),
		Entries:         entries,
		Pending:         c.queue.Pending(),
		Waiting:         c.waiting,
		Disabled:        c.disabledLocked(),
		ConsentRequired: c.consentRequired,
		Host:            c.host,
		Channel:         c.channel,
		Title:           c.title,
	}
}

// Subscribe streams this session's events until ctx ends or the returned
// func is called.
func (c *Controller) Subscribe(ctx context.Context, buffer int) (<-chan bus.Event, func()) {
	return c.events.Subscribe(ctx, buffer, bus.ForSession(c.opts.SessionKey))
}

// Close stops every timer, the drain loop and any position watch. It is safe
// to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reply.stop()
	c.settle.stop()
	c.cooldown.stop()
	c.locating.stop()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.loops.Wait()

	if c.ownsBus {
		c.events.Close()
	}
	c.log.Debug("Session closed")
}

func (c *Controller) phaseLocked() Phase {
	switch {
	case c.splash:
		return PhaseSplash
	case c.waiting:
		return PhaseAwaitingReply
	default:
		return PhaseActive
	}
}

func (c *Controller) disabledLocked() bool {
	return c.offline || c.settling || c.uploading || c.cooling
}

// appendEntryLocked adds entry to the timeline, clamping its timestamp so the
// timeline never goes backwards.
func (c *Controller) appendEntryLocked(entry message.Entry) {
	if n := len(c.entries); n > 0 && entry.Timestamp < c.entries[n-1].Timestamp {
		entry.Timestamp = c.entries[n-1].Timestamp
	}
	c.entries = append(c.entries, entry)

	added := entry
	c.publish(bus.Event{Type: bus.EventEntryAdded, Entry: &added})
}

func (c *Controller) publishStateLocked() {
	c.publish(bus.Event{
		Type: bus.EventStateChanged,
		Payload: map[string]string{
			"phase":    c.phaseLocked().String(),
			"waiting":  fmt.Sprint(c.waiting),
			"disabled": fmt.Sprint(c.disabledLocked()),
		},
	})
}

// publish never blocks; slow subscribers miss events.
func (c *Controller) publish(event bus.Event) {
	event.SessionKey = c.opts.SessionKey
	c.events.Publish(event)
}
