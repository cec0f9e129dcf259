package session

import (
	"log/slog"
	"slices"
	"time"

	"chatroom/pkg/bus"
	"chatroom/pkg/config"
	"chatroom/pkg/delivery"
	"chatroom/pkg/locate"
	"chatroom/pkg/telemetry"
)

// maxHandoffDepth bounds chained handoffs triggered by one user message.
const maxHandoffDepth = 4

// Options configures one controller.
type Options struct {
	UserID     string
	SessionKey string

	Host    string
	Channel string
	Title   string

	WelcomeMessage string
	StartMessage   string
	RecoverHistory bool

	WaitingTimeout time.Duration
	MessageDelay   time.Duration
	SettleDelay    time.Duration
	UploadCooldown time.Duration
	LocateDelay    time.Duration

	Blacklist     []string
	HandoffIntent string
}

// OptionsFromConfig maps the session and backend sections onto controller options.
func OptionsFromConfig(cfg *config.Config, userID string) Options {
	s := cfg.Session
	return Options{
		UserID:         userID,
		SessionKey:     userID,
		Host:           cfg.Backend.Host,
		Channel:        cfg.Backend.Channel,
		Title:          s.Title,
		WelcomeMessage: s.WelcomeMessage,
		StartMessage:   s.StartMessage,
		RecoverHistory: s.RecoverHistory,
		WaitingTimeout: time.Duration(s.WaitingTimeoutMs) * time.Millisecond,
		MessageDelay:   time.Duration(s.MessageDelayMs) * time.Millisecond,
		SettleDelay:    time.Duration(s.SettleDelayMs) * time.Millisecond,
		UploadCooldown: time.Duration(s.UploadCooldownMs) * time.Millisecond,
		Blacklist:      slices.Clone(s.MessageBlacklist),
		HandoffIntent:  s.HandoffIntent,
	}
}

func (o *Options) applyDefaults() {
	if o.SessionKey == "" {
		o.SessionKey = o.UserID
	}
	if o.Channel == "" {
		o.Channel = config.DefaultChannel
	}
	if o.Title == "" {
		o.Title = config.DefaultTitle
	}
	if o.WaitingTimeout <= 0 {
		o.WaitingTimeout = config.DefaultWaitingTimeoutMs * time.Millisecond
	}
	if o.MessageDelay <= 0 {
		o.MessageDelay = delivery.DefaultInterval
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = config.DefaultSettleDelayMs * time.Millisecond
	}
	if o.UploadCooldown <= 0 {
		o.UploadCooldown = config.DefaultUploadCooldownMs * time.Millisecond
	}
	if o.LocateDelay <= 0 {
		o.LocateDelay = locate.CheckDelay
	}
	if o.Blacklist == nil {
		o.Blacklist = slices.Clone(config.DefaultMessageBlacklist)
	}
	if o.HandoffIntent == "" {
		o.HandoffIntent = config.DefaultHandoffIntent
	}
}

type deps struct {
	bus      *bus.Bus
	recorder *telemetry.Recorder
	source   locate.Source
	log      *slog.Logger
	now      func() time.Time
}

// Option injects collaborators.
type Option func(*deps)

// WithBus publishes session events on a shared bus instead of a private one.
func WithBus(b *bus.Bus) Option {
	return func(d *deps) { d.bus = b }
}

func WithRecorder(r *telemetry.Recorder) Option {
	return func(d *deps) { d.recorder = r }
}

// WithLocateSource watches positions while a locate request is open.
func WithLocateSource(s locate.Source) Option {
	return func(d *deps) { d.source = s }
}

func WithLogger(log *slog.Logger) Option {
	return func(d *deps) { d.log = log }
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}
