package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"chatroom/pkg/config"
)

const (
	envLogFormat    = "CHATROOM_LOG_FORMAT"
	envLogLevel     = "CHATROOM_LOG_LEVEL"
	envLogAddSource = "CHATROOM_LOG_ADD_SOURCE"
	envLogFile      = "CHATROOM_LOG_FILE"
)

const redacted = "[redacted]"

// Attribute keys whose values never reach a log sink.
var secretKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"password":      {},
	"bot_token":     {},
}

// options is the logging config after env overrides.
type options struct {
	json      bool
	level     slog.Level
	addSource bool
	file      string
	rotation  lumberjack.Logger
}

func resolve(cfg config.LoggingConfig) (options, error) {
	format := firstNonEmpty(os.Getenv(envLogFormat), cfg.Format, "text")
	levelText := firstNonEmpty(os.Getenv(envLogLevel), cfg.Level, "info")

	opts := options{
		addSource: cfg.AddSource,
		file:      firstNonEmpty(os.Getenv(envLogFile), cfg.File),
		rotation: lumberjack.Logger{
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		},
	}
	if env := strings.TrimSpace(os.Getenv(envLogAddSource)); env != "" {
		opts.addSource = truthy(env)
	}

	switch strings.ToLower(format) {
	case "json":
		opts.json = true
	case "text":
	default:
		return options{}, fmt.Errorf("unsupported log format %q", format)
	}

	if err := opts.level.UnmarshalText([]byte(normalizeLevel(levelText))); err != nil {
		return options{}, fmt.Errorf("unsupported log level %q", levelText)
	}

	return opts, nil
}

// New builds the process logger on stderr, or on a rotating file when one
// is configured.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	writer, _ := Writer(cfg, os.Stderr)
	return NewWithWriter(cfg, writer)
}

// Writer returns the sink selected by cfg and whether it is a rotating file.
func Writer(cfg config.LoggingConfig, fallback io.Writer) (io.Writer, bool) {
	opts, err := resolve(cfg)
	if err != nil || opts.file == "" {
		return fallback, false
	}

	rotating := opts.rotation
	rotating.Filename = opts.file
	return &rotating, true
}

// NewWithWriter builds a logger that writes to writer.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	if opts.json {
		handler = newJSONHandler(writer, opts.level, opts.addSource)
	} else {
		handler = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(opts.level),
			ReportTimestamp: true,
			ReportCaller:    opts.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	}

	return slog.New(redactor{next: handler}), nil
}

// redactor masks secret attribute values before they reach next.
type redactor struct {
	next slog.Handler
}

func (r redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return r.next.Enabled(ctx, level)
}

func (r redactor) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redact(attr))
		return true
	})
	return r.next.Handle(ctx, clean)
}

func (r redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = redact(attr)
	}
	return redactor{next: r.next.WithAttrs(clean)}
}

func (r redactor) WithGroup(name string) slog.Handler {
	return redactor{next: r.next.WithGroup(name)}
}

func redact(attr slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	if attr.Value.Kind() != slog.KindGroup {
		return attr
	}

	group := attr.Value.Group()
	clean := make([]any, len(group))
	for i, item := range group {
		clean[i] = redact(item)
	}
	return slog.Group(attr.Key, clean...)
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func normalizeLevel(text string) string {
	if strings.EqualFold(text, "warning") {
		return "warn"
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func orDefault(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func truthy(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
