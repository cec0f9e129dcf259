// Package backend talks to the conversational backend over its REST channel.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"chatroom/pkg/config"
	"chatroom/pkg/history"
	"chatroom/pkg/message"
	"chatroom/pkg/telemetry"

	"go.opentelemetry.io/otel/trace"
)

// Client is the backend contract used by session controllers.
//
// Host is passed per call because a handoff moves a session to another host.
type Client interface {
	Health(ctx context.Context) error
	SendMessage(ctx context.Context, host string, channel string, req SendRequest) ([]message.BotMessage, error)
	FetchTracker(ctx context.Context, host string, userID string) (history.Tracker, error)
	AppendEvents(ctx context.Context, host string, userID string, events []Event) (history.Tracker, error)
	UploadAttachments(ctx context.Context, userID string, files []File) (UploadResult, error)
}

// SendRequest is the webhook body for one user message.
type SendRequest struct {
	Message  string           `json:"message"`
	Sender   string           `json:"sender"`
	Metadata message.Metadata `json:"metadata,omitempty"`
}

// Event is a raw tracker event appended as-is.
type Event map[string]any

// File is one upload part.
type File struct {
	Name string
	Body io.Reader
}

// Attachment is one stored upload.
type Attachment struct {
	URL string `json:"url"`
}

// UploadResult is the platform response to an upload.
type UploadResult struct {
	Data []Attachment `json:"data"`
}

type options struct {
	tracer   trace.Tracer
	recorder *telemetry.Recorder
	doer     Doer
}

// Option customizes a client built by New.
type Option func(*options)

// WithTracer wraps backend calls in spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithRecorder counts backend failures and latency.
func WithRecorder(recorder *telemetry.Recorder) Option {
	return func(o *options) { o.recorder = recorder }
}

// WithDoer replaces the HTTP transport.
func WithDoer(doer Doer) Option {
	return func(o *options) { o.doer = doer }
}

// New builds the client selected by backend.type.
func New(cfg *config.Config, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	backendType := cfg.Backend.Type
	if backendType == "" {
		backendType = "rasa"
	}

	slog.Default().With("component", "backend.factory").Debug("Resolving backend client", "backend", backendType)

	switch backendType {
	case "rasa":
		return NewRasa(cfg.Backend, opts...)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backendType)
	}
}
