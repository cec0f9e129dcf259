package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatroom/pkg/chaterr"
	"chatroom/pkg/config"
	"chatroom/pkg/history"
	"chatroom/pkg/message"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const maxErrorBody = 512

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Rasa is a Client for a Rasa server with the REST channel and HTTP API enabled.
type Rasa struct {
	doer         Doer
	host         string
	platformHost string
	token        string
	deployment   string
	headers      map[string]string
	timeout      time.Duration
	opts         options
}

func NewRasa(cfg config.BackendConfig, opts ...Option) (*Rasa, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, errors.New("backend.host is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = tracenoop.NewTracerProvider().Tracer("chatroom")
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	doer := o.doer
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}

	return &Rasa{
		doer:         doer,
		host:         host,
		platformHost: strings.TrimRight(strings.TrimSpace(cfg.PlatformHost), "/"),
		token:        cfg.ResolveToken(),
		deployment:   cfg.Deployment,
		headers:      cfg.Headers,
		timeout:      timeout,
		opts:         o,
	}, nil
}

func backendLogger() *slog.Logger {
	return slog.Default().With("component", "backend.rasa")
}

// Health probes the server root.
func (c *Rasa) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.host+"/", nil)
	if err != nil {
		return err
	}

	return c.do(ctx, "health", req, nil, chaterr.NetworkFailure)
}

// SendMessage posts one user message to the REST channel webhook.
func (c *Rasa) SendMessage(ctx context.Context, host string, channel string, body SendRequest) ([]message.BotMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode webhook request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/webhooks/%s/webhook", c.hostOrDefault(host), url.PathEscape(channel))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var batch []message.BotMessage
	if err := c.do(ctx, "webhook", req, &batch, chaterr.NetworkFailure); err != nil {
		return nil, err
	}

	return batch, nil
}

// FetchTracker loads the conversation tracker. It needs the API token.
func (c *Rasa) FetchTracker(ctx context.Context, host string, userID string) (history.Tracker, error) {
	endpoint, err := c.trackerURL(host, userID, "tracker")
	if err != nil {
		return history.Tracker{}, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return history.Tracker{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tracker history.Tracker
	if err := c.do(ctx, "fetch_tracker", req, &tracker, chaterr.NetworkFailure); err != nil {
		return history.Tracker{}, err
	}

	return tracker, nil
}

// AppendEvents appends raw events to the tracker and returns the updated tracker.
func (c *Rasa) AppendEvents(ctx context.Context, host string, userID string, events []Event) (history.Tracker, error) {
	endpoint, err := c.trackerURL(host, userID, "tracker/events")
	if err != nil {
		return history.Tracker{}, err
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return history.Tracker{}, fmt.Errorf("encode events: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return history.Tracker{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tracker history.Tracker
	if err := c.do(ctx, "append_events", req, &tracker, chaterr.NetworkFailure); err != nil {
		return history.Tracker{}, err
	}

	return tracker, nil
}

// UploadAttachments stores files on the platform host for userID.
func (c *Rasa) UploadAttachments(ctx context.Context, userID string, files []File) (UploadResult, error) {
	if c.platformHost == "" {
		return UploadResult{}, chaterr.NewError(chaterr.UploadFailure, "backend.platform_host is not configured")
	}
	if len(files) == 0 {
		return UploadResult{}, chaterr.NewError(chaterr.UploadFailure, "no files to upload")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("deployment", c.deployment); err != nil {
		return UploadResult{}, chaterr.Wrap(chaterr.UploadFailure, "write deployment field", err)
	}
	for _, file := range files {
		part, err := form.CreateFormFile("files", file.Name)
		if err != nil {
			return UploadResult{}, chaterr.Wrap(chaterr.UploadFailure, "create file part", err)
		}
		if _, err := io.Copy(part, file.Body); err != nil {
			return UploadResult{}, chaterr.Wrap(chaterr.UploadFailure, "read "+file.Name, err)
		}
	}
	if err := form.Close(); err != nil {
		return UploadResult{}, chaterr.Wrap(chaterr.UploadFailure, "close multipart body", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/eventlogs/%s/attachments/", c.platformHost, url.PathEscape(userID))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return UploadResult{}, chaterr.Wrap(chaterr.UploadFailure, "build request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var result UploadResult
	if err := c.do(ctx, "upload", req, &result, chaterr.UploadFailure); err != nil {
		return UploadResult{}, err
	}

	return result, nil
}

func (c *Rasa) hostOrDefault(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return c.host
	}
	return host
}

func (c *Rasa) trackerURL(host string, userID string, suffix string) (string, error) {
	if c.token == "" {
		return "", chaterr.NewError(chaterr.AuthMissing,
			"backend token is missing; start the bot with the HTTP API enabled and an auth token")
	}

	query := url.Values{"token": []string{c.token}}
	return fmt.Sprintf("%s/conversations/%s/%s?%s", c.hostOrDefault(host), url.PathEscape(userID), suffix, query.Encode()), nil
}

func (c *Rasa) newRequest(ctx context.Context, method string, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// do sends req, decodes a JSON body into out when non-nil, and categorizes failures.
func (c *Rasa) do(ctx context.Context, operation string, req *http.Request, out any, category string) error {
	log := backendLogger().With("operation", operation)
	ctx, span := c.opts.tracer.Start(ctx, "rasa."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
		),
	)
	defer span.End()

	startedAt := time.Now()
	log.Debug("backend request started")

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.opts.recorder.BackendError(ctx, operation, chaterr.CategoryFromError(err))
		log.Debug("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return err
	}

	resp, err := c.doer.Do(req.WithContext(ctx))
	c.opts.recorder.BackendLatency(ctx, operation, time.Since(startedAt))
	if err != nil {
		return fail(chaterr.Wrap(category, operation+" request", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(chaterr.NewError(category, fmt.Sprintf("%s returned status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(snippet)))))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
	} else if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(chaterr.Wrap(category, "decode "+operation+" response", err))
	}

	log.Debug("backend request completed", "duration_ms", time.Since(startedAt).Milliseconds())
	return nil
}
