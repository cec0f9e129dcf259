package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chatroom/pkg/backend"
	"chatroom/pkg/bus"
	"chatroom/pkg/chaterr"
	"chatroom/pkg/emoji"
	"chatroom/pkg/history"
	"chatroom/pkg/message"
)

const sendPicIntent = "/send_pic"

type sendOptions struct {
	// actionable rejects the send while waiting or disabled.
	actionable bool
	depth      int
}

// SendMessage sends payload to the backend and queues the parsed reply.
//
// Payloads starting with a blacklisted prefix or matching the handoff intent
// are sent but never shown on the timeline.
func (c *Controller) SendMessage(ctx context.Context, payload string, meta message.Metadata) error {
	return c.send(ctx, payload, meta, sendOptions{})
}

// HandleButtonClick sends a button's payload, showing its title.
func (c *Controller) HandleButtonClick(ctx context.Context, title string, payload string) error {
	err := c.send(ctx, payload, message.Metadata{message.MetaDisplayText: title}, sendOptions{actionable: true})
	if err == nil {
		c.recorder.ButtonClicked(ctx)
	}
	return err
}

func (c *Controller) send(ctx context.Context, payload string, meta message.Metadata, so sendOptions) error {
	if payload == "" {
		return nil
	}

	payload = emoji.ToShortcodes(payload)
	visible := payload
	if text, ok := meta.DisplayText(); ok {
		visible = text
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if so.actionable && (c.waiting || c.disabledLocked()) {
		c.mu.Unlock()
		return ErrNotActionable
	}

	if !c.hidden(visible) && !c.handoff.MatchString(payload) {
		for _, pending := range c.queue.Flush() {
			c.appendEntryLocked(pending)
		}
		c.appendEntryLocked(message.NewEntry(message.NewText(visible, nil), c.opts.UserID, c.now()))
	}

	c.waiting = true
	c.arm(&c.reply, c.opts.WaitingTimeout, func() func() {
		c.waiting = false
		return nil
	})
	host, channel := c.host, c.channel
	c.publishStateLocked()
	c.mu.Unlock()

	log := c.log.With("operation", "send_message")
	log.Debug("Sending message", "payload_length", len(payload), "host", host)

	batch, err := c.client.SendMessage(ctx, host, channel, backend.SendRequest{
		Message:  payload,
		Sender:   c.opts.UserID,
		Metadata: meta,
	})
	if err != nil {
		log.Error("Failed to send message", "error", err)
		c.publish(bus.Event{Type: bus.EventSendFailed, Error: err.Error()})
		return err
	}
	c.recorder.MessageSent(ctx)

	result, err := message.ParseBatch(batch)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Debug("Dropping reply received after close")
		return ErrSessionClosed
	}
	if err != nil {
		c.mu.Unlock()
		log.Error("Failed to parse bot reply", "error", err)
		c.publish(bus.Event{Type: bus.EventSendFailed, Error: err.Error()})
		return err
	}

	c.reply.stop()
	now := c.now()
	for _, msg := range result.Messages {
		c.queue.Enqueue(message.NewEntry(msg, message.BotSender, now))
	}
	c.waiting = c.queue.Len() > 0

	if result.Handoff == nil {
		c.publishStateLocked()
		c.mu.Unlock()
		return nil
	}

	if so.depth >= maxHandoffDepth {
		c.publishStateLocked()
		c.mu.Unlock()
		log.Warn("Ignoring handoff beyond maximum depth", "host", result.Handoff.Host, "depth", so.depth)
		return nil
	}

	previous := c.host
	c.host = result.Handoff.Host
	if result.Handoff.Title != "" {
		c.title = result.Handoff.Title
	}
	c.publishStateLocked()
	c.mu.Unlock()

	log.Info("Switching backend host", "from", previous, "to", result.Handoff.Host)
	c.publish(bus.Event{Type: bus.EventHandoff, Payload: map[string]string{"from": previous, "to": result.Handoff.Host}})

	return c.sendHandoff(ctx, previous, so.depth+1)
}

// sendHandoff announces the host switch to the new host as a hidden intent.
func (c *Controller) sendHandoff(ctx context.Context, previous string, depth int) error {
	entities, err := json.Marshal(map[string]string{message.MetaFromHost: previous})
	if err != nil {
		return fmt.Errorf("encode handoff entities: %w", err)
	}

	handoffPayload := "/" + c.opts.HandoffIntent + string(entities)
	return c.send(ctx, handoffPayload, message.Metadata{message.MetaFromHost: previous}, sendOptions{depth: depth})
}

// SendFile uploads files and posts one markdown image per stored attachment as
// a user message. Input stays disabled while the upload runs and for the
// cooldown after it.
func (c *Controller) SendFile(ctx context.Context, files []backend.File) (*backend.UploadResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if c.uploading {
		c.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	c.uploading = true
	c.publishStateLocked()
	c.mu.Unlock()

	result, err := c.client.UploadAttachments(ctx, c.opts.UserID, files)

	c.mu.Lock()
	c.uploading = false
	if c.closed {
		c.mu.Unlock()
		c.log.Debug("Dropping upload result received after close")
		return nil, ErrSessionClosed
	}
	c.cooling = true
	c.arm(&c.cooldown, c.opts.UploadCooldown, func() func() {
		c.cooling = false
		return nil
	})
	c.publishStateLocked()
	c.mu.Unlock()

	c.recorder.Upload(ctx, err == nil)

	if err != nil {
		if !chaterr.Is(err, chaterr.UploadFailure) {
			err = chaterr.Wrap(chaterr.UploadFailure, "upload attachments", err)
		}
		c.log.Error("Failed to upload files", "error", err)
		c.publish(bus.Event{Type: bus.EventUploadFinished, Error: err.Error()})
		return nil, err
	}

	c.publish(bus.Event{Type: bus.EventUploadFinished, Payload: map[string]string{"attachments": fmt.Sprint(len(result.Data))}})

	if err := c.SendMessage(ctx, sendPicIntent, message.Metadata{message.MetaDisplayText: uploadMarkdown(result)}); err != nil {
		return &result, err
	}

	return &result, nil
}

func uploadMarkdown(result backend.UploadResult) string {
	var b strings.Builder
	for _, attachment := range result.Data {
		fmt.Fprintf(&b, "![User picture upload](%s \"The user pic upload\") ", attachment.URL)
	}
	return b.String()
}

// AddEvents appends raw events to the backend tracker for this user.
func (c *Controller) AddEvents(ctx context.Context, events []backend.Event) (history.Tracker, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return history.Tracker{}, ErrSessionClosed
	}
	host := c.host
	c.mu.Unlock()

	tracker, err := c.client.AppendEvents(ctx, host, c.opts.UserID, events)
	if err != nil {
		c.log.Error("Couldn't append events", "error", err)
		return history.Tracker{}, err
	}

	return tracker, nil
}

// Tracker fetches the raw backend tracker for this user.
func (c *Controller) Tracker(ctx context.Context) (history.Tracker, error) {
	c.mu.Lock()
	host := c.host
	c.mu.Unlock()

	return c.client.FetchTracker(ctx, host, c.opts.UserID)
}

// hidden reports whether text is kept off the timeline.
func (c *Controller) hidden(text string) bool {
	for _, prefix := range c.opts.Blacklist {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return true
		}
	}

	return c.handoff.MatchString(text)
}
