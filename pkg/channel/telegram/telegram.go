package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatroom/pkg/bus"
	"chatroom/pkg/channel"
	"chatroom/pkg/config"
	"chatroom/pkg/message"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// typingLimit stops the indicator when no reply arrives.
const typingLimit = 30 * time.Second

const consentCommand = "/start"

// Adapter bridges Telegram updates into chat sessions and renders timeline
// entries back as Telegram messages.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu      sync.Mutex
	bot     *telego.Bot
	buttons map[string][]message.Button
	typing  map[string]context.CancelFunc
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
		buttons:   make(map[string][]message.Button),
		typing:    make(map[string]context.CancelFunc),
	}, nil
}

// botOptions routes Bot API calls through the configured proxy, if any.
func botOptions(cfg config.TelegramConfig) ([]telego.BotOption, error) {
	raw := strings.TrimSpace(cfg.Proxy)
	if raw == "" {
		return nil, nil
	}

	proxyURL, err := url.Parse(raw)
	if err != nil || proxyURL.Host == "" {
		return nil, fmt.Errorf("invalid channels.telegram.proxy %q", raw)
	}

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	return []telego.BotOption{telego.WithHTTPClient(client)}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards updates to handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	options, err := botOptions(a.cfg)
	if err != nil {
		return err
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token), options...)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()
	defer a.stopAllTyping()

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			if query := update.CallbackQuery; query != nil {
				if err := bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(query.ID)); err != nil {
					a.log.Debug("Failed to answer callback query", "error", err)
				}
			}

			inbound, ok := a.inboundFromUpdate(update)
			if !ok {
				continue
			}
			a.log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "kind", inbound.Kind, "session_key", inbound.SessionKey, "content", previewText(inbound.Content))

			if inbound.Kind == bus.InboundText || inbound.Kind == bus.InboundButton {
				chatID, _ := strconv.ParseInt(inbound.ChatID, 10, 64)
				a.startTypingIndicator(ctx, bot, inbound.ChatID, chatID)
			}

			if err := handler(ctx, inbound); err != nil {
				a.stopTyping(inbound.ChatID)
				a.log.Error("Failed to process inbound message", "error", err)
			}
		}
	}
}

// inboundFromUpdate maps one update onto an inbound message. Updates from
// unauthorized senders and unsupported update types are dropped.
func (a *Adapter) inboundFromUpdate(update telego.Update) (bus.InboundMessage, bool) {
	if query := update.CallbackQuery; query != nil {
		if query.Message == nil {
			return bus.InboundMessage{}, false
		}
		senderID := strconv.FormatInt(query.From.ID, 10)
		if !a.senderAllowed(senderID) {
			a.log.Debug("Ignoring callback from unauthorized sender", "sender_id", senderID)
			return bus.InboundMessage{}, false
		}

		chatID := strconv.FormatInt(query.Message.GetChat().ID, 10)
		button, ok := a.buttonForCallback(chatID, query.Data)
		if !ok {
			a.log.Debug("Ignoring stale button callback", "chat_id", chatID, "data", query.Data)
			return bus.InboundMessage{}, false
		}

		return bus.InboundMessage{
			Channel:    channelName,
			Kind:       bus.InboundButton,
			SenderID:   senderID,
			ChatID:     chatID,
			SessionKey: sessionKey(chatID),
			Content:    button.Payload,
			Title:      button.Title,
			Metadata:   map[string]string{"update_id": strconv.Itoa(update.UpdateID)},
		}, true
	}

	msg := update.Message
	if msg == nil {
		return bus.InboundMessage{}, false
	}
	if msg.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	inbound := bus.InboundMessage{
		Channel:    channelName,
		SenderID:   senderID,
		ChatID:     chatID,
		SessionKey: sessionKey(chatID),
		Metadata:   map[string]string{"update_id": strconv.Itoa(update.UpdateID)},
	}

	if loc := msg.Location; loc != nil {
		inbound.Kind = bus.InboundLocation
		inbound.Location = &bus.Location{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.HorizontalAccuracy,
		}
		return inbound, true
	}

	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return bus.InboundMessage{}, false
	}
	inbound.Content = content
	inbound.Kind = bus.InboundText
	if content == consentCommand {
		inbound.Kind = bus.InboundConsent
	}

	return inbound, true
}

// Deliver renders one timeline entry into the chat it belongs to. User entries
// are skipped since Telegram already shows what the user typed.
func (a *Adapter) Deliver(ctx context.Context, outbound bus.OutboundMessage) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return errors.New("telegram channel is not running")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(outbound.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", outbound.ChatID, err)
	}

	if text := strings.TrimSpace(outbound.Error); text != "" {
		a.stopTyping(outbound.ChatID)
		_, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
		return err
	}

	if outbound.Entry.Sender != message.BotSender {
		return nil
	}
	a.stopTyping(outbound.ChatID)

	out, ok := render(outbound.Entry.Message)
	if !ok {
		a.log.Debug("Skipping entry without a Telegram rendering", "kind", outbound.Entry.Message.Kind)
		return nil
	}
	if len(out.buttons) > 0 {
		a.rememberButtons(outbound.ChatID, out.buttons)
	}

	a.log.Info("Sending message", "chat_id", outbound.ChatID, "session_key", outbound.SessionKey, "kind", outbound.Entry.Message.Kind, "content", previewText(out.text))

	if out.photoURL != "" {
		params := tu.Photo(tu.ID(chatID), tu.FileFromURL(out.photoURL))
		if out.text != "" {
			params = params.WithCaption(out.text)
		}
		if _, err := bot.SendPhoto(ctx, params); err != nil {
			return fmt.Errorf("send telegram photo: %w", err)
		}
		return nil
	}

	params := tu.Message(tu.ID(chatID), out.text)
	switch {
	case len(out.buttons) > 0:
		params = params.WithReplyMarkup(inlineKeyboard(out.buttons))
	case out.requestLocation:
		params = params.WithReplyMarkup(tu.Keyboard(
			tu.KeyboardRow(tu.KeyboardButton(shareLocationLabel).WithRequestLocation()),
		).WithResizeKeyboard().WithOneTimeKeyboard())
	}

	if _, err := bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func inlineKeyboard(buttons []message.Button) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for i, button := range buttons {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(button.Title).WithCallbackData(callbackData(i)),
		))
	}
	return tu.InlineKeyboard(rows...)
}

// rememberButtons replaces the chat's clickable button set. Only the latest set
// answers callbacks.
func (a *Adapter) rememberButtons(chatID string, buttons []message.Button) {
	copied := make([]message.Button, len(buttons))
	copy(copied, buttons)

	a.mu.Lock()
	a.buttons[chatID] = copied
	a.mu.Unlock()
}

func (a *Adapter) buttonForCallback(chatID string, data string) (message.Button, bool) {
	index, ok := parseCallbackData(data)
	if !ok {
		return message.Button{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	buttons := a.buttons[chatID]
	if index >= len(buttons) {
		return message.Button{}, false
	}
	return buttons[index], true
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to one chat session.
func sessionKey(chatID string) string {
	return "telegram:" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator shows typing in chat until the next bot entry is
// delivered, the handler fails, or typingLimit passes.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, key string, chatID int64) {
	typingCtx, cancel := context.WithTimeout(ctx, typingLimit)

	a.mu.Lock()
	if previous, ok := a.typing[key]; ok {
		previous()
	}
	a.typing[key] = cancel
	a.mu.Unlock()

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()
}

func (a *Adapter) stopTyping(key string) {
	a.mu.Lock()
	cancel, ok := a.typing[key]
	delete(a.typing, key)
	a.mu.Unlock()

	if ok {
		cancel()
	}
}

func (a *Adapter) stopAllTyping() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, cancel := range a.typing {
		cancel()
		delete(a.typing, key)
	}
}
