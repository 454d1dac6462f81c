// Package chat binds operator interaction to the conversation cache and
// the event stream client: conversation selection, message composition,
// the send-then-reconcile flow, and the presentation ordering derived
// from the cache.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/convcache"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/gateway"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/notify"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/stream"
)

// Backend is the REST surface the controller depends on.
// *gateway.Client satisfies it; tests substitute fakes.
type Backend interface {
	Dashboard(ctx context.Context) (*model.Dashboard, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	SendMessage(ctx context.Context, req gateway.SendMessageRequest) (*model.Message, error)
}

// EventStream is the stream surface the controller depends on.
// *stream.Manager satisfies it.
type EventStream interface {
	Subscribe(h stream.Handlers) error
	JoinRoom(accountID int64) error
	State() stream.State
}

// Callbacks are the controller's outward notifications to the console.
// All callbacks are optional and are invoked from background goroutines.
type Callbacks struct {
	// OnUpdate is called whenever cache state changed and the view
	// should re-render.
	OnUpdate func()

	// OnMessage is called after a pushed message has been applied to the
	// cache, so the view can surface it immediately.
	OnMessage func(conversationID int64, msg model.Message)

	// OnStreamState is called on connection-health transitions, for the
	// non-blocking status indicator.
	OnStreamState func(stream.State)

	// OnTemplateUpdate is called when a template changes approval state.
	OnTemplateUpdate func(stream.TemplateEvent)

	// OnAlert is called when an inbound message matches a notify rule.
	OnAlert func(conversation model.Conversation, msg model.Message, rule string)
}

// Controller orchestrates the chat console.
// It is safe for concurrent use.
type Controller struct {
	backend   Backend
	streams   EventStream
	cache     *convcache.Cache
	rules     *notify.Engine
	callbacks Callbacks
	sanitizer *bluemonday.Policy
	logger    *slog.Logger

	mu         sync.Mutex
	selectedID int64
	dashboard  *model.Dashboard

	refreshCh chan struct{}
}

// NewController wires the controller. rules may be nil.
func NewController(backend Backend, streams EventStream, rules *notify.Engine, callbacks Callbacks) *Controller {
	c := &Controller{
		backend:   backend,
		streams:   streams,
		rules:     rules,
		callbacks: callbacks,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logging.Chat(),
		refreshCh: make(chan struct{}, 1),
	}
	c.cache = convcache.New(c.requestRefresh)
	return c
}

// Cache exposes the canonical conversation state for rendering.
func (c *Controller) Cache() *convcache.Cache {
	return c.cache
}

// StreamState reports the current connection health.
func (c *Controller) StreamState() stream.State {
	return c.streams.State()
}

// Dashboard returns the last fetched account snapshot, or nil.
func (c *Controller) Dashboard() *model.Dashboard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dashboard
}

// Start performs the initial load: dashboard snapshot, conversation
// hydrate, stream subscription, and auto-selection of the most recent
// conversation. The background refresh worker runs until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	dash, err := c.backend.Dashboard(ctx)
	if err != nil {
		// The console can still read conversations; sends will fail fast
		// locally until a snapshot is available.
		c.logger.Warn("dashboard snapshot unavailable", "error", err)
	} else {
		c.mu.Lock()
		c.dashboard = dash
		c.mu.Unlock()
	}

	if err := c.Refresh(ctx); err != nil {
		return err
	}

	if err := c.streams.Subscribe(stream.Handlers{
		OnNewMessage:  c.handleNewMessage,
		OnStatus:      c.handleStatus,
		OnTemplate:    c.handleTemplate,
		OnStateChange: func(s stream.State) { c.handleStreamState(ctx, s) },
	}); err != nil {
		c.logger.Warn("event stream unavailable", "error", err)
	}

	// Auto-select the most recent conversation if none is selected.
	c.mu.Lock()
	none := c.selectedID == 0
	c.mu.Unlock()
	if none {
		if conv, ok := c.cache.MostRecent(); ok {
			c.Select(conv.ID)
		}
	}

	go c.refreshWorker(ctx)
	return nil
}

// Refresh reloads the conversation snapshot under a fresh epoch. A
// stale in-flight refresh superseded by a newer one is discarded by the
// cache, not applied.
func (c *Controller) Refresh(ctx context.Context) error {
	epoch := c.cache.BeginRefresh()
	conversations, err := c.backend.ListConversations(ctx)
	if err != nil {
		return err
	}
	if c.cache.Hydrate(epoch, conversations) {
		c.notifyUpdate()
	}
	return nil
}

// Select makes the conversation active and joins its account room.
// Join failures are logged, not fatal: the room is re-joined on the
// next reconnect.
func (c *Controller) Select(conversationID int64) bool {
	conv, ok := c.cache.Conversation(conversationID)
	if !ok {
		return false
	}

	c.mu.Lock()
	c.selectedID = conversationID
	c.mu.Unlock()

	logging.WithConversation(c.logger, conv.ID, conv.CustomerPhone).Debug("conversation selected")

	if err := c.streams.JoinRoom(conv.WabaAccountID); err != nil {
		c.logger.Debug("join room deferred", "account_id", conv.WabaAccountID, "error", err)
	}
	c.notifyUpdate()
	return true
}

// Selected returns the active conversation, or false when none is.
func (c *Controller) Selected() (model.Conversation, bool) {
	c.mu.Lock()
	id := c.selectedID
	c.mu.Unlock()
	if id == 0 {
		return model.Conversation{}, false
	}
	return c.cache.Conversation(id)
}

// Send dispatches text to the selected conversation. Local precondition
// failures (empty draft, no selection, unknown sending number) reject
// with a ValidationError before any network call. Otherwise the message
// is applied optimistically, sent, and reconciled; on failure the
// optimistic entry is marked failed rather than removed.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return &gateway.ValidationError{Field: "message", Message: "message is empty"}
	}

	conv, ok := c.Selected()
	if !ok {
		return &gateway.ValidationError{Field: "conversation", Message: "no conversation selected"}
	}

	c.mu.Lock()
	dash := c.dashboard
	c.mu.Unlock()
	if dash == nil || dash.PhoneNumber == "" {
		return &gateway.ValidationError{Field: "from", Message: "sending phone number unknown"}
	}

	provID, _, ok := c.cache.ApplyOptimisticSend(conv.ID, text, time.Now().UTC())
	if !ok {
		return &gateway.ValidationError{Field: "conversation", Message: "conversation no longer known"}
	}
	c.notifyUpdate()

	msg, err := c.backend.SendMessage(ctx, gateway.SendMessageRequest{
		FromPhoneNumber: dash.PhoneNumber,
		Recipient:       conv.CustomerPhone,
		MessageType:     "text",
		MessageData:     text,
	})
	if err != nil {
		c.cache.MarkSendFailed(conv.ID, provID)
		c.notifyUpdate()
		return err
	}

	c.cache.ConfirmSend(conv.ID, provID, *msg)
	c.notifyUpdate()
	return nil
}

// Retry re-sends the most recent failed send in the selected
// conversation. The failed entry is removed and replaced by a fresh
// optimistic send going through the normal pipeline.
func (c *Controller) Retry(ctx context.Context) error {
	conv, ok := c.Selected()
	if !ok {
		return &gateway.ValidationError{Field: "conversation", Message: "no conversation selected"}
	}
	content, ok := c.cache.TakeFailedSend(conv.ID)
	if !ok {
		return &gateway.ValidationError{Field: "message", Message: "no failed send to retry"}
	}
	c.notifyUpdate()
	return c.Send(ctx, content)
}

// handleNewMessage feeds a pushed message into the cache. Inbound
// content is stripped of any markup before it reaches the terminal.
func (c *Controller) handleNewMessage(ev stream.NewMessageEvent) {
	msg := ev.Message
	if msg.Direction == model.DirectionInbound {
		msg.Content = c.sanitizer.Sanitize(msg.Content)
	}
	c.cache.ApplyRemoteMessage(ev.ConversationID, msg, ev.CorrelationID)
	c.notifyUpdate()

	if c.callbacks.OnMessage != nil {
		c.callbacks.OnMessage(ev.ConversationID, msg)
	}

	rules := c.Rules()
	if msg.Direction == model.DirectionInbound && rules != nil && c.callbacks.OnAlert != nil {
		if conv, ok := c.cache.Conversation(ev.ConversationID); ok {
			if rule, matched := rules.Match(conv, msg); matched {
				c.callbacks.OnAlert(conv, msg, rule)
			}
		}
	}
}

// Rules returns the active alert rule engine, or nil.
func (c *Controller) Rules() *notify.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rules
}

// SetRules replaces the alert rule engine. Used when the settings file
// is reloaded while the console is running.
func (c *Controller) SetRules(rules *notify.Engine) {
	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
}

func (c *Controller) handleStatus(ev stream.StatusEvent) {
	c.cache.ApplyStatusUpdate(ev.MessageID, ev.Status)
	c.notifyUpdate()
}

func (c *Controller) handleTemplate(ev stream.TemplateEvent) {
	if c.callbacks.OnTemplateUpdate != nil {
		c.callbacks.OnTemplateUpdate(ev)
	}
}

// handleStreamState surfaces health to the view and, on reconnect,
// re-joins the active room and resyncs the cache.
func (c *Controller) handleStreamState(ctx context.Context, s stream.State) {
	if c.callbacks.OnStreamState != nil {
		c.callbacks.OnStreamState(s)
	}
	if s != stream.StateConnected {
		return
	}

	if conv, ok := c.Selected(); ok {
		if err := c.streams.JoinRoom(conv.WabaAccountID); err != nil {
			c.logger.Debug("rejoin failed", "error", err)
		}
	}
	c.requestRefresh()
}

// requestRefresh schedules a full refresh without blocking the caller;
// coalesces bursts into one reload.
func (c *Controller) requestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// refreshWorker services queued refresh requests until ctx is done.
func (c *Controller) refreshWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.refreshCh:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("background refresh failed", "error", err)
			}
		}
	}
}

func (c *Controller) notifyUpdate() {
	if c.callbacks.OnUpdate != nil {
		c.callbacks.OnUpdate()
	}
}
