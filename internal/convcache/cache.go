// Package convcache is the client-side single source of truth for
// conversation and message state. REST snapshots, stream events and
// optimistic local sends all merge through it; the event stream client
// and the REST gateway never hold conversation state themselves.
//
// All reconciliation entry points serialize on one mutex and fully
// complete, including denormalized last_message recomputation, before
// the next is applied. They never return errors: an unresolvable merge
// degrades to a full-refresh request.
package convcache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
)

// heuristicWindow bounds the timestamp distance used when matching a
// confirmed message against a pending optimistic send without a
// correlation id.
const heuristicWindow = 2 * time.Minute

// pendingSend tracks an optimistic local send awaiting confirmation.
type pendingSend struct {
	provisionalID  int64
	correlationID  string
	conversationID int64
	content        string
	createdAt      time.Time
}

// Cache holds the canonical in-memory conversation set.
// It is safe for concurrent use.
type Cache struct {
	mu            sync.Mutex
	conversations []*model.Conversation
	byID          map[int64]*model.Conversation

	// pending is the arena of optimistic sends keyed by provisional id.
	pending map[int64]*pendingSend
	// nextProvisional issues provisional message ids. They are negative
	// so they can never collide with server-assigned identities.
	nextProvisional int64

	// epoch guards full refreshes: a snapshot loaded under an older
	// epoch than the current one is stale and discarded.
	epoch uint64

	// requestRefresh is invoked (outside the lock) when reconciliation
	// cannot resolve an event against known state.
	requestRefresh func()

	logger *slog.Logger
}

// New creates an empty cache. onRefreshNeeded may be nil; when set it is
// called whenever an event cannot be merged and a full refresh is the
// fallback. It must not block.
func New(onRefreshNeeded func()) *Cache {
	return &Cache{
		byID:            make(map[int64]*model.Conversation),
		pending:         make(map[int64]*pendingSend),
		nextProvisional: -1,
		requestRefresh:  onRefreshNeeded,
		logger:          logging.Cache(),
	}
}

// BeginRefresh opens a new refresh epoch and returns its token. Any
// snapshot hydrated under an older token is discarded, so an in-flight
// stale refresh cannot clobber a newer one.
func (c *Cache) BeginRefresh() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

// Hydrate replaces the cache content with a REST snapshot taken under
// the given epoch token. It reports whether the snapshot was applied.
func (c *Cache) Hydrate(epoch uint64, snapshot []model.Conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		c.logger.Debug("discarding stale snapshot", "epoch", epoch, "current", c.epoch)
		return false
	}

	c.conversations = c.conversations[:0]
	c.byID = make(map[int64]*model.Conversation, len(snapshot))
	for i := range snapshot {
		conv := snapshot[i]
		conv.Messages = append([]model.Message(nil), conv.Messages...)
		sortMessages(conv.Messages)
		refreshDenormalized(&conv)
		c.conversations = append(c.conversations, &conv)
		c.byID[conv.ID] = &conv
	}

	// A snapshot supersedes anything we were still waiting on.
	c.pending = make(map[int64]*pendingSend)
	c.sortByRecencyLocked()
	return true
}

// ApplyRemoteMessage merges a message pushed by the event stream into
// the target conversation, deduplicating by message identity. An
// unknown conversation triggers a full refresh rather than dropping the
// event. correlationID may be empty when the server does not echo it.
func (c *Cache) ApplyRemoteMessage(conversationID int64, msg model.Message, correlationID string) {
	c.mu.Lock()

	conv, ok := c.byID[conversationID]
	if !ok {
		c.mu.Unlock()
		c.logger.Info("message for unknown conversation, requesting refresh",
			"conversation_id", conversationID, "message_id", msg.ID)
		c.fireRefresh()
		return
	}

	// A pending optimistic send confirmed by the push path.
	if p := c.matchPendingLocked(conversationID, msg, correlationID); p != nil {
		c.replaceMessageLocked(conv, p.provisionalID, msg)
		delete(c.pending, p.provisionalID)
		refreshDenormalized(conv)
		c.sortByRecencyLocked()
		c.mu.Unlock()
		return
	}

	// Already known: update in place, respecting status monotonicity.
	if existing := findMessage(conv, msg.ID); existing != nil {
		existing.Content = msg.Content
		if existing.Status != msg.Status && existing.Status.CanTransition(msg.Status) {
			existing.Status = msg.Status
		}
		refreshDenormalized(conv)
		c.sortByRecencyLocked()
		c.mu.Unlock()
		return
	}

	insertMessage(conv, msg)
	refreshDenormalized(conv)
	c.sortByRecencyLocked()
	c.mu.Unlock()
}

// ApplyOptimisticSend immediately appends a locally-constructed outbound
// message with status sent and a provisional identity, so the view
// reflects the send before server confirmation. The returned provisional
// id and correlation id identify the pending record for reconciliation.
func (c *Cache) ApplyOptimisticSend(conversationID int64, content string, now time.Time) (provisionalID int64, correlationID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, found := c.byID[conversationID]
	if !found {
		return 0, "", false
	}

	provisionalID = c.nextProvisional
	c.nextProvisional--
	correlationID = uuid.NewString()

	msg := model.Message{
		ID:          provisionalID,
		MessageType: "text",
		Content:     content,
		Direction:   model.DirectionOutbound,
		Status:      model.StatusSent,
		CreatedAt:   now,
	}
	insertMessage(conv, msg)
	refreshDenormalized(conv)
	c.sortByRecencyLocked()

	c.pending[provisionalID] = &pendingSend{
		provisionalID:  provisionalID,
		correlationID:  correlationID,
		conversationID: conversationID,
		content:        content,
		createdAt:      now,
	}
	return provisionalID, correlationID, true
}

// ConfirmSend reconciles a pending optimistic send with the
// authoritative message returned by the REST layer. The provisional
// entry is replaced, never duplicated: if the authoritative identity
// already arrived through the stream, the provisional entry is dropped.
func (c *Cache) ConfirmSend(conversationID, provisionalID int64, confirmed model.Message) {
	c.mu.Lock()

	conv, ok := c.byID[conversationID]
	if !ok {
		delete(c.pending, provisionalID)
		c.mu.Unlock()
		c.fireRefresh()
		return
	}

	if findMessage(conv, confirmed.ID) != nil {
		// The push event beat the REST response; drop the provisional copy.
		removeMessage(conv, provisionalID)
	} else {
		c.replaceMessageLocked(conv, provisionalID, confirmed)
	}
	delete(c.pending, provisionalID)
	refreshDenormalized(conv)
	c.sortByRecencyLocked()
	c.mu.Unlock()
}

// MarkSendFailed transitions a pending optimistic message to failed.
// The message stays visible so the operator can judge whether to resend.
func (c *Cache) MarkSendFailed(conversationID, provisionalID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, provisionalID)
	conv, ok := c.byID[conversationID]
	if !ok {
		return
	}
	if msg := findMessage(conv, provisionalID); msg != nil {
		if msg.Status.CanTransition(model.StatusFailed) {
			msg.Status = model.StatusFailed
		}
		refreshDenormalized(conv)
	}
}

// TakeFailedSend removes the most recent failed local send from the
// conversation and returns its content so the operator can retry it.
// Only provisional (never-confirmed) messages qualify; failures reported
// by the server against real message ids are left alone.
func (c *Cache) TakeFailedSend(conversationID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[conversationID]
	if !ok {
		return "", false
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.ID < 0 && msg.Status == model.StatusFailed {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			refreshDenormalized(conv)
			c.sortByRecencyLocked()
			return msg.Content, true
		}
	}
	return "", false
}

// ApplyStatusUpdate locates the message across all conversations and
// applies the new status only if the transition is forward-moving.
// Out-of-order or regressive updates are ignored and logged. A message
// absent everywhere triggers the full-refresh fallback.
func (c *Cache) ApplyStatusUpdate(messageID int64, status model.Status) {
	c.mu.Lock()

	for _, conv := range c.conversations {
		if msg := findMessage(conv, messageID); msg != nil {
			if msg.Status.CanTransition(status) {
				msg.Status = status
			} else {
				c.logger.Debug("ignoring non-forward status update",
					"message_id", messageID, "current", msg.Status, "incoming", status)
			}
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	c.logger.Info("status update for unknown message, requesting refresh", "message_id", messageID)
	c.fireRefresh()
}

// Conversations returns a copy of all conversations ordered by recency,
// newest activity first.
func (c *Cache) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, copyConversation(conv))
	}
	return out
}

// Conversation returns a copy of one conversation, or false if unknown.
func (c *Cache) Conversation(id int64) (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.byID[id]
	if !ok {
		return model.Conversation{}, false
	}
	return copyConversation(conv), true
}

// MostRecent returns a copy of the conversation with the newest
// activity, or false when the cache is empty.
func (c *Cache) MostRecent() (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.conversations) == 0 {
		return model.Conversation{}, false
	}
	return copyConversation(c.conversations[0]), true
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conversations)
}

// matchPendingLocked finds the pending send confirmed by msg: first by
// correlation id, then by conversation + content + approximate
// timestamp for servers that do not echo correlation ids.
func (c *Cache) matchPendingLocked(conversationID int64, msg model.Message, correlationID string) *pendingSend {
	if msg.Direction != model.DirectionOutbound {
		return nil
	}
	if correlationID != "" {
		for _, p := range c.pending {
			if p.correlationID == correlationID {
				return p
			}
		}
		return nil
	}
	for _, p := range c.pending {
		if p.conversationID != conversationID || p.content != msg.Content {
			continue
		}
		delta := msg.CreatedAt.Sub(p.createdAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= heuristicWindow {
			return p
		}
	}
	return nil
}

// replaceMessageLocked swaps the message with oldID for replacement,
// keeping chronological order. If oldID is absent the replacement is
// inserted.
func (c *Cache) replaceMessageLocked(conv *model.Conversation, oldID int64, replacement model.Message) {
	removeMessage(conv, oldID)
	insertMessage(conv, replacement)
}

// fireRefresh invokes the refresh callback outside the lock.
func (c *Cache) fireRefresh() {
	if c.requestRefresh != nil {
		c.requestRefresh()
	}
}

// sortByRecencyLocked keeps the conversation list ordered newest first.
func (c *Cache) sortByRecencyLocked() {
	sort.SliceStable(c.conversations, func(i, j int) bool {
		return c.conversations[i].LastMessageTime.After(c.conversations[j].LastMessageTime)
	})
}

// findMessage returns a pointer into the conversation's message slice.
func findMessage(conv *model.Conversation, id int64) *model.Message {
	for i := range conv.Messages {
		if conv.Messages[i].ID == id {
			return &conv.Messages[i]
		}
	}
	return nil
}

// removeMessage deletes the message with the given id, if present.
func removeMessage(conv *model.Conversation, id int64) {
	for i := range conv.Messages {
		if conv.Messages[i].ID == id {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			return
		}
	}
}

// insertMessage places msg keeping chronological order, oldest first.
// Appends are the common case; only out-of-order timestamps walk back.
func insertMessage(conv *model.Conversation, msg model.Message) {
	i := len(conv.Messages)
	for i > 0 && conv.Messages[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	conv.Messages = append(conv.Messages, model.Message{})
	copy(conv.Messages[i+1:], conv.Messages[i:])
	conv.Messages[i] = msg
}

// sortMessages orders messages chronologically, oldest first.
func sortMessages(messages []model.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// refreshDenormalized recomputes last_message and last_message_time from
// the chronologically last message. Invariant: after any reconciliation
// completes, LastMessageTime equals the timestamp of the final element.
func refreshDenormalized(conv *model.Conversation) {
	if len(conv.Messages) == 0 {
		return
	}
	last := conv.Messages[len(conv.Messages)-1]
	conv.LastMessage = last.Content
	conv.LastMessageTime = last.CreatedAt
	if last.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = last.CreatedAt
	}
}

// copyConversation returns a deep copy safe to hand to readers.
func copyConversation(conv *model.Conversation) model.Conversation {
	out := *conv
	out.Messages = append([]model.Message(nil), conv.Messages...)
	return out
}
