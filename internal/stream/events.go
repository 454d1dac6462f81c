package stream

import (
	"encoding/json"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
)

// Server-to-client event names and the client-to-server room command.
const (
	EventWhatsAppMessage = "whatsapp_message"
	EventNewMessage      = "new_message" // legacy alias of whatsapp_message
	EventWhatsAppStatus  = "whatsapp_status"
	EventTemplateUpdate  = "template_update"

	CommandJoinRoom = "join_room"
)

// envelope is the wire format for every stream message.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessageEvent carries a message pushed for a conversation.
type NewMessageEvent struct {
	ConversationID int64         `json:"conversation_id"`
	Message        model.Message `json:"message"`
	// CorrelationID echoes the client-generated id of the send this
	// message confirms, when the backend supports it.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// StatusEvent carries a delivery-status transition for one message.
type StatusEvent struct {
	MessageID int64        `json:"messageId"`
	Status    model.Status `json:"status"`
}

// TemplateEvent carries a template approval-state change.
type TemplateEvent struct {
	TemplateID int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// Handlers is the set of callbacks delivered by the stream client.
// All callbacks are optional; nil callbacks are ignored. Events are
// delivered serially from a single goroutine, in arrival order.
type Handlers struct {
	// OnNewMessage is called for whatsapp_message events.
	OnNewMessage func(NewMessageEvent)

	// OnLegacyMessage is called for new_message events. When nil, those
	// events fall through to OnNewMessage and are treated identically.
	OnLegacyMessage func(NewMessageEvent)

	// OnStatus is called for whatsapp_status events.
	OnStatus func(StatusEvent)

	// OnTemplate is called for template_update events.
	OnTemplate func(TemplateEvent)

	// OnStateChange is called whenever the connection state changes.
	// Consumers use it to rejoin rooms and resync after a reconnect.
	OnStateChange func(State)
}
