// Package model defines the conversation-domain types shared by the REST
// gateway, the event stream client, and the conversation cache. Field
// names follow the backend wire format.
package model

import "time"

// Direction of a message relative to the business account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the delivery status of a message.
//
// Outbound messages move forward through sent → delivered → read, with
// failed reachable from any non-terminal state. Inbound messages carry
// the received status. A status never regresses.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusReceived  Status = "received"
)

// statusRank orders the outbound delivery progression. Higher ranks may
// never be replaced by lower ones.
var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanTransition reports whether a status update from s to next is
// forward-moving. Failed is reachable from any non-terminal state;
// everything else must strictly advance the delivery progression.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	if next == StatusFailed {
		return !s.IsTerminal()
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Message is a single WhatsApp message within a conversation.
type Message struct {
	ID          int64     `json:"id"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	Direction   Direction `json:"direction"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is a thread of messages between the business account and
// one customer phone number. LastMessage and LastMessageTime are
// denormalized from the newest element of Messages; the cache keeps them
// consistent after every reconciliation.
type Conversation struct {
	ID              int64     `json:"id"`
	WabaAccountID   int64     `json:"waba_account_id"`
	CustomerPhone   string    `json:"customer_phone"`
	CustomerName    string    `json:"customer_name,omitempty"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Messages        []Message `json:"messages"`
}

// Dashboard is the account snapshot: the outbound sending number and
// connection status. Required before any outbound send.
type Dashboard struct {
	PhoneNumber      string `json:"phone_number"`
	ConnectionStatus string `json:"connection_status"`
	WabaAccountID    int64  `json:"waba_account_id,omitempty"`
}

// Template is a message template as returned by the backend.
type Template struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Language string `json:"language"`
	Body     string `json:"body"`
	Status   string `json:"status,omitempty"`
}
