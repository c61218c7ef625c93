// Package broadcast carries conversation events between application
// instances. Writes happen on whichever instance served the request; the
// live websocket connection for the affected participant may be pinned to a
// different instance, so every instance subscribes to the shared event
// channel and forwards matching events to its local connections.
package broadcast

import (
	"context"
	"fmt"

	"support-desk-backend/internal/dto"
)

type EventType string

const (
	EventMessage         EventType = "message"
	EventSessionEnded    EventType = "session_ended"
	EventNewConversation EventType = "new_conversation"
	EventNewTicket       EventType = "new_ticket"
	EventTicketReply     EventType = "ticket_reply"
)

// Event is the wire payload published on conversation channels. Unread is
// the count from the recipient's perspective at publish time so a dashboard
// can update its badge without a read-path round trip.
type Event struct {
	Type           EventType                 `json:"type"`
	ConversationID string                    `json:"conversationId"`
	Conversation   *dto.ConversationMetadata `json:"conversation,omitempty"`
	Message        *dto.MessageResponse      `json:"message,omitempty"`
	Unread         int                       `json:"unread"`
	BroadcastAt    string                    `json:"broadcastAt"`
}

const (
	conversationChannelPrefix = "conversation-events-"

	// ConversationPattern matches every per-conversation channel; each
	// instance subscribes to it once at startup.
	ConversationPattern = conversationChannelPrefix + "*"

	// AgentChannel carries dashboard-wide alerts (new conversations, ticket
	// replies) that agents care about before they subscribe to a specific
	// conversation.
	AgentChannel = "agent-events"
)

func ConversationChannel(conversationID string) string {
	return fmt.Sprintf("%s%s", conversationChannelPrefix, conversationID)
}

// Broadcaster abstracts the fan-out transport so business logic stays
// independent of the broker: redis in production, in-memory in tests.
// Delivery is best effort, at most once per subscriber; the conversation
// store remains the source of truth.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, patterns ...string) (<-chan Event, error)
	Close() error
}
