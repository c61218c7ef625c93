package model

import "fmt"

type ConversationStatus string

const (
	ConversationStatusOpen       ConversationStatus = "open"
	ConversationStatusInProgress ConversationStatus = "in_progress"
	ConversationStatusWaiting    ConversationStatus = "waiting_for_customer"
	ConversationStatusClosed     ConversationStatus = "closed"
)

// ActiveStatuses are the statuses a conversation can hold while it is still
// live; everything except closed.
var ActiveStatuses = []ConversationStatus{
	ConversationStatusOpen,
	ConversationStatusInProgress,
	ConversationStatusWaiting,
}

type ConversationKind string

const (
	ConversationKindLiveChat    ConversationKind = "live_chat"
	ConversationKindAsyncTicket ConversationKind = "async_ticket"
)

type SenderType string

const (
	SenderTypeCustomer SenderType = "customer"
	SenderTypeAgent    SenderType = "agent"
	SenderTypeSystem   SenderType = "system"
)

func MessagePK(conversationID, messageID string) string {
	return fmt.Sprintf("%s#%s", conversationID, messageID)
}

type ConversationItem struct {
	ConversationID string             `dynamodbav:"conversationId"`
	Participant    string             `dynamodbav:"participant"`
	Kind           ConversationKind   `dynamodbav:"kind"`
	Status         ConversationStatus `dynamodbav:"status"`
	AssignedAgent  string             `dynamodbav:"assignedAgent,omitempty"`
	CreatedAt      string             `dynamodbav:"createdAt"`
	LastActivityAt string             `dynamodbav:"lastActivityAt"`
	ClosedAt       string             `dynamodbav:"closedAt,omitempty"`
}

type MessageItem struct {
	PK             string     `dynamodbav:"pk"`
	ConversationID string     `dynamodbav:"conversationId"`
	MessageID      string     `dynamodbav:"messageId"`
	Sender         string     `dynamodbav:"sender"`
	SenderType     SenderType `dynamodbav:"senderType"`
	Body           string     `dynamodbav:"body"`
	CreatedAt      string     `dynamodbav:"createdAt"`
	Read           bool       `dynamodbav:"read"`
}

func (m MessageItem) FromAgent() bool {
	return m.SenderType == SenderTypeAgent
}

func (c ConversationItem) Closed() bool {
	return c.Status == ConversationStatusClosed
}
