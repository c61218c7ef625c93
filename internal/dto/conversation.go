package dto

type ConversationMetadata struct {
	ConversationID string `json:"conversationId"`
	Participant    string `json:"participant"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	AssignedAgent  string `json:"assignedAgent,omitempty"`
	CreatedAt      string `json:"createdAt"`
	LastActivityAt string `json:"lastActivityAt"`
	ClosedAt       string `json:"closedAt,omitempty"`
}

type MessageResponse struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	SenderType     string `json:"senderType"`
	Body           string `json:"body"`
	CreatedAt      string `json:"createdAt"`
	Read           bool   `json:"read"`
}

type CreateConversationRequest struct {
	Participant string `json:"participant"`
	Kind        string `json:"kind"`
}

type CreateConversationResponse struct {
	Conversation     ConversationMetadata `json:"conversation"`
	ParticipantToken string               `json:"participantToken"`
	Messages         []MessageResponse    `json:"messages,omitempty"`
}

type PostCustomerMessageRequest struct {
	Body             string `json:"body"`
	ParticipantToken string `json:"participantToken"`
}

type PostAgentMessageRequest struct {
	Body string `json:"body"`
}

type AssignConversationRequest struct {
	AgentID string `json:"agentId"`
}

type ListConversationsResponse struct {
	Conversations []ConversationMetadata `json:"conversations"`
}

type ListMessagesResponse struct {
	Conversation ConversationMetadata `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}

type UnreadCountResponse struct {
	ConversationID string `json:"conversationId"`
	Unread         int    `json:"unread"`
}
