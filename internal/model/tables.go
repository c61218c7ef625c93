package model

const (
	ConversationsTable = "Conversations"
	MessagesTable      = "Messages"
	AgentsTable        = "Agents"
)

type AgentItem struct {
	AgentID      string `dynamodbav:"agentId"`
	Email        string `dynamodbav:"email"`
	Name         string `dynamodbav:"name"`
	PasswordHash string `dynamodbav:"passwordHash"`
	Status       string `dynamodbav:"status"`
	CreatedAt    string `dynamodbav:"createdAt"`
}
