package websocket

// Principal is the authenticated identity bound to a connection during the
// handshake. It is threaded explicitly through every call that needs
// identity; there is no ambient per-connection attribute bag.
type Principal struct {
	Identifier string
	Email      string
	IsAgent    bool
}

const (
	ActionSendMessage = "send_message"
	ActionSubscribe   = "subscribe"
	ActionClose       = "close"
	ActionAssign      = "assign"
	ActionMarkRead    = "mark_read"
	ActionWait        = "wait"
)

// Command is the client to server frame.
type Command struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	Body           string `json:"body,omitempty"`
}

// ErrorFrame is sent to the client when a command is rejected; the
// connection stays open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckFrame confirms a command that produces no event of its own.
type AckFrame struct {
	Type           string `json:"type"`
	Action         string `json:"action"`
	ConversationID string `json:"conversationId,omitempty"`
}

const (
	frameError = "error"
	frameAck   = "ack"
)
