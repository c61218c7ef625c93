package websocket

import (
	"sync"

	"support-desk-backend/internal/broadcast"
)

// Hub is the registry of live connections: which clients are bound to which
// conversation and which are agent dashboards. It is created once per
// process and injected into whatever accepts new connections; all access is
// guarded so bind/unbind/forward on unrelated conversations never block one
// another for long.
type Hub struct {
	mu            sync.RWMutex
	conversations map[string]map[*Client]struct{}
	agents        map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conversations: make(map[string]map[*Client]struct{}),
		agents:        make(map[*Client]struct{}),
	}
}

// Bind registers a freshly handshaken client. Agent connections are
// additionally placed in the agent set so dashboard-wide alerts reach them
// before they subscribe to any specific conversation.
func (h *Hub) Bind(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.principal.IsAgent {
		h.agents[client] = struct{}{}
	}
	incConnections()
}

// Subscribe attaches a client to a conversation's fan-out. Idempotent per
// connection lifetime.
func (h *Hub) Subscribe(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.conversations[conversationID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.conversations[conversationID] = clients
	}
	if _, already := clients[client]; already {
		return
	}
	clients[client] = struct{}{}
	client.trackSubscription(conversationID)
	setConversations(len(h.conversations))
}

// Unbind removes a client from every structure it appears in. Safe to call
// more than once.
func (h *Hub) Unbind(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.agents, client)

	for _, conversationID := range client.subscriptions() {
		clients, ok := h.conversations[conversationID]
		if !ok {
			continue
		}
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.conversations, conversationID)
		}
	}

	if client.markUnbound() {
		decConnections()
	}
	setConversations(len(h.conversations))
}

// ForwardConversation delivers an event to every client bound to the
// conversation. Slow clients are dropped rather than blocking delivery to
// the rest.
func (h *Hub) ForwardConversation(conversationID string, event broadcast.Event) {
	h.mu.RLock()
	var stale []*Client
	delivered := 0
	for client := range h.conversations[conversationID] {
		if client.trySend(event) {
			delivered++
		} else {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	if delivered > 0 {
		addDelivered(delivered)
	}
	for _, client := range stale {
		client.Close()
		h.Unbind(client)
	}
}

// ForwardAgents delivers an event to every connected agent dashboard.
func (h *Hub) ForwardAgents(event broadcast.Event) {
	h.mu.RLock()
	var stale []*Client
	delivered := 0
	for client := range h.agents {
		if client.trySend(event) {
			delivered++
		} else {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	if delivered > 0 {
		addDelivered(delivered)
	}
	for _, client := range stale {
		client.Close()
		h.Unbind(client)
	}
}
