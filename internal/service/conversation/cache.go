package conversation

import (
	"sync"

	"support-desk-backend/internal/model"
)

// activeCache memoizes the "current active conversation" lookup per
// participant. It is a read-through cache: FindActiveConversation fills it,
// and every mutation site (create, send, close) invalidates explicitly.
// Entries are per-instance only; the store stays authoritative.
type activeCache struct {
	mu      sync.RWMutex
	entries map[string]model.ConversationItem
}

func newActiveCache() *activeCache {
	return &activeCache{
		entries: make(map[string]model.ConversationItem),
	}
}

func (c *activeCache) Get(participant string) (model.ConversationItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conversation, ok := c.entries[participant]
	return conversation, ok
}

func (c *activeCache) Set(participant string, conversation model.ConversationItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[participant] = conversation
}

func (c *activeCache) Invalidate(participant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, participant)
}
