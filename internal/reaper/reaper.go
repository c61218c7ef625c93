// Package reaper reclaims live chats that went quiet. Support tickets are
// exempt: they may legitimately sit open for days awaiting a reply.
package reaper

import (
	"context"
	"log"
	"time"

	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"
)

const (
	DefaultInterval      = 5 * time.Minute
	DefaultIdleThreshold = 20 * time.Minute
)

// ConversationCloser is the slice of the conversation service the reaper
// needs.
type ConversationCloser interface {
	FindIdleConversations(ctx context.Context, kind model.ConversationKind, cutoff time.Time) ([]model.ConversationItem, error)
	CloseConversation(ctx context.Context, conversationID string) (conversation.CloseResult, error)
}

type Reaper struct {
	conversations ConversationCloser
	interval      time.Duration
	idleThreshold time.Duration
	now           func() time.Time
}

func New(conversations ConversationCloser, interval, idleThreshold time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}
	return &Reaper{
		conversations: conversations,
		interval:      interval,
		idleThreshold: idleThreshold,
		now:           time.Now,
	}
}

// Run owns the ticker loop. It is started and stopped by the process
// lifecycle via ctx; cancelling ctx ends the loop after the current sweep.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("reaper: sweeping every %s, idle threshold %s", r.interval, r.idleThreshold)

	for {
		select {
		case <-ctx.Done():
			log.Printf("reaper: stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep force-closes idle live chats. One conversation's failure never
// aborts the rest of the batch; partial success is expected here.
func (r *Reaper) Sweep(ctx context.Context) (closed int) {
	cutoff := r.now().UTC().Add(-r.idleThreshold)

	idle, err := r.conversations.FindIdleConversations(ctx, model.ConversationKindLiveChat, cutoff)
	if err != nil {
		log.Printf("reaper: find idle conversations: %v", err)
		return 0
	}
	if len(idle) == 0 {
		return 0
	}

	for _, item := range idle {
		result, err := r.conversations.CloseConversation(ctx, item.ConversationID)
		if err != nil {
			log.Printf("reaper: close %s: %v", item.ConversationID, err)
			continue
		}
		if !result.AlreadyClosed {
			closed++
		}
	}

	log.Printf("reaper: closed %d of %d idle conversations", closed, len(idle))
	return closed
}
