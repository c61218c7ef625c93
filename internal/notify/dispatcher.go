// Package notify turns accepted conversation mutations into realtime events
// and out-of-band alerts. Every method here is best effort: the mutation is
// already durably stored by the time the dispatcher runs, so publish
// failures are logged and swallowed rather than surfaced to the sender.
package notify

import (
	"context"
	"log"
	"time"

	"support-desk-backend/internal/broadcast"
	"support-desk-backend/internal/dto"
	"support-desk-backend/internal/model"
)

type Dispatcher struct {
	broadcaster broadcast.Broadcaster
	sink        Sink
	now         func() time.Time
}

func NewDispatcher(b broadcast.Broadcaster, sink Sink) *Dispatcher {
	if sink == nil {
		sink = FallbackSink{}
	}
	return &Dispatcher{
		broadcaster: b,
		sink:        sink,
		now:         time.Now,
	}
}

// MessageAccepted fans out an accepted message. unread is recomputed by the
// caller from the recipient's perspective so reconnecting dashboards get an
// accurate badge without an extra read. Customer messages on async tickets
// additionally raise a ticket_reply alert on the agent channel.
func (d *Dispatcher) MessageAccepted(ctx context.Context, conversation dto.ConversationMetadata, message dto.MessageResponse, unread int) {
	event := broadcast.Event{
		Type:           broadcast.EventMessage,
		ConversationID: conversation.ConversationID,
		Conversation:   &conversation,
		Message:        &message,
		Unread:         unread,
		BroadcastAt:    d.now().UTC().Format(time.RFC3339Nano),
	}

	d.publish(ctx, broadcast.ConversationChannel(conversation.ConversationID), event)

	if message.SenderType == string(model.SenderTypeCustomer) {
		agentEvent := event
		if conversation.Kind == string(model.ConversationKindAsyncTicket) {
			agentEvent.Type = broadcast.EventTicketReply
		}
		d.publish(ctx, broadcast.AgentChannel, agentEvent)
	}
}

// ConversationCreated announces new work on the agent channel so idle
// dashboards learn about conversations they have not subscribed to yet, and
// pushes an out-of-band alert through the sink.
func (d *Dispatcher) ConversationCreated(ctx context.Context, conversation dto.ConversationMetadata, first *dto.MessageResponse) {
	eventType := broadcast.EventNewConversation
	if conversation.Kind == string(model.ConversationKindAsyncTicket) {
		eventType = broadcast.EventNewTicket
	}

	event := broadcast.Event{
		Type:           eventType,
		ConversationID: conversation.ConversationID,
		Conversation:   &conversation,
		Message:        first,
		BroadcastAt:    d.now().UTC().Format(time.RFC3339Nano),
	}

	d.publish(ctx, broadcast.AgentChannel, event)
	if first != nil {
		d.publish(ctx, broadcast.ConversationChannel(conversation.ConversationID), event)
	}

	alert := Alert{
		Kind:           string(eventType),
		ConversationID: conversation.ConversationID,
		Participant:    conversation.Participant,
		EmittedAt:      d.now().UTC().Format(time.RFC3339Nano),
	}
	if err := d.sink.Push(ctx, alert); err != nil {
		log.Printf("notify: push %s alert for %s: %v", alert.Kind, alert.ConversationID, err)
	}
}

// SessionEnded tells every instance holding a connection for this
// conversation that it was closed.
func (d *Dispatcher) SessionEnded(ctx context.Context, conversation dto.ConversationMetadata) {
	event := broadcast.Event{
		Type:           broadcast.EventSessionEnded,
		ConversationID: conversation.ConversationID,
		Conversation:   &conversation,
		BroadcastAt:    d.now().UTC().Format(time.RFC3339Nano),
	}

	d.publish(ctx, broadcast.ConversationChannel(conversation.ConversationID), event)
	d.publish(ctx, broadcast.AgentChannel, event)
}

func (d *Dispatcher) publish(ctx context.Context, channel string, event broadcast.Event) {
	if err := d.broadcaster.Publish(ctx, channel, event); err != nil {
		log.Printf("notify: publish %s on %s: %v", event.Type, channel, err)
	}
}
