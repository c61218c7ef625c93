package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"support-desk-backend/internal/broadcast"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/service/conversation"

	"github.com/gorilla/websocket"
)

const defaultCommandTimeout = 10 * time.Second

// Handler authenticates inbound websocket connections and binds them to a
// principal before any message can flow.
type Handler struct {
	hub              *Hub
	conversations    *conversation.Service
	upgrader         websocket.Upgrader
	handshakeTimeout time.Duration
}

func NewHandler(hub *Hub, conversations *conversation.Service, handshakeTimeout time.Duration) *Handler {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	return &Handler{
		hub:           hub,
		conversations: conversations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		handshakeTimeout: handshakeTimeout,
	}
}

type handshakeError struct {
	status  int
	code    string
	message string
}

func (e *handshakeError) Error() string {
	return e.message
}

type handshakeResult struct {
	principal Principal
	// boundConversation is set when a participant token pins the connection
	// to one conversation; the client is auto-subscribed to it.
	boundConversation string
}

// ServeWS performs the authenticated handshake and, on success, upgrades
// the connection and binds it to the resolved principal.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	result, err := h.handshake(r)
	if err != nil {
		incHandshakeFailures()

		var hsErr *handshakeError
		if !errors.As(err, &hsErr) {
			hsErr = &handshakeError{status: http.StatusUnauthorized, code: "unauthorized", message: "handshake failed"}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(hsErr.status)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    hsErr.code,
			"message": hsErr.message,
		})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade: %v", err)
		return
	}

	client := newClient(conn, result.principal)
	h.hub.Bind(client)
	if result.boundConversation != "" {
		h.hub.Subscribe(client, result.boundConversation)
	}

	go client.keepAlive()
	go client.writePump()
	go client.readPump(h)

	log.Printf("websocket: %s connected (agent=%v)", result.principal.Identifier, result.principal.IsAgent)
}

// handshake resolves the connection's principal under its own timeout so a
// hung credential check cannot wedge the accept loop.
func (h *Handler) handshake(r *http.Request) (handshakeResult, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.handshakeTimeout)
	defer cancel()

	type outcome struct {
		result handshakeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h.resolvePrincipal(r)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return handshakeResult{}, &handshakeError{
			status:  http.StatusRequestTimeout,
			code:    "handshake_timeout",
			message: "handshake did not complete in time",
		}
	case out := <-done:
		return out.result, out.err
	}
}

func (h *Handler) resolvePrincipal(r *http.Request) (handshakeResult, error) {
	token := bearerToken(r)
	if token != "" {
		identity, err := h.conversations.IdentityFromToken(token)
		if err != nil {
			var svcErr *conversation.Error
			if errors.As(err, &svcErr) && svcErr.Code == conversation.ErrorCodeTokenExpired {
				// Distinct from a plain rejection so the client refreshes
				// and retries instead of giving up.
				return handshakeResult{}, &handshakeError{
					status:  http.StatusUnauthorized,
					code:    "token_expired",
					message: "access token expired",
				}
			}
			return handshakeResult{}, &handshakeError{
				status:  http.StatusUnauthorized,
				code:    "unauthorized",
				message: "invalid access token",
			}
		}
		return handshakeResult{
			principal: Principal{
				Identifier: identity.AgentID,
				Email:      identity.Email,
				IsAgent:    true,
			},
		}, nil
	}

	if participantToken := r.URL.Query().Get("participant_token"); participantToken != "" {
		access, err := h.conversations.ValidateParticipantAccess(participantToken)
		if err != nil {
			return handshakeResult{}, &handshakeError{
				status:  http.StatusUnauthorized,
				code:    "unauthorized",
				message: "invalid participant token",
			}
		}
		return handshakeResult{
			principal:         Principal{Identifier: access.Participant},
			boundConversation: access.ConversationID,
		}, nil
	}

	// Anonymous customers are permitted and identified by a caller-supplied
	// session id; anonymous agent connections are not a thing.
	if session := strings.TrimSpace(r.URL.Query().Get("session")); session != "" {
		return handshakeResult{
			principal: Principal{Identifier: session},
		}, nil
	}

	return handshakeResult{}, &handshakeError{
		status:  http.StatusUnauthorized,
		code:    "unauthorized",
		message: "missing credentials",
	}
}

func bearerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (h *Handler) handleCommand(cl *Client, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "validation_error", Message: "malformed command"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeout)
	defer cancel()

	switch cmd.Action {
	case ActionSendMessage:
		h.handleSendMessage(ctx, cl, cmd)
	case ActionSubscribe:
		h.handleSubscribe(ctx, cl, cmd)
	case ActionClose:
		h.handleClose(ctx, cl, cmd)
	case ActionAssign:
		h.handleAssign(ctx, cl, cmd)
	case ActionMarkRead:
		h.handleMarkRead(ctx, cl, cmd)
	case ActionWait:
		h.handleWait(ctx, cl, cmd)
	default:
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "validation_error", Message: "unknown action"})
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, cl *Client, cmd Command) {
	principal := cl.Principal()
	conversationID := strings.TrimSpace(cmd.ConversationID)

	if conversationID == "" && !principal.IsAgent {
		// A customer without an explicit target talks in their active
		// conversation, opening a fresh one when none exists.
		active, ok, err := h.conversations.FindActiveConversation(ctx, principal.Identifier)
		if err != nil {
			cl.sendFrame(errorFrame(err))
			return
		}
		if ok {
			conversationID = active.ConversationID
		} else {
			created, err := h.conversations.CreateConversation(ctx, principal.Identifier, model.ConversationKindLiveChat)
			if err != nil {
				cl.sendFrame(errorFrame(err))
				return
			}
			conversationID = created.Conversation.ConversationID
		}
	}

	result, err := h.conversations.SendMessage(ctx, conversation.SendMessageParams{
		ConversationID: conversationID,
		Sender:         principal.Identifier,
		FromAgent:      principal.IsAgent,
		Body:           cmd.Body,
	})
	if err != nil {
		cl.sendFrame(errorFrame(err))
		return
	}

	h.hub.Subscribe(cl, result.Conversation.ConversationID)
	cl.sendFrame(AckFrame{Type: frameAck, Action: ActionSendMessage, ConversationID: result.Conversation.ConversationID})
}

func (h *Handler) handleSubscribe(ctx context.Context, cl *Client, cmd Command) {
	principal := cl.Principal()
	conversationID := strings.TrimSpace(cmd.ConversationID)
	if conversationID == "" {
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "validation_error", Message: "conversationId is required"})
		return
	}

	item, err := h.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		cl.sendFrame(errorFrame(err))
		return
	}
	if !principal.IsAgent && item.Participant != principal.Identifier {
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "unauthorized", Message: "not your conversation"})
		return
	}

	h.hub.Subscribe(cl, conversationID)
	cl.sendFrame(AckFrame{Type: frameAck, Action: ActionSubscribe, ConversationID: conversationID})
}

func (h *Handler) handleClose(ctx context.Context, cl *Client, cmd Command) {
	if !cl.Principal().IsAgent {
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "unauthorized", Message: "agents only"})
		return
	}

	result, err := h.conversations.CloseConversation(ctx, cmd.ConversationID)
	if err != nil {
		cl.sendFrame(errorFrame(err))
		return
	}
	cl.sendFrame(AckFrame{Type: frameAck, Action: ActionClose, ConversationID: result.Conversation.ConversationID})
}

func (h *Handler) handleAssign(ctx context.Context, cl *Client, cmd Command) {
	principal := cl.Principal()
	if !principal.IsAgent {
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "unauthorized", Message: "agents only"})
		return
	}

	agentID := strings.TrimSpace(cmd.AgentID)
	if agentID == "" {
		agentID = principal.Identifier
	}

	item, err := h.conversations.AssignAgent(ctx, cmd.ConversationID, agentID)
	if err != nil {
		cl.sendFrame(errorFrame(err))
		return
	}
	cl.sendFrame(AckFrame{Type: frameAck, Action: ActionAssign, ConversationID: item.ConversationID})
}

func (h *Handler) handleMarkRead(ctx context.Context, cl *Client, cmd Command) {
	principal := cl.Principal()
	conversationID := strings.TrimSpace(cmd.ConversationID)

	if !principal.IsAgent {
		item, err := h.conversations.GetConversation(ctx, conversationID)
		if err != nil {
			cl.sendFrame(errorFrame(err))
			return
		}
		if item.Participant != principal.Identifier {
			cl.sendFrame(ErrorFrame{Type: frameError, Code: "unauthorized", Message: "not your conversation"})
			return
		}
	}

	if err := h.conversations.MarkRead(ctx, conversationID, principal.IsAgent); err != nil {
		cl.sendFrame(errorFrame(err))
		return
	}
	cl.sendFrame(AckFrame{Type: frameAck, Action: ActionMarkRead, ConversationID: conversationID})
}

func (h *Handler) handleWait(ctx context.Context, cl *Client, cmd Command) {
	if !cl.Principal().IsAgent {
		cl.sendFrame(ErrorFrame{Type: frameError, Code: "unauthorized", Message: "agents only"})
		return
	}

	item, err := h.conversations.MarkWaiting(ctx, cmd.ConversationID)
	if err != nil {
		cl.sendFrame(errorFrame(err))
		return
	}
	cl.sendFrame(AckFrame{Type: frameAck, Action: ActionWait, ConversationID: item.ConversationID})
}

// RunFanout holds the instance's long-lived subscriptions to the shared
// event channels and forwards incoming events to locally bound
// connections. It returns when ctx is cancelled.
func (h *Handler) RunFanout(ctx context.Context, broadcaster broadcast.Broadcaster) error {
	conversationEvents, err := broadcaster.Subscribe(ctx, broadcast.ConversationPattern)
	if err != nil {
		return err
	}
	agentEvents, err := broadcaster.Subscribe(ctx, broadcast.AgentChannel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-conversationEvents:
			if !ok {
				return nil
			}
			h.hub.ForwardConversation(event.ConversationID, event)
		case event, ok := <-agentEvents:
			if !ok {
				return nil
			}
			h.hub.ForwardAgents(event)
		}
	}
}

func errorFrame(err error) ErrorFrame {
	var svcErr *conversation.Error
	if errors.As(err, &svcErr) {
		return ErrorFrame{Type: frameError, Code: string(svcErr.Code), Message: svcErr.Message}
	}
	return ErrorFrame{Type: frameError, Code: "internal_error", Message: "something went wrong"}
}
