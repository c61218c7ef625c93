package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"support-desk-backend/internal/dto"
	"support-desk-backend/internal/model"
	conversationservice "support-desk-backend/internal/service/conversation"
)

type ConversationEndpoints interface {
	PublicConversations(http.ResponseWriter, *http.Request) error
	PublicConversationActions(http.ResponseWriter, *http.Request) error
	Conversations(http.ResponseWriter, *http.Request) error
	ConversationActions(http.ResponseWriter, *http.Request) error
}

type ConversationPaths struct {
	PublicConversationsPath  string
	PublicConversationPrefix string
	AgentConversationsPath   string
	AgentConversationPrefix  string
}

type conversationEndpoints struct {
	service *conversationservice.Service
	paths   ConversationPaths
}

func NewConversationEndpoints(service *conversationservice.Service, paths ConversationPaths) ConversationEndpoints {
	return &conversationEndpoints{
		service: service,
		paths:   paths,
	}
}

func (h *conversationEndpoints) PublicConversations(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleCreateConversation,
	})
}

func (h *conversationEndpoints) PublicConversationActions(w http.ResponseWriter, r *http.Request) error {
	_, action, err := h.extractConversationAction(r.URL.Path, h.paths.PublicConversationPrefix)
	if err != nil {
		return err
	}

	switch action {
	case "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet:  h.handleListCustomerMessages,
			http.MethodPost: h.handlePostCustomerMessage,
		})
	default:
		return conversationNotFound(r.URL.Path)
	}
}

func (h *conversationEndpoints) Conversations(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleListConversations,
	})
}

func (h *conversationEndpoints) ConversationActions(w http.ResponseWriter, r *http.Request) error {
	_, action, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}

	switch action {
	case "":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodDelete: h.handlePurge,
		})
	case "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet:  h.handleListMessages,
			http.MethodPost: h.handlePostAgentMessage,
		})
	case "close":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: h.handleClose,
		})
	case "assign":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: h.handleAssign,
		})
	case "read":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: h.handleMarkRead,
		})
	case "wait":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: h.handleMarkWaiting,
		})
	case "unread":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: h.handleCountUnread,
		})
	default:
		return conversationNotFound(r.URL.Path)
	}
}

func (h *conversationEndpoints) handleCreateConversation(w http.ResponseWriter, r *http.Request) error {
	var req dto.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode create conversation request: %w", err),
		}
	}

	result, err := h.service.CreateConversation(r.Context(), req.Participant, model.ConversationKind(req.Kind))
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.CreateConversationResponse{
		Conversation:     conversationservice.ToConversationMetadata(result.Conversation),
		ParticipantToken: result.ParticipantToken,
		Messages:         make([]dto.MessageResponse, len(result.Messages)),
	}
	for i, msg := range result.Messages {
		resp.Messages[i] = conversationservice.ToMessageResponse(msg)
	}

	return WriteJSON(w, http.StatusCreated, resp)
}

func (h *conversationEndpoints) handlePostCustomerMessage(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.PublicConversationPrefix)
	if err != nil {
		return err
	}

	var req dto.PostCustomerMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode customer message request: %w", err),
		}
	}

	token := strings.TrimSpace(req.ParticipantToken)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Participant-Token"))
	}

	access, err := h.service.ValidateParticipantAccess(token)
	if err != nil {
		return h.serviceError(err)
	}
	if access.ConversationID != conversationID {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Token does not match conversation",
			ErrorLog:   fmt.Errorf("customer message path mismatch: %s vs %s", access.ConversationID, conversationID),
		}
	}

	result, err := h.service.SendMessage(r.Context(), conversationservice.SendMessageParams{
		ConversationID: conversationID,
		Sender:         access.Participant,
		Body:           req.Body,
	})
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, conversationservice.ToMessageResponse(result.Message))
}

func (h *conversationEndpoints) handleListCustomerMessages(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.PublicConversationPrefix)
	if err != nil {
		return err
	}

	token := strings.TrimSpace(r.URL.Query().Get("participantToken"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Participant-Token"))
	}

	conversation, messages, err := h.service.ListCustomerMessages(r.Context(), token, conversationID, 100)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toListMessagesResponse(conversation, messages))
}

func (h *conversationEndpoints) handleListConversations(w http.ResponseWriter, r *http.Request) error {
	if err := h.requireAgent(r); err != nil {
		return err
	}

	kind := model.ConversationKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	conversations, err := h.service.ListActive(r.Context(), kind, 50)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListConversationsResponse{Conversations: make([]dto.ConversationMetadata, len(conversations))}
	for i, conv := range conversations {
		resp.Conversations[i] = conversationservice.ToConversationMetadata(conv)
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h *conversationEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}
	if err := h.requireAgent(r); err != nil {
		return err
	}

	conversation, messages, err := h.service.ListMessages(r.Context(), conversationID, 100)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toListMessagesResponse(conversation, messages))
}

func (h *conversationEndpoints) handlePostAgentMessage(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}

	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	var req dto.PostAgentMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode agent message request: %w", err),
		}
	}

	result, err := h.service.SendMessage(r.Context(), conversationservice.SendMessageParams{
		ConversationID: conversationID,
		Sender:         identity.AgentID,
		FromAgent:      true,
		Body:           req.Body,
	})
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, conversationservice.ToMessageResponse(result.Message))
}

func (h *conversationEndpoints) handleClose(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}
	if err := h.requireAgent(r); err != nil {
		return err
	}

	result, err := h.service.CloseConversation(r.Context(), conversationID)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, conversationservice.ToConversationMetadata(result.Conversation))
}

func (h *conversationEndpoints) handleAssign(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}

	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	var req dto.AssignConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode assign request: %w", err),
		}
	}

	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = identity.AgentID
	}

	conversation, err := h.service.AssignAgent(r.Context(), conversationID, agentID)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, conversationservice.ToConversationMetadata(conversation))
}

func (h *conversationEndpoints) handleMarkRead(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}
	if err := h.requireAgent(r); err != nil {
		return err
	}

	if err := h.service.MarkRead(r.Context(), conversationID, true); err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "marked read"})
}

func (h *conversationEndpoints) handleMarkWaiting(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}
	if err := h.requireAgent(r); err != nil {
		return err
	}

	conversation, err := h.service.MarkWaiting(r.Context(), conversationID)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, conversationservice.ToConversationMetadata(conversation))
}

func (h *conversationEndpoints) handlePurge(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}
	if err := h.requireAgent(r); err != nil {
		return err
	}

	if err := h.service.PurgeConversation(r.Context(), conversationID); err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "conversation purged"})
}

func (h *conversationEndpoints) handleCountUnread(w http.ResponseWriter, r *http.Request) error {
	conversationID, _, err := h.extractConversationAction(r.URL.Path, h.paths.AgentConversationPrefix)
	if err != nil {
		return err
	}
	if err := h.requireAgent(r); err != nil {
		return err
	}

	unread, err := h.service.CountUnread(r.Context(), conversationID, true)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.UnreadCountResponse{
		ConversationID: conversationID,
		Unread:         unread,
	})
}

func (h *conversationEndpoints) requireAgent(r *http.Request) error {
	if _, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization")); err != nil {
		return h.serviceError(err)
	}
	return nil
}

func (h *conversationEndpoints) extractConversationAction(path, prefix string) (string, string, error) {
	if prefix == "" {
		return "", "", conversationNotFound(path)
	}
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == path {
		return "", "", conversationNotFound(path)
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
		return "", "", conversationNotFound(path)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

func conversationNotFound(path string) error {
	return &HTTPError{
		StatusCode: http.StatusNotFound,
		Message:    "Conversation not found",
		ErrorLog:   fmt.Errorf("invalid conversation path: %s", path),
	}
}

func toListMessagesResponse(conversation model.ConversationItem, messages []model.MessageItem) dto.ListMessagesResponse {
	resp := dto.ListMessagesResponse{
		Conversation: conversationservice.ToConversationMetadata(conversation),
		Messages:     make([]dto.MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		resp.Messages[i] = conversationservice.ToMessageResponse(msg)
	}
	return resp
}

func (h *conversationEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*conversationservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("conversation service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case conversationservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeUnauthorized, conversationservice.ErrorCodeTokenExpired:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeClosed:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
