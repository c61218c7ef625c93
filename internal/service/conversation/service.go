package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/dto"
	internaljwt "support-desk-backend/internal/jwt"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/notify"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeTokenExpired ErrorCode = "token_expired"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeClosed       ErrorCode = "conversation_closed"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Identity is the resolved agent identity from a verified access token.
type Identity struct {
	AgentID string
	Email   string
}

// ParticipantAccess is the resolved customer identity from a signed
// participant token.
type ParticipantAccess struct {
	Participant    string
	ConversationID string
}

type SendMessageParams struct {
	ConversationID string
	Sender         string
	FromAgent      bool
	Body           string
}

type ConversationResult struct {
	Conversation     model.ConversationItem
	ParticipantToken string
	Messages         []model.MessageItem
}

type MessageResult struct {
	Conversation model.ConversationItem
	Message      model.MessageItem
	Unread       int
}

type CloseResult struct {
	Conversation  model.ConversationItem
	AlreadyClosed bool
}

const welcomeBody = "Welcome! An agent will be with you shortly."

// Service owns the conversation lifecycle: which transitions are legal,
// which messages are admissible, and what gets broadcast once a mutation is
// durably stored.
type Service struct {
	repo       Repository
	dispatcher *notify.Dispatcher
	active     *activeCache
	now        func() time.Time
}

func New(db *database.Database, dispatcher *notify.Dispatcher) *Service {
	return &Service{
		repo:       NewDynamoRepository(db),
		dispatcher: dispatcher,
		active:     newActiveCache(),
		now:        time.Now,
	}
}

func NewWithRepository(repo Repository, dispatcher *notify.Dispatcher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		active:     newActiveCache(),
		now:        now,
	}
}

// CreateConversation opens a new conversation in status open. live_chat
// conversations get a synthetic system welcome message that is appended and
// broadcast immediately; it never counts toward unread badges.
func (s *Service) CreateConversation(ctx context.Context, participant string, kind model.ConversationKind) (ConversationResult, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return ConversationResult{}, newError(ErrorCodeValidation, "participant is required", nil)
	}

	switch kind {
	case model.ConversationKindLiveChat, model.ConversationKindAsyncTicket:
	case "":
		kind = model.ConversationKindLiveChat
	default:
		return ConversationResult{}, newError(ErrorCodeValidation, "unknown conversation kind", nil)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	conversation := model.ConversationItem{
		ConversationID: uuid.NewString(),
		Participant:    participant,
		Kind:           kind,
		Status:         model.ConversationStatusOpen,
		CreatedAt:      nowStr,
		LastActivityAt: nowStr,
	}

	if err := s.repo.CreateConversation(ctx, conversation); err != nil {
		return ConversationResult{}, newError(ErrorCodeInternal, "failed to create conversation", err)
	}

	var messages []model.MessageItem
	if kind == model.ConversationKindLiveChat {
		welcome := model.MessageItem{
			ConversationID: conversation.ConversationID,
			MessageID:      uuid.NewString(),
			Sender:         "system",
			SenderType:     model.SenderTypeSystem,
			Body:           welcomeBody,
			CreatedAt:      nowStr,
		}
		welcome.PK = model.MessagePK(welcome.ConversationID, welcome.MessageID)
		if err := s.repo.CreateMessage(ctx, welcome); err != nil {
			return ConversationResult{}, newError(ErrorCodeInternal, "failed to store welcome message", err)
		}
		messages = append(messages, welcome)
	}

	token, err := signParticipantToken(participantTokenClaims{
		Participant:    participant,
		ConversationID: conversation.ConversationID,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(participantTokenTTL).Unix(),
	})
	if err != nil {
		return ConversationResult{}, newError(ErrorCodeInternal, "failed to issue participant token", err)
	}

	s.active.Invalidate(participant)

	if s.dispatcher != nil {
		var first *dto.MessageResponse
		if len(messages) > 0 {
			m := ToMessageResponse(messages[0])
			first = &m
		}
		s.dispatcher.ConversationCreated(ctx, ToConversationMetadata(conversation), first)
	}

	return ConversationResult{
		Conversation:     conversation,
		ParticipantToken: token,
		Messages:         messages,
	}, nil
}

// SendMessage validates and records one message, applying the lifecycle
// rules: agents move open conversations to in_progress and may resurrect
// closed ones; customers move waiting_for_customer back to in_progress and
// are rejected on closed conversations. All validation happens before any
// write.
func (s *Service) SendMessage(ctx context.Context, params SendMessageParams) (MessageResult, error) {
	conversationID := strings.TrimSpace(params.ConversationID)
	sender := strings.TrimSpace(params.Sender)
	body := strings.TrimSpace(params.Body)

	if conversationID == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}
	if sender == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "sender identity is required", nil)
	}
	if body == "" {
		return MessageResult{}, newError(ErrorCodeValidation, "message body is required", nil)
	}

	if params.FromAgent {
		if _, err := s.repo.GetAgent(ctx, sender); err != nil {
			if errors.Is(err, ErrNotFound) {
				return MessageResult{}, newError(ErrorCodeUnauthorized, "agent not found", err)
			}
			return MessageResult{}, newError(ErrorCodeInternal, "failed to verify agent", err)
		}
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MessageResult{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return MessageResult{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	var newStatus *model.ConversationStatus
	clearClosedAt := false

	if conversation.Closed() {
		if !params.FromAgent {
			return MessageResult{}, newError(ErrorCodeClosed, "this conversation is closed, start a new one", nil)
		}
		// Only agents resurrect a closed conversation.
		reopened := model.ConversationStatusOpen
		newStatus = &reopened
		clearClosedAt = true
	} else {
		switch {
		case params.FromAgent && conversation.Status == model.ConversationStatusOpen:
			inProgress := model.ConversationStatusInProgress
			newStatus = &inProgress
		case !params.FromAgent && conversation.Status == model.ConversationStatusWaiting:
			inProgress := model.ConversationStatusInProgress
			newStatus = &inProgress
		}
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	senderType := model.SenderTypeCustomer
	if params.FromAgent {
		senderType = model.SenderTypeAgent
	}

	message := model.MessageItem{
		ConversationID: conversation.ConversationID,
		MessageID:      uuid.NewString(),
		Sender:         sender,
		SenderType:     senderType,
		Body:           body,
		CreatedAt:      nowStr,
	}
	message.PK = model.MessagePK(message.ConversationID, message.MessageID)

	if err := s.repo.CreateMessage(ctx, message); err != nil {
		return MessageResult{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	if err := s.repo.UpdateConversationActivity(ctx, conversation.ConversationID, nowStr, newStatus, nil, clearClosedAt); err != nil {
		return MessageResult{}, newError(ErrorCodeInternal, "failed to update conversation", err)
	}

	if newStatus != nil {
		conversation.Status = *newStatus
	}
	if clearClosedAt {
		conversation.ClosedAt = ""
	}
	conversation.LastActivityAt = nowStr

	s.active.Invalidate(conversation.Participant)

	// Unread from the recipient's perspective; included in the broadcast so
	// dashboards can update badges without a read-path round trip.
	unread, err := s.repo.CountUnread(ctx, conversation.ConversationID, !params.FromAgent)
	if err != nil {
		unread = 0
	}

	if s.dispatcher != nil {
		m := ToMessageResponse(message)
		s.dispatcher.MessageAccepted(ctx, ToConversationMetadata(conversation), m, unread)
	}

	return MessageResult{
		Conversation: conversation,
		Message:      message,
		Unread:       unread,
	}, nil
}

// CloseConversation is idempotent: closing an already-closed conversation
// is a benign no-op and emits no second session_ended event.
func (s *Service) CloseConversation(ctx context.Context, conversationID string) (CloseResult, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return CloseResult{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CloseResult{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return CloseResult{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if conversation.Closed() {
		return CloseResult{Conversation: conversation, AlreadyClosed: true}, nil
	}

	nowStr := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.repo.CloseConversation(ctx, conversation.ConversationID, nowStr); err != nil {
		return CloseResult{}, newError(ErrorCodeInternal, "failed to close conversation", err)
	}

	conversation.Status = model.ConversationStatusClosed
	conversation.ClosedAt = nowStr

	s.active.Invalidate(conversation.Participant)

	if s.dispatcher != nil {
		s.dispatcher.SessionEnded(ctx, ToConversationMetadata(conversation))
	}

	return CloseResult{Conversation: conversation}, nil
}

// AssignAgent binds an agent to a conversation; assignment is only legal
// while the conversation is not closed. An open conversation moves to
// in_progress.
func (s *Service) AssignAgent(ctx context.Context, conversationID, agentID string) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	agentID = strings.TrimSpace(agentID)
	if conversationID == "" || agentID == "" {
		return model.ConversationItem{}, newError(ErrorCodeValidation, "conversationId and agentId are required", nil)
	}

	if _, err := s.repo.GetAgent(ctx, agentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "agent not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to verify agent", err)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if conversation.Closed() {
		return model.ConversationItem{}, newError(ErrorCodeClosed, "cannot assign a closed conversation", nil)
	}

	var newStatus *model.ConversationStatus
	if conversation.Status == model.ConversationStatusOpen {
		inProgress := model.ConversationStatusInProgress
		newStatus = &inProgress
	}

	if err := s.repo.UpdateConversationActivity(ctx, conversation.ConversationID, conversation.LastActivityAt, newStatus, &agentID, false); err != nil {
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to assign conversation", err)
	}

	if newStatus != nil {
		conversation.Status = *newStatus
	}
	conversation.AssignedAgent = agentID

	s.active.Invalidate(conversation.Participant)

	return conversation, nil
}

// MarkWaiting moves an in_progress conversation to waiting_for_customer.
// Agents use it to signal that the ball is in the customer's court.
func (s *Service) MarkWaiting(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return model.ConversationItem{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if conversation.Closed() {
		return model.ConversationItem{}, newError(ErrorCodeClosed, "conversation is closed", nil)
	}
	if conversation.Status != model.ConversationStatusInProgress {
		return model.ConversationItem{}, newError(ErrorCodeValidation, "only in_progress conversations can wait on the customer", nil)
	}

	waiting := model.ConversationStatusWaiting
	if err := s.repo.UpdateConversationActivity(ctx, conversation.ConversationID, conversation.LastActivityAt, &waiting, nil, false); err != nil {
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to update conversation", err)
	}

	conversation.Status = waiting
	s.active.Invalidate(conversation.Participant)

	return conversation, nil
}

// MarkRead flips the read flag on every message from the opposite side.
// This is a client-driven signal sent when a participant opens the
// conversation view.
func (s *Service) MarkRead(ctx context.Context, conversationID string, byAgent bool) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if err := s.repo.MarkMessagesRead(ctx, conversationID, byAgent); err != nil {
		return newError(ErrorCodeInternal, "failed to mark messages read", err)
	}
	return nil
}

func (s *Service) CountUnread(ctx context.Context, conversationID string, fromAgentPerspective bool) (int, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	count, err := s.repo.CountUnread(ctx, conversationID, fromAgentPerspective)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "failed to count unread messages", err)
	}
	return count, nil
}

// FindActiveConversation returns the most recently created non-closed
// conversation for a participant, going through the active cache.
func (s *Service) FindActiveConversation(ctx context.Context, participant string) (model.ConversationItem, bool, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return model.ConversationItem{}, false, newError(ErrorCodeValidation, "participant is required", nil)
	}

	if conversation, ok := s.active.Get(participant); ok {
		return conversation, true, nil
	}

	conversation, err := s.repo.FindActiveConversation(ctx, participant)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, false, nil
		}
		return model.ConversationItem{}, false, newError(ErrorCodeInternal, "failed to find active conversation", err)
	}

	s.active.Set(participant, conversation)
	return conversation, true, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return model.ConversationItem{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}
	return conversation, nil
}

func (s *Service) ListActive(ctx context.Context, kind model.ConversationKind, limit int) ([]model.ConversationItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	conversations, err := s.repo.ListActive(ctx, kind, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list conversations", err)
	}
	return conversations, nil
}

func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int) (model.ConversationItem, []model.MessageItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return model.ConversationItem{}, nil, newError(ErrorCodeValidation, "conversationId is required", nil)
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, nil, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.ConversationItem{}, nil, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	messages, err := s.repo.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return model.ConversationItem{}, nil, newError(ErrorCodeInternal, "failed to list messages", err)
	}

	return conversation, messages, nil
}

// ListCustomerMessages is the customer-facing history read; access is
// gated by the signed participant token.
func (s *Service) ListCustomerMessages(ctx context.Context, token, conversationID string, limit int) (model.ConversationItem, []model.MessageItem, error) {
	access, err := s.ValidateParticipantAccess(token)
	if err != nil {
		return model.ConversationItem{}, nil, err
	}

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = access.ConversationID
	}
	if access.ConversationID != conversationID {
		return model.ConversationItem{}, nil, newError(ErrorCodeUnauthorized, "token does not match conversation", nil)
	}

	return s.ListMessages(ctx, conversationID, limit)
}

func (s *Service) FindIdleConversations(ctx context.Context, kind model.ConversationKind, cutoff time.Time) ([]model.ConversationItem, error) {
	conversations, err := s.repo.FindIdleSince(ctx, kind, cutoff)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to find idle conversations", err)
	}
	return conversations, nil
}

// PurgeConversation deletes a conversation and, through ownership, every
// message it holds.
func (s *Service) PurgeConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if err := s.repo.PurgeConversation(ctx, conversationID); err != nil {
		return newError(ErrorCodeInternal, "failed to purge conversation", err)
	}

	s.active.Invalidate(conversation.Participant)
	return nil
}

func (s *Service) ValidateParticipantAccess(token string) (ParticipantAccess, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ParticipantAccess{}, newError(ErrorCodeUnauthorized, "participant token required", nil)
	}

	claims, err := verifyParticipantToken(token, s.now)
	if err != nil {
		return ParticipantAccess{}, newError(ErrorCodeUnauthorized, "invalid participant token", err)
	}

	return ParticipantAccess{
		Participant:    claims.Participant,
		ConversationID: claims.ConversationID,
	}, nil
}

func (s *Service) IdentityFromAuthorizationHeader(header string) (Identity, error) {
	authHeader := strings.TrimSpace(header)
	if authHeader == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "missing authorization header", nil)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid authorization header format", nil)
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return s.IdentityFromToken(token)
}

// IdentityFromToken verifies an agent access token. Expired tokens get a
// distinct code so the caller can refresh and retry instead of treating the
// failure as permanent.
func (s *Service) IdentityFromToken(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "empty token", nil)
	}

	claims, err := internaljwt.ParseToken(token, internaljwt.RoleAgent)
	if err != nil {
		if errors.Is(err, internaljwt.ErrTokenExpired) {
			return Identity{}, newError(ErrorCodeTokenExpired, "access token expired", err)
		}
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid token", err)
	}

	agentID, _ := claims["id"].(string)
	email, _ := claims["email"].(string)

	if agentID == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "token missing identifiers", nil)
	}

	return Identity{
		AgentID: agentID,
		Email:   email,
	}, nil
}

func ToConversationMetadata(item model.ConversationItem) dto.ConversationMetadata {
	return dto.ConversationMetadata{
		ConversationID: item.ConversationID,
		Participant:    item.Participant,
		Kind:           string(item.Kind),
		Status:         string(item.Status),
		AssignedAgent:  item.AssignedAgent,
		CreatedAt:      item.CreatedAt,
		LastActivityAt: item.LastActivityAt,
		ClosedAt:       item.ClosedAt,
	}
}

func ToMessageResponse(item model.MessageItem) dto.MessageResponse {
	return dto.MessageResponse{
		MessageID:      item.MessageID,
		ConversationID: item.ConversationID,
		Sender:         item.Sender,
		SenderType:     string(item.SenderType),
		Body:           item.Body,
		CreatedAt:      item.CreatedAt,
		Read:           item.Read,
	}
}
