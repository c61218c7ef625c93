package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"support-desk-backend/internal/broadcast"
	"support-desk-backend/internal/model"
	"support-desk-backend/internal/notify"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryRepository struct {
	mu              sync.Mutex
	conversations   map[string]model.ConversationItem
	messages        map[string][]model.MessageItem
	agents          map[string]model.AgentItem
	findActiveCalls int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		conversations: make(map[string]model.ConversationItem),
		messages:      make(map[string][]model.MessageItem),
		agents:        make(map[string]model.AgentItem),
	}
}

func (r *memoryRepository) addAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentID] = model.AgentItem{AgentID: agentID, Email: agentID + "@support.test"}
}

func (r *memoryRepository) CreateConversation(_ context.Context, conversation model.ConversationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ConversationID] = conversation
	return nil
}

func (r *memoryRepository) GetConversation(_ context.Context, conversationID string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	return conversation, nil
}

func (r *memoryRepository) UpdateConversationActivity(_ context.Context, conversationID, lastActivityAt string, status *model.ConversationStatus, assignedAgent *string, clearClosedAt bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conversation.LastActivityAt = lastActivityAt
	if status != nil {
		conversation.Status = *status
	}
	if assignedAgent != nil {
		conversation.AssignedAgent = *assignedAgent
	}
	if clearClosedAt {
		conversation.ClosedAt = ""
	}
	r.conversations[conversationID] = conversation
	return nil
}

func (r *memoryRepository) CloseConversation(_ context.Context, conversationID, closedAt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conversation.Status = model.ConversationStatusClosed
	conversation.ClosedAt = closedAt
	r.conversations[conversationID] = conversation
	return nil
}

func (r *memoryRepository) FindActiveConversation(_ context.Context, participant string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findActiveCalls++

	var found model.ConversationItem
	ok := false
	for _, conversation := range r.conversations {
		if conversation.Participant != participant || conversation.Closed() {
			continue
		}
		if !ok || conversation.CreatedAt > found.CreatedAt {
			found = conversation
			ok = true
		}
	}
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	return found, nil
}

func (r *memoryRepository) ListActive(_ context.Context, kind model.ConversationKind, limit int) ([]model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ConversationItem
	for _, conversation := range r.conversations {
		if conversation.Closed() {
			continue
		}
		if kind != "" && conversation.Kind != kind {
			continue
		}
		out = append(out, conversation)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepository) FindIdleSince(_ context.Context, kind model.ConversationKind, cutoff time.Time) ([]model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ConversationItem
	for _, conversation := range r.conversations {
		if conversation.Closed() || conversation.Kind != kind {
			continue
		}
		last, err := time.Parse(time.RFC3339Nano, conversation.LastActivityAt)
		if err != nil {
			continue
		}
		if last.Before(cutoff) {
			out = append(out, conversation)
		}
	}
	return out, nil
}

func (r *memoryRepository) PurgeConversation(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, conversationID)
	delete(r.messages, conversationID)
	return nil
}

func (r *memoryRepository) CreateMessage(_ context.Context, message model.MessageItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[message.ConversationID]; !ok {
		return ErrNotFound
	}
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], message)
	return nil
}

func (r *memoryRepository) ListMessages(_ context.Context, conversationID string, limit int) ([]model.MessageItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := append([]model.MessageItem(nil), r.messages[conversationID]...)
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].MessageID < messages[j].MessageID
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *memoryRepository) CountUnread(_ context.Context, conversationID string, fromAgentPerspective bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, message := range r.messages[conversationID] {
		if message.Read || message.SenderType == model.SenderTypeSystem {
			continue
		}
		if fromAgentPerspective && message.SenderType == model.SenderTypeCustomer {
			count++
		}
		if !fromAgentPerspective && message.SenderType == model.SenderTypeAgent {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepository) MarkMessagesRead(_ context.Context, conversationID string, byAgent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := r.messages[conversationID]
	for i := range messages {
		if byAgent && messages[i].SenderType == model.SenderTypeCustomer {
			messages[i].Read = true
		}
		if !byAgent && messages[i].SenderType == model.SenderTypeAgent {
			messages[i].Read = true
		}
	}
	return nil
}

func (r *memoryRepository) GetAgent(_ context.Context, agentID string) (model.AgentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return model.AgentItem{}, ErrNotFound
	}
	return agent, nil
}

type testHarness struct {
	service     *Service
	repo        *memoryRepository
	broadcaster *broadcast.MemoryBroadcaster
	clock       *fakeClock
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	SetParticipantTokenSecret([]byte("test-participant-secret"))

	repo := newMemoryRepository()
	repo.addAgent("a1")
	broadcaster := broadcast.NewMemoryBroadcaster()
	clock := newFakeClock()

	service := NewWithRepository(repo, notify.NewDispatcher(broadcaster, nil), clock.Now)
	return &testHarness{
		service:     service,
		repo:        repo,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

func (h *testHarness) subscribe(t *testing.T, patterns ...string) <-chan broadcast.Event {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events, err := h.broadcaster.Subscribe(ctx, patterns...)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return events
}

func drainEvents(events <-chan broadcast.Event) []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case event := <-events:
			out = append(out, event)
		default:
			return out
		}
	}
}

func serviceError(t *testing.T, err error) *Error {
	t.Helper()
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	return svcErr
}

func TestCreateConversationLiveChatWelcome(t *testing.T) {
	h := newTestHarness(t)
	agentEvents := h.subscribe(t, broadcast.AgentChannel)

	result, err := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if result.Conversation.Status != model.ConversationStatusOpen {
		t.Errorf("expected status open, got %s", result.Conversation.Status)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected one welcome message, got %d", len(result.Messages))
	}
	if result.Messages[0].SenderType != model.SenderTypeSystem {
		t.Errorf("expected system welcome, got sender type %s", result.Messages[0].SenderType)
	}
	if result.ParticipantToken == "" {
		t.Fatal("expected a participant token")
	}

	access, err := h.service.ValidateParticipantAccess(result.ParticipantToken)
	if err != nil {
		t.Fatalf("validate participant token: %v", err)
	}
	if access.Participant != "u1" || access.ConversationID != result.Conversation.ConversationID {
		t.Errorf("token claims mismatch: %+v", access)
	}

	events := drainEvents(agentEvents)
	if len(events) != 1 {
		t.Fatalf("expected one agent channel event, got %d", len(events))
	}
	if events[0].Type != broadcast.EventNewConversation {
		t.Errorf("expected new_conversation event, got %s", events[0].Type)
	}
}

func TestCreateConversationAsyncTicket(t *testing.T) {
	h := newTestHarness(t)
	agentEvents := h.subscribe(t, broadcast.AgentChannel)

	result, err := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindAsyncTicket)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if len(result.Messages) != 0 {
		t.Errorf("async tickets get no welcome message, got %d", len(result.Messages))
	}

	events := drainEvents(agentEvents)
	if len(events) != 1 || events[0].Type != broadcast.EventNewTicket {
		t.Fatalf("expected one new_ticket event, got %+v", events)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.service.CreateConversation(context.Background(), "  ", model.ConversationKindLiveChat)
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeValidation {
		t.Errorf("expected validation_error, got %s", svcErr.Code)
	}

	_, err = h.service.CreateConversation(context.Background(), "u1", model.ConversationKind("carrier_pigeon"))
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeValidation {
		t.Errorf("expected validation_error, got %s", svcErr.Code)
	}
}

func TestSendMessageAgentMovesOpenToInProgress(t *testing.T) {
	h := newTestHarness(t)

	created, err := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	result, err := h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: created.Conversation.ConversationID,
		Sender:         "a1",
		FromAgent:      true,
		Body:           "hello",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if result.Conversation.Status != model.ConversationStatusInProgress {
		t.Errorf("expected in_progress, got %s", result.Conversation.Status)
	}
	if result.Conversation.LastActivityAt <= created.Conversation.LastActivityAt {
		t.Error("expected lastActivityAt to advance")
	}
}

func TestSendMessageCustomerWaitingToInProgress(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	waiting := model.ConversationStatusWaiting
	if err := h.repo.UpdateConversationActivity(context.Background(), id, created.Conversation.LastActivityAt, &waiting, nil, false); err != nil {
		t.Fatalf("seed waiting status: %v", err)
	}

	result, err := h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: id,
		Sender:         "u1",
		Body:           "still there?",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if result.Conversation.Status != model.ConversationStatusInProgress {
		t.Errorf("expected in_progress, got %s", result.Conversation.Status)
	}
}

func TestSendMessageCustomerClosedRejected(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID
	if _, err := h.service.CloseConversation(context.Background(), id); err != nil {
		t.Fatalf("close conversation: %v", err)
	}

	before, _ := h.repo.ListMessages(context.Background(), id, 100)

	_, err := h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: id,
		Sender:         "u1",
		Body:           "hello again",
	})
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeClosed {
		t.Fatalf("expected conversation_closed, got %s", svcErr.Code)
	}

	after, _ := h.repo.ListMessages(context.Background(), id, 100)
	if len(after) != len(before) {
		t.Errorf("rejected message must not be stored: %d -> %d", len(before), len(after))
	}
}

func TestSendMessageAgentReopensClosed(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID
	if _, err := h.service.CloseConversation(context.Background(), id); err != nil {
		t.Fatalf("close conversation: %v", err)
	}

	result, err := h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: id,
		Sender:         "a1",
		FromAgent:      true,
		Body:           "following up on your issue",
	})
	if err != nil {
		t.Fatalf("agent reopen: %v", err)
	}

	if result.Conversation.Status == model.ConversationStatusClosed {
		t.Errorf("conversation must not remain closed after agent message")
	}
	if result.Conversation.ClosedAt != "" {
		t.Errorf("closedAt must be cleared on reopen, got %q", result.Conversation.ClosedAt)
	}

	stored, _ := h.repo.GetConversation(context.Background(), id)
	if stored.ClosedAt != "" || stored.Closed() {
		t.Errorf("stored conversation still closed: %+v", stored)
	}
}

func TestSendMessageValidation(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	_, err := h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: id,
		Sender:         "u1",
		Body:           "   ",
	})
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeValidation {
		t.Errorf("expected validation_error for empty body, got %s", svcErr.Code)
	}

	_, err = h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: "missing",
		Sender:         "u1",
		Body:           "hi",
	})
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeNotFound {
		t.Errorf("expected not_found, got %s", svcErr.Code)
	}

	_, err = h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: id,
		Sender:         "ghost",
		FromAgent:      true,
		Body:           "hi",
	})
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeUnauthorized {
		t.Errorf("expected unauthorized for unknown agent, got %s", svcErr.Code)
	}
}

func TestCloseConversationIdempotent(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	events := h.subscribe(t, broadcast.ConversationChannel(id))

	first, err := h.service.CloseConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("first close: %v", err)
	}
	if first.AlreadyClosed {
		t.Error("first close reported already closed")
	}
	if first.Conversation.Status != model.ConversationStatusClosed || first.Conversation.ClosedAt == "" {
		t.Errorf("close did not finalize conversation: %+v", first.Conversation)
	}

	second, err := h.service.CloseConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !second.AlreadyClosed {
		t.Error("second close should report already closed")
	}

	ended := 0
	for _, event := range drainEvents(events) {
		if event.Type == broadcast.EventSessionEnded {
			ended++
		}
	}
	if ended != 1 {
		t.Errorf("expected exactly one session_ended event, got %d", ended)
	}
}

func TestAssignAgent(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	conversation, err := h.service.AssignAgent(context.Background(), id, "a1")
	if err != nil {
		t.Fatalf("assign agent: %v", err)
	}
	if conversation.AssignedAgent != "a1" {
		t.Errorf("expected assignedAgent a1, got %q", conversation.AssignedAgent)
	}
	if conversation.Status != model.ConversationStatusInProgress {
		t.Errorf("assigning an open conversation should move it to in_progress, got %s", conversation.Status)
	}

	_, err = h.service.AssignAgent(context.Background(), id, "ghost")
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeNotFound {
		t.Errorf("expected not_found for unknown agent, got %s", svcErr.Code)
	}

	if _, err := h.service.CloseConversation(context.Background(), id); err != nil {
		t.Fatalf("close conversation: %v", err)
	}
	_, err = h.service.AssignAgent(context.Background(), id, "a1")
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeClosed {
		t.Errorf("expected conversation_closed, got %s", svcErr.Code)
	}
}

func TestMarkWaiting(t *testing.T) {
	h := newTestHarness(t)

	created, _ := h.service.CreateConversation(context.Background(), "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	_, err := h.service.MarkWaiting(context.Background(), id)
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeValidation {
		t.Errorf("open conversations cannot wait on the customer, got %s", svcErr.Code)
	}

	if _, err := h.service.SendMessage(context.Background(), SendMessageParams{
		ConversationID: id,
		Sender:         "a1",
		FromAgent:      true,
		Body:           "looking into it",
	}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	conversation, err := h.service.MarkWaiting(context.Background(), id)
	if err != nil {
		t.Fatalf("mark waiting: %v", err)
	}
	if conversation.Status != model.ConversationStatusWaiting {
		t.Errorf("expected waiting_for_customer, got %s", conversation.Status)
	}
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	// The system welcome never counts toward unread on either side.
	unread, err := h.service.CountUnread(ctx, id, false)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if unread != 0 {
		t.Errorf("welcome message counted as unread: %d", unread)
	}

	h.service.SendMessage(ctx, SendMessageParams{ConversationID: id, Sender: "a1", FromAgent: true, Body: "hello"})
	h.service.SendMessage(ctx, SendMessageParams{ConversationID: id, Sender: "a1", FromAgent: true, Body: "anyone there?"})
	h.service.SendMessage(ctx, SendMessageParams{ConversationID: id, Sender: "u1", Body: "yes"})

	customerUnread, _ := h.service.CountUnread(ctx, id, false)
	if customerUnread != 2 {
		t.Errorf("expected 2 unread agent messages, got %d", customerUnread)
	}
	agentUnread, _ := h.service.CountUnread(ctx, id, true)
	if agentUnread != 1 {
		t.Errorf("expected 1 unread customer message, got %d", agentUnread)
	}

	if err := h.service.MarkRead(ctx, id, false); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	customerUnread, _ = h.service.CountUnread(ctx, id, false)
	if customerUnread != 0 {
		t.Errorf("mark read did not reset customer unread: %d", customerUnread)
	}
	agentUnread, _ = h.service.CountUnread(ctx, id, true)
	if agentUnread != 1 {
		t.Errorf("customer mark read must not touch the agent perspective: %d", agentUnread)
	}
}

func TestMessageOrderingTieBreak(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindAsyncTicket)
	id := created.Conversation.ConversationID

	ts := "2025-06-01T12:00:00.5Z"
	for _, messageID := range []string{"m-c", "m-a", "m-b"} {
		message := model.MessageItem{
			ConversationID: id,
			MessageID:      messageID,
			Sender:         "u1",
			SenderType:     model.SenderTypeCustomer,
			Body:           "same instant",
			CreatedAt:      ts,
		}
		message.PK = model.MessagePK(id, messageID)
		if err := h.repo.CreateMessage(ctx, message); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	_, messages, err := h.service.ListMessages(ctx, id, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	var got []string
	for _, m := range messages {
		got = append(got, m.MessageID)
	}
	want := []string{"m-a", "m-b", "m-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie-break order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestFindActiveConversationReadThroughCache(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindLiveChat)

	for i := 0; i < 3; i++ {
		conversation, ok, err := h.service.FindActiveConversation(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("find active conversation: ok=%v err=%v", ok, err)
		}
		if conversation.ConversationID != created.Conversation.ConversationID {
			t.Fatalf("unexpected conversation %s", conversation.ConversationID)
		}
	}
	if h.repo.findActiveCalls != 1 {
		t.Errorf("expected one store lookup through the cache, got %d", h.repo.findActiveCalls)
	}

	if _, err := h.service.CloseConversation(ctx, created.Conversation.ConversationID); err != nil {
		t.Fatalf("close conversation: %v", err)
	}

	_, ok, err := h.service.FindActiveConversation(ctx, "u1")
	if err != nil {
		t.Fatalf("find after close: %v", err)
	}
	if ok {
		t.Error("closed conversation must not be served from the cache")
	}
}

func TestParticipantTokenMismatch(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindLiveChat)
	second, _ := h.service.CreateConversation(ctx, "u2", model.ConversationKindLiveChat)

	_, _, err := h.service.ListCustomerMessages(ctx, first.ParticipantToken, second.Conversation.ConversationID, 10)
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeUnauthorized {
		t.Errorf("expected unauthorized for cross-conversation token, got %s", svcErr.Code)
	}

	_, messages, err := h.service.ListCustomerMessages(ctx, first.ParticipantToken, "", 10)
	if err != nil {
		t.Fatalf("list own messages: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("expected the welcome message, got %d messages", len(messages))
	}
}

func TestFanoutIsolation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	a, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindLiveChat)
	b, _ := h.service.CreateConversation(ctx, "u2", model.ConversationKindLiveChat)

	onlyB := h.subscribe(t, broadcast.ConversationChannel(b.Conversation.ConversationID))

	if _, err := h.service.SendMessage(ctx, SendMessageParams{
		ConversationID: a.Conversation.ConversationID,
		Sender:         "a1",
		FromAgent:      true,
		Body:           "for conversation A only",
	}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	if events := drainEvents(onlyB); len(events) != 0 {
		t.Errorf("subscriber bound to B received events for A: %+v", events)
	}
}

func TestEndToEndLiveChat(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created, err := h.service.CreateConversation(ctx, "u1", model.ConversationKindLiveChat)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	id := created.Conversation.ConversationID
	if created.Conversation.Status != model.ConversationStatusOpen {
		t.Fatalf("expected open, got %s", created.Conversation.Status)
	}
	if len(created.Messages) != 1 || created.Messages[0].SenderType != model.SenderTypeSystem {
		t.Fatalf("expected one system welcome message, got %+v", created.Messages)
	}

	customerEvents := h.subscribe(t, broadcast.ConversationChannel(id))

	hello, err := h.service.SendMessage(ctx, SendMessageParams{
		ConversationID: id,
		Sender:         "a1",
		FromAgent:      true,
		Body:           "hello",
	})
	if err != nil {
		t.Fatalf("agent hello: %v", err)
	}
	if hello.Conversation.Status != model.ConversationStatusInProgress {
		t.Fatalf("expected in_progress, got %s", hello.Conversation.Status)
	}
	_, messages, _ := h.service.ListMessages(ctx, id, 100)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	customerUnread, _ := h.service.CountUnread(ctx, id, false)
	if customerUnread != 1 {
		t.Fatalf("expected customer unread 1, got %d", customerUnread)
	}

	thanks, err := h.service.SendMessage(ctx, SendMessageParams{
		ConversationID: id,
		Sender:         "u1",
		Body:           "thanks",
	})
	if err != nil {
		t.Fatalf("customer thanks: %v", err)
	}
	if thanks.Conversation.Status != model.ConversationStatusInProgress {
		t.Fatalf("status must stay in_progress, got %s", thanks.Conversation.Status)
	}
	agentUnread, _ := h.service.CountUnread(ctx, id, true)
	if agentUnread != 1 {
		t.Fatalf("expected agent unread 1, got %d", agentUnread)
	}

	closed, err := h.service.CloseConversation(ctx, id)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Conversation.Status != model.ConversationStatusClosed || closed.Conversation.ClosedAt == "" {
		t.Fatalf("close did not finalize: %+v", closed.Conversation)
	}

	sessionEnded := false
	for _, event := range drainEvents(customerEvents) {
		if event.Type == broadcast.EventSessionEnded {
			sessionEnded = true
		}
	}
	if !sessionEnded {
		t.Fatal("customer subscriber never observed session_ended")
	}

	_, err = h.service.SendMessage(ctx, SendMessageParams{
		ConversationID: id,
		Sender:         "u1",
		Body:           "one more thing",
	})
	if svcErr := serviceError(t, err); svcErr.Code != ErrorCodeClosed {
		t.Fatalf("expected conversation_closed, got %s", svcErr.Code)
	}

	_, messages, _ = h.service.ListMessages(ctx, id, 100)
	if len(messages) != 3 {
		t.Fatalf("message count must stay at 3, got %d", len(messages))
	}
}

func TestMessageEventCarriesRecipientUnread(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindLiveChat)
	id := created.Conversation.ConversationID

	events := h.subscribe(t, broadcast.ConversationChannel(id))

	if _, err := h.service.SendMessage(ctx, SendMessageParams{
		ConversationID: id,
		Sender:         "a1",
		FromAgent:      true,
		Body:           "hello",
	}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	got := drainEvents(events)
	if len(got) != 1 {
		t.Fatalf("expected one message event, got %d", len(got))
	}
	if got[0].Type != broadcast.EventMessage {
		t.Fatalf("expected message event, got %s", got[0].Type)
	}
	if got[0].Unread != 1 {
		t.Errorf("expected recipient unread 1 in payload, got %d", got[0].Unread)
	}
	if got[0].Message == nil || got[0].Message.Body != "hello" {
		t.Errorf("event missing message payload: %+v", got[0])
	}
}

func TestTicketReplyAlertOnAgentChannel(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created, _ := h.service.CreateConversation(ctx, "u1", model.ConversationKindAsyncTicket)
	id := created.Conversation.ConversationID

	agentEvents := h.subscribe(t, broadcast.AgentChannel)

	if _, err := h.service.SendMessage(ctx, SendMessageParams{
		ConversationID: id,
		Sender:         "u1",
		Body:           "any update?",
	}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	got := drainEvents(agentEvents)
	if len(got) != 1 || got[0].Type != broadcast.EventTicketReply {
		t.Fatalf("expected a ticket_reply alert, got %+v", got)
	}
}
