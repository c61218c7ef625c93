package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("conversation repository: not found")

// Repository is the durable boundary for conversations and their messages.
// Every call is a single atomic unit; per-conversation write ordering is
// delegated to the store.
type Repository interface {
	CreateConversation(ctx context.Context, conversation model.ConversationItem) error
	GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error)
	UpdateConversationActivity(ctx context.Context, conversationID, lastActivityAt string, status *model.ConversationStatus, assignedAgent *string, clearClosedAt bool) error
	CloseConversation(ctx context.Context, conversationID, closedAt string) error
	FindActiveConversation(ctx context.Context, participant string) (model.ConversationItem, error)
	ListActive(ctx context.Context, kind model.ConversationKind, limit int) ([]model.ConversationItem, error)
	FindIdleSince(ctx context.Context, kind model.ConversationKind, cutoff time.Time) ([]model.ConversationItem, error)
	PurgeConversation(ctx context.Context, conversationID string) error

	CreateMessage(ctx context.Context, message model.MessageItem) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.MessageItem, error)
	CountUnread(ctx context.Context, conversationID string, fromAgentPerspective bool) (int, error)
	MarkMessagesRead(ctx context.Context, conversationID string, byAgent bool) error

	GetAgent(ctx context.Context, agentID string) (model.AgentItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) CreateConversation(ctx context.Context, conversation model.ConversationItem) error {
	return r.db.Client.PutItem(ctx, model.ConversationsTable, conversation)
}

func (r *DynamoRepository) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.GetItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		&conversation,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) UpdateConversationActivity(ctx context.Context, conversationID, lastActivityAt string, status *model.ConversationStatus, assignedAgent *string, clearClosedAt bool) error {
	updateExpr := "SET #lastActivityAt = :lastActivityAt"
	exprValues := map[string]types.AttributeValue{
		":lastActivityAt": &types.AttributeValueMemberS{Value: lastActivityAt},
	}
	attrNames := map[string]string{
		"#lastActivityAt": "lastActivityAt",
	}

	if status != nil {
		updateExpr += ", #status = :status"
		exprValues[":status"] = &types.AttributeValueMemberS{Value: string(*status)}
		attrNames["#status"] = "status"
	}
	if assignedAgent != nil {
		updateExpr += ", #assignedAgent = :assignedAgent"
		exprValues[":assignedAgent"] = &types.AttributeValueMemberS{Value: *assignedAgent}
		attrNames["#assignedAgent"] = "assignedAgent"
	}
	if clearClosedAt {
		updateExpr += " REMOVE #closedAt"
		attrNames["#closedAt"] = "closedAt"
	}

	return r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		updateExpr,
		exprValues,
		attrNames,
		nil,
	)
}

func (r *DynamoRepository) CloseConversation(ctx context.Context, conversationID, closedAt string) error {
	closed := string(model.ConversationStatusClosed)
	return r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		"SET #status = :status, #closedAt = :closedAt",
		map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: closed},
			":closedAt": &types.AttributeValueMemberS{Value: closedAt},
		},
		map[string]string{
			"#status":   "status",
			"#closedAt": "closedAt",
		},
		nil,
	)
}

func (r *DynamoRepository) FindActiveConversation(ctx context.Context, participant string) (model.ConversationItem, error) {
	items, err := r.db.Client.QueryAll(
		ctx,
		model.ConversationsTable,
		aws.String("byParticipant"),
		"participant = :participant",
		map[string]types.AttributeValue{
			":participant": &types.AttributeValueMemberS{Value: participant},
		},
	)
	if err != nil {
		return model.ConversationItem{}, err
	}

	var latest model.ConversationItem
	found := false
	for _, item := range items {
		var conversation model.ConversationItem
		if err := attributevalue.UnmarshalMap(item, &conversation); err != nil {
			return model.ConversationItem{}, err
		}
		if conversation.Closed() {
			continue
		}
		if !found || conversation.CreatedAt > latest.CreatedAt {
			latest = conversation
			found = true
		}
	}

	if !found {
		return model.ConversationItem{}, ErrNotFound
	}
	return latest, nil
}

func (r *DynamoRepository) ListActive(ctx context.Context, kind model.ConversationKind, limit int) ([]model.ConversationItem, error) {
	filterExpr := "#status <> :closed"
	exprValues := map[string]types.AttributeValue{
		":closed": &types.AttributeValueMemberS{Value: string(model.ConversationStatusClosed)},
	}
	attrNames := map[string]string{
		"#status": "status",
	}

	if kind != "" {
		filterExpr += " AND #kind = :kind"
		exprValues[":kind"] = &types.AttributeValueMemberS{Value: string(kind)}
		attrNames["#kind"] = "kind"
	}

	items, err := r.db.Client.ScanItems(ctx, model.ConversationsTable, filterExpr, exprValues, attrNames)
	if err != nil {
		return nil, err
	}

	conversations := make([]model.ConversationItem, 0, len(items))
	for _, item := range items {
		var conversation model.ConversationItem
		if err := attributevalue.UnmarshalMap(item, &conversation); err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt > conversations[j].LastActivityAt
	})

	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}

	return conversations, nil
}

func (r *DynamoRepository) FindIdleSince(ctx context.Context, kind model.ConversationKind, cutoff time.Time) ([]model.ConversationItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.ConversationsTable,
		"#kind = :kind AND #status <> :closed AND #lastActivityAt < :cutoff",
		map[string]types.AttributeValue{
			":kind":   &types.AttributeValueMemberS{Value: string(kind)},
			":closed": &types.AttributeValueMemberS{Value: string(model.ConversationStatusClosed)},
			":cutoff": &types.AttributeValueMemberS{Value: cutoff.UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#kind":           "kind",
			"#status":         "status",
			"#lastActivityAt": "lastActivityAt",
		},
	)
	if err != nil {
		return nil, err
	}

	conversations := make([]model.ConversationItem, 0, len(items))
	for _, item := range items {
		var conversation model.ConversationItem
		if err := attributevalue.UnmarshalMap(item, &conversation); err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

// PurgeConversation removes a conversation and all messages it owns.
func (r *DynamoRepository) PurgeConversation(ctx context.Context, conversationID string) error {
	messages, err := r.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(messages))
	for _, message := range messages {
		keys = append(keys, map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: message.PK},
		})
	}

	if err := r.db.Client.BatchDeleteItems(ctx, model.MessagesTable, keys); err != nil {
		return err
	}

	return r.db.Client.DeleteItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
	)
}

func (r *DynamoRepository) CreateMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message)
}

func (r *DynamoRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.MessageItem, error) {
	scanForward := true
	items, err := r.db.Client.QueryItems(
		ctx,
		model.MessagesTable,
		aws.String("byConversation"),
		"conversationId = :conversationId",
		map[string]types.AttributeValue{
			":conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		nil,
		&scanForward,
	)
	if err != nil {
		return nil, err
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	sortMessages(messages)

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

func (r *DynamoRepository) CountUnread(ctx context.Context, conversationID string, fromAgentPerspective bool) (int, error) {
	messages, err := r.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, message := range messages {
		if message.Read {
			continue
		}
		if countsAsUnread(message, fromAgentPerspective) {
			count++
		}
	}
	return count, nil
}

func (r *DynamoRepository) MarkMessagesRead(ctx context.Context, conversationID string, byAgent bool) error {
	messages, err := r.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if message.Read || !countsAsUnread(message, byAgent) {
			continue
		}
		err := r.db.Client.UpdateItem(
			ctx,
			model.MessagesTable,
			map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: message.PK},
			},
			"SET #read = :read",
			map[string]types.AttributeValue{
				":read": &types.AttributeValueMemberBOOL{Value: true},
			},
			map[string]string{
				"#read": "read",
			},
			nil,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *DynamoRepository) GetAgent(ctx context.Context, agentID string) (model.AgentItem, error) {
	var agent model.AgentItem
	err := r.db.Client.GetItem(
		ctx,
		model.AgentsTable,
		map[string]types.AttributeValue{
			"agentId": &types.AttributeValueMemberS{Value: agentID},
		},
		&agent,
	)
	if err != nil {
		if isNotFound(err) {
			return model.AgentItem{}, ErrNotFound
		}
		return model.AgentItem{}, err
	}
	return agent, nil
}

// countsAsUnread reports whether a message counts toward the unread badge of
// the given perspective. System messages never do.
func countsAsUnread(message model.MessageItem, fromAgentPerspective bool) bool {
	if fromAgentPerspective {
		return message.SenderType == model.SenderTypeCustomer
	}
	return message.SenderType == model.SenderTypeAgent
}

// sortMessages orders by (createdAt, messageId); the id comparison breaks
// ties between same-timestamp inserts.
func sortMessages(messages []model.MessageItem) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].MessageID < messages[j].MessageID
	})
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
