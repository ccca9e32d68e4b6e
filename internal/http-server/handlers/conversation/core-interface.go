package conversation

import (
	"SupportDesk/entity"
	"context"
)

type Core interface {
	ListConversations(ctx context.Context, status entity.Status, limit, offset int) ([]entity.ConversationSummary, error)
	GetConversation(ctx context.Context, id int64) (*entity.Conversation, error)
	TakeControl(ctx context.Context, id int64, operator string) (*entity.StatusUpdate, error)
	SendOperatorMessage(ctx context.Context, id int64, operator, content string) (*entity.Message, error)
	Close(ctx context.Context, id int64) (*entity.StatusUpdate, error)
}
