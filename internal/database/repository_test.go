package repository

import (
	"SupportDesk/entity"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type store interface {
	UpsertCustomer(ctx context.Context, phone, name string) (*entity.CustomerRef, error)
	CreateConversation(ctx context.Context, conv *entity.Conversation) error
	GetConversation(ctx context.Context, id int64) (*entity.Conversation, error)
	OpenConversationFor(ctx context.Context, customerID int64) (*entity.Conversation, error)
	ListConversations(ctx context.Context, status entity.Status, limit, offset int) ([]entity.ConversationSummary, error)
	UpdateStatus(ctx context.Context, id int64, from []entity.Status, to entity.Status, operator string, at time.Time) (bool, error)
	InsertMessage(ctx context.Context, msg *entity.Message) error
	IdleConversations(ctx context.Context, before time.Time) ([]int64, error)
	EndIdle(ctx context.Context, id int64, before, at time.Time) (bool, error)
}

var (
	_ store = (*MongoDB)(nil)
	_ store = (*Memory)(nil)
)

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMongoDB(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	database := fmt.Sprintf("supportdesk_test_%d", time.Now().UnixNano())
	clientOptions := options.Client().ApplyURI(uri)
	t.Cleanup(func() {
		client, err := mongo.Connect(context.Background(), clientOptions)
		if err != nil {
			return
		}
		_ = client.Database(database).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	exerciseStore(t, newMongo(clientOptions, database, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func exerciseStore(t *testing.T, s store) {
	ctx := context.Background()
	// mongo keeps millisecond precision
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	customer, err := s.UpsertCustomer(ctx, "+50255550000", "Ana")
	require.NoError(t, err)
	again, err := s.UpsertCustomer(ctx, "+50255550000", "")
	require.NoError(t, err)
	assert.Equal(t, customer.ID, again.ID)
	assert.Equal(t, "Ana", again.Name)

	other, err := s.UpsertCustomer(ctx, "+50255551111", "Luis")
	require.NoError(t, err)
	assert.NotEqual(t, customer.ID, other.ID)

	none, err := s.OpenConversationFor(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	conv := &entity.Conversation{
		CustomerID:     customer.ID,
		Status:         entity.StatusBot,
		CreatedAt:      base,
		UpdatedAt:      base,
		LastActivityAt: base,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NotZero(t, conv.ID)

	open, err := s.OpenConversationFor(ctx, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, conv.ID, open.ID)

	for i, content := range []string{"hi", "need help", "anyone?"} {
		m := &entity.Message{
			ConversationID: conv.ID,
			Sender:         entity.SenderCustomer,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.InsertMessage(ctx, m))
		require.NotZero(t, m.ID)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+50255550000", got.Customer.PhoneNumber)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "anyone?", got.Messages[2].Content)
	assert.True(t, got.LastActivityAt.Equal(base.Add(2*time.Second)))

	gone, err := s.GetConversation(ctx, conv.ID+100)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// take control is a compare-and-set on bot
	ok, err := s.UpdateStatus(ctx, conv.ID, []entity.Status{entity.StatusBot}, entity.StatusHuman, "alice", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpdateStatus(ctx, conv.ID, []entity.Status{entity.StatusBot}, entity.StatusHuman, "bob", base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListConversations(ctx, entity.StatusHuman, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Operator)
	assert.Equal(t, "+50255550000", list[0].CustomerPhone)
	assert.Equal(t, "anyone?", list[0].LastMessage)
	require.NotNil(t, list[0].LastMessageTime)

	empty, err := s.ListConversations(ctx, entity.StatusBot, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	idle, err := s.IdleConversations(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{conv.ID}, idle)
	idle, err = s.IdleConversations(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, idle)

	// activity at or after the cutoff keeps it open
	ok, err = s.EndIdle(ctx, conv.ID, base.Add(2*time.Second), base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// a status stamped before the last message leaves updated_at where it was
	ok, err = s.UpdateStatus(ctx, conv.ID, []entity.Status{entity.StatusHuman}, entity.StatusHuman, "", base)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)), "updated_at %s", got.UpdatedAt)

	ok, err = s.UpdateStatus(ctx, conv.ID, []entity.Status{entity.StatusBot, entity.StatusHuman}, entity.StatusEnded, "", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusEnded, got.Status)
	assert.Equal(t, "alice", got.Operator)

	open, err = s.OpenConversationFor(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}
