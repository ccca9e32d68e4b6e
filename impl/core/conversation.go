package core

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var openStatuses = []entity.Status{entity.StatusBot, entity.StatusHuman}

func (c *Core) ListConversations(ctx context.Context, status entity.Status, limit, offset int) ([]entity.ConversationSummary, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return c.repo.ListConversations(ctx, status, limit, offset)
}

func (c *Core) GetConversation(ctx context.Context, id int64) (*entity.Conversation, error) {
	conv, err := c.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return conv, nil
}

// TakeControl hands a bot conversation to operator. Only one caller can win:
// the status change is a compare-and-set on bot.
func (c *Core) TakeControl(ctx context.Context, id int64, operator string) (*entity.StatusUpdate, error) {
	at := c.stamp()
	ok, err := c.repo.UpdateStatus(ctx, id, []entity.Status{entity.StatusBot}, entity.StatusHuman, operator, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		conv, err := c.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: conversation is %s", ErrConflict, conv.Status)
	}

	update := entity.StatusUpdate{ConversationID: id, Status: entity.StatusHuman, Operator: operator, UpdatedAt: at}
	c.broadcast(entity.NewStatusEvent(update))
	c.log.With(
		slog.Int64("conversation_id", id),
		slog.String("operator", operator),
	).Info("operator took control")
	return &update, nil
}

// Close ends a conversation. Closing an ended conversation succeeds and
// changes nothing.
func (c *Core) Close(ctx context.Context, id int64) (*entity.StatusUpdate, error) {
	at := c.stamp()
	ok, err := c.repo.UpdateStatus(ctx, id, openStatuses, entity.StatusEnded, "", at)
	if err != nil {
		return nil, err
	}
	if !ok {
		conv, err := c.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		return &entity.StatusUpdate{ConversationID: id, Status: conv.Status, Operator: conv.Operator, UpdatedAt: conv.UpdatedAt}, nil
	}

	update := entity.StatusUpdate{ConversationID: id, Status: entity.StatusEnded, UpdatedAt: at}
	c.broadcast(entity.NewStatusEvent(update))
	c.log.With(slog.Int64("conversation_id", id)).Info("conversation closed")
	return &update, nil
}

// SendOperatorMessage stores a reply from operator. The conversation must be
// human and held by operator.
func (c *Core) SendOperatorMessage(ctx context.Context, id int64, operator, content string) (*entity.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalid)
	}

	conv, err := c.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case conv.Status != entity.StatusHuman:
		return nil, fmt.Errorf("%w: conversation is %s", ErrConflict, conv.Status)
	case conv.Operator != "" && conv.Operator != operator:
		return nil, fmt.Errorf("%w: conversation is handled by %s", ErrConflict, conv.Operator)
	}

	msg := &entity.Message{
		ConversationID: id,
		Sender:         entity.SenderHuman,
		Content:        content,
		CreatedAt:      c.stamp(),
	}
	if err = c.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	c.broadcast(entity.NewMessageEvent(*msg))
	c.deliver(conv.Customer, *msg)
	return msg, nil
}

// ReceiveCustomerMessage records an inbound customer message in the
// customer's open conversation, starting one when there is none. While the
// bot handles the conversation a reply is generated in the background.
func (c *Core) ReceiveCustomerMessage(ctx context.Context, phone, name, content string) (*entity.Message, error) {
	content = strings.TrimSpace(content)
	phone = strings.TrimSpace(phone)
	if content == "" || phone == "" {
		return nil, fmt.Errorf("%w: phone and content are required", ErrInvalid)
	}

	customer, err := c.repo.UpsertCustomer(ctx, phone, name)
	if err != nil {
		return nil, err
	}

	conv, err := c.repo.OpenConversationFor(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		at := c.stamp()
		conv = &entity.Conversation{
			CustomerID:     customer.ID,
			Status:         entity.StatusBot,
			CreatedAt:      at,
			UpdatedAt:      at,
			LastActivityAt: at,
		}
		if err = c.repo.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		c.log.With(
			slog.Int64("conversation_id", conv.ID),
			slog.Int64("customer_id", customer.ID),
		).Info("conversation started")
	}

	msg := &entity.Message{
		ConversationID: conv.ID,
		Sender:         entity.SenderCustomer,
		Content:        content,
		CreatedAt:      c.stamp(),
	}
	if err = c.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	c.broadcast(entity.NewMessageEvent(*msg))

	if conv.Status == entity.StatusBot && c.responder != nil {
		go c.botReply(conv.ID)
	}
	return msg, nil
}

// botReply answers on behalf of the bot unless an operator took over in the
// meantime.
func (c *Core) botReply(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	log := c.log.With(slog.Int64("conversation_id", id))

	conv, err := c.GetConversation(ctx, id)
	if err != nil {
		log.Error("load conversation for reply", sl.Err(err))
		return
	}
	if conv.Status != entity.StatusBot {
		return
	}

	reply, err := c.responder.Reply(ctx, conv.Messages)
	if err != nil {
		log.Warn("bot reply", sl.Err(err))
	}
	if reply == "" {
		return
	}

	// the operator may have taken over while the reply was generated
	if conv, err = c.GetConversation(ctx, id); err != nil || conv.Status != entity.StatusBot {
		return
	}

	msg := &entity.Message{
		ConversationID: id,
		Sender:         entity.SenderBot,
		Content:        reply,
		CreatedAt:      c.stamp(),
	}
	if err = c.repo.InsertMessage(ctx, msg); err != nil {
		log.Error("save bot reply", sl.Err(err))
		return
	}
	c.broadcast(entity.NewMessageEvent(*msg))
	c.deliver(conv.Customer, *msg)
}

// Sweep ends open conversations idle for longer than the inactivity timeout
// and reports how many it ended.
func (c *Core) Sweep(ctx context.Context) (int, error) {
	now := c.stamp()
	before := now.Add(-c.inactivity)
	ids, err := c.repo.IdleConversations(ctx, before)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, id := range ids {
		ok, err := c.repo.EndIdle(ctx, id, before, now)
		if err != nil {
			c.log.With(slog.Int64("conversation_id", id)).Error("end idle conversation", sl.Err(err))
			continue
		}
		if !ok {
			continue
		}
		ended++
		c.broadcast(entity.NewStatusEvent(entity.StatusUpdate{ConversationID: id, Status: entity.StatusEnded, UpdatedAt: now}))
	}
	if ended > 0 {
		c.log.With(slog.Int("count", ended)).Info("idle conversations ended")
	}
	return ended, nil
}
