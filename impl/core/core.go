package core

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	ErrNotFound = errors.New("conversation not found")
	ErrConflict = errors.New("conversation state conflict")
	ErrInvalid  = errors.New("invalid request")
)

const (
	defaultInactivity    = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
	replyTimeout         = 30 * time.Second
	deliveryTimeout      = 15 * time.Second
)

type Repository interface {
	UpsertCustomer(ctx context.Context, phone, name string) (*entity.CustomerRef, error)

	CreateConversation(ctx context.Context, conv *entity.Conversation) error
	GetConversation(ctx context.Context, id int64) (*entity.Conversation, error)
	OpenConversationFor(ctx context.Context, customerID int64) (*entity.Conversation, error)
	ListConversations(ctx context.Context, status entity.Status, limit, offset int) ([]entity.ConversationSummary, error)
	UpdateStatus(ctx context.Context, id int64, from []entity.Status, to entity.Status, operator string, at time.Time) (bool, error)
	IdleConversations(ctx context.Context, before time.Time) ([]int64, error)
	EndIdle(ctx context.Context, id int64, before, at time.Time) (bool, error)

	InsertMessage(ctx context.Context, msg *entity.Message) error
}

// Broadcaster fans events out to the conversation's push room.
type Broadcaster interface {
	Broadcast(ev entity.Event)
}

type Responder interface {
	Reply(ctx context.Context, history []entity.Message) (string, error)
}

// Delivery forwards replies to the customer's messaging channel.
type Delivery interface {
	Deliver(ctx context.Context, phone, text string) error
}

type AuthService interface {
	Authenticate(token string) (*entity.Operator, error)
}

type Core struct {
	repo          Repository
	hub           Broadcaster
	responder     Responder
	delivery      Delivery
	authService   AuthService
	inactivity    time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	log           *slog.Logger
}

func New(log *slog.Logger) *Core {
	return &Core{
		inactivity:    defaultInactivity,
		sweepInterval: defaultSweepInterval,
		now:           func() time.Time { return time.Now().UTC() },
		log:           log.With(sl.Module("core")),
	}
}

func (c *Core) SetRepository(repo Repository) {
	c.repo = repo
}

func (c *Core) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

func (c *Core) SetResponder(responder Responder) {
	c.responder = responder
}

func (c *Core) SetDelivery(delivery Delivery) {
	c.delivery = delivery
}

func (c *Core) SetAuthService(auth AuthService) {
	c.authService = auth
}

// SetInactivity configures how long a conversation may stay idle before the
// sweeper ends it, and how often the sweeper runs.
func (c *Core) SetInactivity(timeout, interval time.Duration) {
	if timeout > 0 {
		c.inactivity = timeout
	}
	if interval > 0 {
		c.sweepInterval = interval
	}
}

// Init starts the inactivity sweeper. It stops when ctx is done.
func (c *Core) Init(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		c.log.With(
			slog.Duration("timeout", c.inactivity),
			slog.Duration("interval", c.sweepInterval),
		).Info("inactivity sweeper started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Sweep(ctx); err != nil {
					c.log.Error("inactivity sweep", sl.Err(err))
				}
			}
		}
	}()
}

func (c *Core) AuthenticateByToken(token string) (*entity.Operator, error) {
	if c.authService == nil {
		return nil, errors.New("authentication not configured")
	}
	return c.authService.Authenticate(token)
}

// stamp is the store clock, at the millisecond precision mongo keeps.
func (c *Core) stamp() time.Time {
	return c.now().Truncate(time.Millisecond)
}

func (c *Core) broadcast(ev entity.Event) {
	if c.hub != nil {
		c.hub.Broadcast(ev)
	}
}

// deliver sends a stored reply to the customer in the background. A failed
// delivery is logged; the message stays stored.
func (c *Core) deliver(customer entity.CustomerRef, msg entity.Message) {
	if c.delivery == nil || customer.PhoneNumber == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := c.delivery.Deliver(ctx, customer.PhoneNumber, msg.Content); err != nil {
			c.log.With(
				slog.Int64("conversation_id", msg.ConversationID),
				slog.Int64("message_id", msg.ID),
				sl.Err(err),
			).Error("deliver reply")
		}
	}()
}
