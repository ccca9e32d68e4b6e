package inbound

import (
	"SupportDesk/entity"
	"context"
)

type Core interface {
	ReceiveCustomerMessage(ctx context.Context, phone, name, content string) (*entity.Message, error)
}
