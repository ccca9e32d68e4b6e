package cont

import (
	"SupportDesk/entity"
	"context"
)

type ctxKey string

const operatorKey ctxKey = "operator"

func PutOperator(ctx context.Context, op *entity.Operator) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

func GetOperator(ctx context.Context) *entity.Operator {
	op, ok := ctx.Value(operatorKey).(*entity.Operator)
	if !ok {
		return nil
	}
	return op
}
