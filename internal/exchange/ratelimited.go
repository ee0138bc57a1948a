package exchange

import (
	"context"
	"errors"
	"fmt"

	"scalper/pkg/ratelimit"
)

// Категории лимитов запросов
const (
	CategoryOrder  = "order"
	CategoryCancel = "cancel"
)

// ErrCancelNotSupported - обёрнутая биржа не умеет отменять ордера
var ErrCancelNotSupported = errors.New("cancel not supported")

// RateLimited - декоратор, ожидающий токен перед каждым запросом к бирже.
// Лимитеры принадлежат вызывающему и передаются явно.
type RateLimited struct {
	inner    Exchange
	limiters *ratelimit.MultiLimiter
}

// NewRateLimited оборачивает биржу. Категории order/cancel должны быть
// зарегистрированы в limiters.
func NewRateLimited(inner Exchange, limiters *ratelimit.MultiLimiter) *RateLimited {
	return &RateLimited{inner: inner, limiters: limiters}
}

func (r *RateLimited) GetName() string {
	return r.inner.GetName()
}

// SubmitOrder ждёт токен категории order и отправляет ордер
func (r *RateLimited) SubmitOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error) {
	if err := r.limiters.Wait(ctx, CategoryOrder); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.SubmitOrder(ctx, spec)
}

// CancelOrder ждёт токен категории cancel и отменяет ордер
func (r *RateLimited) CancelOrder(ctx context.Context, symbol, orderID string) error {
	c, ok := r.inner.(Canceler)
	if !ok {
		return ErrCancelNotSupported
	}
	if err := r.limiters.Wait(ctx, CategoryCancel); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return c.CancelOrder(ctx, symbol, orderID)
}

// Unwrap возвращает обёрнутую биржу
func (r *RateLimited) Unwrap() Exchange {
	return r.inner
}
