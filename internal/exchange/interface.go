package exchange

import (
	"context"
	"errors"
	"time"

	"scalper/internal/models"
)

// Exchange - минимальная возможность биржи, нужная движку: отправить ордер.
//
// SubmitOrder возвращает подтверждение приёма, а не исполнение.
// Исполнения приходят асинхронно через FillSource.
type Exchange interface {
	// GetName возвращает имя биржи/шлюза (для логов и метрик)
	GetName() string

	// SubmitOrder отправляет ордер
	SubmitOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error)
}

// Canceler - опциональная возможность отменить остаток лимитного ордера.
// Роутер проверяет её через type assertion перед репрайсом.
type Canceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// FillSource - источник уведомлений об исполнениях.
// Подписка делается ДО отправки ордера, поэтому ни одно исполнение не теряется.
type FillSource interface {
	Watch(clientOrderID string) *FillWatch
}

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce - время жизни ордера
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
)

// OrderSpec - параметры отправляемого ордера
type OrderSpec struct {
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          models.Side `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      float64     `json:"quantity"`
	Price         float64     `json:"price,omitempty"` // 0 для market
	TIF           TimeInForce `json:"time_in_force"`
}

// OrderAck - подтверждение приёма ордера биржей
type OrderAck struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// OrderUpdate - событие по ордеру из потока биржи.
// FillQty/FillPrice - инкремент последнего исполнения (не накопленный объём).
type OrderUpdate struct {
	ClientOrderID string    `json:"client_order_id"`
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Status        string    `json:"status"`
	FillPrice     float64   `json:"fill_price"`
	FillQty       float64   `json:"fill_qty"`
	Time          time.Time `json:"time"`
}

// IsFill - событие несёт исполнение
func (u OrderUpdate) IsFill() bool {
	return u.FillQty > 0 && u.FillPrice > 0
}

// IsFinal - по ордеру больше не будет событий
func (u OrderUpdate) IsFinal() bool {
	switch u.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// ============================================================
// Ошибки
// ============================================================

// ErrSubmission - базовая ошибка отправки ордера (errors.Is)
var ErrSubmission = errors.New("order submission failed")

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange  string
	Code      string
	Message   string
	Original  error
	Temporary bool // сетевой сбой/перегрузка: повтор допустим
}

func (e *ExchangeError) Error() string {
	msg := e.Exchange + ": " + e.Message
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	if e.Original != nil {
		return e.Original
	}
	return ErrSubmission
}

// Retryable - можно ли повторить отправку (используется pkg/retry)
func (e *ExchangeError) Retryable() bool {
	return e.Temporary
}

// NewExchangeError создаёт ошибку отправки
func NewExchangeError(exchange, code, message string, temporary bool) *ExchangeError {
	return &ExchangeError{
		Exchange:  exchange,
		Code:      code,
		Message:   message,
		Original:  ErrSubmission,
		Temporary: temporary,
	}
}
