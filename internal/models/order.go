package models

import "time"

// Side - направление ордера (и позиции: BUY = long, SELL = short)
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid проверяет, что сторона из допустимого набора
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite возвращает сторону закрытия
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign: +1 для BUY/long, -1 для SELL/short.
// Используется в формулах "entry ∓ distance".
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// DefaultMaxReprices - количество репрайсов по умолчанию
const DefaultMaxReprices = 4

// OrderRequest - принятое торговое решение для роутера.
// После передачи в Router.Route не меняется.
type OrderRequest struct {
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Quantity     float64 `json:"quantity"`
	LimitPrice   float64 `json:"limit_price"`
	MaxReprices  int     `json:"max_reprices"`
	ForbidMarket bool    `json:"forbid_market"`
}

// NewOrderRequest создаёт запрос с количеством репрайсов по умолчанию
func NewOrderRequest(symbol string, side Side, qty, limitPrice float64) OrderRequest {
	return OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		LimitPrice:  limitPrice,
		MaxReprices: DefaultMaxReprices,
	}
}

// Fill - одно исполнение
type Fill struct {
	OrderID  string    `json:"order_id"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
}
