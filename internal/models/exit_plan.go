package models

import (
	"fmt"
	"time"
)

// TrailMode - режим трейлинга стопа
type TrailMode string

const (
	// TrailChandelier - стоп на ATR×mult от последнего экстремума
	TrailChandelier TrailMode = "chandelier"
	// TrailPrevCandle - стоп за low/high предыдущей свечи
	TrailPrevCandle TrailMode = "prev_candle"
)

// Valid проверяет режим
func (m TrailMode) Valid() bool {
	return m == TrailChandelier || m == TrailPrevCandle
}

// TrailingSpec - описание трейлинга
type TrailingSpec struct {
	Mode            TrailMode `json:"mode"`
	ATRMultiplier   float64   `json:"atr_multiplier"`
	MoveToBreakeven bool      `json:"move_to_breakeven"` // переносить стоп в безубыток после TP1
}

// ExitPlan - план выхода из позиции.
//
// Структура неизменяемая, меняется только StopPrice (через трейлер).
// TakeProfit1/TakeProfit2 == 0 означает "цели нет".
type ExitPlan struct {
	StopPrice   float64       `json:"stop_price"`
	TakeProfit1 float64       `json:"take_profit_1,omitempty"`
	TakeProfit2 float64       `json:"take_profit_2,omitempty"`
	TickSize    float64       `json:"tick_size"`
	Trailing    TrailingSpec  `json:"trailing"`
	MaxHold     time.Duration `json:"max_hold"`
	MaxBars     int           `json:"max_bars"`
}

// HasTP2 - есть ли вторая цель
func (p *ExitPlan) HasTP2() bool {
	return p.TakeProfit2 > 0
}

// CheckSides проверяет, что стоп на стороне убытка, а цели на стороне прибыли
func (p *ExitPlan) CheckSides(side Side, entry float64) error {
	sign := side.Sign()
	if (entry-p.StopPrice)*sign <= 0 {
		return fmt.Errorf("stop %.8f is not on the loss side of entry %.8f for %s", p.StopPrice, entry, side)
	}
	if p.TakeProfit1 > 0 && (p.TakeProfit1-entry)*sign <= 0 {
		return fmt.Errorf("take profit 1 %.8f is not on the profit side of entry %.8f", p.TakeProfit1, entry)
	}
	if p.TakeProfit2 > 0 && (p.TakeProfit2-entry)*sign <= 0 {
		return fmt.Errorf("take profit 2 %.8f is not on the profit side of entry %.8f", p.TakeProfit2, entry)
	}
	return nil
}
