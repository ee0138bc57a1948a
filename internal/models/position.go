package models

import "time"

// PositionState - открытая позиция по символу.
// Engine не мутирует опубликованное значение: изменения идут через
// копию и замену указателя под локом символа.
type PositionState struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	EntryPrice     float64   `json:"entry_price"`
	Quantity       float64   `json:"quantity"`
	CurrentStop    float64   `json:"current_stop"`
	FirstTargetHit bool      `json:"first_target_hit"`
	Plan           ExitPlan  `json:"plan"`
	Model          ModelKind `json:"model"`
	OpenedAt       time.Time `json:"opened_at"`
	BarsHeld       int       `json:"bars_held"`
}

// IsLong - длинная позиция
func (p *PositionState) IsLong() bool {
	return p.Side == SideBuy
}

// HoldSec - время удержания в секундах
func (p *PositionState) HoldSec(now time.Time) float64 {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return now.Sub(p.OpenedAt).Seconds()
}

// UnrealizedPnl - нереализованный PnL по цене price
func (p *PositionState) UnrealizedPnl(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.Side.Sign()
}
