package models

import (
	"fmt"
	"time"
)

// ModelKind - тег модели, породившей сигнал
type ModelKind string

const (
	ModelBreakout      ModelKind = "breakout"
	ModelMeanReversion ModelKind = "mean_reversion"
	ModelEMATrend      ModelKind = "ema_trend"
)

// Model - закрытый набор моделей входа.
// Реализации только в этом пакете: Breakout, MeanReversion, EMATrend.
type Model interface {
	Kind() ModelKind
	isModel()
}

// Breakout - пробой уровня
type Breakout struct {
	Level float64 // пробитый уровень
}

// MeanReversion - возврат к средней
type MeanReversion struct {
	Anchor float64 // цена средней, к которой ожидается возврат
}

// EMATrend - движение по тренду пары EMA
type EMATrend struct {
	FastPeriod int
	SlowPeriod int
}

func (Breakout) Kind() ModelKind      { return ModelBreakout }
func (MeanReversion) Kind() ModelKind { return ModelMeanReversion }
func (EMATrend) Kind() ModelKind      { return ModelEMATrend }

func (Breakout) isModel()      {}
func (MeanReversion) isModel() {}
func (EMATrend) isModel()      {}

// TakeProfitPlan - множители risk:reward для целей.
// RR2 == 0 означает "второй цели нет", RR1 == 0 - взять значение из конфига.
type TakeProfitPlan struct {
	RR1 float64 `json:"rr1"`
	RR2 float64 `json:"rr2,omitempty"`
}

// Candidate - кандидат на вход от внешнего источника сигналов
type Candidate struct {
	Symbol        string
	Model         Model
	Side          Side
	StopTicksHint int // подсказка дистанции стопа в тиках
	TakeProfit    TakeProfitPlan
	SignalTime    time.Time
}

// Validate проверяет кандидата до любых действий на бирже
func (c Candidate) Validate() error {
	if !c.Side.Valid() {
		return fmt.Errorf("invalid side %q", c.Side)
	}
	if c.StopTicksHint < 0 {
		return fmt.Errorf("stop ticks hint cannot be negative, got %d", c.StopTicksHint)
	}
	if c.TakeProfit.RR1 < 0 || c.TakeProfit.RR2 < 0 {
		return fmt.Errorf("risk:reward multiples cannot be negative")
	}
	if c.TakeProfit.RR2 > 0 && c.TakeProfit.RR1 > 0 && c.TakeProfit.RR2 <= c.TakeProfit.RR1 {
		return fmt.Errorf("second target rr %.2f must exceed first %.2f", c.TakeProfit.RR2, c.TakeProfit.RR1)
	}

	switch m := c.Model.(type) {
	case Breakout:
		if m.Level <= 0 {
			return fmt.Errorf("breakout level must be positive")
		}
	case MeanReversion:
		if m.Anchor <= 0 {
			return fmt.Errorf("mean reversion anchor must be positive")
		}
	case EMATrend:
		if m.FastPeriod <= 0 || m.SlowPeriod <= m.FastPeriod {
			return fmt.Errorf("ema periods must satisfy 0 < fast < slow, got %d/%d", m.FastPeriod, m.SlowPeriod)
		}
	case nil:
		return fmt.Errorf("candidate has no model")
	default:
		return fmt.Errorf("unknown model %T", m)
	}
	return nil
}
