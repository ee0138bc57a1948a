package bot

import (
	"fmt"
	"math"

	"scalper/internal/config"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// ============================================================
// Exit Plan Builder
// ============================================================

// ExitPlanBuilder строит начальный план выхода для новой позиции
type ExitPlanBuilder struct {
	cfg     config.ExitConfig
	timeBox config.TimeBoxConfig
	ticks   TickLookup
}

// NewExitPlanBuilder создаёт построитель планов
func NewExitPlanBuilder(cfg config.ExitConfig, timeBox config.TimeBoxConfig, ticks TickLookup) *ExitPlanBuilder {
	return &ExitPlanBuilder{cfg: cfg, timeBox: timeBox, ticks: ticks}
}

// tickFor: tick из снапшота, затем из таблицы символов, затем по умолчанию
func (b *ExitPlanBuilder) tickFor(symbol string, f models.FeatureSnapshot) float64 {
	if f.TickSize > 0 {
		return f.TickSize
	}
	if b.ticks != nil {
		if tick, ok := b.ticks(symbol); ok && tick > 0 {
			return tick
		}
	}
	if b.cfg.DefaultTick > 0 {
		return b.cfg.DefaultTick
	}
	return FallbackTickSize
}

// StopDistanceTicks = max(подсказка кандидата, round(ATR × mult / tick)), минимум 1
func (b *ExitPlanBuilder) StopDistanceTicks(hint int, atr, tick float64) int {
	dist := hint
	if atr > 0 && utils.IsFinite(atr) {
		if vol := utils.TicksFor(atr*b.cfg.ATRMultiplier, tick); vol > dist {
			dist = vol
		}
	}
	if dist < 1 {
		dist = 1
	}
	return dist
}

// BuildExitPlan рассчитывает стоп, цели и параметры трейлинга.
//
// Стоп всегда строго на стороне убытка, цели строго на стороне прибыли.
// Если гарантировать это нельзя (например, стоп лонга ушёл бы в ноль),
// возвращается ошибка с ErrValidation.
func (b *ExitPlanBuilder) BuildExitPlan(side models.Side, entry float64, c models.Candidate, f models.FeatureSnapshot) (models.ExitPlan, error) {
	if !side.Valid() {
		return models.ExitPlan{}, fmt.Errorf("%w: invalid side %q", ErrValidation, side)
	}
	if err := utils.ValidatePositive(entry); err != nil {
		return models.ExitPlan{}, fmt.Errorf("%w: entry %v", ErrValidation, err)
	}
	if err := c.Validate(); err != nil {
		return models.ExitPlan{}, fmt.Errorf("%w: candidate: %v", ErrValidation, err)
	}

	tick := b.tickFor(c.Symbol, f)
	sign := side.Sign()
	dist := b.StopDistanceTicks(c.StopTicksHint, f.ATR, tick)

	stop := utils.ShiftTicks(entry, tick, -int(sign)*dist)
	if stop <= 0 {
		return models.ExitPlan{}, fmt.Errorf("%w: stop %d ticks below entry %.8f is not positive", ErrValidation, dist, entry)
	}
	risk := math.Abs(entry - stop)

	rr1 := c.TakeProfit.RR1
	if rr1 <= 0 {
		rr1 = b.cfg.DefaultRR
	}

	plan := models.ExitPlan{
		StopPrice:   stop,
		TakeProfit1: b.target(side, entry, rr1, risk, tick),
		TickSize:    tick,
		Trailing: models.TrailingSpec{
			Mode:            models.TrailMode(b.cfg.TrailMode),
			ATRMultiplier:   b.cfg.ATRMultiplier,
			MoveToBreakeven: b.cfg.MoveToBreakeven,
		},
		MaxHold: b.timeBox.MaxHold,
		MaxBars: b.timeBox.MaxBars,
	}
	if c.TakeProfit.RR2 > 0 {
		plan.TakeProfit2 = b.target(side, entry, c.TakeProfit.RR2, risk, tick)
	}

	switch m := c.Model.(type) {
	case models.MeanReversion:
		// вторая цель не дальше средней, к которой ждём возврат
		if plan.HasTP2() {
			plan.TakeProfit2 = capAtAnchor(side, plan.TakeProfit1, plan.TakeProfit2, m.Anchor)
		}
	case models.Breakout, models.EMATrend:
		// цели по risk:reward без поправок
	default:
		return models.ExitPlan{}, fmt.Errorf("%w: unknown model %T", ErrValidation, m)
	}

	if err := plan.CheckSides(side, entry); err != nil {
		return models.ExitPlan{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return plan, nil
}

// target = entry ± rr × risk, по сетке тиков, минимум один тик от входа.
// 0 если цель шорта ушла бы в неположительную цену.
func (b *ExitPlanBuilder) target(side models.Side, entry, rr, risk, tick float64) float64 {
	sign := side.Sign()
	tp := utils.RoundToTick(entry+sign*rr*risk, tick)
	if (tp-entry)*sign < tick/2 {
		tp = utils.ShiftTicks(entry, tick, int(sign))
	}
	if tp <= 0 {
		return 0
	}
	return tp
}

// capAtAnchor ограничивает TP2 якорем mean reversion.
// Если якорь не дальше TP1, вторая цель снимается.
func capAtAnchor(side models.Side, tp1, tp2, anchor float64) float64 {
	sign := side.Sign()
	if (anchor-tp1)*sign <= 0 {
		return 0
	}
	if (tp2-anchor)*sign > 0 {
		return anchor
	}
	return tp2
}
