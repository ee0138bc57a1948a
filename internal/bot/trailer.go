package bot

import (
	"math"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// ============================================================
// Stop Trailer
// ============================================================

// StopTrailer подтягивает стоп открытой позиции.
// Стоп только ужесточается: для лонга не опускается, для шорта не поднимается.
type StopTrailer struct {
	spec models.TrailingSpec
	tick float64
}

// NewStopTrailer создаёт трейлер для плана позиции
func NewStopTrailer(spec models.TrailingSpec, tick float64) *StopTrailer {
	return &StopTrailer{spec: spec, tick: tick}
}

// UpdateStops возвращает новый стоп.
//
// Сначала безубыток: при firstTargetHit стоп хуже entry переносится в entry.
// Затем кандидат трейлинга: chandelier (lastHigh - ATR×mult для лонга,
// lastLow + ATR×mult для шорта) или prev_candle (lastLow / lastHigh).
// Кандидат за lastClose не применяется. Итог - max для лонга, min для шорта.
func (t *StopTrailer) UpdateStops(side models.Side, entry, currentStop, lastClose, lastHigh, lastLow, atr float64, firstTargetHit bool) float64 {
	long := side != models.SideSell
	base := currentStop

	if firstTargetHit {
		if long && base < entry {
			base = entry
		}
		if !long && base > entry {
			base = entry
		}
	}

	candidate, ok := t.trailCandidate(long, lastHigh, lastLow, atr)
	if !ok {
		return base
	}
	// стоп по другую сторону от текущей цены закрыл бы позицию сразу
	if utils.IsFinite(lastClose) && lastClose > 0 {
		if long && candidate >= lastClose {
			return base
		}
		if !long && candidate <= lastClose {
			return base
		}
	}

	if long {
		return math.Max(base, candidate)
	}
	return math.Min(base, candidate)
}

func (t *StopTrailer) trailCandidate(long bool, lastHigh, lastLow, atr float64) (float64, bool) {
	var c float64
	switch t.spec.Mode {
	case models.TrailPrevCandle:
		if long {
			c = lastLow
		} else {
			c = lastHigh
		}
	default: // chandelier
		if !utils.IsFinite(atr) || atr <= 0 {
			return 0, false
		}
		if long {
			c = lastHigh - atr*t.spec.ATRMultiplier
		} else {
			c = lastLow + atr*t.spec.ATRMultiplier
		}
	}
	if !utils.IsFinite(c) || c <= 0 {
		return 0, false
	}
	// округляем в сторону, которая не ужесточает стоп сверх расчёта
	if long {
		return utils.FloorToTick(c, t.tick), true
	}
	return utils.CeilToTick(c, t.tick), true
}

// StopHit - коснулась ли цена стопа на баре
func StopHit(side models.Side, stop float64, bar models.Candle) bool {
	if side == models.SideSell {
		return bar.High >= stop
	}
	return bar.Low <= stop
}

// TargetHit - достигнута ли цель на баре (target == 0 - цели нет)
func TargetHit(side models.Side, target float64, bar models.Candle) bool {
	if target <= 0 {
		return false
	}
	if side == models.SideSell {
		return bar.Low <= target
	}
	return bar.High >= target
}
