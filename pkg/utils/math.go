package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - математика цен и исполнения
//
// Назначение:
// Чистые функции без побочных эффектов для работы с ценами ордеров.
//
// Функции:
// - ShiftTicks: сдвиг цены на N тиков (точно, через decimal)
// - RoundToTick / FloorToTick / CeilToTick: привязка цены к сетке тиков
// - SlippageBps: проскальзывание в базисных пунктах
// - WeightedAverage: средневзвешенная цена исполнения (VWAP)

// BasisPointsPerUnit - количество б.п. в единице
const BasisPointsPerUnit = 10_000

// ShiftTicks сдвигает цену на n тиков (n может быть отрицательным).
//
// Сложение идёт в decimal, чтобы 0.1+0.1+0.1 не превращалось
// в 0.30000000000000004 после нескольких репрайсов.
//
// Примеры:
//   - ShiftTicks(100.0, 0.1, 1) = 100.1
//   - ShiftTicks(100.0, 0.1, -3) = 99.7
func ShiftTicks(price, tick float64, n int) float64 {
	if tick <= 0 || n == 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	step := decimal.NewFromFloat(tick).Mul(decimal.NewFromInt(int64(n)))
	out, _ := p.Add(step).Float64()
	return out
}

// RoundToTick округляет цену до ближайшего кратного tick
func RoundToTick(price, tick float64) float64 {
	return snapToTick(price, tick, decimal.Decimal.Round)
}

// FloorToTick округляет цену ВНИЗ до кратного tick
func FloorToTick(price, tick float64) float64 {
	return snapToTick(price, tick, func(d decimal.Decimal, _ int32) decimal.Decimal { return d.Floor() })
}

// CeilToTick округляет цену ВВЕРХ до кратного tick
func CeilToTick(price, tick float64) float64 {
	return snapToTick(price, tick, func(d decimal.Decimal, _ int32) decimal.Decimal { return d.Ceil() })
}

func snapToTick(price, tick float64, round func(decimal.Decimal, int32) decimal.Decimal) float64 {
	if tick <= 0 || !IsFinite(price) {
		return price
	}
	t := decimal.NewFromFloat(tick)
	steps := round(decimal.NewFromFloat(price).Div(t), 0)
	out, _ := steps.Mul(t).Float64()
	return out
}

// TicksFor переводит ценовую дистанцию в целое число тиков (округление к ближайшему)
func TicksFor(distance, tick float64) int {
	if tick <= 0 || !IsFinite(distance) {
		return 0
	}
	return int(math.Round(distance / tick))
}

// SlippageBps возвращает |fill - ref| / ref * 10000.
//
// Результат всегда неотрицательный и конечный: при ref == 0 или
// нечисловых входах возвращается 0.
func SlippageBps(fillPrice, refPrice float64) float64 {
	if refPrice == 0 || !IsFinite(fillPrice) || !IsFinite(refPrice) {
		return 0
	}
	bp := math.Abs(fillPrice-refPrice) / math.Abs(refPrice) * BasisPointsPerUnit
	if !IsFinite(bp) {
		return 0
	}
	return bp
}

// WeightedAverage рассчитывает средневзвешенное значение.
// Возвращает 0, если сумма весов равна нулю или длины не совпадают.
func WeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}
	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// IsFinite - не NaN и не ±Inf
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Clamp ограничивает значение диапазоном [lo, hi]
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
