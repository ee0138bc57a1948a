package bot

import (
	"math"
	"time"

	"scalper/internal/config"
	"scalper/internal/models"
)

// ============================================================
// Freshness & Micro-Quality Guard
// ============================================================

// Причины отказа фильтров (метка guard_rejections_total)
const (
	RejectStaleSignal = "stale_signal"
	RejectSpread      = "spread"
	RejectSlippage    = "slippage"
	RejectLatency     = "latency"
	RejectQuoteAge    = "quote_age"
	RejectDepthBias   = "depth_bias"
	RejectInvalid     = "invalid_input"
)

// Guard - чистые проверки актуальности сигнала и качества рынка
type Guard struct {
	cfg     config.GuardConfig
	timeBox config.TimeBoxConfig
}

// NewGuard создаёт guard
func NewGuard(cfg config.GuardConfig, timeBox config.TimeBoxConfig) *Guard {
	return &Guard{cfg: cfg, timeBox: timeBox}
}

// ComputeSignalFreshSec - возраст сигнала в секундах (не меньше 0)
func ComputeSignalFreshSec(signalTime, now time.Time) float64 {
	if signalTime.IsZero() || now.Before(signalTime) {
		return 0
	}
	return now.Sub(signalTime).Seconds()
}

// IsFresh - сигнал не старше MaxSignalAge
func (g *Guard) IsFresh(signalTime, now time.Time) bool {
	return ComputeSignalFreshSec(signalTime, now) <= g.cfg.MaxSignalAge.Seconds()
}

// HoldStatus - сколько позиция уже держится
type HoldStatus struct {
	HoldSec  float64
	BarsHeld int
}

// ShouldForceFlat - жёсткий тайм-бокс: holdSec > MaxHold ИЛИ barsHeld >= MaxBars
func (g *Guard) ShouldForceFlat(h HoldStatus) bool {
	if g.timeBox.MaxHold > 0 && h.HoldSec > g.timeBox.MaxHold.Seconds() {
		return true
	}
	return g.timeBox.MaxBars > 0 && h.BarsHeld >= g.timeBox.MaxBars
}

// MicroInput - вход микро-фильтра
type MicroInput struct {
	Side           models.Side
	SpreadBp       float64
	ExpectedSlipBp float64
	LatencyMs      float64
	QuoteAgeMs     float64
	DepthBias      float64 // bid/ask; <= 0 - неизвестно
	Policy         models.RiskPolicy
}

// MicroInputFrom собирает вход фильтра из снапшота признаков
func MicroInputFrom(side models.Side, m models.MicroStats, policy models.RiskPolicy) MicroInput {
	return MicroInput{
		Side:           side,
		SpreadBp:       m.SpreadBp,
		ExpectedSlipBp: m.ExpectedSlipBp,
		LatencyMs:      m.LatencyMs,
		QuoteAgeMs:     m.QuoteAgeMs,
		DepthBias:      m.DepthBias(),
		Policy:         policy,
	}
}

// SpreadCap возвращает кап спреда/проскальзывания с учётом политики
func (g *Guard) SpreadCap(p models.RiskPolicy) float64 {
	limit := p.SpreadCapBp
	if limit <= 0 {
		limit = g.cfg.SpreadCapBp
	}
	if p.Impact == models.ImpactHigh {
		limit *= g.cfg.HighImpactFactor
	}
	return limit
}

// MicroFiltersOk - рынок достаточно качественный для входа
func (g *Guard) MicroFiltersOk(in MicroInput) bool {
	return g.CheckMicro(in) == ""
}

// CheckMicro возвращает причину отказа или "" если всё в порядке.
// NaN в любом поле - отказ.
func (g *Guard) CheckMicro(in MicroInput) string {
	for _, v := range []float64{in.SpreadBp, in.ExpectedSlipBp, in.LatencyMs, in.QuoteAgeMs, in.DepthBias} {
		if math.IsNaN(v) {
			return RejectInvalid
		}
	}

	limit := g.SpreadCap(in.Policy)
	switch {
	case in.SpreadBp > limit:
		return RejectSpread
	case in.ExpectedSlipBp > limit:
		return RejectSlippage
	case in.LatencyMs > g.cfg.MaxLatencyMs:
		return RejectLatency
	case in.QuoteAgeMs > g.cfg.MaxQuoteAgeMs:
		return RejectQuoteAge
	}

	if in.DepthBias > 0 && g.cfg.MinDepthRatio > 0 {
		favor := in.DepthBias // BUY нужна поддержка bid
		if in.Side == models.SideSell {
			favor = 1 / in.DepthBias
		}
		if favor < g.cfg.MinDepthRatio {
			return RejectDepthBias
		}
	}
	return ""
}
