package bot

import (
	"math"
	"testing"
	"time"

	"scalper/internal/config"
	"scalper/internal/models"
)

func testGuard() *Guard {
	return NewGuard(
		config.GuardConfig{
			MaxSignalAge:     5 * time.Second,
			SpreadCapBp:      2.5,
			HighImpactFactor: 0.8,
			MaxLatencyMs:     250,
			MaxQuoteAgeMs:    500,
			MinDepthRatio:    0.8,
		},
		config.TimeBoxConfig{MaxHold: 150 * time.Second, MaxBars: 3},
	)
}

func TestComputeSignalFreshSec(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)
	tests := []struct {
		name   string
		signal time.Time
		want   float64
	}{
		{"ten seconds", now.Add(-10 * time.Second), 10},
		{"same moment", now, 0},
		{"future clamps to zero", now.Add(time.Second), 0},
		{"zero time", time.Time{}, 0},
		{"fractional", now.Add(-1500 * time.Millisecond), 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeSignalFreshSec(tt.signal, now); got != tt.want {
				t.Errorf("ComputeSignalFreshSec = %v, want %v", got, tt.want)
			}
		})
	}

	g := testGuard()
	if !g.IsFresh(now.Add(-5*time.Second), now) {
		t.Error("signal exactly at ceiling is fresh")
	}
	if g.IsFresh(now.Add(-6*time.Second), now) {
		t.Error("6s old signal must be stale")
	}
}

func TestShouldForceFlat(t *testing.T) {
	g := testGuard()
	tests := []struct {
		name string
		h    HoldStatus
		want bool
	}{
		{"hold above max", HoldStatus{HoldSec: 151, BarsHeld: 1}, true},
		{"bars reach max", HoldStatus{HoldSec: 20, BarsHeld: 3}, true},
		{"within limits", HoldStatus{HoldSec: 20, BarsHeld: 1}, false},
		{"hold exactly max", HoldStatus{HoldSec: 150, BarsHeld: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ShouldForceFlat(tt.h); got != tt.want {
				t.Errorf("ShouldForceFlat(%+v) = %v, want %v", tt.h, got, tt.want)
			}
		})
	}
}

// TestMicroFilters_HighImpactTightensCap: 2.1/2.4 bp проходят базовый кап
// 2.5, но не проходят кап 2.0 под high impact
func TestMicroFilters_HighImpactTightensCap(t *testing.T) {
	g := testGuard()
	in := MicroInput{
		Side:           models.SideBuy,
		SpreadBp:       2.1,
		ExpectedSlipBp: 2.4,
		LatencyMs:      50,
		QuoteAgeMs:     100,
		DepthBias:      1,
		Policy:         models.RiskPolicy{Impact: models.ImpactNone},
	}
	if !g.MicroFiltersOk(in) {
		t.Fatalf("untightened cap should pass: %s", g.CheckMicro(in))
	}

	in.Policy.Impact = models.ImpactHigh
	if g.MicroFiltersOk(in) {
		t.Error("high impact cap 2.0 must reject 2.1/2.4")
	}
	if limit := g.SpreadCap(in.Policy); math.Abs(limit-2.0) > 1e-9 {
		t.Errorf("tightened cap = %v, want 2.0", limit)
	}
}

func TestMicroFilters_Reasons(t *testing.T) {
	g := testGuard()
	base := MicroInput{Side: models.SideBuy, SpreadBp: 1, ExpectedSlipBp: 1, LatencyMs: 50, QuoteAgeMs: 100, DepthBias: 1}

	tests := []struct {
		name   string
		mutate func(*MicroInput)
		want   string
	}{
		{"ok", func(*MicroInput) {}, ""},
		{"spread", func(in *MicroInput) { in.SpreadBp = 3 }, RejectSpread},
		{"slippage", func(in *MicroInput) { in.ExpectedSlipBp = 2.6 }, RejectSlippage},
		{"policy cap", func(in *MicroInput) { in.Policy.SpreadCapBp = 0.5 }, RejectSpread},
		{"latency", func(in *MicroInput) { in.LatencyMs = 300 }, RejectLatency},
		{"quote age", func(in *MicroInput) { in.QuoteAgeMs = 600 }, RejectQuoteAge},
		{"buy against ask-heavy book", func(in *MicroInput) { in.DepthBias = 0.5 }, RejectDepthBias},
		{"sell against bid-heavy book", func(in *MicroInput) { in.Side = models.SideSell; in.DepthBias = 2 }, RejectDepthBias},
		{"sell with ask-heavy book", func(in *MicroInput) { in.Side = models.SideSell; in.DepthBias = 0.5 }, ""},
		{"unknown depth skips bias", func(in *MicroInput) { in.DepthBias = 0 }, ""},
		{"nan fails closed", func(in *MicroInput) { in.SpreadBp = math.NaN() }, RejectInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			if got := g.CheckMicro(in); got != tt.want {
				t.Errorf("CheckMicro = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMicroInputFrom(t *testing.T) {
	m := models.MicroStats{SpreadBp: 1, ExpectedSlipBp: 2, LatencyMs: 3, QuoteAgeMs: 4, BidDepth: 10, AskDepth: 5}
	in := MicroInputFrom(models.SideSell, m, models.DefaultRiskPolicy())
	if in.DepthBias != 2 || in.Side != models.SideSell || in.QuoteAgeMs != 4 {
		t.Errorf("MicroInputFrom = %+v", in)
	}
}
