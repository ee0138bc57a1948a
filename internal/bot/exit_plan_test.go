package bot

import (
	"errors"
	"testing"
	"time"

	"scalper/internal/config"
	"scalper/internal/models"
)

func testExitBuilder() *ExitPlanBuilder {
	return NewExitPlanBuilder(
		config.ExitConfig{TrailMode: "chandelier", ATRMultiplier: 1.5, DefaultRR: 1.5, MoveToBreakeven: true, DefaultTick: 0.01},
		config.TimeBoxConfig{MaxHold: 150 * time.Second, MaxBars: 3},
		testTicks,
	)
}

func breakoutCandidate(side models.Side, hint int, rr1, rr2 float64) models.Candidate {
	return models.Candidate{
		Symbol:        "BTCUSDT",
		Model:         models.Breakout{Level: 100},
		Side:          side,
		StopTicksHint: hint,
		TakeProfit:    models.TakeProfitPlan{RR1: rr1, RR2: rr2},
		SignalTime:    time.Now(),
	}
}

func TestBuildExitPlan_StopDistance(t *testing.T) {
	b := testExitBuilder()

	tests := []struct {
		name     string
		side     models.Side
		hint     int
		atr      float64
		wantStop float64
	}{
		// ATR 0.6 × 1.5 / 0.1 = 9 тиков > подсказки 5
		{"long volatility wins", models.SideBuy, 5, 0.6, 99.1},
		// подсказка 12 > 9
		{"long hint wins", models.SideBuy, 12, 0.6, 98.8},
		{"short volatility wins", models.SideSell, 5, 0.6, 100.9},
		// нет ATR и подсказки - минимум один тик
		{"minimum one tick", models.SideBuy, 0, 0, 99.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := breakoutCandidate(tt.side, tt.hint, 2, 0)
			plan, err := b.BuildExitPlan(tt.side, 100, c, models.FeatureSnapshot{ATR: tt.atr})
			if err != nil {
				t.Fatalf("BuildExitPlan: %v", err)
			}
			if !approxEqual(plan.StopPrice, tt.wantStop) {
				t.Errorf("stop = %v, want %v", plan.StopPrice, tt.wantStop)
			}
			if err := plan.CheckSides(tt.side, 100); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestBuildExitPlan_Targets(t *testing.T) {
	b := testExitBuilder()

	// риск 1.0 (10 тиков по 0.1)
	c := breakoutCandidate(models.SideBuy, 10, 2, 3)
	plan, err := b.BuildExitPlan(models.SideBuy, 100, c, models.FeatureSnapshot{})
	if err != nil {
		t.Fatalf("BuildExitPlan: %v", err)
	}
	if !approxEqual(plan.TakeProfit1, 102) || !approxEqual(plan.TakeProfit2, 103) {
		t.Errorf("tp1=%v tp2=%v, want 102/103", plan.TakeProfit1, plan.TakeProfit2)
	}

	// RR1 не задан - DefaultRR 1.5, без второй цели
	c = breakoutCandidate(models.SideSell, 10, 0, 0)
	plan, err = b.BuildExitPlan(models.SideSell, 100, c, models.FeatureSnapshot{})
	if err != nil {
		t.Fatalf("BuildExitPlan: %v", err)
	}
	if !approxEqual(plan.TakeProfit1, 98.5) || plan.HasTP2() {
		t.Errorf("tp1=%v hasTP2=%v, want 98.5 and no TP2", plan.TakeProfit1, plan.HasTP2())
	}
	if plan.MaxBars != 3 || plan.MaxHold != 150*time.Second {
		t.Errorf("time box not copied: %v/%d", plan.MaxHold, plan.MaxBars)
	}
	if plan.Trailing.Mode != models.TrailChandelier || !plan.Trailing.MoveToBreakeven {
		t.Errorf("trailing = %+v", plan.Trailing)
	}
}

func TestBuildExitPlan_TickSource(t *testing.T) {
	b := testExitBuilder()
	c := breakoutCandidate(models.SideBuy, 3, 1, 0)

	// tick из снапшота важнее таблицы символов
	plan, err := b.BuildExitPlan(models.SideBuy, 100, c, models.FeatureSnapshot{TickSize: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(plan.StopPrice, 98.5) || plan.TickSize != 0.5 {
		t.Errorf("stop=%v tick=%v, want 98.5/0.5", plan.StopPrice, plan.TickSize)
	}

	// неизвестный символ - tick по умолчанию
	c.Symbol = "SOLUSDT"
	plan, err = b.BuildExitPlan(models.SideBuy, 20, c, models.FeatureSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(plan.StopPrice, 19.97) {
		t.Errorf("stop = %v, want 19.97", plan.StopPrice)
	}
}

func TestBuildExitPlan_MeanReversionCapsSecondTarget(t *testing.T) {
	b := testExitBuilder()
	c := models.Candidate{
		Symbol:        "BTCUSDT",
		Model:         models.MeanReversion{Anchor: 102.5},
		Side:          models.SideBuy,
		StopTicksHint: 10,
		TakeProfit:    models.TakeProfitPlan{RR1: 2, RR2: 4},
	}
	plan, err := b.BuildExitPlan(models.SideBuy, 100, c, models.FeatureSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(plan.TakeProfit2, 102.5) {
		t.Errorf("tp2 = %v, want capped at anchor 102.5", plan.TakeProfit2)
	}

	// якорь ближе TP1 - второй цели нет
	c.Model = models.MeanReversion{Anchor: 101}
	plan, err = b.BuildExitPlan(models.SideBuy, 100, c, models.FeatureSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if plan.HasTP2() {
		t.Errorf("tp2 = %v, want none", plan.TakeProfit2)
	}
}

func TestBuildExitPlan_Invalid(t *testing.T) {
	b := testExitBuilder()
	tests := []struct {
		name  string
		side  models.Side
		entry float64
		c     models.Candidate
	}{
		{"zero entry", models.SideBuy, 0, breakoutCandidate(models.SideBuy, 1, 1, 0)},
		{"bad side", "FLAT", 100, breakoutCandidate(models.SideBuy, 1, 1, 0)},
		{"no model", models.SideBuy, 100, models.Candidate{Symbol: "BTCUSDT", Side: models.SideBuy}},
		{"rr2 below rr1", models.SideBuy, 100, breakoutCandidate(models.SideBuy, 1, 2, 1)},
		// 2000 тиков по 0.1 = 200 > entry
		{"long stop below zero", models.SideBuy, 100, breakoutCandidate(models.SideBuy, 2000, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.BuildExitPlan(tt.side, tt.entry, tt.c, models.FeatureSnapshot{})
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}
