package bot

import (
	"math"
	"math/rand"
	"testing"

	"scalper/internal/models"
)

func chandelier() *StopTrailer {
	return NewStopTrailer(models.TrailingSpec{Mode: models.TrailChandelier, ATRMultiplier: 1.5, MoveToBreakeven: true}, 0.1)
}

func prevCandle() *StopTrailer {
	return NewStopTrailer(models.TrailingSpec{Mode: models.TrailPrevCandle, MoveToBreakeven: true}, 0.1)
}

func TestUpdateStops_Chandelier(t *testing.T) {
	tr := chandelier()
	tests := []struct {
		name    string
		side    models.Side
		current float64
		close   float64
		high    float64
		low     float64
		atr     float64
		want    float64
	}{
		// 103 - 1.5×1 = 101.5
		{"long tightens", models.SideBuy, 99, 102.5, 103, 102, 1, 101.5},
		// 100.5 - 1.5 = 99 < 99.5: стоп не опускается
		{"long never loosens", models.SideBuy, 99.5, 100.2, 100.5, 99.8, 1, 99.5},
		// 97 + 1.5 = 98.5
		{"short tightens", models.SideSell, 101, 97.5, 98, 97, 1, 98.5},
		{"short never loosens", models.SideSell, 100.5, 99.9, 100.1, 99.5, 1, 100.5},
		// кандидат 101.5 выше close 101: не применяется
		{"long candidate above close", models.SideBuy, 99, 101, 103, 100.9, 1, 99},
		{"nan atr keeps stop", models.SideBuy, 99, 102, 103, 101, math.NaN(), 99},
		{"zero atr keeps stop", models.SideSell, 101, 98, 99, 97, 0, 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.UpdateStops(tt.side, 100, tt.current, tt.close, tt.high, tt.low, tt.atr, false)
			if !approxEqual(got, tt.want) {
				t.Errorf("UpdateStops = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateStops_PrevCandle(t *testing.T) {
	tr := prevCandle()
	tests := []struct {
		name    string
		side    models.Side
		current float64
		close   float64
		high    float64
		low     float64
		want    float64
	}{
		{"long follows low", models.SideBuy, 99, 101.5, 102, 100.7, 100.7},
		{"long low below stop", models.SideBuy, 99, 99.6, 100, 98.5, 99},
		{"short follows high", models.SideSell, 101, 98.5, 99.3, 98, 99.3},
		{"short high above stop", models.SideSell, 101, 100.4, 101.6, 100, 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.UpdateStops(tt.side, 100, tt.current, tt.close, tt.high, tt.low, 1, false)
			if !approxEqual(got, tt.want) {
				t.Errorf("UpdateStops = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateStops_Breakeven(t *testing.T) {
	for _, tr := range []*StopTrailer{chandelier(), prevCandle()} {
		// трейлинг слабее безубытка: стоп ровно в entry
		long := tr.UpdateStops(models.SideBuy, 100, 99, 100.3, 100.4, 99.2, 2, true)
		if long != 100 {
			t.Errorf("%s long = %v, want breakeven 100", tr.spec.Mode, long)
		}
		short := tr.UpdateStops(models.SideSell, 100, 101, 99.7, 100.8, 99.6, 2, true)
		if short != 100 {
			t.Errorf("%s short = %v, want breakeven 100", tr.spec.Mode, short)
		}
	}

	// стоп уже лучше безубытка - остаётся
	if got := chandelier().UpdateStops(models.SideBuy, 100, 100.5, 100.6, 100.7, 100.55, 1, true); got != 100.5 {
		t.Errorf("stop above entry moved to %v", got)
	}
}

// TestUpdateStops_MonotonicProperty - случайные входы: стоп не ослабевает,
// после первой цели не хуже безубытка
func TestUpdateStops_MonotonicProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	trailers := []*StopTrailer{chandelier(), prevCandle()}

	for i := 0; i < 5000; i++ {
		tr := trailers[i%2]
		side := models.SideBuy
		if rng.Intn(2) == 0 {
			side = models.SideSell
		}
		entry := 50 + rng.Float64()*100
		dist := 0.1 + rng.Float64()*5
		stop := entry - side.Sign()*dist
		hit := rng.Intn(2) == 0

		for bar := 0; bar < 10; bar++ {
			mid := entry + (rng.Float64()-0.5)*10
			high := mid + rng.Float64()*2
			low := mid - rng.Float64()*2
			closePx := low + rng.Float64()*(high-low)
			atr := rng.Float64() * 3

			next := tr.UpdateStops(side, entry, stop, closePx, high, low, atr, hit)
			if side == models.SideBuy && next < stop {
				t.Fatalf("long stop loosened %v → %v", stop, next)
			}
			if side == models.SideSell && next > stop {
				t.Fatalf("short stop loosened %v → %v", stop, next)
			}
			if hit && side == models.SideBuy && next < entry {
				t.Fatalf("long stop %v below entry %v after first target", next, entry)
			}
			if hit && side == models.SideSell && next > entry {
				t.Fatalf("short stop %v above entry %v after first target", next, entry)
			}
			stop = next
		}
	}
}

func TestStopAndTargetHit(t *testing.T) {
	bar := models.Candle{High: 101, Low: 99, Close: 100}
	tests := []struct {
		name   string
		fn     func() bool
		expect bool
	}{
		{"long stop hit", func() bool { return StopHit(models.SideBuy, 99.5, bar) }, true},
		{"long stop safe", func() bool { return StopHit(models.SideBuy, 98.9, bar) }, false},
		{"short stop hit", func() bool { return StopHit(models.SideSell, 100.5, bar) }, true},
		{"long target hit", func() bool { return TargetHit(models.SideBuy, 101, bar) }, true},
		{"short target hit", func() bool { return TargetHit(models.SideSell, 99, bar) }, true},
		{"no target", func() bool { return TargetHit(models.SideBuy, 0, bar) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.fn() != tt.expect {
				t.Errorf("got %v, want %v", !tt.expect, tt.expect)
			}
		})
	}
}

func BenchmarkUpdateStops(b *testing.B) {
	tr := chandelier()
	for i := 0; i < b.N; i++ {
		tr.UpdateStops(models.SideBuy, 100, 99, 102.5, 103, 102, 1, i%2 == 0)
	}
}
