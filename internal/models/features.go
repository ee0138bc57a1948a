package models

import "time"

// Candle - OHLC бар
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// MicroStats - микроструктура стакана на момент решения
type MicroStats struct {
	SpreadBp       float64 `json:"spread_bp"`
	ExpectedSlipBp float64 `json:"expected_slip_bp"`
	LatencyMs      float64 `json:"latency_ms"`
	QuoteAgeMs     float64 `json:"quote_age_ms"`
	BidDepth       float64 `json:"bid_depth"`
	AskDepth       float64 `json:"ask_depth"`
}

// DepthBias - отношение глубины bid к ask. 0 если глубина неизвестна.
func (m MicroStats) DepthBias() float64 {
	if m.BidDepth <= 0 || m.AskDepth <= 0 {
		return 0
	}
	return m.BidDepth / m.AskDepth
}

// FeatureSnapshot - срез признаков по символу (только чтение)
type FeatureSnapshot struct {
	Symbol     string     `json:"symbol"`
	Candles    []Candle   `json:"candles"`
	ATR        float64    `json:"atr"`
	TickSize   float64    `json:"tick_size"` // 0 - взять из конфига
	BuyVolume  float64    `json:"buy_volume"`
	SellVolume float64    `json:"sell_volume"`
	Micro      MicroStats `json:"micro"`
}

// LastCandle возвращает последний бар
func (f *FeatureSnapshot) LastCandle() (Candle, bool) {
	if len(f.Candles) == 0 {
		return Candle{}, false
	}
	return f.Candles[len(f.Candles)-1], true
}

// OrderFlowImbalance - (buy - sell) / (buy + sell), 0 при отсутствии объёма
func (f *FeatureSnapshot) OrderFlowImbalance() float64 {
	total := f.BuyVolume + f.SellVolume
	if total <= 0 {
		return 0
	}
	return (f.BuyVolume - f.SellVolume) / total
}
