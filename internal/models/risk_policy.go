package models

// ImpactGrade - оценка влияния новостного/микроструктурного фона
type ImpactGrade string

const (
	ImpactNone   ImpactGrade = "none"
	ImpactNotice ImpactGrade = "notice"
	ImpactHigh   ImpactGrade = "high"
)

// RiskPolicy - внешняя политика риска (NSW). Только для чтения.
type RiskPolicy struct {
	Impact         ImpactGrade `json:"impact"`
	SizeMultiplier float64     `json:"size_multiplier"`
	ForbidMarket   bool        `json:"forbid_market"`
	SpreadCapBp    float64     `json:"spread_cap_bp"` // <= 0 - взять из конфига
}

// DefaultRiskPolicy - нейтральная политика
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		Impact:         ImpactNone,
		SizeMultiplier: 1,
	}
}

// EffectiveSizeMultiplier возвращает множитель в диапазоне [0, 1].
// Нулевой/отрицательный множитель означает "без корректировки".
func (p RiskPolicy) EffectiveSizeMultiplier() float64 {
	switch {
	case p.SizeMultiplier <= 0:
		return 1
	case p.SizeMultiplier > 1:
		return 1
	default:
		return p.SizeMultiplier
	}
}
