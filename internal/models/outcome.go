package models

import "time"

// OutcomeKind - как закрылась сделка
type OutcomeKind string

const (
	OutcomeStop      OutcomeKind = "stop"      // выбило по стопу
	OutcomeTarget    OutcomeKind = "target"    // взяли цель
	OutcomeTimeout   OutcomeKind = "timeout"   // закрыли по тайм-боксу
	OutcomeManual    OutcomeKind = "manual"    // ручное закрытие
	OutcomeBreakeven OutcomeKind = "breakeven" // выход в ноль после переноса стопа
)

// IsLoss - убыточный исход (только стоп)
func (k OutcomeKind) IsLoss() bool {
	return k == OutcomeStop
}

// Valid проверяет вид исхода
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeStop, OutcomeTarget, OutcomeTimeout, OutcomeManual, OutcomeBreakeven:
		return true
	}
	return false
}

// OutcomeEvent - запись истории исходов по символу
type OutcomeEvent struct {
	ID     int64       `json:"id,omitempty"`
	Symbol string      `json:"symbol"`
	Kind   OutcomeKind `json:"kind"`
	Time   time.Time   `json:"time"`
}
