package utils

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных перед отправкой на биржу
//
// Все функции возвращают error с описанием проблемы или nil.
// ValidationErrors собирает несколько ошибок сразу, чтобы в лог
// попадал полный список нарушений, а не только первое.

var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidationError - нарушение одного поля
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors - набор нарушений
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Add добавляет ошибку, если она не nil
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}
	*v = append(*v, ValidationError{Field: field, Message: err.Error()})
}

// HasErrors - есть ли нарушения
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Err возвращает nil при отсутствии нарушений (удобно для return)
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// ValidateSymbol проверяет формат символа (BTCUSDT)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if !symbolRe.MatchString(NormalizeSymbol(symbol)) {
		return fmt.Errorf("invalid symbol format %q", symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к виду BTCUSDT
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

// ValidatePositive проверяет, что значение конечное и > 0
func ValidatePositive(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("must be a finite number, got %v", value)
	}
	if value <= 0 {
		return fmt.Errorf("must be positive, got %v", value)
	}
	return nil
}

// ValidateNonNegativeInt проверяет целое >= 0
func ValidateNonNegativeInt(value int) error {
	if value < 0 {
		return fmt.Errorf("cannot be negative, got %d", value)
	}
	return nil
}

// ValidateRatio проверяет долю в диапазоне (0, 1]
func ValidateRatio(value float64) error {
	if math.IsNaN(value) || value <= 0 || value > 1 {
		return fmt.Errorf("must be in (0, 1], got %v", value)
	}
	return nil
}
