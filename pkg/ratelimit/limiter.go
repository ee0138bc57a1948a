package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter - token bucket для запросов к бирже.
//
// Тонкая обёртка над golang.org/x/time/rate: ведро наполняется со
// скоростью rate токенов/сек, ёмкость = burst. Каждый ордер = 1 токен.
//
// Использование:
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)          // блокирующее ожидание
//	if limiter.Allow() { ... }        // неблокирующая проверка
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter создаёт limiter. rate <= 0 → 10 req/sec, burst <= 0 → 2x rate.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = int(perSec * 2)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Wait блокирует до появления токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.lim.Wait(ctx)
}

// Allow - неблокирующая проверка
func (rl *RateLimiter) Allow() bool {
	return rl.lim.Allow()
}

// Tokens - текущее количество токенов (для метрик/отладки)
func (rl *RateLimiter) Tokens() float64 {
	return rl.lim.Tokens()
}

// ============================================================
// MultiLimiter - отдельные вёдра по категориям запросов
// ============================================================

// MultiLimiter держит лимитеры по категориям (например "order", "cancel").
// Неизвестная категория - ошибка, а не молчаливый пропуск.
type MultiLimiter struct {
	limiters map[string]*RateLimiter
	mu       sync.RWMutex
}

// NewMultiLimiter создаёт пустой MultiLimiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{limiters: make(map[string]*RateLimiter)}
}

// Add регистрирует категорию
func (ml *MultiLimiter) Add(category string, perSec float64, burst int) {
	ml.mu.Lock()
	ml.limiters[category] = NewRateLimiter(perSec, burst)
	ml.mu.Unlock()
}

// Get возвращает limiter категории или nil
func (ml *MultiLimiter) Get(category string) *RateLimiter {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.limiters[category]
}

// Wait ждёт токен в категории
func (ml *MultiLimiter) Wait(ctx context.Context, category string) error {
	rl := ml.Get(category)
	if rl == nil {
		return fmt.Errorf("ratelimit: unknown category %q", category)
	}
	return rl.Wait(ctx)
}

// Allow - неблокирующая проверка категории (неизвестная категория = false)
func (ml *MultiLimiter) Allow(category string) bool {
	rl := ml.Get(category)
	return rl != nil && rl.Allow()
}
