package bot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"scalper/internal/config"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// ============================================================
// Cooldown Tracker
// ============================================================

// CooldownTracker хранит историю исходов по символам и блокирует вход
// после серии стопов.
//
// Состояние блокировки не хранится: оно вычисляется из истории и now
// при каждом вызове. Трекер создаётся и принадлежит вызывающему.
type CooldownTracker struct {
	mu      sync.RWMutex
	cfg     config.CooldownConfig
	history map[string][]models.OutcomeEvent // по возрастанию времени
}

// CooldownStatus - снимок состояния для API
type CooldownStatus struct {
	Symbol       string     `json:"symbol"`
	Blocked      bool       `json:"blocked"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Remaining    string     `json:"remaining,omitempty"`
	LossStreak   int        `json:"loss_streak"`
	Events       int        `json:"events"`
}

// NewCooldownTracker создаёт трекер
func NewCooldownTracker(cfg config.CooldownConfig) *CooldownTracker {
	if cfg.LossStreak < 1 {
		cfg.LossStreak = 1
	}
	if cfg.MaxHistory < cfg.LossStreak {
		cfg.MaxHistory = cfg.LossStreak
	}
	return &CooldownTracker{
		cfg:     cfg,
		history: make(map[string][]models.OutcomeEvent),
	}
}

// Register добавляет исход. Порядок поступления не важен:
// событие вставляется на своё место по времени.
func (c *CooldownTracker) Register(symbol string, kind models.OutcomeKind, ts time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown outcome kind %q", ErrValidation, kind)
	}
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(models.OutcomeEvent{Symbol: symbol, Kind: kind, Time: ts})
	return nil
}

func (c *CooldownTracker) insertLocked(ev models.OutcomeEvent) {
	events := c.history[ev.Symbol]
	// после всех событий с тем же временем
	i := sort.Search(len(events), func(i int) bool { return events[i].Time.After(ev.Time) })
	events = append(events, models.OutcomeEvent{})
	copy(events[i+1:], events[i:])
	events[i] = ev

	if extra := len(events) - c.cfg.MaxHistory; extra > 0 {
		events = append(events[:0:0], events[extra:]...)
	}
	c.history[ev.Symbol] = events
}

// IsBlocked - заблокирован ли вход по символу в момент now
func (c *CooldownTracker) IsBlocked(symbol string, now time.Time) bool {
	_, blocked := c.BlockedUntil(symbol, now)
	return blocked
}

// BlockedUntil возвращает момент окончания блокировки.
//
// Блокировка действует, если последние LossStreak исходов (не позже now)
// все стопы, уложились в окно Lookback и с последнего из них прошло
// меньше Duration.
func (c *CooldownTracker) BlockedUntil(symbol string, now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	streak := c.lossStreakLocked(symbol, now)
	if len(streak) < c.cfg.LossStreak {
		return time.Time{}, false
	}
	window := streak[len(streak)-c.cfg.LossStreak:]
	first, last := window[0].Time, window[len(window)-1].Time
	if last.Sub(first) > c.cfg.Lookback {
		return time.Time{}, false
	}

	until := last.Add(c.cfg.Duration)
	if !now.Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// lossStreakLocked возвращает хвост подряд идущих стопов среди событий <= now
func (c *CooldownTracker) lossStreakLocked(symbol string, now time.Time) []models.OutcomeEvent {
	events := c.history[symbol]
	end := sort.Search(len(events), func(i int) bool { return events[i].Time.After(now) })
	start := end
	for start > 0 && events[start-1].Kind.IsLoss() {
		start--
	}
	return events[start:end]
}

// Status возвращает снимок для символа
func (c *CooldownTracker) Status(symbol string, now time.Time) CooldownStatus {
	until, blocked := c.BlockedUntil(symbol, now)

	c.mu.RLock()
	st := CooldownStatus{
		Symbol:     symbol,
		Blocked:    blocked,
		LossStreak: len(c.lossStreakLocked(symbol, now)),
		Events:     len(c.history[symbol]),
	}
	c.mu.RUnlock()

	if blocked {
		st.BlockedUntil = &until
		st.Remaining = utils.FormatDuration(until.Sub(now))
	}
	return st
}

// History возвращает копию истории символа
func (c *CooldownTracker) History(symbol string) []models.OutcomeEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.OutcomeEvent(nil), c.history[symbol]...)
}

// Reset очищает историю символа
func (c *CooldownTracker) Reset(symbol string) {
	c.mu.Lock()
	delete(c.history, symbol)
	c.mu.Unlock()
}

// ResetAll очищает всю историю
func (c *CooldownTracker) ResetAll() {
	c.mu.Lock()
	c.history = make(map[string][]models.OutcomeEvent)
	c.mu.Unlock()
}

// Restore загружает историю (например, из БД при старте).
// Некорректные события пропускаются, их количество возвращается.
func (c *CooldownTracker) Restore(events []models.OutcomeEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	skipped := 0
	for _, ev := range events {
		if ev.Symbol == "" || !ev.Kind.Valid() {
			skipped++
			continue
		}
		c.insertLocked(ev)
	}
	return skipped
}
