package exchange

import (
	"sync"
	"sync/atomic"

	"scalper/pkg/utils"
)

// DefaultWatchBuffer - буфер канала одной подписки
const DefaultWatchBuffer = 64

// FillHub - раздача событий по ордерам подписчикам по client order id.
//
// Реализует FillSource. Источники событий (WSFeed, Paper, шлюз) вызывают
// Publish; роутер подписывается через Watch до отправки ордера.
// События по неизвестным id считаются и отбрасываются.
type FillHub struct {
	mu      sync.Mutex
	watches map[string]*FillWatch
	bufSize int

	published uint64 // atomic
	unmatched uint64 // atomic
	dropped   uint64 // atomic
}

// NewFillHub создаёт hub. bufSize <= 0 → DefaultWatchBuffer.
func NewFillHub(bufSize int) *FillHub {
	if bufSize <= 0 {
		bufSize = DefaultWatchBuffer
	}
	return &FillHub{
		watches: make(map[string]*FillWatch),
		bufSize: bufSize,
	}
}

// Watch подписывается на события ордера. Повторный Watch на тот же id
// закрывает предыдущую подписку.
func (h *FillHub) Watch(clientOrderID string) *FillWatch {
	ch := make(chan OrderUpdate, h.bufSize)
	w := &FillWatch{
		ClientOrderID: clientOrderID,
		C:             ch,
		ch:            ch,
		hub:           h,
	}

	h.mu.Lock()
	if prev, ok := h.watches[clientOrderID]; ok {
		prev.closeLocked()
	}
	h.watches[clientOrderID] = w
	h.mu.Unlock()

	return w
}

// Publish доставляет событие подписчику. Возвращает false, если подписчика
// нет или его буфер переполнен.
func (h *FillHub) Publish(u OrderUpdate) bool {
	atomic.AddUint64(&h.published, 1)

	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.watches[u.ClientOrderID]
	if !ok {
		atomic.AddUint64(&h.unmatched, 1)
		return false
	}

	select {
	case w.ch <- u:
		return true
	default:
		atomic.AddUint64(&h.dropped, 1)
		utils.Warn("fill watch buffer full, update dropped",
			utils.OrderID(u.ClientOrderID),
			utils.Volume(u.FillQty),
		)
		return false
	}
}

// Active - количество активных подписок
func (h *FillHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watches)
}

// HubStats - счётчики hub
type HubStats struct {
	Published uint64 `json:"published"`
	Unmatched uint64 `json:"unmatched"`
	Dropped   uint64 `json:"dropped"`
}

// Stats возвращает счётчики
func (h *FillHub) Stats() HubStats {
	return HubStats{
		Published: atomic.LoadUint64(&h.published),
		Unmatched: atomic.LoadUint64(&h.unmatched),
		Dropped:   atomic.LoadUint64(&h.dropped),
	}
}

// FillWatch - подписка на события одного ордера
type FillWatch struct {
	ClientOrderID string
	C             <-chan OrderUpdate

	ch     chan OrderUpdate
	hub    *FillHub
	closed bool // под hub.mu
}

// Close отписывается. Повторный вызов безопасен.
func (w *FillWatch) Close() {
	if w == nil || w.hub == nil {
		return
	}
	w.hub.mu.Lock()
	if cur, ok := w.hub.watches[w.ClientOrderID]; ok && cur == w {
		delete(w.hub.watches, w.ClientOrderID)
	}
	w.closeLocked()
	w.hub.mu.Unlock()
}

func (w *FillWatch) closeLocked() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}
