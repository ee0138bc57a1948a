package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// PaperConfig - параметры симулятора
type PaperConfig struct {
	Name             string
	FillDelay        time.Duration // задержка доставки исполнения
	MarketSlippageBp float64       // проскальзывание market ордера от лучшей цены
	LimitFillRatio   float64       // доля объёма, исполняемая при пересечении (0 → 1)
}

// DefaultPaperConfig возвращает конфигурацию по умолчанию
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		Name:             "paper",
		FillDelay:        20 * time.Millisecond,
		MarketSlippageBp: 1,
		LimitFillRatio:   1,
	}
}

// Quote - лучшие цены символа
type Quote struct {
	Bid float64
	Ask float64
}

type paperOrder struct {
	spec      OrderSpec
	orderID   string
	remaining float64
}

// Paper - симулятор биржи для dry-run и тестов.
//
// Лимитный ордер исполняется, когда его цена пересекает лучшую цену
// противоположной стороны (сразу или после SetQuote), market - по лучшей
// цене с проскальзыванием. Исполнения публикуются в FillHub.
type Paper struct {
	cfg PaperConfig
	hub *FillHub

	mu        sync.Mutex
	quotes    map[string]Quote
	resting   map[string]*paperOrder // orderID -> ордер
	seq       uint64
	submitted []OrderSpec
}

// NewPaper создаёт симулятор
func NewPaper(cfg PaperConfig, hub *FillHub) *Paper {
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.LimitFillRatio <= 0 || cfg.LimitFillRatio > 1 {
		cfg.LimitFillRatio = 1
	}
	return &Paper{
		cfg:     cfg,
		hub:     hub,
		quotes:  make(map[string]Quote),
		resting: make(map[string]*paperOrder),
	}
}

func (p *Paper) GetName() string {
	return p.cfg.Name
}

// SetQuote обновляет котировку и исполняет пересёкшиеся лимитные ордера
func (p *Paper) SetQuote(symbol string, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := Quote{Bid: bid, Ask: ask}
	p.quotes[symbol] = q

	for id, o := range p.resting {
		if o.spec.Symbol != symbol {
			continue
		}
		if price, ok := crossPrice(o.spec, q); ok {
			p.fillLocked(o, price, o.remaining)
			if o.remaining <= 0 {
				delete(p.resting, id)
			}
		}
	}
}

// SubmitOrder принимает ордер
func (p *Paper) SubmitOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Quantity <= 0 || !spec.Side.Valid() {
		return nil, NewExchangeError(p.cfg.Name, "invalid", fmt.Sprintf("invalid order %+v", spec), false)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.quotes[spec.Symbol]
	if !ok {
		return nil, NewExchangeError(p.cfg.Name, "no_quote", "no quote for "+spec.Symbol, false)
	}

	p.seq++
	o := &paperOrder{
		spec:      spec,
		orderID:   p.cfg.Name + "-" + strconv.FormatUint(p.seq, 10),
		remaining: spec.Quantity,
	}
	p.submitted = append(p.submitted, spec)

	ack := &OrderAck{
		OrderID:       o.orderID,
		ClientOrderID: spec.ClientOrderID,
		Price:         spec.Price,
		Quantity:      spec.Quantity,
		AcceptedAt:    time.Now(),
	}

	switch spec.Type {
	case OrderTypeMarket:
		ref := q.Ask
		slip := 1 + p.cfg.MarketSlippageBp/utils.BasisPointsPerUnit
		if spec.Side == models.SideSell {
			ref = q.Bid
			slip = 1 - p.cfg.MarketSlippageBp/utils.BasisPointsPerUnit
		}
		p.fillLocked(o, ref*slip, o.remaining)
		return ack, nil

	case OrderTypeLimit:
		if spec.Price <= 0 {
			return nil, NewExchangeError(p.cfg.Name, "invalid", "limit price must be positive", false)
		}
		if price, crossed := crossPrice(spec, q); crossed {
			qty := spec.Quantity * p.cfg.LimitFillRatio
			p.fillLocked(o, price, qty)
		}
		if o.remaining > 0 {
			if spec.TIF == TIFImmediateOrCancel {
				p.publishLocked(OrderUpdate{
					ClientOrderID: spec.ClientOrderID,
					OrderID:       o.orderID,
					Symbol:        spec.Symbol,
					Status:        OrderStatusCancelled,
					Time:          time.Now(),
				})
			} else {
				p.resting[o.orderID] = o
			}
		}
		return ack, nil

	default:
		return nil, NewExchangeError(p.cfg.Name, "invalid", "unknown order type "+string(spec.Type), false)
	}
}

// CancelOrder снимает остаток ордера
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.resting[orderID]
	if !ok {
		return nil
	}
	delete(p.resting, orderID)

	p.publishLocked(OrderUpdate{
		ClientOrderID: o.spec.ClientOrderID,
		OrderID:       orderID,
		Symbol:        symbol,
		Status:        OrderStatusCancelled,
		Time:          time.Now(),
	})
	return nil
}

// Submitted возвращает копию журнала отправленных ордеров
func (p *Paper) Submitted() []OrderSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderSpec, len(p.submitted))
	copy(out, p.submitted)
	return out
}

// RestingCount - количество ордеров в книге симулятора
func (p *Paper) RestingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resting)
}

// crossPrice возвращает цену исполнения, если лимит пересекает котировку
func crossPrice(spec OrderSpec, q Quote) (float64, bool) {
	if spec.Side == models.SideBuy {
		if q.Ask > 0 && spec.Price >= q.Ask {
			return q.Ask, true
		}
		return 0, false
	}
	if q.Bid > 0 && spec.Price <= q.Bid {
		return q.Bid, true
	}
	return 0, false
}

func (p *Paper) fillLocked(o *paperOrder, price, qty float64) {
	qty = math.Min(qty, o.remaining)
	if qty <= 0 {
		return
	}
	o.remaining -= qty
	status := OrderStatusPartial
	if o.remaining <= 1e-12 {
		o.remaining = 0
		status = OrderStatusFilled
	}

	p.publishLocked(OrderUpdate{
		ClientOrderID: o.spec.ClientOrderID,
		OrderID:       o.orderID,
		Symbol:        o.spec.Symbol,
		Status:        status,
		FillPrice:     price,
		FillQty:       qty,
		Time:          time.Now(),
	})
}

func (p *Paper) publishLocked(u OrderUpdate) {
	if p.hub == nil {
		return
	}
	if p.cfg.FillDelay <= 0 {
		p.hub.Publish(u)
		return
	}
	hub := p.hub
	time.AfterFunc(p.cfg.FillDelay, func() { hub.Publish(u) })
}
