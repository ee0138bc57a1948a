package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// Ошибки движка
var (
	ErrPositionExists = errors.New("position already open for symbol")
	ErrNoPosition     = errors.New("no open position for symbol")
)

// RouteStore - хранилище отчётов роутера (internal/repository)
type RouteStore interface {
	Save(ctx context.Context, report *models.RouteReport) error
}

// OutcomeStore - хранилище исходов сделок (internal/repository)
type OutcomeStore interface {
	Insert(ctx context.Context, ev *models.OutcomeEvent) error
	Since(ctx context.Context, since time.Time) ([]models.OutcomeEvent, error)
}

// EventSink - получатель событий движка.
//
// Реализуется пакетом internal/websocket/Hub (поток событий для операторов).
type EventSink interface {
	// BroadcastRoute - итог каждого вызова роутера
	BroadcastRoute(report *models.RouteReport)

	// BroadcastPosition - открытие позиции и каждое движение стопа
	BroadcastPosition(pos models.PositionState)

	// BroadcastExit - сигнал выхода и закрытие позиции
	BroadcastExit(sig ExitSignal)
}

// Decision - принятое решение о входе
type Decision struct {
	Candidate   models.Candidate
	Quantity    float64
	LimitPrice  float64
	MaxReprices int // 0 - models.DefaultMaxReprices
	Features    models.FeatureSnapshot
	Policy      models.RiskPolicy
}

// EntryResult - результат Enter.
// Rejected не пустой, если вход отсечён фильтрами до роутера.
type EntryResult struct {
	Rejected string                `json:"rejected,omitempty"`
	Report   *models.RouteReport   `json:"report,omitempty"`
	Position *models.PositionState `json:"position,omitempty"`
}

// ExitSignal - решение по позиции на очередном баре
type ExitSignal struct {
	Symbol    string             `json:"symbol"`
	Exit      bool               `json:"exit"`
	Kind      models.OutcomeKind `json:"kind,omitempty"`
	Price     float64            `json:"price,omitempty"`
	Stop      float64            `json:"stop"`
	StopMoved bool               `json:"stop_moved"`
}

// Deps - зависимости движка. Exchange и Fills обязательны.
type Deps struct {
	Exchange exchange.Exchange
	Fills    exchange.FillSource
	Routes   RouteStore
	Outcomes OutcomeStore
	Sink     EventSink
	Logger   *utils.Logger
}

// Engine - владелец цикла решений по символам.
//
// Связывает guard, cooldown, роутер и план выхода. Все изменения
// состояния символа (позиция, стоп, история исходов) выполняются под
// локом символа, разные символы обрабатываются параллельно.
type Engine struct {
	cfg *config.Config

	ex       exchange.Exchange
	router   *Router
	exits    *ExitPlanBuilder
	guard    *Guard
	cooldown *CooldownTracker

	locks     *symbolLocks
	positions map[string]*models.PositionState
	posMu     sync.RWMutex

	routes   RouteStore
	outcomes OutcomeStore
	sink     EventSink

	log *utils.Logger
	now func() time.Time
}

// NewEngine создаёт движок
func NewEngine(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Exchange == nil {
		return nil, fmt.Errorf("engine requires an exchange")
	}
	if deps.Fills == nil {
		return nil, fmt.Errorf("engine requires a fill source")
	}
	log := deps.Logger
	if log == nil {
		log = utils.L()
	}

	ticks := TickLookup(cfg.Symbols.TickSize)
	return &Engine{
		cfg:       cfg,
		ex:        deps.Exchange,
		router:    NewRouter(cfg.Router, ticks, deps.Fills, log),
		exits:     NewExitPlanBuilder(cfg.Exit, cfg.TimeBox, ticks),
		guard:     NewGuard(cfg.Guard, cfg.TimeBox),
		cooldown:  NewCooldownTracker(cfg.Cooldown),
		locks:     newSymbolLocks(32),
		positions: make(map[string]*models.PositionState),
		routes:    deps.Routes,
		outcomes:  deps.Outcomes,
		sink:      deps.Sink,
		log:       log.WithComponent("engine"),
		now:       time.Now,
	}, nil
}

// Cooldown возвращает трекер cooldown
func (e *Engine) Cooldown() *CooldownTracker { return e.cooldown }

// ============================================================
// Вход
// ============================================================

// Enter проводит решение через фильтры и роутер и открывает позицию.
//
// Порядок: валидация → cooldown → свежесть → микро-фильтры →
// размер по политике → пробный план выхода → Route → план по цене
// исполнения → позиция.
func (e *Engine) Enter(ctx context.Context, d Decision) (*EntryResult, error) {
	c := d.Candidate
	symbol := utils.NormalizeSymbol(c.Symbol)
	c.Symbol = symbol

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: candidate: %v", ErrValidation, err)
	}

	unlock := e.locks.lock(symbol)
	defer unlock()

	log := e.log.WithSymbol(symbol).With(utils.Side(string(c.Side)), utils.String("model", string(c.Model.Kind())))
	now := e.now()

	if _, ok := e.Position(symbol); ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	if e.cooldown.IsBlocked(symbol, now) {
		CooldownBlocks.WithLabelValues(symbol).Inc()
		log.Info("entry blocked by cooldown")
		return &EntryResult{Rejected: "cooldown"}, nil
	}
	if !e.guard.IsFresh(c.SignalTime, now) {
		RecordGuardRejection(RejectStaleSignal)
		log.Info("stale signal", utils.Float64("age_sec", ComputeSignalFreshSec(c.SignalTime, now)))
		return &EntryResult{Rejected: RejectStaleSignal}, nil
	}
	if reason := e.guard.CheckMicro(MicroInputFrom(c.Side, d.Features.Micro, d.Policy)); reason != "" {
		RecordGuardRejection(reason)
		log.Info("micro filters rejected entry", utils.Reason(reason))
		return &EntryResult{Rejected: reason}, nil
	}

	// пробный план по лимитной цене: ошибка плана всплывает до ордера
	plan, err := e.exits.BuildExitPlan(c.Side, d.LimitPrice, c, d.Features)
	if err != nil {
		return nil, err
	}

	req := models.NewOrderRequest(symbol, c.Side, d.Quantity*d.Policy.EffectiveSizeMultiplier(), d.LimitPrice)
	if d.MaxReprices > 0 {
		req.MaxReprices = d.MaxReprices
	}
	req.ForbidMarket = d.Policy.ForbidMarket

	report, err := e.router.Route(ctx, e.ex, req)
	if report != nil {
		e.saveReport(ctx, report)
	}
	if err != nil {
		return &EntryResult{Report: report}, err
	}
	if !report.Accepted {
		return &EntryResult{Report: report}, nil
	}

	if p, perr := e.exits.BuildExitPlan(c.Side, report.AvgFillPrice, c, d.Features); perr == nil {
		plan = p
	} else {
		log.Warn("exit plan at fill price failed, keeping plan at limit price", utils.Err(perr))
	}

	pos := &models.PositionState{
		Symbol:      symbol,
		Side:        c.Side,
		EntryPrice:  report.AvgFillPrice,
		Quantity:    report.FilledQty,
		CurrentStop: plan.StopPrice,
		Plan:        plan,
		Model:       c.Model.Kind(),
		OpenedAt:    now,
	}
	e.posMu.Lock()
	e.positions[symbol] = pos
	OpenPositions.Set(float64(len(e.positions)))
	e.posMu.Unlock()

	log.Info("position opened",
		utils.Price(pos.EntryPrice),
		utils.Volume(pos.Quantity),
		utils.StopPrice(pos.CurrentStop),
		utils.Float64("tp1", plan.TakeProfit1),
		utils.Float64("tp2", plan.TakeProfit2),
	)
	snapshot := *pos
	if e.sink != nil {
		e.sink.BroadcastPosition(snapshot)
	}
	return &EntryResult{Report: report, Position: &snapshot}, nil
}

func (e *Engine) saveReport(ctx context.Context, report *models.RouteReport) {
	if e.sink != nil {
		e.sink.BroadcastRoute(report)
	}
	if e.routes == nil {
		return
	}
	if err := e.routes.Save(ctx, report); err != nil {
		e.log.Error("failed to save route report", utils.Symbol(report.Symbol), utils.Err(err))
	}
}

// ============================================================
// Сопровождение позиции
// ============================================================

// OnBar обрабатывает закрытый бар по символу.
//
// Проверки по порядку: стоп, цели, тайм-бокс, затем подтяжка стопа.
// Движок только сигнализирует о выходе; закрытие фиксируется через Close.
func (e *Engine) OnBar(symbol string, bar models.Candle, atr float64) (ExitSignal, error) {
	symbol = utils.NormalizeSymbol(symbol)
	unlock := e.locks.lock(symbol)
	defer unlock()

	// опубликованная позиция не мутируется: считаем на копии и
	// подменяем указатель под posMu, читатели копируют без гонок
	e.posMu.RLock()
	cur, ok := e.positions[symbol]
	var pos models.PositionState
	if ok {
		pos = *cur
	}
	e.posMu.RUnlock()
	if !ok {
		return ExitSignal{Symbol: symbol}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	sig := e.evaluateBar(&pos, bar, atr)

	e.posMu.Lock()
	e.positions[symbol] = &pos
	e.posMu.Unlock()

	if sig.Exit {
		ExitsTotal.WithLabelValues(symbol, string(sig.Kind)).Inc()
		e.log.Info("exit signal",
			utils.Symbol(symbol),
			utils.Reason(string(sig.Kind)),
			utils.Price(sig.Price),
			utils.Int("bars_held", pos.BarsHeld),
		)
	}
	if (sig.Exit || sig.StopMoved) && e.sink != nil {
		if sig.Exit {
			e.sink.BroadcastExit(sig)
		} else {
			e.sink.BroadcastPosition(pos)
		}
	}
	return sig, nil
}

// evaluateBar мутирует pos (частную копию), вызывается под локом символа
func (e *Engine) evaluateBar(pos *models.PositionState, bar models.Candle, atr float64) ExitSignal {
	pos.BarsHeld++
	sig := ExitSignal{Symbol: pos.Symbol, Stop: pos.CurrentStop}

	if StopHit(pos.Side, pos.CurrentStop, bar) {
		sig.Exit = true
		sig.Kind = stopOutcome(pos)
		sig.Price = pos.CurrentStop
		return sig
	}

	plan := &pos.Plan
	if !pos.FirstTargetHit && TargetHit(pos.Side, plan.TakeProfit1, bar) {
		pos.FirstTargetHit = true
		if !plan.HasTP2() {
			sig.Exit = true
			sig.Kind = models.OutcomeTarget
			sig.Price = plan.TakeProfit1
			return sig
		}
	}
	if plan.HasTP2() && TargetHit(pos.Side, plan.TakeProfit2, bar) {
		sig.Exit = true
		sig.Kind = models.OutcomeTarget
		sig.Price = plan.TakeProfit2
		return sig
	}

	hold := HoldStatus{HoldSec: pos.HoldSec(e.now()), BarsHeld: pos.BarsHeld}
	if e.guard.ShouldForceFlat(hold) {
		sig.Exit = true
		sig.Kind = models.OutcomeTimeout
		sig.Price = bar.Close
		return sig
	}

	trailer := NewStopTrailer(plan.Trailing, plan.TickSize)
	breakeven := pos.FirstTargetHit && plan.Trailing.MoveToBreakeven
	newStop := trailer.UpdateStops(pos.Side, pos.EntryPrice, pos.CurrentStop, bar.Close, bar.High, bar.Low, atr, breakeven)
	if newStop != pos.CurrentStop {
		cause := "trail"
		if newStop == pos.EntryPrice {
			cause = "breakeven"
		}
		StopMoves.WithLabelValues(pos.Symbol, cause).Inc()
		e.log.Debug("stop moved",
			utils.Symbol(pos.Symbol),
			utils.Float64("from", pos.CurrentStop),
			utils.StopPrice(newStop),
			utils.Reason(cause),
		)
		pos.CurrentStop = newStop
		plan.StopPrice = newStop
		sig.Stop = newStop
		sig.StopMoved = true
	}
	return sig
}

// stopOutcome: стоп в убытке - stop, в ноль - breakeven, в плюсе - target
func stopOutcome(pos *models.PositionState) models.OutcomeKind {
	d := (pos.CurrentStop - pos.EntryPrice) * pos.Side.Sign()
	switch {
	case d < 0:
		return models.OutcomeStop
	case d == 0:
		return models.OutcomeBreakeven
	default:
		return models.OutcomeTarget
	}
}

// ============================================================
// Закрытие
// ============================================================

// Close фиксирует закрытие позиции: снимает её и записывает исход
// в cooldown и хранилище. Исход регистрируется, даже если позиция
// была закрыта вне движка.
func (e *Engine) Close(ctx context.Context, symbol string, kind models.OutcomeKind, ts time.Time) error {
	symbol = utils.NormalizeSymbol(symbol)
	unlock := e.locks.lock(symbol)
	defer unlock()

	if err := e.cooldown.Register(symbol, kind, ts); err != nil {
		return err
	}

	e.posMu.Lock()
	_, had := e.positions[symbol]
	delete(e.positions, symbol)
	OpenPositions.Set(float64(len(e.positions)))
	e.posMu.Unlock()

	e.log.Info("position closed", utils.Symbol(symbol), utils.Reason(string(kind)), utils.Bool("tracked", had))

	if e.sink != nil {
		e.sink.BroadcastExit(ExitSignal{Symbol: symbol, Exit: true, Kind: kind})
	}
	if e.outcomes != nil {
		ev := &models.OutcomeEvent{Symbol: symbol, Kind: kind, Time: ts}
		if err := e.outcomes.Insert(ctx, ev); err != nil {
			e.log.Error("failed to persist outcome", utils.Symbol(symbol), utils.Err(err))
		}
	}
	return nil
}

// RestoreCooldowns загружает недавние исходы из хранилища в трекер
func (e *Engine) RestoreCooldowns(ctx context.Context) error {
	if e.outcomes == nil {
		return nil
	}
	since := e.now().Add(-(e.cfg.Cooldown.Lookback + e.cfg.Cooldown.Duration))
	events, err := e.outcomes.Since(ctx, since)
	if err != nil {
		return fmt.Errorf("restore cooldowns: %w", err)
	}
	skipped := e.cooldown.Restore(events)
	e.log.Info("cooldown history restored", utils.Int("events", len(events)), utils.Int("skipped", skipped))
	return nil
}

// ============================================================
// Чтение состояния
// ============================================================

// Position возвращает копию позиции
func (e *Engine) Position(symbol string) (models.PositionState, bool) {
	e.posMu.RLock()
	defer e.posMu.RUnlock()
	p, ok := e.positions[utils.NormalizeSymbol(symbol)]
	if !ok {
		return models.PositionState{}, false
	}
	return *p, true
}

// Positions возвращает копии открытых позиций, отсортированные по символу
func (e *Engine) Positions() []models.PositionState {
	e.posMu.RLock()
	out := make([]models.PositionState, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	e.posMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// CooldownStatus возвращает состояние cooldown символа на текущий момент
func (e *Engine) CooldownStatus(symbol string) CooldownStatus {
	return e.cooldown.Status(utils.NormalizeSymbol(symbol), e.now())
}
