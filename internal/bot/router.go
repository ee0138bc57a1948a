package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/retry"
	"scalper/pkg/utils"
)

// ============================================================
// Order Router
// ============================================================
//
// Переводит принятое решение в ордера на бирже:
//
//	Placing → AwaitingFill → {Accepted | Reprice} → (loop) → FallbackMarket → {Accepted | Rejected}
//
// Точки ожидания: окно исполнения, backoff перед репрайсом и
// ограниченное SettleWait ожидание финального статуса после отмены.
// Ожидания не прерываются контекстом: попытка доходит до конца цикла
// или фиксированного таймаута fallback. Контекст ограничивает только
// сетевые вызовы к бирже.
//
// Подписка ордера без финального статуса остаётся открытой до конца
// маршрута: поздние исполнения учитываются до расчёта остатка и в отчёте.

// ErrValidation - некорректный запрос (ничего не отправлено на биржу)
var ErrValidation = errors.New("validation failed")

// FallbackTickSize - tick, если не задан ни для символа, ни по умолчанию
const FallbackTickSize = 0.01

// TickLookup возвращает tick size символа
type TickLookup func(symbol string) (float64, bool)

// Router исполняет OrderRequest против Exchange.
//
// Роутер не держит состояние между вызовами и безопасен для
// параллельного использования разными символами.
type Router struct {
	cfg   config.RouterConfig
	ticks TickLookup
	fills exchange.FillSource
	log   *utils.Logger

	// подменяются в тестах
	now   func() time.Time
	sleep func(time.Duration)
	newID func() string
}

// NewRouter создаёт роутер
func NewRouter(cfg config.RouterConfig, ticks TickLookup, fills exchange.FillSource, log *utils.Logger) *Router {
	if log == nil {
		log = utils.L()
	}
	return &Router{
		cfg:   cfg,
		ticks: ticks,
		fills: fills,
		log:   log.WithComponent("router"),
		now:   time.Now,
		sleep: time.Sleep,
		newID: uuid.NewString,
	}
}

// TickSize возвращает tick символа с fallback на значение по умолчанию
func (r *Router) TickSize(symbol string) float64 {
	if r.ticks != nil {
		if tick, ok := r.ticks(symbol); ok && tick > 0 {
			return tick
		}
	}
	if r.cfg.DefaultTick > 0 {
		return r.cfg.DefaultTick
	}
	return FallbackTickSize
}

// Backoff возвращает паузу перед репрайсом после итерации i (с нуля)
func (r *Router) Backoff(i int) time.Duration {
	return r.cfg.BackoffBase + time.Duration(i)*r.cfg.BackoffStep
}

// ValidateRequest проверяет запрос до отправки чего-либо на биржу
func ValidateRequest(req models.OrderRequest) error {
	var errs utils.ValidationErrors
	errs.Add("symbol", utils.ValidateSymbol(req.Symbol))
	if !req.Side.Valid() {
		errs.Add("side", fmt.Errorf("must be BUY or SELL, got %q", req.Side))
	}
	errs.Add("quantity", utils.ValidatePositive(req.Quantity))
	errs.Add("limit_price", utils.ValidatePositive(req.LimitPrice))
	errs.Add("max_reprices", utils.ValidateNonNegativeInt(req.MaxReprices))
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Route исполняет запрос.
//
// Возвращает ровно один отчёт. Отказы (market запрещён, fallback не
// исполнился) - это Accepted=false с Reason, без ошибки. Ошибка
// возвращается только при невалидном запросе (отчёт nil) и при сбое
// отправки ордера (отчёт с Reason=ReasonSubmissionFailed и всем, что
// успело исполниться до сбоя).
func (r *Router) Route(ctx context.Context, ex exchange.Exchange, req models.OrderRequest) (*models.RouteReport, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	run := &routeRun{
		r:     r,
		ex:    ex,
		req:   req,
		tick:  r.TickSize(req.Symbol),
		start: r.now(),
		sm:    newRouteMachine(),
		log:   r.log.WithSymbol(req.Symbol).With(utils.Side(string(req.Side))),
	}
	report, err := run.execute(ctx)
	run.closePending()

	result := "rejected"
	switch {
	case err != nil:
		result = "error"
	case report.Accepted:
		result = "accepted"
	}
	RecordRoute(req.Symbol, result, float64(report.LatencyMs), report.SlippageBp)

	return report, err
}

// routeRun - состояние одного вызова Route
type routeRun struct {
	r     *Router
	ex    exchange.Exchange
	req   models.OrderRequest
	tick  float64
	start time.Time
	sm    *routeMachine
	book  fillBook
	log   *utils.Logger

	attempts   int
	usedMarket bool

	// подписки ордеров, по которым ещё не было финального статуса
	pending []*exchange.FillWatch
}

func (run *routeRun) execute(ctx context.Context) (*models.RouteReport, error) {
	req := run.req
	cfg := run.r.cfg
	price := req.LimitPrice

	for i := 0; i < req.MaxReprices; i++ {
		if i > 0 {
			run.collectLate(0)
			if run.ratioReached() {
				run.sm.mustTransition(models.RouteStateAccepted)
				return run.accept(req.LimitPrice), nil
			}
			run.sm.mustTransition(models.RouteStatePlacing)
		}

		spec := exchange.OrderSpec{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Type:     exchange.OrderTypeLimit,
			Quantity: run.remaining(),
			Price:    price,
			TIF:      exchange.TIFGoodTillCancel,
		}
		final, err := run.place(ctx, spec, cfg.FillWait, price)
		if err != nil {
			return run.fail(price, err)
		}
		run.attempts++

		if run.ratioReached() {
			run.sm.mustTransition(models.RouteStateAccepted)
			return run.accept(req.LimitPrice), nil
		}
		run.log.Debug("limit not filled enough",
			utils.Attempt(i+1),
			utils.Price(price),
			utils.Float64("fill_ratio", run.book.qty/req.Quantity),
			utils.Bool("order_final", final),
		)

		if i == req.MaxReprices-1 {
			break
		}

		run.sm.mustTransition(models.RouteStateReprice)
		run.r.sleep(run.r.Backoff(i))

		next := utils.ShiftTicks(price, run.tick, int(req.Side.Sign()))
		if next <= 0 {
			run.log.Warn("reprice would make price non-positive", utils.Price(price))
			break
		}
		RepricesTotal.WithLabelValues(req.Symbol).Inc()
		price = next
	}

	run.collectLate(0)
	if run.ratioReached() {
		run.sm.mustTransition(models.RouteStateAccepted)
		return run.accept(req.LimitPrice), nil
	}

	if req.ForbidMarket {
		MarketFallbacks.WithLabelValues(req.Symbol, "forbidden").Inc()
		run.sm.mustTransition(models.RouteStateRejected)
		run.log.Info("route rejected", utils.Reason(models.ReasonMarketForbidden))
		return run.reject(models.ReasonMarketForbidden, req.LimitPrice), nil
	}

	run.sm.mustTransition(models.RouteStateFallbackMarket)
	MarketFallbacks.WithLabelValues(req.Symbol, "submitted").Inc()
	run.usedMarket = true

	before := run.book.qty
	spec := exchange.OrderSpec{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     exchange.OrderTypeMarket,
		Quantity: run.remaining(),
		TIF:      exchange.TIFImmediateOrCancel,
	}
	if _, err := run.place(ctx, spec, cfg.FallbackWait, price); err != nil {
		return run.fail(price, err)
	}

	if run.book.qty > before && run.ratioReached() {
		run.sm.mustTransition(models.RouteStateAccepted)
		return run.accept(price), nil
	}

	run.sm.mustTransition(models.RouteStateRejected)
	run.log.Warn("route rejected", utils.Reason(models.ReasonFallbackFailed),
		utils.Volume(run.book.qty))
	return run.reject(models.ReasonFallbackFailed, price), nil
}

// place отправляет ордер и ждёт исполнений в окне window.
// Подписка на исполнения делается до отправки. Лимитный остаток
// снимается, затем до SettleWait ждём финальный статус. Без него
// подписка уходит в pending. Возвращает, пришёл ли финальный статус.
func (run *routeRun) place(ctx context.Context, spec exchange.OrderSpec, window time.Duration, price float64) (bool, error) {
	spec.ClientOrderID = run.r.newID()

	var watch *exchange.FillWatch
	if run.r.fills != nil {
		watch = run.r.fills.Watch(spec.ClientOrderID)
	}

	ack, err := run.r.submit(ctx, run.ex, spec)
	if err != nil {
		// ордер мог дойти до биржи несмотря на ошибку
		if watch != nil {
			run.pending = append(run.pending, watch)
		}
		return false, fmt.Errorf("submit %s order %s at %.8f: %w", spec.Type, spec.ClientOrderID, price, err)
	}
	run.sm.mustTransitionIf(models.RouteStatePlacing, models.RouteStateAwaitingFill)

	log := run.log.WithOrderID(ack.OrderID)
	log.Debug("order accepted by exchange",
		utils.String("type", string(spec.Type)),
		utils.Price(spec.Price),
		utils.Volume(spec.Quantity),
	)

	if watch == nil {
		return false, nil
	}

	final := run.await(watch, window, spec.Quantity)
	if !final {
		if spec.Type == exchange.OrderTypeLimit {
			run.cancelRemainder(ctx, spec.Symbol, ack.OrderID, log)
		}
		final = run.settle(watch, run.r.cfg.SettleWait)
	}
	if final {
		watch.Close()
	} else {
		log.Warn("order not confirmed final, keep watching for late fills")
		run.pending = append(run.pending, watch)
	}
	return final, nil
}

// await собирает исполнения до конца окна, финального статуса ордера
// или достижения порога принятия
func (run *routeRun) await(watch *exchange.FillWatch, window time.Duration, orderQty float64) bool {
	timer := time.NewTimer(window)
	defer timer.Stop()

	var orderFilled float64
	for {
		select {
		case u, ok := <-watch.C:
			if !ok {
				return true
			}
			if u.IsFill() {
				orderFilled += u.FillQty
				run.book.add(run.fillFrom(u))
			}
			if u.IsFinal() || orderFilled >= orderQty {
				return true
			}
			if run.ratioReached() {
				return false
			}
		case <-timer.C:
			return false
		}
	}
}

// settle забирает исполнения, пока не придёт финальный статус или не
// истечёт wait. wait <= 0 - только уже доставленные события.
func (run *routeRun) settle(watch *exchange.FillWatch, wait time.Duration) bool {
	if wait <= 0 {
		for {
			select {
			case u, ok := <-watch.C:
				if run.absorb(u, ok) {
					return true
				}
			default:
				return false
			}
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case u, ok := <-watch.C:
			if run.absorb(u, ok) {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// absorb учитывает событие, true - по ордеру событий больше не будет
func (run *routeRun) absorb(u exchange.OrderUpdate, ok bool) bool {
	if !ok {
		return true
	}
	if u.IsFill() {
		run.book.add(run.fillFrom(u))
	}
	return u.IsFinal()
}

// collectLate забирает поздние исполнения по прошлым ордерам маршрута.
// Общее ожидание по всем подпискам не дольше wait.
func (run *routeRun) collectLate(wait time.Duration) {
	deadline := time.Now().Add(wait)
	open := run.pending[:0]
	for _, w := range run.pending {
		if run.settle(w, time.Until(deadline)) {
			w.Close()
			continue
		}
		open = append(open, w)
	}
	run.pending = open
}

func (run *routeRun) closePending() {
	for _, w := range run.pending {
		w.Close()
	}
	run.pending = nil
}

func (run *routeRun) cancelRemainder(ctx context.Context, symbol, orderID string, log *utils.Logger) {
	c, ok := run.ex.(exchange.Canceler)
	if !ok {
		return
	}
	if err := c.CancelOrder(ctx, symbol, orderID); err != nil && !errors.Is(err, exchange.ErrCancelNotSupported) {
		log.Warn("failed to cancel limit remainder", utils.Err(err))
	}
}

func (run *routeRun) fillFrom(u exchange.OrderUpdate) models.Fill {
	ts := u.Time
	if ts.IsZero() {
		ts = run.r.now()
	}
	return models.Fill{OrderID: u.OrderID, Price: u.FillPrice, Quantity: u.FillQty, Time: ts}
}

func (run *routeRun) remaining() float64 {
	rem := run.req.Quantity - run.book.qty
	if rem < 0 {
		return 0
	}
	return rem
}

func (run *routeRun) ratioReached() bool {
	return run.book.qty/run.req.Quantity >= run.r.cfg.AcceptRatio
}

// report собирает итоговый отчёт. reference - цена для проскальзывания.
// Перед сборкой ждём поздние исполнения по незакрытым ордерам.
func (run *routeRun) report(reference float64) *models.RouteReport {
	run.collectLate(run.r.cfg.SettleWait)
	if n := len(run.pending); n > 0 {
		run.log.Warn("route closed with unconfirmed orders", utils.Int("orders", n))
	}

	rep := &models.RouteReport{
		Symbol:       run.req.Symbol,
		Side:         run.req.Side,
		RequestedQty: run.req.Quantity,
		LimitPrice:   run.req.LimitPrice,
		FilledQty:    run.book.qty,
		Fills:        run.book.fills,
		FinalState:   run.sm.state,
		Attempts:     run.attempts,
		UsedMarket:   run.usedMarket,
		LatencyMs:    run.r.now().Sub(run.start).Milliseconds(),
		CreatedAt:    run.start,
	}
	if rep.Fills == nil {
		rep.Fills = []models.Fill{}
	}
	if run.book.qty > 0 {
		rep.AvgFillPrice = run.book.avg()
		rep.SlippageBp = utils.SlippageBps(rep.AvgFillPrice, reference)
	}
	return rep
}

func (run *routeRun) accept(reference float64) *models.RouteReport {
	rep := run.report(reference)
	rep.Accepted = true
	run.log.Info("route accepted",
		utils.Price(rep.AvgFillPrice),
		utils.Volume(rep.FilledQty),
		utils.SlippageBp(rep.SlippageBp),
		utils.Latency(float64(rep.LatencyMs)),
		utils.Attempt(rep.Attempts),
		utils.Bool("market", rep.UsedMarket),
	)
	return rep
}

func (run *routeRun) reject(reason string, reference float64) *models.RouteReport {
	rep := run.report(reference)
	rep.Reason = reason
	return rep
}

// fail завершает маршрут после ошибки отправки: отчёт + ошибка
func (run *routeRun) fail(price float64, err error) (*models.RouteReport, error) {
	run.log.Error("order submission failed", utils.Err(err), utils.State(string(run.sm.state)))
	run.sm.mustTransition(models.RouteStateRejected)
	return run.reject(models.ReasonSubmissionFailed, price), err
}

// submit отправляет ордер. По умолчанию без повторов: ошибка сразу уходит
// вызывающему. При SubmitRetries > 0 повторяются только временные ошибки.
func (r *Router) submit(ctx context.Context, ex exchange.Exchange, spec exchange.OrderSpec) (*exchange.OrderAck, error) {
	call := func() (*exchange.OrderAck, error) {
		if r.cfg.SubmitTimeout <= 0 {
			return ex.SubmitOrder(ctx, spec)
		}
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SubmitTimeout)
		defer cancel()
		return ex.SubmitOrder(sctx, spec)
	}

	if r.cfg.SubmitRetries <= 0 {
		return call()
	}

	rc := retry.SubmitConfig(r.cfg.SubmitRetries + 1)
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.log.Warn("retrying order submission",
			utils.Symbol(spec.Symbol),
			utils.Attempt(attempt),
			utils.Err(err),
			utils.Dur("delay", delay),
		)
	}
	return retry.DoWithResult(ctx, call, rc)
}

// fillBook - накопленные исполнения по всем ордерам маршрута
type fillBook struct {
	fills []models.Fill
	qty   float64
}

func (b *fillBook) add(f models.Fill) {
	b.fills = append(b.fills, f)
	b.qty += f.Quantity
}

// avg - средневзвешенная цена исполнения
func (b *fillBook) avg() float64 {
	prices := make([]float64, len(b.fills))
	qtys := make([]float64, len(b.fills))
	for i, f := range b.fills {
		prices[i] = f.Price
		qtys[i] = f.Quantity
	}
	return utils.WeightedAverage(prices, qtys)
}
