package models

import "time"

// RouteState - состояние машины исполнения ордера
type RouteState string

// Состояния роутера (state machine)
const (
	RouteStatePlacing        RouteState = "PLACING"         // отправка лимитного ордера
	RouteStateAwaitingFill   RouteState = "AWAITING_FILL"   // окно ожидания исполнений
	RouteStateReprice        RouteState = "REPRICE"         // backoff и сдвиг цены на тик
	RouteStateFallbackMarket RouteState = "FALLBACK_MARKET" // добивание рыночным ордером
	RouteStateAccepted       RouteState = "ACCEPTED"
	RouteStateRejected       RouteState = "REJECTED"
)

// IsTerminal - конечное состояние
func (s RouteState) IsTerminal() bool {
	return s == RouteStateAccepted || s == RouteStateRejected
}

// Причины отказа (человекочитаемые, уходят в отчёт и журнал)
const (
	ReasonMarketForbidden  = "market forbidden by policy/NSW"
	ReasonFallbackFailed   = "fallback market fill failed"
	ReasonSubmissionFailed = "order submission failed"
)

// RouteReport - результат одного вызова роутера.
//
// Создаётся ровно один раз на вызов. При отказе Fills/FilledQty всё равно
// заполнены, если что-то успело исполниться: леджер должен это увидеть.
type RouteReport struct {
	ID           int64      `json:"id,omitempty"`
	Symbol       string     `json:"symbol"`
	Side         Side       `json:"side"`
	RequestedQty float64    `json:"requested_qty"`
	LimitPrice   float64    `json:"limit_price"`
	Accepted     bool       `json:"accepted"`
	AvgFillPrice float64    `json:"avg_fill_price"`
	FilledQty    float64    `json:"filled_qty"`
	SlippageBp   float64    `json:"slippage_bp"`
	LatencyMs    int64      `json:"latency_ms"`
	Fills        []Fill     `json:"fills"`
	Reason       string     `json:"reason,omitempty"`
	FinalState   RouteState `json:"final_state"`
	Attempts     int        `json:"attempts"`    // отправленных лимитных ордеров
	UsedMarket   bool       `json:"used_market"` // был ли рыночный fallback
	CreatedAt    time.Time  `json:"created_at"`
}

// FillRatio - доля исполненного объёма
func (r *RouteReport) FillRatio() float64 {
	if r.RequestedQty <= 0 {
		return 0
	}
	return r.FilledQty / r.RequestedQty
}
