package bot

import (
	"fmt"

	"scalper/internal/models"
)

// ValidRouteTransitions определяет допустимые переходы state machine роутера:
//
//	Placing → AwaitingFill → {Accepted | Reprice} → (loop) → FallbackMarket → {Accepted | Rejected}
var ValidRouteTransitions = map[models.RouteState][]models.RouteState{
	models.RouteStatePlacing: {
		models.RouteStateAwaitingFill,
		models.RouteStateFallbackMarket, // maxReprices == 0
		models.RouteStateRejected,       // ошибка отправки
	},
	models.RouteStateAwaitingFill: {
		models.RouteStateAccepted,
		models.RouteStateReprice,
		models.RouteStateFallbackMarket, // последняя попытка без репрайса
		models.RouteStateRejected,       // forbidMarket после последней попытки
	},
	models.RouteStateReprice: {
		models.RouteStatePlacing,
		models.RouteStateAccepted,       // поздние исполнения добрали порог

		models.RouteStateFallbackMarket, // цену некуда двигать
		models.RouteStateRejected,
	},
	models.RouteStateFallbackMarket: {
		models.RouteStateAccepted,
		models.RouteStateRejected,
	},
	models.RouteStateAccepted: {},
	models.RouteStateRejected: {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.RouteState) bool {
	allowed, ok := ValidRouteTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния
func StateInfo(s models.RouteState) string {
	switch s {
	case models.RouteStatePlacing:
		return "Отправка лимитного ордера"
	case models.RouteStateAwaitingFill:
		return "Ожидание исполнения"
	case models.RouteStateReprice:
		return "Backoff и сдвиг цены на тик"
	case models.RouteStateFallbackMarket:
		return "Добивание рыночным ордером"
	case models.RouteStateAccepted:
		return "Исполнено"
	case models.RouteStateRejected:
		return "Отклонено"
	default:
		return "Неизвестное состояние"
	}
}

// routeMachine - текущее состояние одного вызова Route.
// Недопустимый переход - ошибка программы, а не рынка.
type routeMachine struct {
	state   models.RouteState
	history []models.RouteState
}

func newRouteMachine() *routeMachine {
	return &routeMachine{
		state:   models.RouteStatePlacing,
		history: []models.RouteState{models.RouteStatePlacing},
	}
}

func (m *routeMachine) transition(to models.RouteState) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("invalid route transition %s → %s", m.state, to)
	}
	RecordTransition(string(m.state), string(to))
	m.state = to
	m.history = append(m.history, to)
	return nil
}

// mustTransition используется там, где переход гарантирован структурой цикла
func (m *routeMachine) mustTransition(to models.RouteState) {
	if err := m.transition(to); err != nil {
		panic(err)
	}
}

// mustTransitionIf выполняет переход, только если машина в состоянии from
func (m *routeMachine) mustTransitionIf(from, to models.RouteState) {
	if m.state == from {
		m.mustTransition(to)
	}
}
