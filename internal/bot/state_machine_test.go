package bot

import (
	"testing"

	"scalper/internal/models"
)

// TestCanTransition проверяет все переходы state machine роутера
func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.RouteState
		to   models.RouteState
		want bool
	}{
		// Placing
		{"PLACING → AWAITING_FILL (ордер принят)", models.RouteStatePlacing, models.RouteStateAwaitingFill, true},
		{"PLACING → FALLBACK_MARKET (без репрайсов)", models.RouteStatePlacing, models.RouteStateFallbackMarket, true},
		{"PLACING → REJECTED (ошибка отправки)", models.RouteStatePlacing, models.RouteStateRejected, true},
		{"PLACING → ACCEPTED", models.RouteStatePlacing, models.RouteStateAccepted, false},
		{"PLACING → REPRICE", models.RouteStatePlacing, models.RouteStateReprice, false},

		// AwaitingFill
		{"AWAITING_FILL → ACCEPTED", models.RouteStateAwaitingFill, models.RouteStateAccepted, true},
		{"AWAITING_FILL → REPRICE", models.RouteStateAwaitingFill, models.RouteStateReprice, true},
		{"AWAITING_FILL → FALLBACK_MARKET (последняя попытка)", models.RouteStateAwaitingFill, models.RouteStateFallbackMarket, true},
		{"AWAITING_FILL → REJECTED (market запрещён)", models.RouteStateAwaitingFill, models.RouteStateRejected, true},
		{"AWAITING_FILL → PLACING", models.RouteStateAwaitingFill, models.RouteStatePlacing, false},

		// Reprice
		{"REPRICE → PLACING (следующая итерация)", models.RouteStateReprice, models.RouteStatePlacing, true},
		{"REPRICE → FALLBACK_MARKET", models.RouteStateReprice, models.RouteStateFallbackMarket, true},
		{"REPRICE → ACCEPTED (поздние исполнения)", models.RouteStateReprice, models.RouteStateAccepted, true},
		{"REPRICE → AWAITING_FILL", models.RouteStateReprice, models.RouteStateAwaitingFill, false},

		// FallbackMarket
		{"FALLBACK_MARKET → ACCEPTED", models.RouteStateFallbackMarket, models.RouteStateAccepted, true},
		{"FALLBACK_MARKET → REJECTED", models.RouteStateFallbackMarket, models.RouteStateRejected, true},
		{"FALLBACK_MARKET → REPRICE", models.RouteStateFallbackMarket, models.RouteStateReprice, false},

		// Терминальные
		{"ACCEPTED → PLACING", models.RouteStateAccepted, models.RouteStatePlacing, false},
		{"REJECTED → FALLBACK_MARKET", models.RouteStateRejected, models.RouteStateFallbackMarket, false},

		// Неизвестное состояние
		{"UNKNOWN → PLACING", models.RouteState("UNKNOWN"), models.RouteStatePlacing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestTerminalStatesHaveNoExits - из Accepted/Rejected выхода нет
func TestTerminalStatesHaveNoExits(t *testing.T) {
	for state, next := range ValidRouteTransitions {
		if state.IsTerminal() && len(next) != 0 {
			t.Errorf("terminal state %s has transitions %v", state, next)
		}
		if !state.IsTerminal() && len(next) == 0 {
			t.Errorf("non-terminal state %s has no transitions", state)
		}
	}
}

func TestStateInfo(t *testing.T) {
	for state := range ValidRouteTransitions {
		if StateInfo(state) == "Неизвестное состояние" {
			t.Errorf("no description for %s", state)
		}
	}
	if StateInfo("BOGUS") != "Неизвестное состояние" {
		t.Error("unknown state should get the default description")
	}
}

func TestRouteMachine(t *testing.T) {
	m := newRouteMachine()
	if m.state != models.RouteStatePlacing {
		t.Fatalf("initial state = %s, want PLACING", m.state)
	}

	path := []models.RouteState{
		models.RouteStateAwaitingFill,
		models.RouteStateReprice,
		models.RouteStatePlacing,
		models.RouteStateAwaitingFill,
		models.RouteStateFallbackMarket,
		models.RouteStateAccepted,
	}
	for _, s := range path {
		if err := m.transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if len(m.history) != len(path)+1 {
		t.Errorf("history length = %d, want %d", len(m.history), len(path)+1)
	}

	if err := m.transition(models.RouteStatePlacing); err == nil {
		t.Error("transition out of ACCEPTED should fail")
	}

	// mustTransitionIf не трогает машину в другом состоянии
	m2 := newRouteMachine()
	m2.mustTransitionIf(models.RouteStateFallbackMarket, models.RouteStateAccepted)
	if m2.state != models.RouteStatePlacing {
		t.Errorf("mustTransitionIf changed state to %s", m2.state)
	}
}

func TestRouteMachine_MustTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on invalid transition")
		}
	}()
	m := newRouteMachine()
	m.mustTransition(models.RouteStateAccepted)
}
