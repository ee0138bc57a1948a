package websocket

import (
	"time"

	"scalper/internal/bot"
	"scalper/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeRoute - завершённый вызов роутера (принят или отклонён)
	MessageTypeRoute MessageType = "route"

	// MessageTypePosition - открыта позиция или изменился её стоп
	MessageTypePosition MessageType = "position"

	// MessageTypeExit - сигнал выхода или перенос стопа
	MessageTypeExit MessageType = "exit"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RouteMessage - отчёт роутера.
// Fills уходят клиенту целиком: при отказе частичные исполнения тоже видны.
type RouteMessage struct {
	BaseMessage
	Data *models.RouteReport `json:"data"`
}

// PositionMessage - снимок позиции
type PositionMessage struct {
	BaseMessage
	Data PositionData `json:"data"`
}

// PositionData - данные позиции для клиента
type PositionData struct {
	Symbol         string      `json:"symbol"`
	Side           models.Side `json:"side"`
	EntryPrice     float64     `json:"entry_price"`
	Quantity       float64     `json:"quantity"`
	CurrentStop    float64     `json:"current_stop"`
	TakeProfit1    float64     `json:"take_profit_1"`
	TakeProfit2    float64     `json:"take_profit_2,omitempty"`
	FirstTargetHit bool        `json:"first_target_hit"`
	Model          string      `json:"model"`
	BarsHeld       int         `json:"bars_held"`
	OpenedAt       time.Time   `json:"opened_at"`
}

// ExitMessage - сигнал движка по позиции
type ExitMessage struct {
	BaseMessage
	Data bot.ExitSignal `json:"data"`
}

// ============ Конструкторы сообщений ============

// NewRouteMessage создает сообщение об исполнении
func NewRouteMessage(r *models.RouteReport) *RouteMessage {
	return &RouteMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRoute, Timestamp: time.Now()},
		Data:        r,
	}
}

// NewPositionMessage создает сообщение из состояния позиции
func NewPositionMessage(p models.PositionState) *PositionMessage {
	return &PositionMessage{
		BaseMessage: BaseMessage{Type: MessageTypePosition, Timestamp: time.Now()},
		Data: PositionData{
			Symbol:         p.Symbol,
			Side:           p.Side,
			EntryPrice:     p.EntryPrice,
			Quantity:       p.Quantity,
			CurrentStop:    p.CurrentStop,
			TakeProfit1:    p.Plan.TakeProfit1,
			TakeProfit2:    p.Plan.TakeProfit2,
			FirstTargetHit: p.FirstTargetHit,
			Model:          string(p.Model),
			BarsHeld:       p.BarsHeld,
			OpenedAt:       p.OpenedAt,
		},
	}
}

// NewExitMessage создает сообщение о выходе
func NewExitMessage(sig bot.ExitSignal) *ExitMessage {
	return &ExitMessage{
		BaseMessage: BaseMessage{Type: MessageTypeExit, Timestamp: time.Now()},
		Data:        sig,
	}
}
