package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"scalper/internal/bot"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// EngineReader - read-only срез движка для ops API
type EngineReader interface {
	Positions() []models.PositionState
	CooldownStatus(symbol string) bot.CooldownStatus
}

// RouteHistory - журнал исполнений (может отсутствовать без БД)
type RouteHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]*models.RouteReport, error)
}

// максимальный размер выборки журнала
const maxRouteLimit = 500

// EngineHandler обрабатывает HTTP запросы к состоянию движка.
//
// Endpoints:
// - GET /api/v1/positions - открытые позиции
// - GET /api/v1/cooldowns/{symbol} - состояние cooldown символа
// - GET /api/v1/routes/{symbol}?limit=N - последние исполнения
type EngineHandler struct {
	engine EngineReader
	routes RouteHistory
}

// NewEngineHandler создает handler. routes может быть nil.
func NewEngineHandler(engine EngineReader, routes RouteHistory) *EngineHandler {
	return &EngineHandler{engine: engine, routes: routes}
}

// GetPositions возвращает открытые позиции, отсортированные по символу.
//
// GET /api/v1/positions
func (h *EngineHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.Positions()
	if positions == nil {
		positions = []models.PositionState{}
	}
	respondWithJSON(w, http.StatusOK, positions)
}

// GetCooldown возвращает состояние cooldown.
//
// GET /api/v1/cooldowns/{symbol}
//
// Response 200 OK:
//
//	{
//	  "symbol": "BTCUSDT",
//	  "blocked": true,
//	  "blocked_until": "2024-03-01T12:15:00Z",
//	  "loss_streak": 2,
//	  "events": 5
//	}
func (h *EngineHandler) GetCooldown(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])
	if err := utils.ValidateSymbol(symbol); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_symbol", "Invalid symbol format", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, h.engine.CooldownStatus(symbol))
}

// GetRoutes возвращает последние отчёты роутера по символу.
//
// GET /api/v1/routes/{symbol}?limit=50
func (h *EngineHandler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	if h.routes == nil {
		respondWithError(w, http.StatusServiceUnavailable, "storage_disabled", "Route journal is not configured", "")
		return
	}

	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])
	if err := utils.ValidateSymbol(symbol); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_symbol", "Invalid symbol format", err.Error())
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRouteLimit {
			respondWithError(w, http.StatusBadRequest, "invalid_limit", "limit must be in 1..500", raw)
			return
		}
		limit = n
	}

	reports, err := h.routes.Recent(r.Context(), symbol, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
		return
	}
	if reports == nil {
		reports = []*models.RouteReport{}
	}
	respondWithJSON(w, http.StatusOK, reports)
}
