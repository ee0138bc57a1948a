package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalper/internal/api/handlers"
	"scalper/internal/api/middleware"
	"scalper/internal/config"
	"scalper/pkg/utils"
)

// Dependencies содержит все зависимости ops API
type Dependencies struct {
	Engine handlers.EngineReader
	Routes handlers.RouteHistory // nil без БД
	Events http.Handler          // WebSocket поток событий, nil - выключен
	Server config.ServerConfig
	Logger *utils.Logger
}

// SetupRoutes настраивает HTTP маршруты ops сервера.
//
// Структура маршрутов:
//
//	/health                     - liveness
//	/metrics                    - prometheus
//	/api/v1/
//	├── GET /positions          - открытые позиции
//	├── GET /cooldowns/{symbol} - состояние cooldown
//	└── GET /routes/{symbol}    - журнал исполнений
//	/ws/events                  - поток событий движка
//
// API только читает состояние, управляющих эндпоинтов нет.
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BasicAuth (только /api/v1, если заданы OPS_USERNAME/OPS_PASSWORD)
func SetupRoutes(deps *Dependencies) *mux.Router {
	log := deps.Logger
	if log == nil {
		log = utils.L()
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS(deps.Server.CORSOrigins))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if deps.Engine != nil {
		h := handlers.NewEngineHandler(deps.Engine, deps.Routes)

		api := router.PathPrefix("/api/v1").Subrouter()
		api.Use(middleware.BasicAuth(deps.Server.OpsUsername, deps.Server.OpsPassword))

		api.HandleFunc("/positions", h.GetPositions).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/cooldowns/{symbol}", h.GetCooldown).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/routes/{symbol}", h.GetRoutes).Methods(http.MethodGet, http.MethodOptions)
	}

	if deps.Events != nil {
		router.Handle("/ws/events", deps.Events)
	}

	return router
}
