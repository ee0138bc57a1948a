package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"scalper/internal/api"
	"scalper/internal/bot"
	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/repository"
	"scalper/internal/websocket"
	"scalper/pkg/ratelimit"
	"scalper/pkg/retry"
	"scalper/pkg/utils"
)

func main() {
	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", utils.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============ Хранилище (опционально) ============

	var (
		routeRepo   *repository.RouteRepository
		outcomeRepo *repository.OutcomeRepository
	)
	if cfg.Database.Enabled {
		db, err := initDatabase(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		routeRepo = repository.NewRouteRepository(db)
		outcomeRepo = repository.NewOutcomeRepository(db)
		log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	} else {
		log.Warn("database disabled: route journal and cooldown history are in-memory only")
	}

	// ============ Поток событий ============

	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	// ============ Биржа ============

	fills := exchange.NewFillHub(cfg.Feed.WatchBuffer)

	raw, err := exchange.NewExchange(cfg.Exchange.Mode, exchange.Options{
		Hub: fills,
		Paper: exchange.PaperConfig{
			Name:             "paper",
			FillDelay:        cfg.Exchange.PaperFillDelay,
			MarketSlippageBp: cfg.Exchange.PaperSlippageBp,
			LimitFillRatio:   cfg.Exchange.PaperFillRatio,
		},
		Gateway: exchange.GatewayConfig{
			Name:      "gateway",
			BaseURL:   cfg.Exchange.GatewayURL,
			APIKey:    cfg.Exchange.APIKey,
			SecretKey: cfg.Exchange.APISecret,
			Category:  cfg.Exchange.Category,
			HTTP:      exchange.HTTPClientConfigForBudget(cfg.Router.SubmitTimeout),
		},
	})
	if err != nil {
		return fmt.Errorf("create exchange: %w", err)
	}
	if c, ok := raw.(interface{ Close() }); ok {
		defer c.Close()
	}

	limiters := ratelimit.NewMultiLimiter()
	limiters.Add(exchange.CategoryOrder, cfg.RateLimit.OrdersPerSec, cfg.RateLimit.OrderBurst)
	limiters.Add(exchange.CategoryCancel, cfg.RateLimit.CancelsPerSec, cfg.RateLimit.CancelBurst)
	ex := exchange.NewRateLimited(raw, limiters)

	// поток исполнений нужен только живой бирже; paper публикует в hub сам
	if gw, ok := raw.(*exchange.Gateway); ok && cfg.Exchange.FeedURL != "" {
		feed := exchange.NewWSFeed(gw.GetName(), cfg.Exchange.FeedURL, exchange.WSReconnectConfig{
			InitialDelay:   cfg.Feed.ReconnectInitial,
			MaxDelay:       cfg.Feed.ReconnectMax,
			MaxRetries:     cfg.Feed.MaxRetries,
			ConnectTimeout: cfg.Feed.ConnectTimeout,
			PingInterval:   cfg.Feed.PingInterval,
			PongTimeout:    cfg.Feed.PongTimeout,
		}, fills)
		feed.SetAuthFunc(gw.AuthFunc())
		feed.SetOnConnect(func() {
			log.Info("order feed connected", utils.String("url", cfg.Exchange.FeedURL))
		})
		feed.AddSubscription(map[string]interface{}{"op": "subscribe", "args": []string{"order"}})
		if err := feed.Connect(); err != nil {
			return fmt.Errorf("connect order feed: %w", err)
		}
		defer feed.Close()
	}

	// ============ Движок ============

	deps := bot.Deps{
		Exchange: ex,
		Fills:    fills,
		Sink:     hub,
		Logger:   log,
	}
	if routeRepo != nil {
		deps.Routes = routeRepo
		deps.Outcomes = outcomeRepo
	}

	engine, err := bot.NewEngine(cfg, deps)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if outcomeRepo != nil {
		if err := engine.RestoreCooldowns(ctx); err != nil {
			log.Warn("restore cooldowns failed", utils.Err(err))
		}
		if keep := cfg.Database.OutcomeRetention; keep > 0 {
			n, err := outcomeRepo.DeleteBefore(ctx, time.Now().Add(-keep))
			if err != nil {
				log.Warn("outcome retention failed", utils.Err(err))
			} else if n > 0 {
				log.Info("old outcomes pruned", utils.Int64("deleted", n))
			}
		}
	}

	// ============ Ops HTTP ============

	apiDeps := &api.Dependencies{
		Engine: engine,
		Events: http.HandlerFunc(hub.ServeWS),
		Server: cfg.Server,
		Logger: log,
	}
	if routeRepo != nil {
		apiDeps.Routes = routeRepo
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(apiDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting ops server",
			utils.String("addr", server.Addr),
			utils.String("mode", cfg.Exchange.Mode),
			utils.Int("symbols", len(cfg.Symbols.List())),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("ops server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited", utils.Int("open_positions", len(engine.Positions())))
	return nil
}

// initDatabase открывает Postgres и ждёт готовности с повторами
func initDatabase(ctx context.Context, cfg *config.Config, log *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCfg := retry.DefaultConfig()
	pingCfg.RetryIf = func(error) bool { return true }
	pingCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready", utils.Attempt(attempt), utils.Err(err), utils.Dur("retry_in", delay))
	}

	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, pingCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
