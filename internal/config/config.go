package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scalper/pkg/crypto"
)

// ErrConfiguration - фатальная ошибка конфигурации, обнаруживается при старте
var ErrConfiguration = errors.New("configuration error")

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Exchange  ExchangeConfig
	Symbols   SymbolsConfig
	Router    RouterConfig
	Exit      ExitConfig
	TimeBox   TimeBoxConfig
	Cooldown  CooldownConfig
	Guard     GuardConfig
	Feed      FeedConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки ops HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration

	// Basic auth для /api/v1; пустые значения - без авторизации
	OpsUsername string
	OpsPassword string
	CORSOrigins string // comma-separated
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Enabled  bool
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// исходы старше удаляются при старте, 0 - не удалять
	OutcomeRetention time.Duration
}

// ExchangeConfig - режим исполнения
type ExchangeConfig struct {
	Mode       string // paper | gateway
	GatewayURL string
	FeedURL    string // приватный WebSocket поток ордеров
	APIKey     string
	APISecret  string
	Category   string

	// параметры paper режима
	PaperFillDelay  time.Duration
	PaperSlippageBp float64
	PaperFillRatio  float64
}

// SymbolsConfig - торгуемые символы и их шаг цены
type SymbolsConfig struct {
	File        string             // YAML файл символов
	TickSizes   map[string]float64 // символ -> tick size
	DefaultTick float64            // для символов без записи в таблице
}

// TickSize возвращает шаг цены символа
func (s SymbolsConfig) TickSize(symbol string) (float64, bool) {
	tick, ok := s.TickSizes[symbol]
	return tick, ok && tick > 0
}

// List возвращает отсортированный список символов
func (s SymbolsConfig) List() []string {
	out := make([]string, 0, len(s.TickSizes))
	for sym := range s.TickSizes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RouterConfig - параметры роутера ордеров
type RouterConfig struct {
	AcceptRatio   float64       // доля исполнения для Accepted
	FillWait      time.Duration // окно ожидания исполнения лимитного ордера
	BackoffBase   time.Duration // backoff = base + step × i
	BackoffStep   time.Duration
	FallbackWait  time.Duration // окно ожидания market fallback
	SettleWait    time.Duration // ожидание финального статуса после отмены / окна
	DefaultTick   float64       // tick для неизвестного символа
	SubmitRetries int           // повторы временных ошибок отправки (0 = без повторов)
	SubmitTimeout time.Duration // таймаут одного запроса отправки
}

// ExitConfig - параметры плана выхода
type ExitConfig struct {
	TrailMode       string // chandelier | prev_candle
	ATRMultiplier   float64
	DefaultRR       float64
	MoveToBreakeven bool
	DefaultTick     float64
}

// TimeBoxConfig - жёсткий тайм-бокс позиции
type TimeBoxConfig struct {
	MaxHold time.Duration
	MaxBars int
}

// CooldownConfig - блокировка входа после серии убытков
type CooldownConfig struct {
	LossStreak int           // N последних исходов-стопов подряд
	Lookback   time.Duration // окно, в котором ищется серия
	Duration   time.Duration // длительность блокировки от последнего стопа
	MaxHistory int           // сколько событий храним на символ
}

// GuardConfig - фильтры свежести и микроструктуры
type GuardConfig struct {
	MaxSignalAge     time.Duration
	SpreadCapBp      float64 // если политика не задаёт свой
	HighImpactFactor float64 // ужесточение капа при high impact
	MaxLatencyMs     float64
	MaxQuoteAgeMs    float64
	MinDepthRatio    float64
}

// FeedConfig - переподключение WebSocket потока ордеров
type FeedConfig struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	MaxRetries       int
	ConnectTimeout   time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WatchBuffer      int
}

// RateLimitConfig - лимиты запросов к бирже
type RateLimitConfig struct {
	OrdersPerSec  float64
	OrderBurst    int
	CancelsPerSec float64
	CancelBurst   int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			OpsUsername:     getEnv("OPS_USERNAME", ""),
			OpsPassword:     getEnv("OPS_PASSWORD", ""),
			CORSOrigins:     getEnv("CORS_ALLOWED_ORIGINS", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "scalper"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),

			OutcomeRetention: getEnvAsDuration("OUTCOME_RETENTION", 7*24*time.Hour),
		},
		Exchange: ExchangeConfig{
			Mode:            strings.ToLower(getEnv("EXCHANGE_MODE", "paper")),
			GatewayURL:      getEnv("GATEWAY_URL", ""),
			FeedURL:         getEnv("FEED_URL", ""),
			APIKey:          getEnv("GATEWAY_API_KEY", ""),
			APISecret:       getEnv("GATEWAY_API_SECRET", ""),
			Category:        getEnv("GATEWAY_CATEGORY", "linear"),
			PaperFillDelay:  getEnvAsDuration("PAPER_FILL_DELAY", 20*time.Millisecond),
			PaperSlippageBp: getEnvAsFloat("PAPER_SLIPPAGE_BP", 1),
			PaperFillRatio:  getEnvAsFloat("PAPER_FILL_RATIO", 1),
		},
		Symbols: SymbolsConfig{
			File:        getEnv("SYMBOLS_FILE", ""),
			TickSizes:   make(map[string]float64),
			DefaultTick: getEnvAsFloat("DEFAULT_TICK", 0.01),
		},
		Router: RouterConfig{
			AcceptRatio:   getEnvAsFloat("ROUTER_ACCEPT_RATIO", 0.5),
			FillWait:      getEnvAsDuration("ROUTER_FILL_WAIT", 120*time.Millisecond),
			BackoffBase:   getEnvAsDuration("ROUTER_BACKOFF_BASE", 80*time.Millisecond),
			BackoffStep:   getEnvAsDuration("ROUTER_BACKOFF_STEP", 30*time.Millisecond),
			FallbackWait:  getEnvAsDuration("ROUTER_FALLBACK_WAIT", 250*time.Millisecond),
			SettleWait:    getEnvAsDuration("ROUTER_SETTLE_WAIT", 150*time.Millisecond),
			SubmitRetries: getEnvAsInt("ROUTER_SUBMIT_RETRIES", 0),
			SubmitTimeout: getEnvAsDuration("ROUTER_SUBMIT_TIMEOUT", 2*time.Second),
		},
		Exit: ExitConfig{
			TrailMode:       getEnv("EXIT_TRAIL_MODE", "chandelier"),
			ATRMultiplier:   getEnvAsFloat("EXIT_ATR_MULT", 1.5),
			DefaultRR:       getEnvAsFloat("EXIT_DEFAULT_RR", 1.5),
			MoveToBreakeven: getEnvAsBool("EXIT_MOVE_TO_BREAKEVEN", true),
		},
		TimeBox: TimeBoxConfig{
			MaxHold: getEnvAsDuration("MAX_HOLD", 150*time.Second),
			MaxBars: getEnvAsInt("MAX_BARS", 3),
		},
		Cooldown: CooldownConfig{
			LossStreak: getEnvAsInt("COOLDOWN_LOSS_STREAK", 2),
			Lookback:   getEnvAsDuration("COOLDOWN_LOOKBACK", 30*time.Minute),
			Duration:   getEnvAsDuration("COOLDOWN_DURATION", 10*time.Minute),
			MaxHistory: getEnvAsInt("COOLDOWN_MAX_HISTORY", 64),
		},
		Guard: GuardConfig{
			MaxSignalAge:     getEnvAsDuration("GUARD_MAX_SIGNAL_AGE", 5*time.Second),
			SpreadCapBp:      getEnvAsFloat("GUARD_SPREAD_CAP_BP", 2.5),
			HighImpactFactor: getEnvAsFloat("GUARD_HIGH_IMPACT_FACTOR", 0.8),
			MaxLatencyMs:     getEnvAsFloat("GUARD_MAX_LATENCY_MS", 250),
			MaxQuoteAgeMs:    getEnvAsFloat("GUARD_MAX_QUOTE_AGE_MS", 500),
			MinDepthRatio:    getEnvAsFloat("GUARD_MIN_DEPTH_RATIO", 0.8),
		},
		Feed: FeedConfig{
			ReconnectInitial: getEnvAsDuration("WS_RECONNECT_DELAY", 1*time.Second),
			ReconnectMax:     getEnvAsDuration("WS_RECONNECT_MAX_DELAY", 8*time.Second),
			MaxRetries:       getEnvAsInt("WS_MAX_RETRIES", 0),
			ConnectTimeout:   getEnvAsDuration("WS_CONNECT_TIMEOUT", 5*time.Second),
			PingInterval:     getEnvAsDuration("WS_PING_INTERVAL", 15*time.Second),
			PongTimeout:      getEnvAsDuration("WS_PONG_TIMEOUT", 5*time.Second),
			WatchBuffer:      getEnvAsInt("FILL_WATCH_BUFFER", 64),
		},
		RateLimit: RateLimitConfig{
			OrdersPerSec:  getEnvAsFloat("RATE_ORDERS_PER_SEC", 10),
			OrderBurst:    getEnvAsInt("RATE_ORDER_BURST", 20),
			CancelsPerSec: getEnvAsFloat("RATE_CANCELS_PER_SEC", 10),
			CancelBurst:   getEnvAsInt("RATE_CANCEL_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	cfg.Router.DefaultTick = cfg.Symbols.DefaultTick
	cfg.Exit.DefaultTick = cfg.Symbols.DefaultTick

	// Таблица тиков: сначала файл, затем TICK_SIZES поверх
	if cfg.Symbols.File != "" {
		file, err := LoadSymbolsFile(cfg.Symbols.File)
		if err != nil {
			return nil, err
		}
		for sym, tick := range file.TickSizes() {
			cfg.Symbols.TickSizes[sym] = tick
		}
		if file.DefaultTick > 0 && os.Getenv("DEFAULT_TICK") == "" {
			cfg.Symbols.DefaultTick = file.DefaultTick
			cfg.Router.DefaultTick = file.DefaultTick
			cfg.Exit.DefaultTick = file.DefaultTick
		}
	}

	ticks, err := ParseTickSizes(getEnv("TICK_SIZES", ""))
	if err != nil {
		return nil, err
	}
	for sym, tick := range ticks {
		cfg.Symbols.TickSizes[sym] = tick
	}

	// Каждый торгуемый символ обязан иметь tick size
	for _, sym := range splitList(getEnv("SYMBOLS", "")) {
		if _, ok := cfg.Symbols.TickSize(sym); !ok {
			return nil, fmt.Errorf("%w: tick size missing for symbol %s", ErrConfiguration, sym)
		}
	}

	// Секрет шлюза может храниться зашифрованным (AES-256-GCM, ключ SECRETS_KEY)
	if enc := getEnv("GATEWAY_API_SECRET_ENC", ""); enc != "" {
		secret, err := crypto.DecryptWithKeyString(enc, getEnv("SECRETS_KEY", ""))
		if err != nil {
			return nil, fmt.Errorf("%w: GATEWAY_API_SECRET_ENC: %v", ErrConfiguration, err)
		}
		cfg.Exchange.APISecret = secret
	}

	if err := cfg.validateEndpoints(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateEndpoints проверяет, что для live режима заданы адреса шлюза
func (c *Config) validateEndpoints() error {
	switch c.Exchange.Mode {
	case "paper":
		return nil
	case "gateway":
		if c.Exchange.GatewayURL == "" {
			return fmt.Errorf("%w: GATEWAY_URL is required in gateway mode", ErrConfiguration)
		}
		if c.Exchange.FeedURL == "" {
			return fmt.Errorf("%w: FEED_URL is required in gateway mode (fill notifications)", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown EXCHANGE_MODE %q", ErrConfiguration, c.Exchange.Mode)
	}
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	// Порты
	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Database.Port >= 1 && c.Database.Port <= 65535, "DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	check(c.Database.OutcomeRetention == 0 || c.Database.OutcomeRetention >= c.Cooldown.Lookback+c.Cooldown.Duration,
		"OUTCOME_RETENTION must be 0 or cover COOLDOWN_LOOKBACK+COOLDOWN_DURATION")

	// Роутер
	check(c.Router.AcceptRatio > 0 && c.Router.AcceptRatio <= 1, "ROUTER_ACCEPT_RATIO must be in (0, 1], got %v", c.Router.AcceptRatio)
	check(c.Router.FillWait > 0, "ROUTER_FILL_WAIT must be positive, got %v", c.Router.FillWait)
	check(c.Router.FallbackWait > 0, "ROUTER_FALLBACK_WAIT must be positive, got %v", c.Router.FallbackWait)
	check(c.Router.SettleWait >= 0, "ROUTER_SETTLE_WAIT cannot be negative, got %v", c.Router.SettleWait)
	check(c.Router.BackoffBase >= 0 && c.Router.BackoffStep >= 0, "ROUTER_BACKOFF_* cannot be negative")
	check(c.Router.SubmitRetries >= 0 && c.Router.SubmitRetries <= 3, "ROUTER_SUBMIT_RETRIES must be between 0 and 3, got %d", c.Router.SubmitRetries)
	check(c.Symbols.DefaultTick > 0, "DEFAULT_TICK must be positive, got %v", c.Symbols.DefaultTick)

	// План выхода
	check(c.Exit.TrailMode == "chandelier" || c.Exit.TrailMode == "prev_candle", "EXIT_TRAIL_MODE must be chandelier or prev_candle, got %q", c.Exit.TrailMode)
	check(c.Exit.ATRMultiplier > 0, "EXIT_ATR_MULT must be positive, got %v", c.Exit.ATRMultiplier)
	check(c.Exit.DefaultRR > 0, "EXIT_DEFAULT_RR must be positive, got %v", c.Exit.DefaultRR)
	check(c.TimeBox.MaxHold > 0, "MAX_HOLD must be positive, got %v", c.TimeBox.MaxHold)
	check(c.TimeBox.MaxBars > 0, "MAX_BARS must be positive, got %d", c.TimeBox.MaxBars)

	// Cooldown
	check(c.Cooldown.LossStreak >= 1, "COOLDOWN_LOSS_STREAK must be at least 1, got %d", c.Cooldown.LossStreak)
	check(c.Cooldown.Lookback > 0 && c.Cooldown.Duration > 0, "COOLDOWN_LOOKBACK and COOLDOWN_DURATION must be positive")
	check(c.Cooldown.MaxHistory >= c.Cooldown.LossStreak, "COOLDOWN_MAX_HISTORY must be >= loss streak, got %d", c.Cooldown.MaxHistory)

	// Guard
	check(c.Guard.MaxSignalAge > 0, "GUARD_MAX_SIGNAL_AGE must be positive, got %v", c.Guard.MaxSignalAge)
	check(c.Guard.SpreadCapBp > 0, "GUARD_SPREAD_CAP_BP must be positive, got %v", c.Guard.SpreadCapBp)
	check(c.Guard.HighImpactFactor > 0 && c.Guard.HighImpactFactor <= 1, "GUARD_HIGH_IMPACT_FACTOR must be in (0, 1], got %v", c.Guard.HighImpactFactor)
	check(c.Guard.MaxLatencyMs > 0 && c.Guard.MaxQuoteAgeMs > 0, "GUARD latency and quote age ceilings must be positive")
	check(c.Guard.MinDepthRatio >= 0, "GUARD_MIN_DEPTH_RATIO cannot be negative, got %v", c.Guard.MinDepthRatio)

	// Лимиты запросов
	check(c.RateLimit.OrdersPerSec > 0 && c.RateLimit.CancelsPerSec > 0, "RATE_*_PER_SEC must be positive")

	// Paper
	check(c.Exchange.PaperFillRatio > 0 && c.Exchange.PaperFillRatio <= 1, "PAPER_FILL_RATIO must be in (0, 1], got %v", c.Exchange.PaperFillRatio)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// ============================================================
// Таблица символов
// ============================================================

// SymbolsFile - YAML файл символов
//
//	default_tick: 0.01
//	symbols:
//	  - symbol: BTCUSDT
//	    tick_size: 0.1
type SymbolsFile struct {
	DefaultTick float64       `yaml:"default_tick"`
	Symbols     []SymbolEntry `yaml:"symbols"`
}

// SymbolEntry - запись символа
type SymbolEntry struct {
	Symbol   string  `yaml:"symbol"`
	TickSize float64 `yaml:"tick_size"`
}

// TickSizes возвращает таблицу символ -> tick
func (f *SymbolsFile) TickSizes() map[string]float64 {
	out := make(map[string]float64, len(f.Symbols))
	for _, s := range f.Symbols {
		out[strings.ToUpper(strings.TrimSpace(s.Symbol))] = s.TickSize
	}
	return out
}

// LoadSymbolsFile читает и валидирует YAML файл символов
func LoadSymbolsFile(path string) (*SymbolsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read symbols file: %v", ErrConfiguration, err)
	}
	return ParseSymbols(data)
}

// ParseSymbols разбирает содержимое файла символов
func ParseSymbols(data []byte) (*SymbolsFile, error) {
	var f SymbolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse symbols file: %v", ErrConfiguration, err)
	}
	for i, s := range f.Symbols {
		if strings.TrimSpace(s.Symbol) == "" {
			return nil, fmt.Errorf("%w: symbols[%d]: empty symbol", ErrConfiguration, i)
		}
		if s.TickSize <= 0 {
			return nil, fmt.Errorf("%w: symbols[%d] %s: tick_size must be positive", ErrConfiguration, i, s.Symbol)
		}
	}
	if f.DefaultTick < 0 {
		return nil, fmt.Errorf("%w: default_tick cannot be negative", ErrConfiguration)
	}
	return &f, nil
}

// ParseTickSizes разбирает строку вида "BTCUSDT:0.1,ETHUSDT:0.01"
func ParseTickSizes(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, item := range splitList(s) {
		parts := strings.SplitN(item, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: TICK_SIZES entry %q must be SYMBOL:TICK", ErrConfiguration, item)
		}
		tick, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || tick <= 0 {
			return nil, fmt.Errorf("%w: TICK_SIZES entry %q has invalid tick", ErrConfiguration, item)
		}
		out[strings.ToUpper(strings.TrimSpace(parts[0]))] = tick
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, strings.ToUpper(item))
		}
	}
	return out
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
