package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"scalper/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию: 1s, 2s, 4s, 8s
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   1 * time.Second,
		MaxDelay:       8 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 5 * time.Second,
		PingInterval:   15 * time.Second,
		PongTimeout:    5 * time.Second,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// orderFrame - кадр потока событий по ордерам
//
//	{"topic":"order","data":[{"clientOrderId":"...","orderId":"...","symbol":"BTCUSDT",
//	  "status":"partial","fillPrice":100.1,"fillQty":0.2,"ts":1700000000000}]}
type orderFrame struct {
	Topic   string       `json:"topic"`
	Op      string       `json:"op"`
	Success *bool        `json:"success"`
	Message string       `json:"msg"`
	Data    []wireUpdate `json:"data"`
}

type wireUpdate struct {
	ClientOrderID string  `json:"clientOrderId"`
	OrderID       string  `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	FillPrice     float64 `json:"fillPrice"`
	FillQty       float64 `json:"fillQty"`
	TimestampMs   int64   `json:"ts"`
}

func (w wireUpdate) toUpdate() OrderUpdate {
	ts := time.Now()
	if w.TimestampMs > 0 {
		ts = utils.FromUnixMillis(w.TimestampMs)
	}
	return OrderUpdate{
		ClientOrderID: w.ClientOrderID,
		OrderID:       w.OrderID,
		Symbol:        w.Symbol,
		Status:        w.Status,
		FillPrice:     w.FillPrice,
		FillQty:       w.FillQty,
		Time:          ts,
	}
}

// decodeOrderFrame разбирает кадр в события. Служебные кадры (ответы на
// subscribe/auth) возвращают пустой список; отказ сервера - ошибку.
func decodeOrderFrame(data []byte) ([]OrderUpdate, error) {
	var frame orderFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Op != "" {
		if frame.Success != nil && !*frame.Success {
			return nil, fmt.Errorf("%s rejected: %s", frame.Op, frame.Message)
		}
		return nil, nil
	}
	if frame.Topic != "order" {
		return nil, nil
	}

	updates := make([]OrderUpdate, 0, len(frame.Data))
	for _, w := range frame.Data {
		if w.ClientOrderID == "" {
			continue
		}
		updates = append(updates, w.toUpdate())
	}
	return updates, nil
}

// WSFeed - поток событий по ордерам с автоматическим переподключением
//
// Назначение:
// Держит приватный WebSocket канал ордеров и публикует исполнения в FillHub,
// откуда их забирает роутер.
//
// Функции:
// - Автоматическое переподключение с exponential backoff
// - Повторная подписка после переподключения
// - Ping для проверки живости соединения
//
// Использование:
// 1. Создать: NewWSFeed(name, url, cfg, hub)
// 2. При необходимости: SetAuthFunc
// 3. Подключиться: Connect()
// 4. Закрыть: Close()
type WSFeed struct {
	name   string
	wsURL  string
	config WSReconnectConfig
	hub    *FillHub
	log    *utils.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex
	// запись в conn только из одной горутины за раз
	writeMu sync.Mutex

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic
	// поколение соединения: старые readPump/pingPump не трогают новое
	generation uint64 // atomic

	closeChan chan struct{}

	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex

	authFunc func(*websocket.Conn) error

	onConnect func()

	frames    uint64 // atomic
	badFrames uint64 // atomic
}

// NewWSFeed создаёт поток, публикующий события в hub
func NewWSFeed(name, wsURL string, config WSReconnectConfig, hub *FillHub) *WSFeed {
	return &WSFeed{
		name:          name,
		wsURL:         wsURL,
		config:        config,
		hub:           hub,
		log:           utils.L().WithComponent("ws_feed").WithExchange(name),
		closeChan:     make(chan struct{}),
		subscriptions: []interface{}{map[string]interface{}{"op": "subscribe", "args": []string{"order"}}},
	}
}

// SetAuthFunc устанавливает функцию аутентификации приватного канала
func (f *WSFeed) SetAuthFunc(authFunc func(*websocket.Conn) error) {
	f.authFunc = authFunc
}

// SetOnConnect устанавливает callback подключения (в т.ч. после реконнекта)
func (f *WSFeed) SetOnConnect(handler func()) {
	f.onConnect = handler
}

// AddSubscription добавляет подписку для восстановления после переподключения
func (f *WSFeed) AddSubscription(sub interface{}) {
	f.subscriptionsMu.Lock()
	f.subscriptions = append(f.subscriptions, sub)
	f.subscriptionsMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (f *WSFeed) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&f.state))
}

// IsConnected проверяет, установлено ли соединение
func (f *WSFeed) IsConnected() bool {
	return f.GetState() == WSStateConnected
}

// GetRetryCount возвращает текущее количество попыток переподключения
func (f *WSFeed) GetRetryCount() int {
	return int(atomic.LoadInt32(&f.retryCount))
}

// Frames возвращает количество принятых и отбракованных кадров
func (f *WSFeed) Frames() (total, bad uint64) {
	return atomic.LoadUint64(&f.frames), atomic.LoadUint64(&f.badFrames)
}

// Connect устанавливает WebSocket соединение
func (f *WSFeed) Connect() error {
	select {
	case <-f.closeChan:
		return fmt.Errorf("feed is closed")
	default:
	}

	atomic.StoreInt32(&f.state, int32(WSStateConnecting))

	if err := f.dial(); err != nil {
		atomic.StoreInt32(&f.state, int32(WSStateDisconnected))
		return err
	}

	f.onConnected()
	f.log.Info("order feed connected", utils.String("url", f.wsURL))
	return nil
}

func (f *WSFeed) onConnected() {
	atomic.StoreInt32(&f.state, int32(WSStateConnected))
	atomic.StoreInt32(&f.retryCount, 0)

	if f.onConnect != nil {
		f.onConnect()
	}

	gen := atomic.AddUint64(&f.generation, 1)
	go f.readPump(gen)
	go f.pingPump(gen)
}

// dial выполняет подключение, аутентификацию и подписку
func (f *WSFeed) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: f.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	if f.authFunc != nil {
		if err := f.authFunc(conn); err != nil {
			conn.Close()
			return fmt.Errorf("auth error: %w", err)
		}
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	if err := f.resubscribe(); err != nil {
		f.log.Warn("resubscribe failed", utils.Err(err))
	}

	return nil
}

// resubscribe восстанавливает подписки после переподключения
func (f *WSFeed) resubscribe() error {
	f.subscriptionsMu.RLock()
	subs := make([]interface{}, len(f.subscriptions))
	copy(subs, f.subscriptions)
	f.subscriptionsMu.RUnlock()

	for _, sub := range subs {
		if err := f.send(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}
	return nil
}

func (f *WSFeed) send(msg interface{}) error {
	f.connMu.RLock()
	conn := f.conn
	f.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump читает кадры и публикует события в hub
func (f *WSFeed) readPump(gen uint64) {
	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		f.connMu.RLock()
		conn := f.conn
		f.connMu.RUnlock()

		if conn == nil || atomic.LoadUint64(&f.generation) != gen {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			f.handleDisconnect(gen, err)
			return
		}

		f.handleFrame(message)
	}
}

func (f *WSFeed) handleFrame(message []byte) {
	atomic.AddUint64(&f.frames, 1)

	updates, err := decodeOrderFrame(message)
	if err != nil {
		atomic.AddUint64(&f.badFrames, 1)
		f.log.Warn("bad order frame", utils.Err(err))
		return
	}

	for _, u := range updates {
		if !f.hub.Publish(u) {
			f.log.Debug("order update without watcher",
				utils.OrderID(u.ClientOrderID),
				utils.State(u.Status),
			)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (f *WSFeed) pingPump(gen uint64) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.closeChan:
			return
		case <-ticker.C:
			if atomic.LoadUint64(&f.generation) != gen || f.GetState() != WSStateConnected {
				return
			}

			f.connMu.RLock()
			conn := f.conn
			f.connMu.RUnlock()
			if conn == nil {
				return
			}

			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.config.PongTimeout))
			f.writeMu.Unlock()
			if err != nil {
				f.log.Warn("ping failed", utils.Err(err))
				f.handleDisconnect(gen, err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (f *WSFeed) handleDisconnect(gen uint64, err error) {
	select {
	case <-f.closeChan:
		return
	default:
	}

	if atomic.LoadUint64(&f.generation) != gen {
		return
	}
	// только один из readPump/pingPump запускает переподключение
	if !atomic.CompareAndSwapInt32(&f.state, int32(WSStateConnected), int32(WSStateReconnecting)) {
		return
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	f.log.Warn("order feed disconnected", utils.Err(err))

	go f.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (f *WSFeed) reconnectLoop() {
	delay := f.config.InitialDelay

	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&f.retryCount, 1)

		if f.config.MaxRetries > 0 && int(retryCount) > f.config.MaxRetries {
			f.log.Error("max reconnect attempts reached", utils.Int("max_retries", f.config.MaxRetries))
			atomic.StoreInt32(&f.state, int32(WSStateDisconnected))
			return
		}

		f.log.Info("reconnecting", utils.Dur("delay", delay), utils.Attempt(int(retryCount)))

		select {
		case <-f.closeChan:
			return
		case <-time.After(delay):
		}

		if err := f.dial(); err != nil {
			f.log.Warn("reconnect failed", utils.Err(err))

			delay *= 2
			if delay > f.config.MaxDelay {
				delay = f.config.MaxDelay
			}
			continue
		}

		f.onConnected()
		f.log.Info("order feed reconnected")
		return
	}
}

// Close закрывает соединение и останавливает переподключение
func (f *WSFeed) Close() error {
	select {
	case <-f.closeChan:
		return nil
	default:
		close(f.closeChan)
	}

	atomic.StoreInt32(&f.state, int32(WSStateClosed))

	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}
	return nil
}
