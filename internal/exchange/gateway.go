package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"scalper/internal/models"
	"scalper/pkg/crypto"
)

const (
	gatewayRecvWindow = "5000"

	gatewayCreatePath = "/v5/order/create"
	gatewayCancelPath = "/v5/order/cancel"
)

// Gateway - REST клиент шлюза ордеров (протокол в стиле Bybit v5:
// подписанные запросы, ответ {retCode, retMsg, result}).
//
// Исполнения шлюз не возвращает: они приходят по приватному WebSocket
// каналу (WSFeed), для которого Gateway отдаёт AuthFunc.
type Gateway struct {
	name      string
	baseURL   string
	apiKey    string
	secretKey string
	category  string

	httpClient *HTTPClient
	now        func() time.Time
}

// GatewayConfig - параметры шлюза
type GatewayConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	SecretKey string
	Category  string // linear / spot
	HTTP      HTTPClientConfig
}

// NewGateway создаёт клиент шлюза
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	return &Gateway{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		category:   cfg.Category,
		httpClient: NewHTTPClient(cfg.HTTP),
		now:        time.Now,
	}, nil
}

func (g *Gateway) GetName() string {
	return g.name
}

// sign создаёт подпись запроса: HMAC-SHA256(timestamp + apiKey + recvWindow + payload)
func (g *Gateway) sign(timestamp, payload string) string {
	return crypto.SignHMAC(g.secretKey, timestamp+g.apiKey+gatewayRecvWindow+payload)
}

// doRequest выполняет подписанный POST и проверяет retCode
func (g *Gateway) doRequest(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(g.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", g.apiKey)
	req.Header.Set("X-BAPI-SIGN", g.sign(timestamp, string(payload)))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", gatewayRecvWindow)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// сеть/таймаут: ордер мог не дойти, повтор допустим
		return nil, &ExchangeError{Exchange: g.name, Message: "request failed", Original: err, Temporary: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Exchange: g.name, Message: "read response", Original: err, Temporary: true}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewExchangeError(g.name, strconv.Itoa(resp.StatusCode), "gateway unavailable", true)
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, &ExchangeError{Exchange: g.name, Message: "decode response", Original: err}
	}

	if resp.StatusCode >= http.StatusBadRequest || baseResp.RetCode != 0 {
		msg := baseResp.RetMsg
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, NewExchangeError(g.name, strconv.Itoa(baseResp.RetCode), msg, false)
	}

	return body, nil
}

// SubmitOrder отправляет ордер в шлюз
func (g *Gateway) SubmitOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error) {
	side := "Buy"
	if spec.Side == models.SideSell {
		side = "Sell"
	}
	orderType := "Limit"
	if spec.Type == OrderTypeMarket {
		orderType = "Market"
	}

	params := map[string]string{
		"category":    g.category,
		"symbol":      spec.Symbol,
		"side":        side,
		"orderType":   orderType,
		"qty":         strconv.FormatFloat(spec.Quantity, 'f', -1, 64),
		"timeInForce": string(spec.TIF),
		"orderLinkId": spec.ClientOrderID,
	}
	if spec.Type == OrderTypeLimit {
		params["price"] = strconv.FormatFloat(spec.Price, 'f', -1, 64)
	}

	body, err := g.doRequest(ctx, gatewayCreatePath, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ExchangeError{Exchange: g.name, Message: "decode order ack", Original: err}
	}

	return &OrderAck{
		OrderID:       resp.Result.OrderID,
		ClientOrderID: spec.ClientOrderID,
		Price:         spec.Price,
		Quantity:      spec.Quantity,
		AcceptedAt:    g.now(),
	}, nil
}

// CancelOrder отменяет остаток ордера
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{
		"category": g.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := g.doRequest(ctx, gatewayCancelPath, params)
	return err
}

// AuthFunc возвращает функцию аутентификации приватного WebSocket канала:
// {"op":"auth","args":[apiKey, expires, HMAC("GET/realtime"+expires)]}
func (g *Gateway) AuthFunc() func(*websocket.Conn) error {
	return func(conn *websocket.Conn) error {
		expires := strconv.FormatInt(g.now().Add(10*time.Second).UnixMilli(), 10)
		signature := crypto.SignHMAC(g.secretKey, "GET/realtime"+expires)

		msg := map[string]interface{}{
			"op":   "auth",
			"args": []string{g.apiKey, expires, signature},
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}
}

// Close закрывает idle соединения
func (g *Gateway) Close() {
	g.httpClient.Close()
}
