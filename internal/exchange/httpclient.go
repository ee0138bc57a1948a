// Package exchange - граница движка с биржей: отправка ордеров и поток исполнений.
package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// defaultSubmitBudget - бюджет одного запроса, если роутер не задал свой
const defaultSubmitBudget = 2 * time.Second

// HTTPClientConfig - таймауты и пул соединений шлюза ордеров.
//
// Все таймауты выводятся из бюджета одного запроса отправки
// (ROUTER_SUBMIT_TIMEOUT): ответ шлюза входит в latency маршрута, и
// зависший запрос не должен пережить context роутера.
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // TCP + TLS
	HeaderTimeout  time.Duration // ожидание заголовков ответа
	TotalTimeout   time.Duration // весь запрос, страховка поверх context

	// один хост шлюза: пул небольшой, соединения держим тёплыми
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	KeepAlive       time.Duration
}

// DefaultHTTPClientConfig - конфигурация под бюджет по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfigForBudget(defaultSubmitBudget)
}

// HTTPClientConfigForBudget делит бюджет запроса отправки:
// 40% на соединение, 80% до заголовков, 100% на весь запрос.
// Бюджет <= 0 заменяется значением по умолчанию.
func HTTPClientConfigForBudget(budget time.Duration) HTTPClientConfig {
	if budget <= 0 {
		budget = defaultSubmitBudget
	}
	return HTTPClientConfig{
		ConnectTimeout:  budget * 2 / 5,
		HeaderTimeout:   budget * 4 / 5,
		TotalTimeout:    budget,
		MaxIdleConns:    8,
		MaxConnsPerHost: 16,
		IdleConnTimeout: 90 * time.Second,
		KeepAlive:       30 * time.Second,
	}
}

// HTTPClient - HTTP клиент шлюза ордеров
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewHTTPClient создаёт клиент с тёплым пулом соединений к шлюзу
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAlive,
	}

	transport := &http.Transport{
		// дедлайн context роутера короче ConnectTimeout - он и ограничивает dial
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < config.ConnectTimeout {
				d := *dialer
				d.Timeout = time.Until(deadline)
				return d.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConns,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		TLSHandshakeTimeout: config.ConnectTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},

		// ответы маленькие, сжатие только добавляет latency
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: config.HeaderTimeout,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport, Timeout: config.TotalTimeout},
		config: config,
	}
}

// Do выполняет запрос. Дедлайн задаёт context запроса, TotalTimeout - страховка.
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// Close закрывает idle соединения (graceful shutdown)
func (hc *HTTPClient) Close() {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
