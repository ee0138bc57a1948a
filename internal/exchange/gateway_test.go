package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scalper/internal/models"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	gw, err := NewGateway(GatewayConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		SecretKey: "secret",
		HTTP:      DefaultHTTPClientConfig(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	gw.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return gw, srv
}

func TestGateway_SubmitOrder(t *testing.T) {
	var gotBody map[string]string
	var gotSign string

	gw, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != gatewayCreatePath {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotSign = r.Header.Get("X-BAPI-SIGN")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"ex-1","orderLinkId":"cid-1"}}`))
	})
	defer srv.Close()

	ack, err := gw.SubmitOrder(context.Background(), OrderSpec{
		ClientOrderID: "cid-1", Symbol: "BTCUSDT", Side: models.SideSell,
		Type: OrderTypeLimit, Quantity: 0.5, Price: 100.1, TIF: TIFGoodTillCancel,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if ack.OrderID != "ex-1" || ack.ClientOrderID != "cid-1" {
		t.Errorf("unexpected ack %+v", ack)
	}

	want := map[string]string{
		"side": "Sell", "orderType": "Limit", "price": "100.1", "qty": "0.5",
		"timeInForce": "GTC", "orderLinkId": "cid-1", "category": "linear",
	}
	for k, v := range want {
		if gotBody[k] != v {
			t.Errorf("body[%s] = %q, want %q", k, gotBody[k], v)
		}
	}
	if gotSign == "" || len(gotSign) != 64 {
		t.Errorf("signature = %q, want 64 hex chars", gotSign)
	}
}

func TestGateway_MarketOmitsPrice(t *testing.T) {
	var gotBody map[string]string
	gw, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"retCode":0,"result":{"orderId":"ex-2"}}`))
	})
	defer srv.Close()

	_, err := gw.SubmitOrder(context.Background(), OrderSpec{
		ClientOrderID: "cid-2", Symbol: "BTCUSDT", Side: models.SideBuy,
		Type: OrderTypeMarket, Quantity: 1, TIF: TIFImmediateOrCancel,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if _, ok := gotBody["price"]; ok {
		t.Error("market order must not carry price")
	}
	if gotBody["orderType"] != "Market" || gotBody["side"] != "Buy" {
		t.Errorf("unexpected body %v", gotBody)
	}
}

func TestGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
	}{
		{"бизнес-отказ", http.StatusOK, `{"retCode":110007,"retMsg":"insufficient balance"}`, false},
		{"4xx", http.StatusBadRequest, `{"retCode":10001,"retMsg":"params error"}`, false},
		{"5xx", http.StatusBadGateway, `bad gateway`, true},
		{"429", http.StatusTooManyRequests, `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			defer srv.Close()

			_, err := gw.SubmitOrder(context.Background(), OrderSpec{
				ClientOrderID: "c", Symbol: "BTCUSDT", Side: models.SideBuy,
				Type: OrderTypeMarket, Quantity: 1,
			})
			var exErr *ExchangeError
			if !errors.As(err, &exErr) {
				t.Fatalf("expected *ExchangeError, got %v", err)
			}
			if exErr.Retryable() != tt.temporary {
				t.Errorf("Retryable = %v, want %v", exErr.Retryable(), tt.temporary)
			}
			if !errors.Is(err, ErrSubmission) {
				t.Error("error should wrap ErrSubmission")
			}
		})
	}
}

func TestGateway_NetworkErrorIsTemporary(t *testing.T) {
	gw, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	err := gw.CancelOrder(context.Background(), "BTCUSDT", "ex-1")
	var exErr *ExchangeError
	if !errors.As(err, &exErr) || !exErr.Retryable() {
		t.Errorf("network failure should be a temporary ExchangeError, got %v", err)
	}
}

func TestNewGateway_RequiresURL(t *testing.T) {
	if _, err := NewGateway(GatewayConfig{}); err == nil {
		t.Error("expected error for empty base url")
	}
}
