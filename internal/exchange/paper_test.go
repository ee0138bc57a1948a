package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"scalper/internal/models"
)

func newTestPaper(t *testing.T) (*Paper, *FillHub) {
	t.Helper()
	hub := NewFillHub(16)
	p := NewPaper(PaperConfig{Name: "paper", MarketSlippageBp: 10}, hub)
	p.SetQuote("BTCUSDT", 99.9, 100.1)
	return p, hub
}

func recvUpdate(t *testing.T, w *FillWatch) OrderUpdate {
	t.Helper()
	select {
	case u, ok := <-w.C:
		if !ok {
			t.Fatal("watch closed")
		}
		return u
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	return OrderUpdate{}
}

func TestPaper_MarketFillsWithSlippage(t *testing.T) {
	p, hub := newTestPaper(t)
	w := hub.Watch("m1")
	defer w.Close()

	_, err := p.SubmitOrder(context.Background(), OrderSpec{
		ClientOrderID: "m1", Symbol: "BTCUSDT", Side: models.SideBuy,
		Type: OrderTypeMarket, Quantity: 2, TIF: TIFImmediateOrCancel,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	u := recvUpdate(t, w)
	want := 100.1 * 1.001
	if diff := u.FillPrice - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fill price = %v, want %v", u.FillPrice, want)
	}
	if u.FillQty != 2 || u.Status != OrderStatusFilled {
		t.Errorf("unexpected update %+v", u)
	}
}

func TestPaper_LimitRestsUntilCrossed(t *testing.T) {
	p, hub := newTestPaper(t)
	w := hub.Watch("l1")
	defer w.Close()

	ack, err := p.SubmitOrder(context.Background(), OrderSpec{
		ClientOrderID: "l1", Symbol: "BTCUSDT", Side: models.SideSell,
		Type: OrderTypeLimit, Quantity: 1, Price: 100.5, TIF: TIFGoodTillCancel,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if p.RestingCount() != 1 {
		t.Fatalf("resting = %d, want 1", p.RestingCount())
	}

	select {
	case u := <-w.C:
		t.Fatalf("unexpected early update %+v", u)
	default:
	}

	p.SetQuote("BTCUSDT", 100.6, 100.8)
	u := recvUpdate(t, w)
	if u.FillPrice != 100.6 || u.OrderID != ack.OrderID {
		t.Errorf("unexpected fill %+v", u)
	}
	if p.RestingCount() != 0 {
		t.Errorf("resting after fill = %d, want 0", p.RestingCount())
	}
}

func TestPaper_PartialThenCancel(t *testing.T) {
	hub := NewFillHub(16)
	p := NewPaper(PaperConfig{LimitFillRatio: 0.25}, hub)
	p.SetQuote("ETHUSDT", 10, 10.01)

	w := hub.Watch("p1")
	defer w.Close()

	ack, err := p.SubmitOrder(context.Background(), OrderSpec{
		ClientOrderID: "p1", Symbol: "ETHUSDT", Side: models.SideBuy,
		Type: OrderTypeLimit, Quantity: 4, Price: 10.01, TIF: TIFGoodTillCancel,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	u := recvUpdate(t, w)
	if u.FillQty != 1 || u.Status != OrderStatusPartial {
		t.Errorf("expected partial fill of 1, got %+v", u)
	}

	if err := p.CancelOrder(context.Background(), "ETHUSDT", ack.OrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	u = recvUpdate(t, w)
	if u.Status != OrderStatusCancelled {
		t.Errorf("expected cancel update, got %+v", u)
	}
}

func TestPaper_Errors(t *testing.T) {
	p, _ := newTestPaper(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec OrderSpec
	}{
		{"нет котировки", OrderSpec{Symbol: "XRPUSDT", Side: models.SideBuy, Type: OrderTypeMarket, Quantity: 1}},
		{"нулевой объём", OrderSpec{Symbol: "BTCUSDT", Side: models.SideBuy, Type: OrderTypeMarket}},
		{"нулевая цена лимита", OrderSpec{Symbol: "BTCUSDT", Side: models.SideBuy, Type: OrderTypeLimit, Quantity: 1}},
		{"неизвестный тип", OrderSpec{Symbol: "BTCUSDT", Side: models.SideBuy, Type: "stop", Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.SubmitOrder(ctx, tt.spec)
			if err == nil {
				t.Fatal("expected error")
			}
			var exErr *ExchangeError
			if !errors.As(err, &exErr) {
				t.Fatalf("expected *ExchangeError, got %T", err)
			}
			if exErr.Retryable() {
				t.Error("validation errors must not be retryable")
			}
			if !errors.Is(err, ErrSubmission) {
				t.Error("error should wrap ErrSubmission")
			}
		})
	}
}

func TestPaper_IOCRemainderCancelled(t *testing.T) {
	p, hub := newTestPaper(t)
	w := hub.Watch("ioc")
	defer w.Close()

	_, err := p.SubmitOrder(context.Background(), OrderSpec{
		ClientOrderID: "ioc", Symbol: "BTCUSDT", Side: models.SideBuy,
		Type: OrderTypeLimit, Quantity: 1, Price: 99, TIF: TIFImmediateOrCancel,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if u := recvUpdate(t, w); u.Status != OrderStatusCancelled {
		t.Errorf("expected cancel, got %+v", u)
	}
	if p.RestingCount() != 0 {
		t.Error("IOC must not rest")
	}
	if len(p.Submitted()) != 1 {
		t.Errorf("submitted = %d, want 1", len(p.Submitted()))
	}
}
