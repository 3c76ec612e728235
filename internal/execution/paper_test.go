package execution

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"tradebotv1/internal/broker"
)

func TestPaperBroker_MarketFill(t *testing.T) {
	pb := NewPaperBroker(10000, 0)
	pb.MarkPrice("AAPL", 100)

	order, err := pb.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy,
		Type: broker.TypeMarket, TimeInForce: broker.TIFDay,
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != "filled" || order.FilledAvgPrice != 100 || order.FilledQty != 10 {
		t.Errorf("order = %+v", order)
	}

	positions, _ := pb.ListPositions(context.Background())
	if len(positions) != 1 || positions[0].Qty != 10 {
		t.Fatalf("positions = %+v", positions)
	}

	acct, _ := pb.GetAccount(context.Background())
	if acct.Cash != 9000 {
		t.Errorf("cash = %v, want 9000", acct.Cash)
	}
	if acct.Equity != 10000 {
		t.Errorf("equity = %v, want 10000", acct.Equity)
	}

	// Selling the full quantity clears the holding.
	if _, err := pb.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideSell,
		Type: broker.TypeMarket, TimeInForce: broker.TIFDay,
	}); err != nil {
		t.Fatal(err)
	}
	positions, _ = pb.ListPositions(context.Background())
	if len(positions) != 0 {
		t.Fatalf("positions after full sell = %+v", positions)
	}
}

func TestPaperBroker_Slippage(t *testing.T) {
	pb := NewPaperBroker(10000, 10) // 10 bps
	pb.MarkPrice("AAPL", 100)

	order, err := pb.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 1, Side: broker.SideBuy,
		Type: broker.TypeMarket, TimeInForce: broker.TIFDay,
	})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(order.FilledAvgPrice-100.1) > 1e-9 {
		t.Errorf("buy fill = %v, want 100.1", order.FilledAvgPrice)
	}
}

func TestPaperBroker_UnmarkedSymbolFails(t *testing.T) {
	pb := NewPaperBroker(10000, 0)

	_, err := pb.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "ZZZZ", Qty: 1, Side: broker.SideBuy,
		Type: broker.TypeMarket, TimeInForce: broker.TIFDay,
	})
	var subErr *broker.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestPaperBroker_RestingOrdersAccepted(t *testing.T) {
	pb := NewPaperBroker(10000, 0)

	order, err := pb.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 5, Side: broker.SideSell,
		Type: broker.TypeLimit, TimeInForce: broker.TIFGTC, LimitPrice: 105,
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != "accepted" || order.FilledQty != 0 {
		t.Errorf("resting order = %+v", order)
	}
}

func TestJournal_RecordAndReadBack(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	fills := []TradeEntry{
		{OrderID: "o1", Symbol: "AAPL", Side: "buy", Qty: 10, Price: 100, Reason: "entry", FilledAt: time.Now()},
		{OrderID: "o2", Symbol: "AAPL", Side: "sell", Qty: 10, Price: 92, Reason: "STOP_LOSS", FilledAt: time.Now()},
	}
	for _, f := range fills {
		if err := j.RecordTrade(f); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := j.GetTrades(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	// Newest first.
	if trades[0].OrderID != "o2" || trades[0].Reason != "STOP_LOSS" {
		t.Errorf("trades[0] = %+v", trades[0])
	}
	if trades[1].Side != "buy" || trades[1].Price != 100 {
		t.Errorf("trades[1] = %+v", trades[1])
	}
}
