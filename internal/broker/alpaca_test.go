package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*AlpacaClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewAlpacaClient(AlpacaConfig{
		BaseURL:   srv.URL,
		KeyID:     "key",
		SecretKey: "secret",
	})
	return client, srv
}

func TestSubmitOrder_Limit(t *testing.T) {
	var got orderPayload
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("APCA-API-KEY-ID") != "key" {
			t.Error("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(orderResponse{
			ID: "oid-1", Symbol: got.Symbol, Status: "accepted",
			FilledQty: "0", SubmittedAt: "2026-03-03T15:00:00Z",
		})
	})
	defer srv.Close()

	order, err := client.SubmitOrder(context.Background(), OrderRequest{
		Symbol:      "AAPL",
		Qty:         10,
		Side:        SideSell,
		Type:        TypeLimit,
		TimeInForce: TIFGTC,
		LimitPrice:  10.050000000000001,
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.ID != "oid-1" || order.Status != "accepted" {
		t.Errorf("order = %+v", order)
	}
	if got.LimitPrice != "10.05" {
		t.Errorf("limit price serialized as %q, want 10.05", got.LimitPrice)
	}
	if got.Qty != "10" || got.Side != "sell" || got.TimeInForce != "gtc" {
		t.Errorf("payload = %+v", got)
	}
}

func TestSubmitOrder_TrailingStop(t *testing.T) {
	var got orderPayload
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(orderResponse{ID: "oid-2", Status: "accepted"})
	})
	defer srv.Close()

	_, err := client.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Qty: 3, Side: SideSell, Type: TypeTrailingStop,
		TimeInForce: TIFGTC, TrailPercent: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.TrailPercent != "3" {
		t.Errorf("trail percent = %q, want 3", got.TrailPercent)
	}
	if got.LimitPrice != "" || got.StopPrice != "" {
		t.Errorf("unexpected price fields: %+v", got)
	}
}

func TestSubmitOrder_Rejected(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"insufficient buying power"}`))
	})
	defer srv.Close()

	_, err := client.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: SideBuy, Type: TypeMarket, TimeInForce: TIFDay,
	})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.StatusCode != http.StatusForbidden || subErr.Symbol != "AAPL" {
		t.Errorf("submission error = %+v", subErr)
	}
}

func TestListPositions(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/positions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"symbol":"AAPL","qty":"10","avg_entry_price":"100.5"}]`))
	})
	defer srv.Close()

	positions, err := client.ListPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %+v", positions)
	}
	if positions[0].Symbol != "AAPL" || positions[0].Qty != 10 || positions[0].AvgEntryPrice != 100.5 {
		t.Errorf("position = %+v", positions[0])
	}
}

func TestGetAccount(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/account" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"equity":"25000.75","cash":"10000"}`))
	})
	defer srv.Close()

	acct, err := client.GetAccount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if acct.Equity != 25000.75 || acct.Cash != 10000 {
		t.Errorf("account = %+v", acct)
	}
}
