package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// AlpacaClient talks to an Alpaca-compatible trading REST API.
type AlpacaClient struct {
	baseURL    string
	keyID      string
	secretKey  string
	httpClient *http.Client
}

// AlpacaConfig configures the REST client.
type AlpacaConfig struct {
	BaseURL   string // e.g. https://paper-api.alpaca.markets
	KeyID     string
	SecretKey string
}

// NewAlpacaClient creates the REST client.
func NewAlpacaClient(cfg AlpacaConfig) *AlpacaClient {
	return &AlpacaClient{
		baseURL:   cfg.BaseURL,
		keyID:     cfg.KeyID,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// orderPayload is the wire form of an order. Prices are decimal strings;
// float formatting must never leak artifacts like 10.050000000000001.
type orderPayload struct {
	Symbol       string `json:"symbol"`
	Qty          string `json:"qty"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	TimeInForce  string `json:"time_in_force"`
	LimitPrice   string `json:"limit_price,omitempty"`
	StopPrice    string `json:"stop_price,omitempty"`
	TrailPercent string `json:"trail_percent,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	SubmittedAt    string `json:"submitted_at"`
}

func priceStr(p float64) string {
	return decimal.NewFromFloat(p).Round(2).String()
}

// SubmitOrder posts the order. Any non-2xx response is returned as a
// *SubmissionError so callers can treat it as recoverable.
func (c *AlpacaClient) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	payload := orderPayload{
		Symbol:      req.Symbol,
		Qty:         strconv.FormatInt(req.Qty, 10),
		Side:        string(req.Side),
		Type:        string(req.Type),
		TimeInForce: string(req.TimeInForce),
	}
	switch req.Type {
	case TypeLimit:
		payload.LimitPrice = priceStr(req.LimitPrice)
	case TypeStop:
		payload.StopPrice = priceStr(req.StopPrice)
	case TypeTrailingStop:
		payload.TrailPercent = decimal.NewFromFloat(req.TrailPercent).String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Order{}, &SubmissionError{Symbol: req.Symbol, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, &SubmissionError{Symbol: req.Symbol, Err: err}
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Order{}, &SubmissionError{Symbol: req.Symbol, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Order{}, &SubmissionError{
			Symbol:     req.Symbol,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("broker rejected order: %s", truncate(respBody, 200)),
		}
	}

	var or orderResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return Order{}, &SubmissionError{Symbol: req.Symbol, Err: fmt.Errorf("parse order response: %w", err)}
	}

	order := Order{
		ID:     or.ID,
		Symbol: or.Symbol,
		Qty:    req.Qty,
		Side:   Side(or.Side),
		Type:   OrderType(or.Type),
		Status: or.Status,
	}
	order.FilledQty, _ = strconv.ParseInt(or.FilledQty, 10, 64)
	order.FilledAvgPrice, _ = strconv.ParseFloat(or.FilledAvgPrice, 64)
	if ts, err := time.Parse(time.RFC3339, or.SubmittedAt); err == nil {
		order.SubmittedAt = ts
	}

	log.Printf("[broker] submitted %s %s qty=%d type=%s order=%s status=%s",
		req.Side, req.Symbol, req.Qty, req.Type, order.ID, order.Status)
	return order, nil
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// ListPositions returns all open broker-side positions.
func (c *AlpacaClient) ListPositions(ctx context.Context) ([]Position, error) {
	respBody, err := c.get(ctx, "/v2/positions")
	if err != nil {
		return nil, err
	}

	var prs []positionResponse
	if err := json.Unmarshal(respBody, &prs); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]Position, 0, len(prs))
	for _, pr := range prs {
		qty, _ := strconv.ParseInt(pr.Qty, 10, 64)
		avg, _ := strconv.ParseFloat(pr.AvgEntryPrice, 64)
		positions = append(positions, Position{Symbol: pr.Symbol, Qty: qty, AvgEntryPrice: avg})
	}
	return positions, nil
}

type accountResponse struct {
	Equity string `json:"equity"`
	Cash   string `json:"cash"`
}

// GetAccount returns equity and cash for order sizing.
func (c *AlpacaClient) GetAccount(ctx context.Context) (Account, error) {
	respBody, err := c.get(ctx, "/v2/account")
	if err != nil {
		return Account{}, err
	}

	var ar accountResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return Account{}, fmt.Errorf("parse account: %w", err)
	}

	var acct Account
	acct.Equity, _ = strconv.ParseFloat(ar.Equity, 64)
	acct.Cash, _ = strconv.ParseFloat(ar.Cash, 64)
	return acct, nil
}

func (c *AlpacaClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("broker GET %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func (c *AlpacaClient) setHeaders(req *http.Request) {
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	req.Header.Set("Content-Type", "application/json")
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
