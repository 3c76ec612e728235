// Package broker defines the order-execution boundary and its REST client.
// The engine only depends on the OrderAPI interface; order submission
// failures are recoverable by contract, never fatal to the process.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects the broker order type.
type OrderType string

const (
	TypeMarket       OrderType = "market"
	TypeLimit        OrderType = "limit"
	TypeStop         OrderType = "stop"
	TypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce controls order lifetime.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderRequest describes one order to submit.
type OrderRequest struct {
	Symbol       string
	Qty          int64
	Side         Side
	Type         OrderType
	TimeInForce  TimeInForce
	LimitPrice   float64 // used when Type == TypeLimit
	StopPrice    float64 // used when Type == TypeStop
	TrailPercent float64 // used when Type == TypeTrailingStop
}

// Order is the broker's acknowledgement of a submitted order.
type Order struct {
	ID             string
	Symbol         string
	Qty            int64
	Side           Side
	Type           OrderType
	Status         string
	FilledQty      int64
	FilledAvgPrice float64
	SubmittedAt    time.Time
}

// Position is a broker-side open position, used for startup reconciliation.
type Position struct {
	Symbol        string
	Qty           int64
	AvgEntryPrice float64
}

// Account carries the equity figures used for order sizing.
type Account struct {
	Equity float64
	Cash   float64
}

// OrderAPI is the external order-execution collaborator.
type OrderAPI interface {
	// SubmitOrder places an order. A non-2xx broker response surfaces as a
	// *SubmissionError.
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	// ListPositions returns all open broker-side positions.
	ListPositions(ctx context.Context) ([]Position, error)
	// GetAccount returns current account equity and cash.
	GetAccount(ctx context.Context) (Account, error)
}

// SubmissionError is a recoverable order-submission failure: the attempt is
// abandoned and the next eligible tick re-evaluates from current state.
type SubmissionError struct {
	Symbol     string
	StatusCode int // 0 when the request never reached the broker
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("order submission %s: status %d: %v", e.Symbol, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("order submission %s: %v", e.Symbol, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
