package exchange

import (
	"context"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// Fill is the exchange's answer to an order. It is the source of truth
// for price and quantity; the engine records what the exchange says,
// not what it asked for.
type Fill struct {
	Symbol     string
	Side       models.Side
	Price      float64
	Quantity   float64
	OrderID    string
	ExecutedAt time.Time
}

// OpenRequest opens a leveraged market position. Size is in quote
// currency (USD); the adapter converts to base quantity at the current
// mark.
type OpenRequest struct {
	Symbol   string
	Side     models.Side
	Size     float64
	Leverage int
}

// CloseRequest closes an existing position by opposite market order.
type CloseRequest struct {
	Symbol   string
	Side     models.Side
	Quantity float64
}

// Adapter is the live settlement path. Paper bots never touch it.
type Adapter interface {
	OpenPosition(ctx context.Context, req OpenRequest) (*Fill, error)
	ClosePosition(ctx context.Context, req CloseRequest) (*Fill, error)
	MarkPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}
