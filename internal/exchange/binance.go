package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// callTimeout caps one exchange round trip.
const callTimeout = 10 * time.Second

const maxAttempts = 3

// Binance settles live positions on Binance USDT-margined futures.
// One adapter per wallet; credentials come decrypted from the vault.
type Binance struct {
	client *futures.Client
	log    zerolog.Logger
}

// NewBinance builds an adapter for one wallet's credentials. baseURL
// overrides the endpoint for testnet wallets and tests.
func NewBinance(apiKey, apiSecret, baseURL string, log zerolog.Logger) *Binance {
	client := futures.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &Binance{client: client, log: log}
}

// OpenPosition sets leverage and submits a market order sized from the
// current mark. The returned fill carries the exchange's average price.
func (b *Binance) OpenPosition(ctx context.Context, req OpenRequest) (*Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := b.withRetry(ctx, func() error {
		_, err := b.client.NewChangeLeverageService().
			Symbol(req.Symbol).
			Leverage(req.Leverage).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set leverage: %w", err)
	}

	mark, err := b.markPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	quantity := req.Size / mark

	side := futures.SideTypeBuy
	if req.Side == models.SideShort {
		side = futures.SideTypeSell
	}

	var order *futures.CreateOrderResponse
	err = b.withRetry(ctx, func() error {
		var oerr error
		order, oerr = b.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(formatQuantity(quantity)).
			Do(ctx)
		return oerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit open order: %w", err)
	}

	fill, err := b.resolveFill(ctx, req.Symbol, order)
	if err != nil {
		return nil, err
	}
	fill.Side = req.Side

	b.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("price", fill.Price).
		Float64("quantity", fill.Quantity).
		Msg("live position opened")
	return fill, nil
}

// ClosePosition submits the opposite market order with reduce-only set
// so a stale quantity can never flip the position.
func (b *Binance) ClosePosition(ctx context.Context, req CloseRequest) (*Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	side := futures.SideTypeSell
	if req.Side == models.SideShort {
		side = futures.SideTypeBuy
	}

	var order *futures.CreateOrderResponse
	err := b.withRetry(ctx, func() error {
		var oerr error
		order, oerr = b.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(formatQuantity(req.Quantity)).
			ReduceOnly(true).
			Do(ctx)
		return oerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit close order: %w", err)
	}

	fill, err := b.resolveFill(ctx, req.Symbol, order)
	if err != nil {
		return nil, err
	}
	fill.Side = req.Side

	b.log.Info().
		Str("symbol", req.Symbol).
		Float64("price", fill.Price).
		Msg("live position closed")
	return fill, nil
}

// MarkPrices fetches current marks for the given symbols.
func (b *Binance) MarkPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		price, err := b.markPrice(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = price
	}
	return out, nil
}

func (b *Binance) markPrice(ctx context.Context, symbol string) (float64, error) {
	var premium []*futures.PremiumIndex
	err := b.withRetry(ctx, func() error {
		var perr error
		premium, perr = b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return perr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch mark price: %w", err)
	}
	if len(premium) == 0 {
		return 0, fmt.Errorf("no mark price for %s", symbol)
	}
	price, err := strconv.ParseFloat(premium[0].MarkPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("bad mark price for %s: %q", symbol, premium[0].MarkPrice)
	}
	return price, nil
}

// resolveFill extracts the average fill. Market orders occasionally
// come back with zero AvgPrice before settlement; re-query then.
func (b *Binance) resolveFill(ctx context.Context, symbol string, order *futures.CreateOrderResponse) (*Fill, error) {
	avg, _ := strconv.ParseFloat(order.AvgPrice, 64)
	qty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	if avg <= 0 || qty <= 0 {
		var got *futures.Order
		err := b.withRetry(ctx, func() error {
			var qerr error
			got, qerr = b.client.NewGetOrderService().
				Symbol(symbol).
				OrderID(order.OrderID).
				Do(ctx)
			return qerr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query order fill: %w", err)
		}
		avg, _ = strconv.ParseFloat(got.AvgPrice, 64)
		qty, _ = strconv.ParseFloat(got.ExecutedQuantity, 64)
	}
	if avg <= 0 || qty <= 0 {
		return nil, fmt.Errorf("order %d reported no fill", order.OrderID)
	}

	return &Fill{
		Symbol:     symbol,
		Price:      avg,
		Quantity:   qty,
		OrderID:    strconv.FormatInt(order.OrderID, 10),
		ExecutedAt: time.Now().UTC(),
	}, nil
}

func (b *Binance) withRetry(ctx context.Context, fn func() error) error {
	bo := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(bo.Duration()):
		}
	}
	return err
}

// formatQuantity trims to 3 decimals, enough precision for the major
// USDT perpetual pairs.
func formatQuantity(q float64) string {
	return strconv.FormatFloat(math.Floor(q*1000)/1000, 'f', -1, 64)
}
