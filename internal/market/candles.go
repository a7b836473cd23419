package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
)

// Candles serves historical close prices for indicator tools. Kline
// endpoints are public; no credentials needed.
type Candles struct {
	client   *futures.Client
	interval string
}

func NewCandles(baseURL string) *Candles {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &Candles{client: client, interval: "1h"}
}

// Closes returns up to limit hourly close prices, oldest first.
func (c *Candles) Closes(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if limit < 1 {
		limit = 1
	}
	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(c.interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}

	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		v, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			continue
		}
		closes = append(closes, v)
	}
	return closes, nil
}
