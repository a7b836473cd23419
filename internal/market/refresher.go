package market

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
)

// Refresher polls Binance futures 24h stats on a cadence and keeps the
// shared snapshot current. Public stats endpoints need no credentials.
type Refresher struct {
	snap     *Snapshot
	settings *settings.Registry
	log      zerolog.Logger

	// fetch is swapped in tests; defaults to the futures client.
	fetch func(ctx context.Context) ([]*futures.PriceChangeStats, error)
}

func NewRefresher(snap *Snapshot, reg *settings.Registry, baseURL string, log zerolog.Logger) *Refresher {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &Refresher{
		snap:     snap,
		settings: reg,
		log:      log,
		fetch: func(ctx context.Context) ([]*futures.PriceChangeStats, error) {
			return client.NewListPriceChangeStatsService().Do(ctx)
		},
	}
}

// Run polls until ctx is cancelled. Errors back off exponentially and
// never kill the loop.
func (r *Refresher) Run(ctx context.Context) {
	bo := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}

	for {
		interval := time.Duration(r.settings.Int(settings.KeyRefreshIntervalMs)) * time.Millisecond
		if err := r.refreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d := bo.Duration()
			r.log.Warn().Err(err).Dur("retry_in", d).Msg("market refresh failed")
			interval = d
		} else {
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	stats, err := r.fetch(fetchCtx)
	if err != nil {
		return err
	}

	allowed := make(map[string]bool)
	for _, s := range r.settings.Strings(settings.KeyTradingSymbols) {
		allowed[s] = true
	}

	now := time.Now().UTC()
	updated := 0
	for _, st := range stats {
		if !allowed[st.Symbol] {
			continue
		}
		price, err := strconv.ParseFloat(st.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		change, _ := strconv.ParseFloat(st.PriceChangePercent, 64)
		high, _ := strconv.ParseFloat(st.HighPrice, 64)
		low, _ := strconv.ParseFloat(st.LowPrice, 64)
		volume, _ := strconv.ParseFloat(st.Volume, 64)
		r.snap.Set(Ticker{
			Symbol:       st.Symbol,
			Price:        price,
			ChangePct24h: change,
			High24h:      high,
			Low24h:       low,
			Volume24h:    volume,
			UpdatedAt:    now,
		})
		updated++
	}

	r.log.Debug().Int("symbols", updated).Msg("market snapshot refreshed")
	return nil
}
