package market

import (
	"sync"
	"time"
)

// Ticker is the latest observed state of one symbol.
type Ticker struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	ChangePct24h float64   `json:"change_pct_24h"`
	High24h      float64   `json:"high_24h"`
	Low24h       float64   `json:"low_24h"`
	Volume24h    float64   `json:"volume_24h"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot is the process-wide view of current marks. The engine and
// decision loop read it; only the refresher (or tests) write it.
type Snapshot struct {
	mu      sync.RWMutex
	tickers map[string]Ticker
}

func NewSnapshot() *Snapshot {
	return &Snapshot{tickers: make(map[string]Ticker)}
}

// Set replaces one symbol's ticker.
func (s *Snapshot) Set(t Ticker) {
	s.mu.Lock()
	s.tickers[t.Symbol] = t
	s.mu.Unlock()
}

// SetPrice is a shorthand used by tests and the live adapter to pin a
// mark without full 24h stats.
func (s *Snapshot) SetPrice(symbol string, price float64) {
	s.Set(Ticker{Symbol: symbol, Price: price, UpdatedAt: time.Now().UTC()})
}

// Price returns the last mark for a symbol.
func (s *Snapshot) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	t, ok := s.tickers[symbol]
	s.mu.RUnlock()
	if !ok || t.Price <= 0 {
		return 0, false
	}
	return t.Price, true
}

// Get returns one symbol's full ticker.
func (s *Snapshot) Get(symbol string) (Ticker, bool) {
	s.mu.RLock()
	t, ok := s.tickers[symbol]
	s.mu.RUnlock()
	return t, ok
}

// Copy returns a consistent copy of every ticker, for prompt assembly
// and broadcast.
func (s *Snapshot) Copy() map[string]Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Ticker, len(s.tickers))
	for k, v := range s.tickers {
		out[k] = v
	}
	return out
}
