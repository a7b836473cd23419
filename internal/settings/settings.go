package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

// Setting keys. The set is closed: writes with any other key are
// rejected, new settings require a new entry in the registry table
// below.
const (
	KeyPaperInitialBalance    = "paper_bot_initial_balance"
	KeyLiveInitialBalance     = "live_bot_initial_balance"
	KeyTurnIntervalMs         = "turn_interval_ms"
	KeyRefreshIntervalMs      = "refresh_interval_ms"
	KeyMinTradeSizeUSD        = "minimum_trade_size_usd"
	KeySymbolCooldownMs       = "symbol_cooldown_ms"
	KeyMinPositionDurationMs  = "minimum_position_duration_ms"
	KeyTradingSymbols         = "trading_symbols"
	KeyMaxBots                = "max_bots"
	KeyMaxPositionsPerBot     = "max_positions_per_bot"
	KeyDataRetentionDays      = "data_retention_days"
	KeySessionTimeoutHours    = "session_timeout_hours"
	KeySummaryTokenBudget     = "summary_token_budget"
	KeySummaryMinNewDecisions = "summary_min_new_decisions"
	KeyEntryFeeRate           = "entry_fee_rate"
	KeyExitFeeRate            = "exit_fee_rate"
	KeyMaintenanceMarginRate  = "maintenance_margin_rate"
)

var (
	ErrUnknownKey   = errors.New("unknown setting key")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Kind is the value type of a setting.
type Kind string

const (
	KindNumber Kind = "number"
	KindInt    Kind = "integer"
	KindList   Kind = "list"
)

// Meta describes one setting for the admin metadata endpoint.
type Meta struct {
	Key         string `json:"key"`
	Kind        Kind   `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

var registry = []Meta{
	{KeyPaperInitialBalance, KindNumber, "10000", "Starting balance for paper bots"},
	{KeyLiveInitialBalance, KindNumber, "1000", "Assumed starting balance for live bots"},
	{KeyTurnIntervalMs, KindInt, "60000", "Milliseconds between bot turns"},
	{KeyRefreshIntervalMs, KindInt, "5000", "Milliseconds between market snapshot refreshes"},
	{KeyMinTradeSizeUSD, KindNumber, "10", "Smallest allowed notional trade size"},
	{KeySymbolCooldownMs, KindInt, "300000", "Per-symbol cooldown after a close"},
	{KeyMinPositionDurationMs, KindInt, "60000", "Minimum time a position must be held"},
	{KeyTradingSymbols, KindList, `["BTCUSDT","ETHUSDT","SOLUSDT","BNBUSDT","XRPUSDT","DOGEUSDT"]`, "Global tradable symbol list"},
	{KeyMaxBots, KindInt, "50", "Maximum concurrently active bots"},
	{KeyMaxPositionsPerBot, KindInt, "5", "Maximum simultaneous open positions per bot"},
	{KeyDataRetentionDays, KindInt, "90", "Days of decisions/snapshots to retain"},
	{KeySessionTimeoutHours, KindInt, "24", "Idle session expiry in hours"},
	{KeySummaryTokenBudget, KindInt, "25000", "Token budget that triggers re-summarization"},
	{KeySummaryMinNewDecisions, KindInt, "10", "New decisions required before re-summarizing"},
	{KeyEntryFeeRate, KindNumber, "0.0003", "Fee rate applied on open"},
	{KeyExitFeeRate, KindNumber, "0.0003", "Fee rate applied on close"},
	{KeyMaintenanceMarginRate, KindNumber, "0.005", "Maintenance margin rate in liquidation price"},
}

// Registry is the process settings map: enumerated keys, typed
// defaults, DB-backed overrides, in-memory cache.
type Registry struct {
	store *storage.Store

	mu     sync.RWMutex
	values map[string]string
}

// New builds a registry and hydrates the cache from the store.
func New(store *storage.Store) (*Registry, error) {
	r := &Registry{store: store, values: make(map[string]string)}

	stored, err := store.AllSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	for _, m := range registry {
		if v, ok := stored[m.Key]; ok {
			r.values[m.Key] = v
		} else {
			r.values[m.Key] = m.Default
		}
	}
	return r, nil
}

func metaFor(key string) (Meta, bool) {
	for _, m := range registry {
		if m.Key == key {
			return m, true
		}
	}
	return Meta{}, false
}

// Metadata returns the full registry description.
func Metadata() []Meta {
	out := make([]Meta, len(registry))
	copy(out, registry)
	return out
}

// validate checks raw against the key's kind.
func validate(m Meta, raw string) error {
	switch m.Kind {
	case KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidValue, m.Key)
		}
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidValue, m.Key)
		}
	case KindList:
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return fmt.Errorf("%w: %s must be a JSON string array", ErrInvalidValue, m.Key)
		}
	}
	return nil
}

// Get returns the raw value for a key.
func (r *Registry) Get(key string) (string, error) {
	if _, ok := metaFor(key); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[key], nil
}

// Set validates, persists and caches one setting.
func (r *Registry) Set(key, raw string) error {
	m, ok := metaFor(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := validate(m, raw); err != nil {
		return err
	}
	if err := r.store.SetSetting(key, raw); err != nil {
		return err
	}
	r.mu.Lock()
	r.values[key] = raw
	r.mu.Unlock()
	return nil
}

// SetBulk applies a batch; the batch is rejected wholesale if any key
// or value is invalid, before anything is written.
func (r *Registry) SetBulk(values map[string]string) error {
	for key, raw := range values {
		m, ok := metaFor(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if err := validate(m, raw); err != nil {
			return err
		}
	}
	for key, raw := range values {
		if err := r.Set(key, raw); err != nil {
			return err
		}
	}
	return nil
}

// All returns a copy of the current settings map.
func (r *Registry) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Float returns a number setting; invalid stored values fall back to
// the registry default.
func (r *Registry) Float(key string) float64 {
	raw, err := r.Get(key)
	if err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		m, _ := metaFor(key)
		f, _ = strconv.ParseFloat(m.Default, 64)
	}
	return f
}

// Int returns an integer setting.
func (r *Registry) Int(key string) int {
	raw, err := r.Get(key)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		m, _ := metaFor(key)
		n, _ = strconv.Atoi(m.Default)
	}
	return n
}

// Strings returns a list setting.
func (r *Registry) Strings(key string) []string {
	raw, err := r.Get(key)
	if err != nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		m, _ := metaFor(key)
		_ = json.Unmarshal([]byte(m.Default), &list)
	}
	return list
}
