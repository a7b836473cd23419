package decision

import (
	"context"
	"fmt"
	"math"
	"time"
)

// QuoteSource supplies recent close prices for indicator tools.
type QuoteSource interface {
	Closes(ctx context.Context, symbol string, limit int) ([]float64, error)
}

// Toolbox executes ANALYZE tools. Tools are pure functions over market
// data and parameters; they never mutate bot state.
type Toolbox struct {
	quotes QuoteSource
}

func NewToolbox(quotes QuoteSource) *Toolbox {
	return &Toolbox{quotes: quotes}
}

// Analysis is one executed tool call, fed back into the next prompt
// iteration.
type Analysis struct {
	Tool   string             `json:"tool"`
	Params map[string]float64 `json:"params,omitempty"`
	Symbol string             `json:"symbol,omitempty"`
	Result float64            `json:"result"`
}

// Run executes one named tool.
func (tb *Toolbox) Run(ctx context.Context, tool, symbol, equation string, params map[string]float64) (float64, error) {
	switch tool {
	case "rsi":
		period := intParam(params, "period", 14)
		closes, err := tb.closes(ctx, symbol, period*3+1)
		if err != nil {
			return 0, err
		}
		return rsi(closes, period)
	case "moving_average":
		period := intParam(params, "period", 20)
		closes, err := tb.closes(ctx, symbol, period)
		if err != nil {
			return 0, err
		}
		return movingAverage(closes, period)
	case "kelly":
		return kelly(params["win_rate"], params["win_loss_ratio"])
	case "custom_equation":
		return evalEquation(equation, params)
	case "moon_phase":
		return moonPhase(time.Now().UTC()), nil
	default:
		return 0, fmt.Errorf("unknown tool %q", tool)
	}
}

func (tb *Toolbox) closes(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if tb.quotes == nil {
		return nil, fmt.Errorf("no quote source configured")
	}
	if symbol == "" {
		return nil, fmt.Errorf("tool requires a symbol")
	}
	closes, err := tb.quotes.Closes(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch closes for %s: %w", symbol, err)
	}
	return closes, nil
}

func intParam(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v >= 1 {
		return int(v)
	}
	return def
}

// rsi is Wilder's RSI over the final value of the series.
func rsi(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("rsi needs at least %d closes, have %d", period+1, len(closes))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

func movingAverage(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("moving_average needs %d closes, have %d", period, len(closes))
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// kelly is the Kelly criterion fraction: W - (1-W)/R.
func kelly(winRate, winLossRatio float64) (float64, error) {
	if winRate < 0 || winRate > 1 {
		return 0, fmt.Errorf("win_rate must be in [0,1], got %v", winRate)
	}
	if winLossRatio <= 0 {
		return 0, fmt.Errorf("win_loss_ratio must be positive, got %v", winLossRatio)
	}
	return winRate - (1-winRate)/winLossRatio, nil
}

// moonPhase returns the fraction of the synodic month elapsed since a
// known new moon, in [0,1). 0 is new, 0.5 is full.
func moonPhase(at time.Time) float64 {
	// New moon reference: 2000-01-06 18:14 UTC.
	ref := time.Date(2000, 1, 6, 18, 14, 0, 0, time.UTC)
	const synodic = 29.530588853
	days := at.Sub(ref).Hours() / 24
	phase := math.Mod(days/synodic, 1)
	if phase < 0 {
		phase++
	}
	return phase
}
