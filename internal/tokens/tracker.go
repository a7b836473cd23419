package tokens

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
)

// Event is one billable LLM call as reported by the dispatcher's
// caller.
type Event struct {
	ID           string // optional; generated when empty
	UserID       string
	BotID        string
	ProviderID   string
	Kind         models.UsageKind
	InputTokens  int
	OutputTokens int
	Model        string
	LatencyMs    int64
}

// Tracker records usage rows and is the single place cost is computed.
type Tracker struct {
	store *storage.Store
	log   zerolog.Logger
}

// New builds a tracker.
func New(store *storage.Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// Track computes the cost for one event and writes the usage row.
// Passing the same event ID twice is a no-op (idempotent insert).
// Missing pricing records the row at zero cost with a warning.
func (t *Tracker) Track(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	var inputCost, outputCost int64
	pricing, err := t.store.GetActivePricing(ev.ProviderID)
	switch {
	case err == nil:
		inputCost = Cost(ev.InputTokens, pricing.InputPerMTok, pricing.MarkupPercent)
		outputCost = Cost(ev.OutputTokens, pricing.OutputPerMTok, pricing.MarkupPercent)
	case storage.IsNotFound(err):
		t.log.Warn().
			Str("provider_id", ev.ProviderID).
			Msg("no pricing configured, recording usage at zero cost")
	default:
		return fmt.Errorf("failed to load pricing: %w", err)
	}

	row := &models.TokenUsage{
		ID:           ev.ID,
		UserID:       ev.UserID,
		BotID:        ev.BotID,
		ProviderID:   ev.ProviderID,
		Kind:         ev.Kind,
		InputTokens:  ev.InputTokens,
		OutputTokens: ev.OutputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		Model:        ev.Model,
		LatencyMs:    ev.LatencyMs,
		CreatedAt:    time.Now().UTC(),
	}
	if err := t.store.InsertUsage(row); err != nil {
		return fmt.Errorf("failed to track usage: %w", err)
	}
	return nil
}

// Cost prices tokens in minor currency units. price is minor units per
// million tokens; markup is a percentage. The result always rounds up
// so fractional cents are never given away.
func Cost(tokens int, pricePerMTok int64, markupPercent float64) int64 {
	if tokens <= 0 || pricePerMTok <= 0 {
		return 0
	}
	base := decimal.NewFromInt(int64(tokens)).
		Mul(decimal.NewFromInt(pricePerMTok)).
		Div(decimal.NewFromInt(1_000_000))
	marked := base.Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(markupPercent).Div(decimal.NewFromInt(100))))
	return marked.Ceil().IntPart()
}

// Summary aggregates a user's usage over a period.
type Summary struct {
	Requests     int                       `json:"requests"`
	InputTokens  int                       `json:"input_tokens"`
	OutputTokens int                       `json:"output_tokens"`
	TotalCost    int64                     `json:"total_cost"`
	ByKind       map[models.UsageKind]int  `json:"by_kind"`
	Rows         []*models.TokenUsage      `json:"rows,omitempty"`
}

// UsageForPeriod returns the rows and aggregate totals for one user.
func (t *Tracker) UsageForPeriod(userID string, from, to time.Time) (*Summary, error) {
	rows, err := t.store.UsageForPeriod(userID, from, to)
	if err != nil {
		return nil, err
	}
	sum := &Summary{ByKind: make(map[models.UsageKind]int), Rows: rows}
	for _, r := range rows {
		sum.Requests++
		sum.InputTokens += r.InputTokens
		sum.OutputTokens += r.OutputTokens
		sum.TotalCost += r.TotalCost
		sum.ByKind[r.Kind]++
	}
	return sum, nil
}

// Unreported returns rows not yet handed to the biller.
func (t *Tracker) Unreported(userID string) ([]*models.TokenUsage, error) {
	return t.store.UnreportedUsage(userID)
}

// MarkReported flags a reported batch.
func (t *Tracker) MarkReported(ids []string) error {
	return t.store.MarkReported(ids)
}
