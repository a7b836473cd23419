package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/tokens"
)

// batchLimit bounds how many unsummarized decisions one regeneration
// folds in.
const batchLimit = 200

// Summarizer compresses a bot's stale decision history into a single
// rolling learning artifact.
type Summarizer struct {
	store    *storage.Store
	caller   llm.Caller
	settings *settings.Registry
	tracker  *tokens.Tracker
	log      zerolog.Logger
}

func New(store *storage.Store, caller llm.Caller, reg *settings.Registry, tracker *tokens.Tracker, log zerolog.Logger) *Summarizer {
	return &Summarizer{store: store, caller: caller, settings: reg, tracker: tracker, log: log}
}

// MaybeSummarize regenerates the bot's history summary when the
// estimated prompt weight exceeds the token budget AND enough new
// decisions have accrued since the last summary. Both conditions must
// hold, otherwise every turn past the budget would thrash the
// summarizer. promptTokens is the caller's estimate of the base prompt
// without history. Returns true when a new summary was written. On
// failure the previous summary stays in place.
func (s *Summarizer) MaybeSummarize(ctx context.Context, bot *models.Bot, spec *llm.ProviderSpec, promptTokens int) (bool, error) {
	prior, err := s.store.GetHistorySummary(bot.ID, "")
	if err != nil && !storage.IsNotFound(err) {
		return false, fmt.Errorf("failed to load history summary: %w", err)
	}

	var watermark time.Time
	var priorText string
	var priorCount int
	if prior != nil {
		watermark = prior.ToTime
		priorText = prior.Summary
		priorCount = prior.DecisionCount
	}

	fresh, err := s.store.DecisionsAfter(bot.ID, watermark, batchLimit)
	if err != nil {
		return false, fmt.Errorf("failed to load unsummarized decisions: %w", err)
	}
	minNew := s.settings.Int(settings.KeySummaryMinNewDecisions)
	if len(fresh) < minNew {
		return false, nil
	}

	rendered := renderDecisions(fresh)
	weight := promptTokens + llm.EstimateTokens(priorText) + llm.EstimateTokens(rendered)
	budget := s.settings.Int(settings.KeySummaryTokenBudget)
	if weight <= budget {
		return false, nil
	}

	prompt := buildPrompt(priorText, rendered)
	res, err := s.caller.Call(ctx, spec, prompt)
	if res != nil {
		trackErr := s.tracker.Track(tokens.Event{
			UserID:       bot.UserID,
			BotID:        bot.ID,
			ProviderID:   bot.ProviderID,
			Kind:         models.KindSummary,
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
			Model:        spec.Model,
			LatencyMs:    res.LatencyMs,
		})
		if trackErr != nil {
			s.log.Warn().Err(trackErr).Str("bot_id", bot.ID).Msg("failed to record summary usage")
		}
	}
	if err != nil {
		return false, fmt.Errorf("summarization failed: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return false, fmt.Errorf("summarization failed: %w", llm.ErrMalformed)
	}

	fromTime := fresh[0].CreatedAt
	if prior != nil {
		fromTime = prior.FromTime
	}
	next := &models.HistorySummary{
		BotID:         bot.ID,
		UserID:        bot.UserID,
		Summary:       text,
		DecisionCount: priorCount + len(fresh),
		FromTime:      fromTime,
		ToTime:        fresh[len(fresh)-1].CreatedAt,
		GeneratedAt:   time.Now().UTC(),
		TokenCount:    llm.EstimateTokens(text),
	}
	if err := s.store.ReplaceHistorySummary(next); err != nil {
		return false, fmt.Errorf("failed to store history summary: %w", err)
	}

	s.log.Info().
		Str("bot_id", bot.ID).
		Int("decisions", next.DecisionCount).
		Int("token_count", next.TokenCount).
		Msg("history summary regenerated")
	return true, nil
}

func buildPrompt(prior, rendered string) string {
	var b strings.Builder
	b.WriteString("You maintain the trading journal of an autonomous bot. ")
	b.WriteString("Compress the material below into a concise set of lessons: ")
	b.WriteString("what worked, what lost money, and which setups to avoid. ")
	b.WriteString("Keep concrete numbers where they matter. Respond with the ")
	b.WriteString("updated journal only.\n\n")
	if prior != "" {
		b.WriteString("## Journal so far\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}
	b.WriteString("## New decisions\n")
	b.WriteString(rendered)
	return b.String()
}

// renderDecisions flattens decisions to their final actions. Tool calls
// and their results are intermediate scratch work and stay out of the
// journal.
func renderDecisions(decisions []*models.Decision) string {
	var b strings.Builder
	for _, d := range decisions {
		fmt.Fprintf(&b, "[%s]", d.CreatedAt.UTC().Format("2006-01-02 15:04"))
		if !d.Success {
			b.WriteString(" turn failed\n")
			continue
		}
		final := finalActions(d.Actions)
		if len(final) == 0 {
			b.WriteString(" HOLD\n")
			continue
		}
		b.WriteString("\n")
		for _, a := range final {
			fmt.Fprintf(&b, "  %s", a.Action)
			if a.Symbol != "" {
				fmt.Fprintf(&b, " %s", a.Symbol)
			}
			if a.Size > 0 {
				fmt.Fprintf(&b, " size=%.2f x%d", a.Size, a.Leverage)
			}
			if a.Reasoning != "" {
				fmt.Fprintf(&b, " (%s)", a.Reasoning)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func finalActions(actions []models.BotAction) []models.BotAction {
	out := actions[:0:0]
	for _, a := range actions {
		if strings.EqualFold(a.Action, "ANALYZE") {
			continue
		}
		out = append(out, a)
	}
	return out
}
