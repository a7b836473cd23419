package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/engine"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/market"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/summarizer"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/tokens"
)

// maxIterations bounds the ANALYZE tool loop within one turn.
const maxIterations = 5

// retryBackoff is the pause before the single retry on a timed-out or
// rate-limited provider call.
const retryBackoff = 300 * time.Millisecond

// Runner executes one bot turn: mark-to-market, prompt assembly, the
// tool loop, action execution and atomic persistence.
type Runner struct {
	store    *storage.Store
	engine   *engine.Engine
	caller   llm.Caller
	tracker  *tokens.Tracker
	summ     *summarizer.Summarizer
	market   *market.Snapshot
	settings *settings.Registry
	toolbox  *Toolbox
	log      zerolog.Logger
}

func NewRunner(store *storage.Store, eng *engine.Engine, caller llm.Caller, tracker *tokens.Tracker, summ *summarizer.Summarizer, snap *market.Snapshot, reg *settings.Registry, toolbox *Toolbox, log zerolog.Logger) *Runner {
	return &Runner{
		store:    store,
		engine:   eng,
		caller:   caller,
		tracker:  tracker,
		summ:     summ,
		market:   snap,
		settings: reg,
		toolbox:  toolbox,
		log:      log,
	}
}

// RunTurn runs one complete turn. Provider failures end the turn with a
// failed Decision row and a nil error; only persistence failures return
// an error, so the scheduler can count them.
func (r *Runner) RunTurn(ctx context.Context, bot *models.Bot, rt *engine.Runtime, spec *llm.ProviderSpec) (*models.Decision, error) {
	now := time.Now().UTC()
	tw := &storage.TurnWrite{}

	// SL/TP/liquidation checks fire even when the provider is down.
	r.engine.MarkToMarket(rt, bot, now, tw)

	in, err := r.promptInput(bot, rt, now)
	if err != nil {
		return nil, err
	}

	var (
		prompt     string
		actions    []models.BotAction
		notes      []string
		success    = true
		iterations = 0
	)

	for iterations < maxIterations {
		iterations++
		prompt = BuildPrompt(*in)

		res, callErr := r.callWithRetry(ctx, bot, spec, prompt)
		if callErr != nil {
			notes = append(notes, "provider call failed: "+errorKind(callErr))
			success = false
			actions = nil
			break
		}

		parsed, parseErr := ParseActions(res.Text)
		if parseErr != nil {
			notes = append(notes, "malformed response: "+parseErr.Error())
			success = false
			actions = nil
			break
		}

		analyses, finals := splitActions(parsed)
		if len(analyses) > 0 && iterations < maxIterations {
			for _, a := range analyses {
				result, toolErr := r.toolbox.Run(ctx, a.Tool, a.Symbol, a.Equation, a.Parameters)
				if toolErr != nil {
					notes = append(notes, fmt.Sprintf("tool %s failed: %v", a.Tool, toolErr))
					continue
				}
				in.Analyses = append(in.Analyses, Analysis{
					Tool: a.Tool, Symbol: a.Symbol, Params: a.Parameters, Result: result,
				})
			}
			continue
		}
		// Residual ANALYZE actions on the last iteration are dropped.
		actions = finals
		break
	}

	if success {
		execNotes, execErr := r.execute(ctx, bot, rt, actions, now, tw)
		notes = append(notes, execNotes...)
		if execErr != nil {
			notes = append(notes, "execution failed: "+execErr.Error())
			success = false
		}
	}
	notes = append(notes, fmt.Sprintf("iterations: %d", iterations))

	decision := &models.Decision{
		ID:        uuid.NewString(),
		UserID:    bot.UserID,
		BotID:     bot.ID,
		Prompt:    prompt,
		Actions:   actions,
		Notes:     notes,
		Success:   success,
		CreatedAt: now,
	}
	tw.Decision = decision
	tw.Snapshot = engine.BuildSnapshot(rt, bot.UserID, now)

	if err := r.store.ApplyTurn(ctx, tw); err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	// Summarization runs in the background so it never delays the next
	// turn. The budget check adds the summary and decision history
	// itself, so the estimate here covers only the base prompt.
	promptTokens := basePromptTokens(*in)
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), llm.CallTimeout+10*time.Second)
		defer cancel()
		if _, serr := r.summ.MaybeSummarize(sctx, bot, spec, promptTokens); serr != nil {
			r.log.Warn().Err(serr).Str("bot_id", bot.ID).Msg("summarization failed, keeping prior summary")
		}
	}()

	return decision, nil
}

// basePromptTokens estimates the prompt weight without the summary,
// decision history and tool analyses the summarizer accounts for on
// its own.
func basePromptTokens(in PromptInput) int {
	in.SummaryText = ""
	in.RecentDecisions = nil
	in.Analyses = nil
	return llm.EstimateTokens(BuildPrompt(in))
}

func (r *Runner) promptInput(bot *models.Bot, rt *engine.Runtime, now time.Time) (*PromptInput, error) {
	trades, err := r.store.RecentClosedTrades(bot.ID, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent trades: %w", err)
	}
	decisions, err := r.store.RecentDecisions(bot.ID, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent decisions: %w", err)
	}
	var summaryText string
	if summary, err := r.store.GetHistorySummary(bot.ID, ""); err == nil {
		summaryText = summary.Summary
	} else if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load history summary: %w", err)
	}

	return &PromptInput{
		Bot:             bot,
		Runtime:         rt,
		RecentTrades:    trades,
		RecentDecisions: decisions,
		SummaryText:     summaryText,
		Tickers:         r.market.Copy(),
		GlobalSymbols:   r.settings.Strings(settings.KeyTradingSymbols),
		Now:             now,
	}, nil
}

// callWithRetry calls the provider, retrying once after a short pause
// on timeout or rate limit. Every physical call is billed.
func (r *Runner) callWithRetry(ctx context.Context, bot *models.Bot, spec *llm.ProviderSpec, prompt string) (*llm.Result, error) {
	res, err := r.callOnce(ctx, bot, spec, prompt)
	if err == nil || (!llm.IsTimeout(err) && !llm.IsRateLimit(err)) {
		return res, err
	}

	select {
	case <-ctx.Done():
		return res, err
	case <-time.After(retryBackoff):
	}
	return r.callOnce(ctx, bot, spec, prompt)
}

func (r *Runner) callOnce(ctx context.Context, bot *models.Bot, spec *llm.ProviderSpec, prompt string) (*llm.Result, error) {
	res, err := r.caller.Call(ctx, spec, prompt)
	if res != nil {
		trackErr := r.tracker.Track(tokens.Event{
			UserID:       bot.UserID,
			BotID:        bot.ID,
			ProviderID:   bot.ProviderID,
			Kind:         models.KindDecision,
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
			Model:        spec.Model,
			LatencyMs:    res.LatencyMs,
		})
		if trackErr != nil {
			r.log.Warn().Err(trackErr).Str("bot_id", bot.ID).Msg("failed to record decision usage")
		}
	}
	return res, err
}

// execute applies final actions in the order the model emitted them.
func (r *Runner) execute(ctx context.Context, bot *models.Bot, rt *engine.Runtime, actions []models.BotAction, now time.Time, tw *storage.TurnWrite) ([]string, error) {
	var notes []string
	for _, act := range actions {
		switch act.Action {
		case "LONG", "SHORT":
			note, err := r.engine.Open(ctx, rt, bot, act, now, tw)
			if err != nil {
				return notes, err
			}
			notes = append(notes, note)
		case "CLOSE":
			note, err := r.engine.CloseByID(ctx, rt, bot, act.PositionID, act.Reasoning, now, tw)
			if err != nil {
				return notes, err
			}
			notes = append(notes, note)
		case "HOLD":
			notes = append(notes, "hold")
		}
	}
	return notes, nil
}

func splitActions(actions []models.BotAction) (analyses, finals []models.BotAction) {
	for _, a := range actions {
		if strings.EqualFold(a.Action, "ANALYZE") {
			analyses = append(analyses, a)
		} else {
			finals = append(finals, a)
		}
	}
	return analyses, finals
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return "timeout"
	case errors.Is(err, llm.ErrRateLimit):
		return "rate limit"
	case errors.Is(err, llm.ErrAuth):
		return "auth"
	case errors.Is(err, llm.ErrMalformed):
		return "malformed"
	default:
		return err.Error()
	}
}
