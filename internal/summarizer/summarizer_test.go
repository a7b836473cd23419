package summarizer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/tokens"
)

type fakeCaller struct {
	calls int
	text  string
	err   error
}

func (f *fakeCaller) Call(_ context.Context, _ *llm.ProviderSpec, prompt string) (*llm.Result, error) {
	f.calls++
	res := &llm.Result{
		Text:      f.text,
		Usage:     llm.Usage{InputTokens: llm.EstimateTokens(prompt), OutputTokens: llm.EstimateTokens(f.text), Estimated: true},
		LatencyMs: 5,
	}
	if f.err != nil {
		return res, f.err
	}
	return res, nil
}

type fixture struct {
	store *storage.Store
	reg   *settings.Registry
	bot   *models.Bot
	spec  *llm.ProviderSpec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "summarizer_test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	user := &models.User{
		ID: uuid.NewString(), Email: "s@example.com", Username: "s",
		PasswordHash: "x", Role: models.RoleUser, Active: true,
		EncSalt: []byte("salt"), CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	prov := &models.Provider{
		ID: uuid.NewString(), UserID: user.ID, Name: "p",
		Variant: models.VariantOpenAI, Endpoint: "http://x", Model: "m",
		APIKeyEnc: "v1:e", Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateProvider(prov); err != nil {
		t.Fatalf("CreateProvider failed: %v", err)
	}
	bot := &models.Bot{
		ID: uuid.NewString(), UserID: user.ID, ProviderID: prov.ID,
		Name: "b", Mode: models.ModePaper, Symbols: []string{"BTCUSDT"},
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateBot(bot); err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}

	reg, err := settings.New(store)
	if err != nil {
		t.Fatalf("settings.New failed: %v", err)
	}
	// Shrink the budget so small test prompts can cross it.
	if err := reg.Set(settings.KeySummaryTokenBudget, "100"); err != nil {
		t.Fatalf("Set budget failed: %v", err)
	}

	return &fixture{
		store: store,
		reg:   reg,
		bot:   bot,
		spec:  &llm.ProviderSpec{Variant: models.VariantOpenAI, Endpoint: "http://x", Model: "m"},
	}
}

func (f *fixture) addDecisions(t *testing.T, n int, start time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := f.store.ApplyTurn(context.Background(), &storage.TurnWrite{
			Decision: &models.Decision{
				ID: uuid.NewString(), UserID: f.bot.UserID, BotID: f.bot.ID,
				Prompt: "p",
				Actions: []models.BotAction{
					{Action: "LONG", Symbol: "BTCUSDT", Size: 100, Leverage: 5, Reasoning: "momentum breakout over resistance"},
				},
				Success:   true,
				CreatedAt: start.Add(time.Duration(i) * time.Minute),
			},
		})
		if err != nil {
			t.Fatalf("ApplyTurn failed: %v", err)
		}
	}
}

func newSummarizer(f *fixture, caller llm.Caller) *Summarizer {
	return New(f.store, caller, f.reg, tokens.New(f.store, zerolog.Nop()), zerolog.Nop())
}

func TestMaybeSummarizeHonorsMinNewDecisions(t *testing.T) {
	f := newFixture(t)
	base := time.Now().UTC().Add(-2 * time.Hour)

	// A prior summary covering 50 decisions, watermarked just before the
	// fresh batch below.
	err := f.store.ReplaceHistorySummary(&models.HistorySummary{
		BotID: f.bot.ID, UserID: f.bot.UserID, Summary: "old lessons",
		DecisionCount: 50, FromTime: base.Add(-24 * time.Hour), ToTime: base.Add(-time.Minute),
		GeneratedAt: base, TokenCount: 3,
	})
	if err != nil {
		t.Fatalf("ReplaceHistorySummary failed: %v", err)
	}

	// 9 new decisions: over budget but under the min-new threshold.
	f.addDecisions(t, 9, base)
	caller := &fakeCaller{text: "new lessons"}
	s := newSummarizer(f, caller)

	changed, err := s.MaybeSummarize(context.Background(), f.bot, f.spec, 10_000)
	if err != nil {
		t.Fatalf("MaybeSummarize failed: %v", err)
	}
	if changed || caller.calls != 0 {
		t.Fatalf("summarized with only 9 new decisions (changed=%v calls=%d)", changed, caller.calls)
	}

	// The 10th decision satisfies both conditions.
	f.addDecisions(t, 1, base.Add(30*time.Minute))
	changed, err = s.MaybeSummarize(context.Background(), f.bot, f.spec, 10_000)
	if err != nil {
		t.Fatalf("MaybeSummarize failed: %v", err)
	}
	if !changed || caller.calls != 1 {
		t.Fatalf("expected exactly one summarization (changed=%v calls=%d)", changed, caller.calls)
	}

	got, err := f.store.GetHistorySummary(f.bot.ID, "")
	if err != nil {
		t.Fatalf("GetHistorySummary failed: %v", err)
	}
	if got.Summary != "new lessons" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.DecisionCount != 60 {
		t.Errorf("decision count = %d, want 60", got.DecisionCount)
	}
}

func TestMaybeSummarizeHonorsTokenBudget(t *testing.T) {
	f := newFixture(t)
	f.addDecisions(t, 15, time.Now().UTC().Add(-time.Hour))
	caller := &fakeCaller{text: "lessons"}
	s := newSummarizer(f, caller)

	// Enough new decisions but a tiny prompt: the budget condition holds
	// it back.
	if err := f.reg.Set(settings.KeySummaryTokenBudget, "25000"); err != nil {
		t.Fatalf("Set budget failed: %v", err)
	}
	changed, err := s.MaybeSummarize(context.Background(), f.bot, f.spec, 10)
	if err != nil {
		t.Fatalf("MaybeSummarize failed: %v", err)
	}
	if changed || caller.calls != 0 {
		t.Fatalf("summarized under budget (changed=%v calls=%d)", changed, caller.calls)
	}

	changed, err = s.MaybeSummarize(context.Background(), f.bot, f.spec, 30_000)
	if err != nil {
		t.Fatalf("MaybeSummarize failed: %v", err)
	}
	if !changed {
		t.Fatal("expected summarization once over budget")
	}
}

func TestMaybeSummarizeFailureKeepsPriorSummary(t *testing.T) {
	f := newFixture(t)
	base := time.Now().UTC().Add(-time.Hour)
	err := f.store.ReplaceHistorySummary(&models.HistorySummary{
		BotID: f.bot.ID, UserID: f.bot.UserID, Summary: "survives",
		DecisionCount: 20, FromTime: base.Add(-time.Hour), ToTime: base.Add(-time.Minute),
		GeneratedAt: base, TokenCount: 2,
	})
	if err != nil {
		t.Fatalf("ReplaceHistorySummary failed: %v", err)
	}
	f.addDecisions(t, 12, base)

	caller := &fakeCaller{err: llm.ErrTimeout}
	s := newSummarizer(f, caller)

	changed, err := s.MaybeSummarize(context.Background(), f.bot, f.spec, 10_000)
	if err == nil {
		t.Fatal("expected error from failed summarization")
	}
	if !errors.Is(err, llm.ErrTimeout) {
		t.Errorf("wrong error: %v", err)
	}
	if changed {
		t.Error("changed should be false on failure")
	}

	got, err := f.store.GetHistorySummary(f.bot.ID, "")
	if err != nil {
		t.Fatalf("GetHistorySummary failed: %v", err)
	}
	if got.Summary != "survives" || got.DecisionCount != 20 {
		t.Errorf("prior summary was disturbed: %+v", got)
	}
}

func TestRenderDecisionsSkipsToolCalls(t *testing.T) {
	rendered := renderDecisions([]*models.Decision{
		{
			Actions: []models.BotAction{
				{Action: "ANALYZE", Tool: "rsi"},
				{Action: "LONG", Symbol: "ETHUSDT", Size: 50, Leverage: 3},
			},
			Success:   true,
			CreatedAt: time.Now(),
		},
	})
	if !strings.Contains(rendered, "LONG ETHUSDT") {
		t.Errorf("final action missing: %q", rendered)
	}
	if strings.Contains(rendered, "ANALYZE") || strings.Contains(rendered, "rsi") {
		t.Errorf("tool call leaked into journal: %q", rendered)
	}
}
