package decision

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
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

// scriptedCaller returns canned responses in order and records every
// prompt it was sent.
type scriptedCaller struct {
	responses []string
	err       error
	prompts   []string
}

func (s *scriptedCaller) Call(_ context.Context, _ *llm.ProviderSpec, prompt string) (*llm.Result, error) {
	s.prompts = append(s.prompts, prompt)
	res := &llm.Result{
		Usage:     llm.Usage{InputTokens: llm.EstimateTokens(prompt), Estimated: true},
		LatencyMs: 1,
	}
	if s.err != nil {
		return res, s.err
	}
	idx := len(s.prompts) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	res.Text = s.responses[idx]
	res.Usage.OutputTokens = llm.EstimateTokens(res.Text)
	return res, nil
}

type loopFixture struct {
	store  *storage.Store
	runner *Runner
	bot    *models.Bot
	rt     *engine.Runtime
	snap   *market.Snapshot
	spec   *llm.ProviderSpec
}

func newLoopFixture(t *testing.T, caller llm.Caller, quotes QuoteSource) *loopFixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "loop_test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	user := &models.User{
		ID: uuid.NewString(), Email: "d@example.com", Username: "d",
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
		Name: "b", SystemPrompt: "You are a cautious trader.",
		Mode: models.ModePaper, Symbols: []string{"ETHUSDT"},
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateBot(bot); err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}

	reg, err := settings.New(store)
	if err != nil {
		t.Fatalf("settings.New failed: %v", err)
	}
	snap := market.NewSnapshot()
	snap.SetPrice("ETHUSDT", 3000)

	log := zerolog.Nop()
	tracker := tokens.New(store, log)
	eng := engine.New(reg, snap, nil, log)
	summ := summarizer.New(store, caller, reg, tracker, log)
	runner := NewRunner(store, eng, caller, tracker, summ, snap, reg, NewToolbox(quotes), log)

	return &loopFixture{
		store:  store,
		runner: runner,
		bot:    bot,
		rt:     engine.NewRuntime(bot.ID, 10000),
		snap:   snap,
		spec:   &llm.ProviderSpec{Variant: models.VariantOpenAI, Endpoint: "http://x", Model: "m"},
	}
}

func TestRunTurnTwoIterationAnalyze(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 3000 - float64(i)*10
	}
	caller := &scriptedCaller{responses: []string{
		"```json\n[{\"action\":\"ANALYZE\",\"tool\":\"rsi\",\"symbol\":\"ETHUSDT\",\"parameters\":{\"period\":14}}]\n```",
		"```json\n[{\"action\":\"LONG\",\"symbol\":\"ETHUSDT\",\"size\":500,\"leverage\":5}]\n```",
	}}
	f := newLoopFixture(t, caller, &fakeQuotes{closes: closes})

	dec, err := f.runner.RunTurn(context.Background(), f.bot, f.rt, f.spec)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if !dec.Success {
		t.Fatalf("turn failed: %+v", dec.Notes)
	}
	if len(caller.prompts) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(caller.prompts))
	}
	if !strings.Contains(caller.prompts[1], "Analysis results") || !strings.Contains(caller.prompts[1], "rsi") {
		t.Error("second prompt missing tool result")
	}
	if !hasNote(dec.Notes, "iterations: 2") {
		t.Errorf("notes = %v, want iterations: 2", dec.Notes)
	}
	if len(dec.Actions) != 1 || dec.Actions[0].Action != "LONG" {
		t.Errorf("decision actions = %+v", dec.Actions)
	}

	if f.rt.PositionForSymbol("ETHUSDT") == nil {
		t.Fatal("runtime has no open position")
	}
	open, err := f.store.OpenPositions(f.bot.ID)
	if err != nil {
		t.Fatalf("OpenPositions failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one persisted open position, got %d", len(open))
	}
}

func TestRunTurnProviderFailureWritesFailedDecision(t *testing.T) {
	caller := &scriptedCaller{err: llm.ErrTimeout}
	f := newLoopFixture(t, caller, &fakeQuotes{})

	dec, err := f.runner.RunTurn(context.Background(), f.bot, f.rt, f.spec)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if dec.Success {
		t.Fatal("decision should be marked failed")
	}
	if len(dec.Actions) != 0 {
		t.Errorf("failed turn must carry no actions: %+v", dec.Actions)
	}
	if !hasNote(dec.Notes, "timeout") {
		t.Errorf("notes = %v, want timeout kind", dec.Notes)
	}
	// One retry after the first timeout.
	if len(caller.prompts) != 2 {
		t.Errorf("expected 2 call attempts, got %d", len(caller.prompts))
	}
	if f.rt.Balance != 10000 || len(f.rt.Positions) != 0 {
		t.Error("failed turn modified the ledger")
	}

	rows, _, err := f.store.ListDecisions(f.bot.ID, "", 10, 0)
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Success {
		t.Errorf("expected one persisted failed decision, got %+v", rows)
	}
}

func TestRunTurnProseResponseIsHold(t *testing.T) {
	caller := &scriptedCaller{responses: []string{"Nothing looks attractive, staying flat."}}
	f := newLoopFixture(t, caller, &fakeQuotes{})

	dec, err := f.runner.RunTurn(context.Background(), f.bot, f.rt, f.spec)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if !dec.Success || len(dec.Actions) != 0 {
		t.Errorf("prose response should be a successful HOLD: %+v", dec)
	}
	if !hasNote(dec.Notes, "iterations: 1") {
		t.Errorf("notes = %v", dec.Notes)
	}
}

func TestRunTurnDiscardsResidualAnalyzeAtCap(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		"```json\n[{\"action\":\"ANALYZE\",\"tool\":\"kelly\",\"parameters\":{\"win_rate\":0.6,\"win_loss_ratio\":2}}]\n```",
	}}
	f := newLoopFixture(t, caller, &fakeQuotes{})

	dec, err := f.runner.RunTurn(context.Background(), f.bot, f.rt, f.spec)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(caller.prompts) != maxIterations {
		t.Errorf("expected %d calls, got %d", maxIterations, len(caller.prompts))
	}
	if !dec.Success || len(dec.Actions) != 0 {
		t.Errorf("residual ANALYZE must be dropped silently: %+v", dec)
	}
	if !hasNote(dec.Notes, "iterations: 5") {
		t.Errorf("notes = %v", dec.Notes)
	}
	if len(f.rt.Positions) != 0 {
		t.Error("ANALYZE-only turn opened a position")
	}
}

func TestBasePromptTokensExcludesHistory(t *testing.T) {
	in := PromptInput{
		Bot: &models.Bot{
			ID:           uuid.NewString(),
			SystemPrompt: "trade carefully",
			Symbols:      []string{"BTCUSDT"},
		},
		Runtime:       engine.NewRuntime("b1", 10000),
		GlobalSymbols: []string{"BTCUSDT"},
		Now:           time.Now().UTC(),
	}
	base := basePromptTokens(in)

	in.SummaryText = strings.Repeat("lesson learned. ", 500)
	in.RecentDecisions = []*models.Decision{
		{CreatedAt: in.Now, Actions: []models.BotAction{
			{Action: "LONG", Symbol: "BTCUSDT", Reasoning: strings.Repeat("momentum ", 100)},
		}},
	}
	if got := basePromptTokens(in); got != base {
		t.Errorf("base estimate moved with history: %d != %d", got, base)
	}
	if full := llm.EstimateTokens(BuildPrompt(in)); full <= base {
		t.Errorf("full prompt estimate %d not above base %d", full, base)
	}
}

func hasNote(notes []string, want string) bool {
	for _, n := range notes {
		if strings.Contains(n, want) {
			return true
		}
	}
	return false
}
