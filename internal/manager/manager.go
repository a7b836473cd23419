package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/decision"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/engine"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/market"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/vault"
)

// maxPersistFailures pauses a bot after this many consecutive
// persistence failures.
const maxPersistFailures = 3

// valueHistoryCap bounds the per-bot broadcast value history.
const valueHistoryCap = 288

// Publisher receives the freshly composed arena state after each turn.
type Publisher interface {
	Publish(state *models.ArenaState)
}

// Manager owns every in-memory bot runtime. One goroutine per active
// bot; turns within a bot are serial, turns across bots are parallel.
type Manager struct {
	store    *storage.Store
	runner   *decision.Runner
	settings *settings.Registry
	vault    *vault.Vault
	market   *market.Snapshot
	pub      Publisher
	log      zerolog.Logger

	mu     sync.Mutex
	tasks  map[string]*botTask
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// botTask is one bot's runtime plus its scheduling machinery. turnMu
// serializes turns and config swaps; viewMu guards the broadcast view
// so composing the arena state never waits on an in-flight turn.
type botTask struct {
	turnMu   sync.Mutex
	bot      *models.Bot
	rt       *engine.Runtime
	encSalt  []byte
	failures int

	force  chan struct{}
	cancel context.CancelFunc

	viewMu  sync.Mutex
	view    *models.ArenaBot
	history []models.ValuePoint
}

func New(store *storage.Store, runner *decision.Runner, reg *settings.Registry, v *vault.Vault, snap *market.Snapshot, pub Publisher, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		runner:   runner,
		settings: reg,
		vault:    v,
		market:   snap,
		pub:      pub,
		log:      log,
		tasks:    make(map[string]*botTask),
	}
}

// Start loads every active bot and spawns its task.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	bots, err := m.store.ListActiveBots()
	if err != nil {
		return fmt.Errorf("failed to load active bots: %w", err)
	}

	cooldowns := m.loadCooldowns()
	for _, bot := range bots {
		if err := m.startTask(bot, cooldowns[bot.ID]); err != nil {
			m.log.Error().Err(err).Str("bot_id", bot.ID).Msg("failed to start bot")
		}
	}
	m.log.Info().Int("bots", len(bots)).Msg("bot manager started")
	return nil
}

// StartBot spawns a task for a newly created bot.
func (m *Manager) StartBot(bot *models.Bot) error {
	return m.startTask(bot, nil)
}

func (m *Manager) startTask(bot *models.Bot, cooldowns map[string]time.Time) error {
	rt, salt, err := m.hydrate(bot, cooldowns)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[bot.ID]; exists {
		return fmt.Errorf("bot %s already running", bot.ID)
	}

	taskCtx, taskCancel := context.WithCancel(m.ctx)
	task := &botTask{
		bot:     bot,
		rt:      rt,
		encSalt: salt,
		force:   make(chan struct{}, 1),
		cancel:  taskCancel,
	}
	task.refreshView()
	m.tasks[bot.ID] = task

	m.wg.Add(1)
	go m.runBot(taskCtx, task)
	return nil
}

// hydrate rebuilds a bot's runtime from its latest snapshot and open
// positions. Cooldowns come from the reloaded arena blob.
func (m *Manager) hydrate(bot *models.Bot, cooldowns map[string]time.Time) (*engine.Runtime, []byte, error) {
	user, err := m.store.GetUserByID(bot.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bot owner: %w", err)
	}

	balance := m.settings.Float(settings.KeyPaperInitialBalance)
	if bot.Mode == models.ModeReal {
		balance = m.settings.Float(settings.KeyLiveInitialBalance)
	}
	rt := engine.NewRuntime(bot.ID, balance)

	if snap, err := m.store.LatestSnapshot(bot.ID); err == nil {
		rt.Balance = snap.Balance
		rt.RealizedPnl = snap.RealizedPnl
	} else if !storage.IsNotFound(err) {
		return nil, nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	open, err := m.store.OpenPositions(bot.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	for _, p := range open {
		rt.Positions[p.ID] = p
	}

	total, wins, _, err := m.store.TradeStats(bot.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load trade stats: %w", err)
	}
	rt.TradeCount = total
	rt.WinCount = wins

	now := time.Now()
	for sym, until := range cooldowns {
		if until.After(now) {
			rt.Cooldowns[sym] = until
		}
	}
	return rt, user.EncSalt, nil
}

// loadCooldowns reads surviving cooldowns out of the persisted arena
// blob.
func (m *Manager) loadCooldowns() map[string]map[string]time.Time {
	out := make(map[string]map[string]time.Time)
	blob, err := m.store.ReadArenaState()
	if err != nil || len(blob) == 0 {
		return out
	}
	var state models.ArenaState
	if err := json.Unmarshal(blob, &state); err != nil {
		m.log.Warn().Err(err).Msg("failed to parse persisted arena state")
		return out
	}
	for id, b := range state.Bots {
		if len(b.Cooldowns) > 0 {
			out[id] = b.Cooldowns
		}
	}
	return out
}

// runBot is the per-bot loop: wait out the interval (or a force-turn
// wake-up), skip while paused, run one turn, publish.
func (m *Manager) runBot(ctx context.Context, task *botTask) {
	defer m.wg.Done()

	for {
		interval := time.Duration(m.settings.Int(settings.KeyTurnIntervalMs)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		case <-task.force:
		}
		if ctx.Err() != nil {
			return
		}

		task.turnMu.Lock()
		bot := task.bot
		if bot.Paused || !bot.Active {
			task.turnMu.Unlock()
			continue
		}
		m.runTurn(ctx, task, bot)
		task.turnMu.Unlock()

		m.publish()
	}
}

func (m *Manager) runTurn(ctx context.Context, task *botTask, bot *models.Bot) {
	spec, err := m.resolveProvider(bot, task.encSalt)
	if err != nil {
		m.log.Warn().Err(err).Str("bot_id", bot.ID).Msg("skipping turn, provider unavailable")
		return
	}

	_, err = m.runner.RunTurn(ctx, bot, task.rt, spec)
	if err != nil {
		task.failures++
		m.log.Error().Err(err).Str("bot_id", bot.ID).Int("consecutive", task.failures).Msg("turn persistence failed")
		if task.failures >= maxPersistFailures {
			m.autoPause(task, bot)
		}
	} else {
		task.failures = 0
	}
	task.refreshView()
}

// autoPause stops a bot that keeps failing to persist and leaves an
// audit trail.
func (m *Manager) autoPause(task *botTask, bot *models.Bot) {
	bot.Paused = true
	if err := m.store.SetBotPaused(bot.ID, "", true); err != nil {
		m.log.Error().Err(err).Str("bot_id", bot.ID).Msg("failed to persist auto-pause")
	}
	audit := &models.AuditEntry{
		ID:         uuid.NewString(),
		Event:      "bot.auto_paused",
		EntityKind: "bot",
		EntityID:   bot.ID,
		ActorID:    "system",
		Details:    map[string]string{"reason": fmt.Sprintf("%d consecutive persistence failures", maxPersistFailures)},
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertAudit(audit); err != nil {
		m.log.Error().Err(err).Msg("failed to write auto-pause audit entry")
	}
	m.log.Warn().Str("bot_id", bot.ID).Msg("bot auto-paused after repeated persistence failures")
}

// resolveProvider decrypts the bot's provider credentials just-in-time.
// Keys never live beyond the returned spec.
func (m *Manager) resolveProvider(bot *models.Bot, salt []byte) (*llm.ProviderSpec, error) {
	prov, err := m.store.GetProvider(bot.ProviderID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load provider: %w", err)
	}
	apiKey := ""
	if prov.APIKeyEnc != "" {
		apiKey, err = m.vault.Decrypt(prov.APIKeyEnc, bot.UserID, salt)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt provider key: %w", err)
		}
	}
	return &llm.ProviderSpec{
		Variant:  prov.Variant,
		Endpoint: prov.Endpoint,
		Model:    prov.Model,
		APIKey:   apiKey,
		Config:   prov.Config,
	}, nil
}

// ForceTurn schedules one extra turn. Requests during an in-flight
// turn collapse into a single wake-up.
func (m *Manager) ForceTurn(botID string) error {
	task, err := m.task(botID)
	if err != nil {
		return err
	}
	select {
	case task.force <- struct{}{}:
	default:
	}
	return nil
}

// SetPaused flips the paused flag in the store and the live runtime.
func (m *Manager) SetPaused(botID, ownerID string, paused bool) error {
	if err := m.store.SetBotPaused(botID, ownerID, paused); err != nil {
		return err
	}
	if task, err := m.task(botID); err == nil {
		task.turnMu.Lock()
		task.bot.Paused = paused
		task.refreshView()
		task.turnMu.Unlock()
	}
	return nil
}

// Reload re-reads the bot row and swaps it into the running task
// without stopping it.
func (m *Manager) Reload(botID string) error {
	bot, err := m.store.GetBot(botID, "")
	if err != nil {
		return err
	}
	task, err := m.task(botID)
	if err != nil {
		// Bot may have been re-activated; start it fresh.
		if bot.Active {
			return m.StartBot(bot)
		}
		return err
	}
	task.turnMu.Lock()
	task.bot = bot
	task.failures = 0
	task.refreshView()
	task.turnMu.Unlock()
	return nil
}

// Reset wipes a paper bot's trading data and restarts its ledger at
// the configured initial balance. Live bots cannot be reset.
func (m *Manager) Reset(ctx context.Context, botID string) error {
	task, err := m.task(botID)
	if err != nil {
		return err
	}

	task.turnMu.Lock()
	defer task.turnMu.Unlock()

	if task.bot.Mode != models.ModePaper {
		return fmt.Errorf("live bot cannot be reset: %w", storage.ErrConflict)
	}

	balance := m.settings.Float(settings.KeyPaperInitialBalance)
	fresh := &models.Snapshot{
		ID:         uuid.NewString(),
		UserID:     task.bot.UserID,
		BotID:      botID,
		Balance:    balance,
		TotalValue: balance,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.ResetBot(ctx, botID, fresh); err != nil {
		return err
	}

	task.rt = engine.NewRuntime(botID, balance)
	task.failures = 0
	task.viewMu.Lock()
	task.history = nil
	task.viewMu.Unlock()
	task.refreshView()
	return nil
}

// SnapshotNow records an on-demand point of the bot's wealth series.
func (m *Manager) SnapshotNow(botID string) (*models.Snapshot, error) {
	task, err := m.task(botID)
	if err != nil {
		return nil, err
	}

	task.turnMu.Lock()
	rt := task.rt
	sn := &models.Snapshot{
		ID:            uuid.NewString(),
		UserID:        task.bot.UserID,
		BotID:         botID,
		Balance:       rt.Balance,
		UnrealizedPnl: rt.UnrealizedTotal(),
		RealizedPnl:   rt.RealizedPnl,
		TotalValue:    rt.TotalValue(),
		TradeCount:    rt.TradeCount,
		WinRate:       rt.WinRate(),
		CreatedAt:     time.Now().UTC(),
	}
	task.turnMu.Unlock()

	if err := m.store.InsertSnapshot(sn); err != nil {
		return nil, err
	}
	return sn, nil
}

// StopBot cancels a bot's task, for soft-delete and deactivation.
func (m *Manager) StopBot(botID string) {
	m.mu.Lock()
	task, ok := m.tasks[botID]
	if ok {
		delete(m.tasks, botID)
	}
	m.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// Shutdown lets in-flight turns finish, then writes a final arena
// snapshot. Pending force-turn requests are dropped.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.publish()
	m.log.Info().Msg("bot manager stopped")
}

func (m *Manager) task(botID string) (*botTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[botID]
	if !ok {
		return nil, fmt.Errorf("bot %s not running: %w", botID, storage.ErrNotFound)
	}
	return task, nil
}

// refreshView rebuilds the task's sanitized broadcast slice.
func (task *botTask) refreshView() {
	rt := task.rt
	positions := make([]models.ArenaPosition, 0, len(rt.Positions))
	for _, p := range rt.Positions {
		positions = append(positions, models.ArenaPosition{
			Symbol:        p.Symbol,
			Side:          p.Side,
			EntryPrice:    p.EntryPrice,
			Size:          p.Size,
			Leverage:      p.Leverage,
			UnrealizedPnl: p.UnrealizedPnl,
		})
	}
	cooldowns := make(map[string]time.Time, len(rt.Cooldowns))
	now := time.Now()
	for sym, until := range rt.Cooldowns {
		if until.After(now) {
			cooldowns[sym] = until
		}
	}

	task.viewMu.Lock()
	defer task.viewMu.Unlock()
	task.history = append(task.history, models.ValuePoint{Time: now.UTC(), Value: rt.TotalValue()})
	if len(task.history) > valueHistoryCap {
		task.history = task.history[len(task.history)-valueHistoryCap:]
	}
	task.view = &models.ArenaBot{
		ID:            task.bot.ID,
		Name:          task.bot.Name,
		Balance:       rt.Balance,
		RealizedPnl:   rt.RealizedPnl,
		UnrealizedPnl: rt.UnrealizedTotal(),
		TotalValue:    rt.TotalValue(),
		ValueHistory:  append([]models.ValuePoint(nil), task.history...),
		Cooldowns:     cooldowns,
		Positions:     positions,
		Paused:        task.bot.Paused,
	}
}

// ArenaState composes the current sanitized broadcast blob.
func (m *Manager) ArenaState() *models.ArenaState {
	tickers := m.market.Copy()
	state := &models.ArenaState{
		UpdatedAt: time.Now().UTC(),
		Market:    make(map[string]models.ArenaTicker, len(tickers)),
		Bots:      make(map[string]*models.ArenaBot),
	}
	for sym, t := range tickers {
		state.Market[sym] = models.ArenaTicker{Symbol: sym, Price: t.Price, Change24h: t.ChangePct24h}
	}

	m.mu.Lock()
	tasks := make([]*botTask, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		task.viewMu.Lock()
		if task.view != nil {
			state.Bots[task.view.ID] = task.view
		}
		task.viewMu.Unlock()
	}
	return state
}

// publish writes the arena blob and fans it out to spectators.
func (m *Manager) publish() {
	state := m.ArenaState()
	blob, err := json.Marshal(state)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to marshal arena state")
		return
	}
	if err := m.store.ReplaceArenaState(blob); err != nil {
		m.log.Error().Err(err).Msg("failed to persist arena state")
	}
	if m.pub != nil {
		m.pub.Publish(state)
	}
}
