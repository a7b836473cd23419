package models

import (
	"time"
)

// Role is a user's access level.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// ProviderVariant selects the HTTP shape used to talk to an LLM endpoint.
type ProviderVariant string

const (
	VariantOpenAI    ProviderVariant = "openai"
	VariantAnthropic ProviderVariant = "anthropic"
	VariantGemini    ProviderVariant = "gemini"
	VariantGrok      ProviderVariant = "grok"
	VariantLocal     ProviderVariant = "local"
	VariantCustom    ProviderVariant = "custom"
)

// BotMode distinguishes the simulated ledger from real exchange execution.
type BotMode string

const (
	ModePaper BotMode = "paper"
	ModeReal  BotMode = "real"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// TradeAction marks a trade row as the open or close leg of a position.
type TradeAction string

const (
	ActionOpen  TradeAction = "OPEN"
	ActionClose TradeAction = "CLOSE"
)

// PositionStatus is the row status of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// UsageKind classifies what a token-usage row paid for.
type UsageKind string

const (
	KindDecision UsageKind = "decision"
	KindSummary  UsageKind = "summary"
	KindSandbox  UsageKind = "sandbox"
)

// User owns every other entity. EncSalt feeds the vault's per-user key
// derivation and never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	EncSalt      []byte    `json:"-"`
	RecoveryHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Provider describes one LLM endpoint plus its encrypted credential.
type Provider struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Name      string            `json:"name"`
	Variant   ProviderVariant   `json:"variant"`
	Endpoint  string            `json:"endpoint"`
	Model     string            `json:"model"`
	APIKeyEnc string            `json:"api_key,omitempty"`
	Config    map[string]string `json:"config,omitempty"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Wallet binds encrypted exchange credentials to a bot. At most one
// active wallet per (bot, exchange).
type Wallet struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	BotID        string    `json:"bot_id"`
	Exchange     string    `json:"exchange"`
	APIKeyEnc    string    `json:"-"`
	APISecretEnc string    `json:"-"`
	Address      string    `json:"address,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Bot is the persistent configuration of one trading agent.
type Bot struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	ProviderID   string    `json:"provider_id"`
	Mode         BotMode   `json:"mode"`
	Active       bool      `json:"active"`
	Paused       bool      `json:"paused"`
	Avatar       []byte    `json:"avatar,omitempty"`
	Symbols      []string  `json:"symbols,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Position is one open or closed perpetual-futures position. Size is
// notional in quote currency.
type Position struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	BotID            string         `json:"bot_id"`
	Symbol           string         `json:"symbol"`
	Side             Side           `json:"side"`
	EntryPrice       float64        `json:"entry_price"`
	Size             float64        `json:"size"`
	Leverage         int            `json:"leverage"`
	LiquidationPrice float64        `json:"liquidation_price"`
	StopLoss         float64        `json:"stop_loss,omitempty"`
	TakeProfit       float64        `json:"take_profit,omitempty"`
	UnrealizedPnl    float64        `json:"unrealized_pnl"`
	ExitPrice        float64        `json:"exit_price,omitempty"`
	Status           PositionStatus `json:"status"`
	OpenedAt         time.Time      `json:"opened_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
}

// Trade is the immutable open or close leg of a position lifecycle.
type Trade struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	BotID      string      `json:"bot_id"`
	PositionID string      `json:"position_id,omitempty"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Action     TradeAction `json:"action"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price,omitempty"`
	Size       float64     `json:"size"`
	Leverage   int         `json:"leverage"`
	Pnl        float64     `json:"pnl"`
	Fee        float64     `json:"fee"`
	Note       string      `json:"note,omitempty"`
	ExecutedAt time.Time   `json:"executed_at"`
}

// BotAction is one parsed instruction out of an LLM response.
type BotAction struct {
	Action     string             `json:"action"`
	Symbol     string             `json:"symbol,omitempty"`
	Size       float64            `json:"size,omitempty"`
	Leverage   int                `json:"leverage,omitempty"`
	StopLoss   float64            `json:"stop_loss,omitempty"`
	TakeProfit float64            `json:"take_profit,omitempty"`
	PositionID string             `json:"position_id,omitempty"`
	Tool       string             `json:"tool,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Equation   string             `json:"equation,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

// Decision is the append-only record of one turn: the prompt sent, the
// actions parsed out of the response and what happened applying them.
type Decision struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	BotID     string      `json:"bot_id"`
	Prompt    string      `json:"prompt"`
	Actions   []BotAction `json:"actions"`
	Notes     []string    `json:"notes,omitempty"`
	Success   bool        `json:"success"`
	CreatedAt time.Time   `json:"created_at"`
}

// Snapshot is one point of a bot's wealth time-series.
type Snapshot struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	BotID         string    `json:"bot_id"`
	Balance       float64   `json:"balance"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	RealizedPnl   float64   `json:"realized_pnl"`
	TotalValue    float64   `json:"total_value"`
	TradeCount    int       `json:"trade_count"`
	WinRate       float64   `json:"win_rate"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistorySummary is the single rolling learning artifact per bot.
type HistorySummary struct {
	BotID         string    `json:"bot_id"`
	UserID        string    `json:"user_id"`
	Summary       string    `json:"summary"`
	DecisionCount int       `json:"decision_count"`
	FromTime      time.Time `json:"from_time"`
	ToTime        time.Time `json:"to_time"`
	GeneratedAt   time.Time `json:"generated_at"`
	TokenCount    int       `json:"token_count"`
}

// TokenUsage records one billable LLM call. Costs are in minor currency
// units (cents).
type TokenUsage struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	BotID        string    `json:"bot_id,omitempty"`
	ProviderID   string    `json:"provider_id"`
	Kind         UsageKind `json:"kind"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	InputCost    int64     `json:"input_cost"`
	OutputCost   int64     `json:"output_cost"`
	TotalCost    int64     `json:"total_cost"`
	Model        string    `json:"model"`
	LatencyMs    int64     `json:"latency_ms"`
	Reported     bool      `json:"reported"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProviderPricing is the active price row used by the token tracker.
// Unit prices are minor units per million tokens.
type ProviderPricing struct {
	ID              string  `json:"id"`
	ProviderID      string  `json:"provider_id"`
	InputPerMTok    int64   `json:"input_per_mtok"`
	OutputPerMTok   int64   `json:"output_per_mtok"`
	MarkupPercent   float64 `json:"markup_percent"`
	Active          bool    `json:"active"`
}

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID         string            `json:"id"`
	Event      string            `json:"event"`
	EntityKind string            `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	ActorID    string            `json:"actor_id"`
	Details    map[string]string `json:"details,omitempty"`
	IP         string            `json:"ip,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LeaderboardEntry is one ranked row for a period.
type LeaderboardEntry struct {
	Period      string    `json:"period"`
	Rank        int       `json:"rank"`
	BotID       string    `json:"bot_id"`
	BotName     string    `json:"bot_name"`
	UserID      string    `json:"user_id"`
	TotalPnl    float64   `json:"total_pnl"`
	TradeCount  int       `json:"trade_count"`
	WinRate     float64   `json:"win_rate"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	FirstTrade  time.Time `json:"first_trade"`
	ComputedAt  time.Time `json:"computed_at"`
}

// ValuePoint is one entry of a bot's broadcast value history.
type ValuePoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// ArenaTicker is the broadcast view of one symbol's market state.
type ArenaTicker struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

// ArenaPosition is the sanitized broadcast view of an open position.
type ArenaPosition struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	Size          float64 `json:"size"`
	Leverage      int     `json:"leverage"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// ArenaBot is the per-bot slice of the broadcast blob. It carries only
// ephemeral display state; relational tables stay authoritative.
type ArenaBot struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Balance       float64              `json:"balance"`
	RealizedPnl   float64              `json:"realized_pnl"`
	UnrealizedPnl float64              `json:"unrealized_pnl"`
	TotalValue    float64              `json:"total_value"`
	ValueHistory  []ValuePoint         `json:"value_history,omitempty"`
	Cooldowns     map[string]time.Time `json:"cooldowns,omitempty"`
	Positions     []ArenaPosition      `json:"positions,omitempty"`
	Paused        bool                 `json:"paused"`
	Loading       bool                 `json:"loading"`
}

// ArenaState is the single-row JSON projection pushed to spectators.
type ArenaState struct {
	UpdatedAt time.Time              `json:"updated_at"`
	Market    map[string]ArenaTicker `json:"market"`
	Bots      map[string]*ArenaBot   `json:"bots"`
}
