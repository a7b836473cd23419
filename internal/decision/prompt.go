package decision

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/engine"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/market"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

// PromptInput is everything prompt assembly needs for one iteration.
type PromptInput struct {
	Bot             *models.Bot
	Runtime         *engine.Runtime
	RecentTrades    []*models.Trade
	RecentDecisions []*models.Decision
	SummaryText     string
	Tickers         map[string]market.Ticker
	GlobalSymbols   []string
	Analyses        []Analysis
	Now             time.Time
}

// BuildPrompt concatenates the bot's system prompt, portfolio context,
// market snapshot, recent decisions, learning summary and the action
// schema. Accumulated tool analyses are appended on re-iterations.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString(in.Bot.SystemPrompt)
	b.WriteString("\n\n")

	writeContextBlock(&b, in)
	writeMarketBlock(&b, in)
	writeHistoryBlock(&b, in)

	if in.SummaryText != "" {
		b.WriteString("## Learning so far\n")
		b.WriteString(in.SummaryText)
		b.WriteString("\n\n")
	}

	writeSchemaBlock(&b)

	if len(in.Analyses) > 0 {
		b.WriteString("## Analysis results\n")
		for _, a := range in.Analyses {
			if a.Symbol != "" {
				fmt.Fprintf(&b, "- %s(%s) = %.4f\n", a.Tool, a.Symbol, a.Result)
			} else {
				fmt.Fprintf(&b, "- %s = %.4f\n", a.Tool, a.Result)
			}
		}
		b.WriteString("Use these results to produce final actions now.\n")
	}

	return b.String()
}

func writeContextBlock(b *strings.Builder, in PromptInput) {
	rt := in.Runtime
	b.WriteString("## Portfolio\n")
	fmt.Fprintf(b, "Balance: %.2f USD\nRealized pnl: %.2f\nUnrealized pnl: %.2f\nTotal value: %.2f\n",
		rt.Balance, rt.RealizedPnl, rt.UnrealizedTotal(), rt.TotalValue())

	if len(rt.Positions) > 0 {
		b.WriteString("Open positions:\n")
		for _, p := range sortedPositions(rt) {
			age := in.Now.Sub(p.OpenedAt).Truncate(time.Second)
			fmt.Fprintf(b, "- %s %s %s size=%.2f x%d entry=%.2f unrealized=%.2f age=%s",
				p.ID, p.Side, p.Symbol, p.Size, p.Leverage, p.EntryPrice, p.UnrealizedPnl, age)
			if p.StopLoss > 0 {
				fmt.Fprintf(b, " sl=%.2f", p.StopLoss)
			}
			if p.TakeProfit > 0 {
				fmt.Fprintf(b, " tp=%.2f", p.TakeProfit)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("Open positions: none\n")
	}

	if len(in.RecentTrades) > 0 {
		b.WriteString("Recent closed trades:\n")
		for _, tr := range in.RecentTrades {
			fmt.Fprintf(b, "- %s %s %s pnl=%.2f (%s)\n",
				tr.ExecutedAt.UTC().Format("01-02 15:04"), tr.Side, tr.Symbol, tr.Pnl, tr.Note)
		}
	}

	var cooled []string
	for sym, until := range rt.Cooldowns {
		if remaining := until.Sub(in.Now); remaining > 0 {
			cooled = append(cooled, fmt.Sprintf("%s (%s left)", sym, remaining.Truncate(time.Second)))
		}
	}
	if len(cooled) > 0 {
		sort.Strings(cooled)
		fmt.Fprintf(b, "Symbols on cooldown: %s\n", strings.Join(cooled, ", "))
	}
	b.WriteString("\n")
}

func writeMarketBlock(b *strings.Builder, in PromptInput) {
	symbols := in.Bot.Symbols
	if len(symbols) == 0 {
		symbols = in.GlobalSymbols
	}
	b.WriteString("## Market\n")
	for _, sym := range symbols {
		t, ok := in.Tickers[sym]
		if !ok || t.Price <= 0 {
			fmt.Fprintf(b, "%s: no data\n", sym)
			continue
		}
		fmt.Fprintf(b, "%s: %.2f (%+.2f%% 24h)\n", sym, t.Price, t.ChangePct24h)
	}
	b.WriteString("\n")
}

func writeHistoryBlock(b *strings.Builder, in PromptInput) {
	if len(in.RecentDecisions) == 0 {
		return
	}
	b.WriteString("## Recent decisions\n")
	for _, d := range in.RecentDecisions {
		fmt.Fprintf(b, "[%s]", d.CreatedAt.UTC().Format("01-02 15:04"))
		if len(d.Actions) == 0 {
			b.WriteString(" HOLD\n")
			continue
		}
		b.WriteString("\n")
		for _, a := range d.Actions {
			fmt.Fprintf(b, "- %s", a.Action)
			if a.Symbol != "" {
				fmt.Fprintf(b, " %s", a.Symbol)
			}
			if a.Reasoning != "" {
				fmt.Fprintf(b, ": %s", a.Reasoning)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}

func writeSchemaBlock(b *strings.Builder) {
	b.WriteString(`## Actions
Respond with a JSON array of actions. Legal actions:
- {"action":"LONG","symbol":"BTCUSDT","size":2000,"leverage":10,"stop_loss":67500,"take_profit":73000,"reasoning":"..."}
- {"action":"SHORT", same fields}
- {"action":"CLOSE","position_id":"<id>","reasoning":"..."}
- {"action":"HOLD"}
- {"action":"ANALYZE","tool":"rsi|moving_average|kelly|custom_equation|moon_phase","symbol":"...","parameters":{"period":14},"equation":"optional"}
size is notional in USD. An empty array means HOLD.
`)
}

func sortedPositions(rt *engine.Runtime) []*models.Position {
	out := make([]*models.Position, 0, len(rt.Positions))
	for _, p := range rt.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
