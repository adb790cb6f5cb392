package optimizer

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/journal"
)

// randSource is the probability source for the two dice-roll rules
// (5.a, 5.d). *math/rand.Rand satisfies it; tests substitute a fixed
// source to make the deterministic rules (drawdown guard, winrate,
// rollback, loss streak) reproducible.
type randSource interface {
	Float64() float64
}

// DefaultFirstTick and DefaultSubsequentTick are the default scheduling intervals
// (4.E): the controller's first analysis runs an hour after start, then
// every 20 minutes.
const (
	DefaultFirstTick      = 3600 * time.Second
	DefaultSubsequentTick = 1200 * time.Second
)

const (
	profileRotateProbability = 0.15
	explorationProbability   = 0.10
	drawdownGuardThreshold   = 0.20
	freezeWinRate            = 0.70
	freezeDrawdown           = 0.10
	freezeProfit             = 0.5
	unfreezeWinRate          = 0.60
	unfreezeDrawdown         = 0.15
	unfreezeProfitFraction   = 0.8
	rollbackProfitFraction   = 0.5
	lossStreakThreshold      = 3
)

// ParamWriter is the one-way channel onto the Decision Engine the
// controller holds, replacing the source's direct attribute mutation of
// decision_module with an explicit seam the engine owns (spec's cyclic
// Decision Engine <-> Self-Tuning Controller <-> Gemini collapses into
// this one-way handle).
type ParamWriter interface {
	SetParam(name string, value float64) error
	Params() Params
}

// Controller runs the periodic tuning tick. Rand is injected so tests can
// force or suppress the probabilistic rules (5.a, 5.d) deterministically.
type Controller struct {
	writer   ParamWriter
	decision *journal.DecisionLogger
	rng      randSource

	statePath string
	state     *State
}

// New constructs a Controller seeded from a persisted or fresh State.
func New(writer ParamWriter, decision *journal.DecisionLogger, statePath string, rng randSource) (*Controller, error) {
	state, err := LoadState(statePath, writer.Params())
	if err != nil {
		return nil, err
	}
	return &Controller{
		writer:    writer,
		decision:  decision,
		rng:       rng,
		statePath: statePath,
		state:     state,
	}, nil
}

// Run blocks, ticking at DefaultFirstTick then every DefaultSubsequentTick
// until ctx is cancelled. readJournal supplies the simulated trade
// records for each tick (kept injectable so tests avoid real files).
func (c *Controller) Run(ctx context.Context, readJournal func() ([]journal.TradeRecord, error)) {
	timer := time.NewTimer(DefaultFirstTick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			records, err := readJournal()
			if err != nil {
				log.Error().Err(err).Msg("optimizer: failed to read simulated journal")
			} else if err := c.Tick(records); err != nil {
				log.Error().Err(err).Msg("optimizer: tick failed")
			}
			timer.Reset(DefaultSubsequentTick)
		}
	}
}

// Tick runs a single optimizer pass over records (4.E steps 1-7) and
// persists the resulting state.
func (c *Controller) Tick(records []journal.TradeRecord) error {
	agg := computeAggregates(records)
	before := c.writer.Params()

	c.memorizeBest(agg, before)
	c.appendSnapshot(agg, before)
	c.updateFreeze(agg)

	if !c.state.Frozen {
		c.applyMutations(agg)
	}

	c.maybeRollback(agg)
	c.updateStreaks(agg)

	c.state.lastProfit = agg.profit
	return c.state.Save(c.statePath)
}

// memorizeBest implements 4.E.2.
func (c *Controller) memorizeBest(agg aggregates, before Params) {
	if agg.profit > c.state.BestProfit {
		c.state.BestProfit = agg.profit
		c.state.BestParams = before
	}
}

// appendSnapshot implements 4.E.3.
func (c *Controller) appendSnapshot(agg aggregates, before Params) {
	c.state.ParamHistory = append(c.state.ParamHistory, Snapshot{
		TimestampUnix: nowUnix(),
		Profit:        agg.profit,
		WinRate:       agg.winRate,
		Drawdown:      agg.drawdown,
		Params:        before,
	})
}

// updateFreeze implements 4.E.4.
func (c *Controller) updateFreeze(agg aggregates) {
	if !c.state.Frozen && agg.winRate > freezeWinRate && agg.drawdown < freezeDrawdown && agg.profit > freezeProfit {
		c.state.Frozen = true
		c.logDecision(agg, "freeze", Params{}, Params{})
		return
	}
	if c.state.Frozen && (agg.winRate < unfreezeWinRate || agg.drawdown > unfreezeDrawdown || agg.profit < unfreezeProfitFraction*c.state.BestProfit) {
		c.state.Frozen = false
		c.logDecision(agg, "unfreeze", Params{}, Params{})
	}
}

// applyMutations implements 4.E.5: at most one of 5.a-5.c, plus an
// independent optional 5.d.
func (c *Controller) applyMutations(agg aggregates) {
	before := c.writer.Params()

	applied := false
	if c.rng.Float64() < profileRotateProbability {
		c.rotateProfile(before)
		applied = true
	}
	if !applied && agg.drawdown > drawdownGuardThreshold {
		c.drawdownGuard(before)
		applied = true
	}
	if !applied {
		c.winrateDriven(agg, before)
	}

	if c.rng.Float64() < explorationProbability {
		c.randomExploration()
	}
}

func (c *Controller) rotateProfile(before Params) {
	c.state.StrategyProfileIndex = (c.state.StrategyProfileIndex + 1) % 3
	profile := Profile(c.state.StrategyProfileIndex)

	newBuy := clamp(before.BuyAmountNative*profile.buyFactor(), 0.01, 2.0)
	newSell := clamp(before.SellMultiplier+profile.sellDelta(), 1.0, 2.5)

	c.set("buy_amount_native", newBuy)
	c.set("sell_multiplier", newSell)
	c.logDecision(aggregates{}, "profile_rotate:"+profile.String(), before, c.writer.Params())
}

func (c *Controller) drawdownGuard(before Params) {
	newBuy := clamp(before.BuyAmountNative*0.8, 0.01, 2.0)
	newSell := clamp(before.SellMultiplier+0.1, 1.0, 2.5)
	c.set("buy_amount_native", newBuy)
	c.set("sell_multiplier", newSell)
	c.logDecision(aggregates{}, "drawdown_guard", before, c.writer.Params())
}

func (c *Controller) winrateDriven(agg aggregates, before Params) {
	switch {
	case agg.winRate < 0.40:
		c.set("buy_amount_native", clamp(before.BuyAmountNative*0.9, 0.01, 2.0))
		c.logDecision(agg, "winrate_low", before, c.writer.Params())
	case agg.winRate > 0.70 && agg.meanProfit > 0:
		c.set("buy_amount_native", clamp(before.BuyAmountNative*1.1, 0.01, 2.0))
		c.logDecision(agg, "winrate_high", before, c.writer.Params())
	}
}

func (c *Controller) randomExploration() {
	before := c.writer.Params()
	factor := 0.95 + c.rng.Float64()*0.10
	c.set("buy_amount_native", clamp(before.BuyAmountNative*factor, 0.01, 2.0))
	c.logDecision(aggregates{}, "exploration", before, c.writer.Params())
}

// maybeRollback implements 4.E.6.
func (c *Controller) maybeRollback(agg aggregates) {
	if c.state.Frozen {
		return
	}
	if c.state.BestProfit <= negInf/2 {
		return
	}
	if agg.profit < rollbackProfitFraction*c.state.BestProfit {
		before := c.writer.Params()
		c.set("buy_amount_native", c.state.BestParams.BuyAmountNative)
		c.set("sell_multiplier", c.state.BestParams.SellMultiplier)
		c.set("trailing_stop_fraction", c.state.BestParams.TrailingStopFraction)
		c.state.RollbackCount++
		c.logDecision(agg, "rollback", before, c.writer.Params())
	}
}

// updateStreaks implements 4.E.7.
func (c *Controller) updateStreaks(agg aggregates) {
	switch {
	case agg.profit < c.state.lastProfit:
		c.state.LossStreak++
		c.state.WinStreak = 0
	case agg.profit > c.state.lastProfit:
		c.state.WinStreak++
		c.state.LossStreak = 0
	}

	if c.state.LossStreak >= lossStreakThreshold && !c.state.Frozen {
		before := c.writer.Params()
		c.set("buy_amount_native", clamp(before.BuyAmountNative*0.7, 0.01, 2.0))
		c.set("sell_multiplier", clamp(before.SellMultiplier+0.2, 1.0, 2.5))
		c.logDecision(agg, "loss_streak_recovery", before, c.writer.Params())
	}
}

func (c *Controller) set(name string, value float64) {
	if err := c.writer.SetParam(name, value); err != nil {
		log.Warn().Err(err).Str("param", name).Float64("value", value).Msg("optimizer: param write rejected")
	}
}

func (c *Controller) logDecision(agg aggregates, action string, before, after Params) {
	if c.decision == nil {
		return
	}
	rec := journal.DecisionRecord{
		TimestampUnix: nowUnix(),
		WinRate:       agg.winRate,
		Drawdown:      agg.drawdown,
		ProfitNative:  agg.profit,
		Profile:       Profile(c.state.StrategyProfileIndex).String(),
		Frozen:        c.state.Frozen,
		ParamsBefore: map[string]float64{
			"buy_amount_native":      before.BuyAmountNative,
			"sell_multiplier":        before.SellMultiplier,
			"trailing_stop_fraction": before.TrailingStopFraction,
		},
		ParamsAfter: map[string]float64{
			"buy_amount_native":      after.BuyAmountNative,
			"sell_multiplier":        after.SellMultiplier,
			"trailing_stop_fraction": after.TrailingStopFraction,
		},
		Action: action,
	}
	if err := c.decision.Append(rec); err != nil {
		log.Error().Err(err).Msg("optimizer: decision log write failed")
	}
}

// State returns a copy of the controller's current OptimizerState, for
// the host status endpoint.
func (c *Controller) State() State {
	return *c.state
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
