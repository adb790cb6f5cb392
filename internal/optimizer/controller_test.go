package optimizer

import (
	"path/filepath"
	"testing"

	"solana-pump-bot/internal/journal"
)

// fixedRand always reports a float above every probability threshold the
// controller rolls against, suppressing the 5.a/5.d random rules so tests
// can assert on the deterministic mutation paths alone.
type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

type fakeParamWriter struct {
	params Params
}

func (w *fakeParamWriter) SetParam(name string, value float64) error {
	switch name {
	case "buy_amount_native":
		w.params.BuyAmountNative = value
	case "sell_multiplier":
		w.params.SellMultiplier = value
	case "trailing_stop_fraction":
		w.params.TrailingStopFraction = value
	}
	return nil
}

func (w *fakeParamWriter) Params() Params {
	return w.params
}

func sellRecord(pnl float64) journal.TradeRecord {
	return journal.TradeRecord{Kind: journal.KindSell, TokenID: "X", PnLNative: pnl}
}

func newTestController(t *testing.T, rng randSource) (*Controller, *fakeParamWriter) {
	t.Helper()
	w := &fakeParamWriter{params: Params{BuyAmountNative: 0.1, SellMultiplier: 1.8, TrailingStopFraction: 0.15}}

	decisionPath := filepath.Join(t.TempDir(), "decision_log.jsonl")
	decision, err := journal.NewDecisionLogger(decisionPath)
	if err != nil {
		t.Fatalf("NewDecisionLogger: %v", err)
	}
	t.Cleanup(func() { decision.Close() })

	statePath := filepath.Join(t.TempDir(), "engine_params.json")
	c, err := New(w, decision, statePath, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, w
}

// TestOptimizerFreezeTransition grounds spec.md's concrete scenario 5:
// winrate 0.8, drawdown 0.05, profit 0.9 freezes; then drawdown 0.20
// unfreezes.
func TestOptimizerFreezeTransition(t *testing.T) {
	c, _ := newTestController(t, fixedRand{v: 0.99})

	// 8 wins of 0.2, 2 losses of -0.02: winrate 0.8, cumulative profit
	// 8*0.2 - 2*0.02 = 1.56, which exceeds the freeze threshold's 0.5.
	// Drawdown stays low because the losses are small: (1.6-1.56)/1.6 = 0.025.
	records := make([]journal.TradeRecord, 0, 10)
	for i := 0; i < 8; i++ {
		records = append(records, sellRecord(0.2))
	}
	for i := 0; i < 2; i++ {
		records = append(records, sellRecord(-0.02))
	}

	if err := c.Tick(records); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !c.state.Frozen {
		t.Fatalf("expected frozen=true after tick 1, aggregates=%+v", computeAggregates(records))
	}

	// Drive drawdown above 0.15 by adding a sharp loss after the peak.
	records = append(records, sellRecord(-0.50))
	if err := c.Tick(records); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if c.state.Frozen {
		t.Error("expected frozen=false after drawdown spike")
	}
}

// TestOptimizerRollback grounds spec.md's concrete scenario 6: once
// best_profit=1.0 is established, a tick with profit 0.4 triggers
// restoration of best_params and increments rollback_count.
func TestOptimizerRollback(t *testing.T) {
	c, w := newTestController(t, fixedRand{v: 0.99})

	// First tick: one sell of 1.0 sets best_profit=1.0. It also freezes
	// the controller (winrate 1.0, drawdown 0, profit above 0.5); the
	// second tick's winrate 0.5 unfreezes it, so the rollback rule applies.
	first := []journal.TradeRecord{sellRecord(1.0)}
	if err := c.Tick(first); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if c.state.BestProfit != 1.0 {
		t.Fatalf("BestProfit = %v, want 1.0", c.state.BestProfit)
	}
	bestParams := c.state.BestParams
	w.params.BuyAmountNative = 0.5 // simulate mutation drift since the best snapshot

	second := []journal.TradeRecord{sellRecord(1.0), sellRecord(-0.6)} // cumulative 0.4 < 0.5*1.0
	if err := c.Tick(second); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if c.state.RollbackCount != 1 {
		t.Errorf("RollbackCount = %d, want 1", c.state.RollbackCount)
	}
	if w.params.BuyAmountNative != bestParams.BuyAmountNative {
		t.Errorf("BuyAmountNative = %v, want restored %v", w.params.BuyAmountNative, bestParams.BuyAmountNative)
	}
}

func TestBestProfitMonotonicNonDecreasing(t *testing.T) {
	c, _ := newTestController(t, fixedRand{v: 0.99})

	profits := []float64{0.2, 0.1, 0.5, 0.3, 0.9, 0.05}
	last := c.state.BestProfit
	for _, p := range profits {
		if err := c.Tick([]journal.TradeRecord{sellRecord(p)}); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if c.state.BestProfit < last {
			t.Fatalf("BestProfit decreased: %v -> %v", last, c.state.BestProfit)
		}
		last = c.state.BestProfit
	}
}

func TestLossStreakTriggersRecovery(t *testing.T) {
	c, w := newTestController(t, fixedRand{v: 0.99})
	before := w.params.BuyAmountNative

	// Each tick's cumulative profit strictly decreases versus the
	// previous tick's, building a loss streak across ticks.
	if err := c.Tick([]journal.TradeRecord{sellRecord(0.3)}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := c.Tick([]journal.TradeRecord{sellRecord(0.3), sellRecord(-0.1)}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := c.Tick([]journal.TradeRecord{sellRecord(0.3), sellRecord(-0.1), sellRecord(-0.1)}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := c.Tick([]journal.TradeRecord{sellRecord(0.3), sellRecord(-0.1), sellRecord(-0.1), sellRecord(-0.1)}); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if c.state.LossStreak < lossStreakThreshold {
		t.Fatalf("LossStreak = %d, want >= %d", c.state.LossStreak, lossStreakThreshold)
	}
	if w.params.BuyAmountNative >= before {
		t.Errorf("BuyAmountNative = %v, want reduced below %v after loss streak", w.params.BuyAmountNative, before)
	}
}

func TestSetParamRoundTripViaStatus(t *testing.T) {
	w := &fakeParamWriter{params: Params{BuyAmountNative: 0.1, SellMultiplier: 1.5, TrailingStopFraction: 0.1}}
	if err := w.SetParam("buy_amount_native", 0.3); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if w.Params().BuyAmountNative != 0.3 {
		t.Errorf("BuyAmountNative = %v, want 0.3", w.Params().BuyAmountNative)
	}
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewState(Params{BuyAmountNative: 0.1, SellMultiplier: 1.8, TrailingStopFraction: 0.15})
	s.BestProfit = 2.5
	s.RollbackCount = 3

	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadState(path, Params{})
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.BestProfit != 2.5 || loaded.RollbackCount != 3 {
		t.Errorf("loaded state = %+v, want BestProfit=2.5 RollbackCount=3", loaded)
	}
}
