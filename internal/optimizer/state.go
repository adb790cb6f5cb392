// Package optimizer implements the Self-Tuning Controller: a periodic
// process that reads the simulated trade journal, computes aggregate
// performance statistics, and mutates the Decision Engine's live
// parameters under bounded safety rules (best-params memorization,
// rollback, freeze). Grounded on ai_auto_optimizer.py's
// analyze_and_adjust, translated from its single monolithic method into
// a State/Controller split so each rule is independently testable.
package optimizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Profile is one of the three rotating strategy presets (5.a).
type Profile int

const (
	ProfileConservative Profile = iota
	ProfileAggressive
	ProfileBalanced
)

func (p Profile) String() string {
	switch p {
	case ProfileConservative:
		return "conservative"
	case ProfileAggressive:
		return "aggressive"
	default:
		return "balanced"
	}
}

// buyFactor and sellDelta implement the 5.a profile table.
func (p Profile) buyFactor() float64 {
	switch p {
	case ProfileConservative:
		return 0.80
	case ProfileAggressive:
		return 1.20
	default:
		return 1.00
	}
}

func (p Profile) sellDelta() float64 {
	switch p {
	case ProfileConservative:
		return 0.10
	case ProfileAggressive:
		return -0.05
	default:
		return 0.00
	}
}

// Params mirrors engine.EngineParams without importing the engine
// package, keeping the optimizer independently testable against a bare
// ParamWriter fake.
type Params struct {
	BuyAmountNative      float64 `json:"buy_amount_native"`
	SellMultiplier       float64 `json:"sell_multiplier"`
	TrailingStopFraction float64 `json:"trailing_stop_fraction"`
}

// Snapshot is one entry of param_history: a tick's aggregates paired with
// the params that produced them.
type Snapshot struct {
	TimestampUnix int64   `json:"timestamp_unix"`
	Profit        float64 `json:"profit"`
	WinRate       float64 `json:"win_rate"`
	Drawdown      float64 `json:"drawdown"`
	Params        Params  `json:"params"`
}

// State is OptimizerState, persisted whole to a single JSON blob on every
// mutating tick.
type State struct {
	BestParams          Params     `json:"best_params"`
	BestProfit          float64    `json:"best_profit"`
	Frozen              bool       `json:"frozen"`
	RollbackCount       int        `json:"rollback_count"`
	LossStreak          int        `json:"loss_streak"`
	WinStreak           int        `json:"win_streak"`
	ParamHistory        []Snapshot `json:"param_history"`
	StrategyProfileIndex int       `json:"strategy_profile_index"`

	lastProfit float64
}

// NewState returns the initial OptimizerState seeded with the engine's
// starting params, as if no prior run had ever produced a better profit.
func NewState(initial Params) *State {
	return &State{
		BestParams: initial,
		BestProfit: negInf,
	}
}

const negInf = -1e18 // stands in for float64(-Inf); avoids a JSON-encoding special case for +/-Inf.

// LoadState reads a persisted OptimizerState from path, or returns a
// fresh State seeded with initial if the file does not exist.
func LoadState(path string, initial Params) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(initial), nil
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save persists s atomically: write to a temp file in the same directory,
// then rename, so a crash mid-write never corrupts the last-known-good
// state.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".optimizer-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// aggregates is the per-tick statistics computed from the simulated
// journal (1.).
type aggregates struct {
	profit     float64
	winRate    float64
	meanProfit float64
	stdDev     float64
	drawdown   float64
}

func nowUnix() int64 {
	return time.Now().Unix()
}
