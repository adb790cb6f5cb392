package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/execution"
	"solana-pump-bot/internal/journal"
	"solana-pump-bot/internal/safety"
)

// exploitationPhaseAfter is the elapsed-since-start threshold after which
// admission requires a trusted creator wallet (spec.md 4.D.2 step 1).
const exploitationPhaseAfter = 3600 * time.Second

const lamportsPerNative = 1e9

// Gateway is the subset of execution.Gateway's interface the engine uses;
// *execution.Gateway satisfies it directly.
type Gateway interface {
	Buy(ctx context.Context, tokenMint string, amountLamports uint64) (*execution.Fill, error)
	Sell(ctx context.Context, tokenMint string, tokenAmount uint64) (*execution.Fill, error)
}

// SafetyEvaluator is the subset of safety.Probe's interface the engine uses.
type SafetyEvaluator interface {
	Evaluate(ctx context.Context, tokenID string) safety.Report
}

// BalanceChecker reports the wallet's current native balance in lamports.
type BalanceChecker interface {
	BalanceLamports() uint64
}

// CreatorSellChecker implements the expensive creator-side-sell exit
// check (spec.md 4.D.3 step 4). Nil disables the check entirely.
type CreatorSellChecker interface {
	RecentlySold(ctx context.Context, tokenID TokenID, creatorWallets []WalletID) bool
}

// Engine is the Decision Engine: a per-token state machine, capital
// accounting, and exit-policy evaluator. Values referenced by every
// subsystem live here by reference rather than as package-level globals
// (start_time, activity_log, held_tokens, engine_params in the source).
type Engine struct {
	paramsMu sync.RWMutex
	params   EngineParams

	capitalMu        sync.Mutex
	availableCapital float64

	stateMu   sync.Mutex
	running   bool
	mode      Mode
	startTime time.Time

	heldMu sync.Mutex
	held   map[TokenID]*tokenActor

	gateway            Gateway
	safetyProbe        SafetyEvaluator
	balance            BalanceChecker
	creatorSellChecker CreatorSellChecker
	creatorCache       *CandidateCreatorCache

	simJournal  *journal.Writer
	realJournal *journal.Writer

	observers []TradeObserver
}

// Config bundles Engine's construction-time collaborators.
type Config struct {
	InitialParams      EngineParams
	InitialCapital     float64
	Gateway            Gateway
	SafetyProbe        SafetyEvaluator
	Balance            BalanceChecker
	CreatorSellChecker CreatorSellChecker
	CreatorCache       *CandidateCreatorCache
	SimJournal         *journal.Writer
	RealJournal        *journal.Writer
	Observers          []TradeObserver
}

// New constructs a stopped Engine. Call Start to begin admitting tokens.
func New(cfg Config) *Engine {
	return &Engine{
		params:             cfg.InitialParams,
		availableCapital:   cfg.InitialCapital,
		held:               make(map[TokenID]*tokenActor),
		gateway:            cfg.Gateway,
		safetyProbe:        cfg.SafetyProbe,
		balance:            cfg.Balance,
		creatorSellChecker: cfg.CreatorSellChecker,
		creatorCache:       cfg.CreatorCache,
		simJournal:         cfg.SimJournal,
		realJournal:        cfg.RealJournal,
		observers:          cfg.Observers,
	}
}

// Start transitions the engine into the running state under mode. Per
// spec.md 4.D.2 step 1, the exploitation-phase clock starts here.
func (e *Engine) Start(mode Mode) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.running = true
	e.mode = mode
	e.startTime = time.Now()
	log.Info().Str("mode", mode.String()).Msg("engine started")
}

// Stop closes the subscription-facing lifecycle. In-flight swaps are not
// cancelled; liquidate_all is the separate safe-termination path.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	e.running = false
	e.stateMu.Unlock()

	e.heldMu.Lock()
	actors := make([]*tokenActor, 0, len(e.held))
	for _, a := range e.held {
		actors = append(actors, a)
	}
	e.heldMu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	log.Info().Msg("engine stopped")
}

// SetParam validates and applies a single named parameter change. Rejects
// without side-effects when v is out of range or name is unknown.
func (e *Engine) SetParam(name string, v float64) error {
	e.paramsMu.Lock()
	defer e.paramsMu.Unlock()

	next := e.params
	switch name {
	case "buy_amount_native":
		next.BuyAmountNative = v
	case "sell_multiplier":
		next.SellMultiplier = v
	case "trailing_stop_fraction":
		next.TrailingStopFraction = v
	default:
		return fmt.Errorf("unknown param: %s", name)
	}

	if !next.Valid() {
		return fmt.Errorf("param %s=%v out of range", name, v)
	}

	e.params = next
	return nil
}

func (e *Engine) paramsSnapshot() EngineParams {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// Status returns the host-facing read model.
func (e *Engine) Status() Status {
	e.stateMu.Lock()
	running := e.running
	mode := e.mode
	startTime := e.startTime
	e.stateMu.Unlock()

	uptime := 0.0
	if running {
		uptime = time.Since(startTime).Seconds()
	}

	e.heldMu.Lock()
	open := len(e.held)
	e.heldMu.Unlock()

	e.capitalMu.Lock()
	capital := e.availableCapital
	e.capitalMu.Unlock()

	return Status{
		Running:          running,
		Mode:             mode,
		UptimeSeconds:    uptime,
		OpenPositions:    open,
		AvailableCapital: capital,
		Params:           e.paramsSnapshot(),
	}
}

// isExploitationPhase reports whether more than exploitationPhaseAfter has
// elapsed since Start.
func (e *Engine) isExploitationPhase() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !e.running {
		return false
	}
	return time.Since(e.startTime) > exploitationPhaseAfter
}

func (e *Engine) isSimMode() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.mode == ModeSim
}

// Admit runs the entry admission procedure for a newly observed token
// (spec.md 4.D.2). creatorWallets are the wallets discovery attributes to
// the token's pool-creation transaction.
func (e *Engine) Admit(ctx context.Context, tokenID TokenID, observedPrice float64, creatorWallets []WalletID) {
	// Step 6 (already-HELD dedup) is a structural invariant of the held
	// map, not a policy gate, so it is enforced in every mode even though
	// spec.md 4.D.5 bypasses the other policy checks (3-6) in SIM.
	e.heldMu.Lock()
	if _, exists := e.held[tokenID]; exists {
		e.heldMu.Unlock()
		e.reject(tokenID, "already held")
		return
	}
	e.heldMu.Unlock()

	trustedCreator := e.creatorCache != nil && e.creatorCache.Contains(creatorWallets)

	// Step 1: exploitation-phase gate.
	if e.isExploitationPhase() && !trustedCreator {
		e.reject(tokenID, "exploitation phase, no trusted creator")
		return
	}

	sim := e.isSimMode()

	if !trustedCreator && !sim {
		// Step 3: safety probe and admission rules.
		report := e.safetyProbe.Evaluate(ctx, tokenID)
		if reason, ok := admissionViolation(report); ok {
			e.reject(tokenID, reason)
			return
		}

		params := e.paramsSnapshot()

		// Step 4: wallet balance check.
		requiredLamports := uint64((params.BuyAmountNative + 0.001) * lamportsPerNative)
		if e.balance != nil && e.balance.BalanceLamports() < requiredLamports {
			e.reject(tokenID, "insufficient wallet balance")
			return
		}

		// Step 5: available capital check.
		e.capitalMu.Lock()
		hasCapital := e.availableCapital >= params.BuyAmountNative
		e.capitalMu.Unlock()
		if !hasCapital {
			e.reject(tokenID, "insufficient available capital")
			return
		}
	}

	e.buy(ctx, tokenID, observedPrice, creatorWallets)
}

func admissionViolation(r safety.Report) (string, bool) {
	// safety.Report already folds is_honeypot/tax/marketcap/liquidity/
	// sellability into Safe+Reason via the same admission thresholds
	// (§4.B table); reuse it directly rather than re-deriving the rules.
	if !r.Safe {
		return r.Reason, true
	}
	return "", false
}

// buy executes step 7-8 of admission: swap, and on success create the
// Position and spawn its owning actor.
func (e *Engine) buy(ctx context.Context, tokenID TokenID, observedPrice float64, creatorWallets []WalletID) {
	params := e.paramsSnapshot()
	amountLamports := uint64(params.BuyAmountNative * lamportsPerNative)

	fill, err := e.gateway.Buy(ctx, tokenID, amountLamports)
	if err != nil {
		e.journalBuyFailed(tokenID, err.Error())
		e.reject(tokenID, "buy failed: "+err.Error())
		return
	}

	e.capitalMu.Lock()
	e.availableCapital -= params.BuyAmountNative
	if e.availableCapital < 0 {
		e.availableCapital = 0
	}
	e.capitalMu.Unlock()

	wallets := make(map[WalletID]struct{}, len(creatorWallets))
	for _, w := range creatorWallets {
		wallets[w] = struct{}{}
	}

	pos := &Position{
		TokenID:         tokenID,
		BuyPrice:        observedPrice,
		BuyAmountNative: params.BuyAmountNative,
		TokenAmountRaw:  fill.AmountOutLamports,
		MaxPriceSeen:    observedPrice,
		LastPriceSeen:   observedPrice,
		CreatorWallets:  wallets,
		BuyTimestamp:    time.Now(),
	}

	actor := newTokenActor(e, pos)
	e.heldMu.Lock()
	if _, exists := e.held[tokenID]; exists {
		// A concurrent Admit for the same token_id won the race between
		// the early dedup check and this insert; the at-most-one-live-
		// Position invariant is enforced here, atomically.
		e.heldMu.Unlock()
		e.reject(tokenID, "already held")
		return
	}
	e.held[tokenID] = actor
	e.heldMu.Unlock()
	go actor.run()

	e.journalBuy(tokenID, observedPrice, params.BuyAmountNative, fill.TxSignature)
	e.notifyBuy(tokenID, observedPrice, params.BuyAmountNative)
}

// OnPriceUpdate delivers an observed price to the held token's actor, if
// any. Unknown token ids are ignored.
func (e *Engine) OnPriceUpdate(tokenID TokenID, price float64) {
	e.heldMu.Lock()
	actor, ok := e.held[tokenID]
	e.heldMu.Unlock()
	if !ok {
		return
	}
	actor.submitPrice(price)
}

// sell executes 4.D.4: issue a full-position swap, journal, update
// capital, grow the creator cache on a fast simulated win, and retire the
// actor. On swap failure the Position is retained for the next price tick.
// exitPrice is the price that drove the decision to exit — buy_price*
// sell_multiplier for a take-profit (spec.md 4.D.5), the observed tick for
// trailing-stop/creator-sell, or the position's last observed price for a
// forced liquidation. It is the sole input to realized proceeds in SIM
// mode, where the swap's fill carries no real market information; in REAL
// mode proceeds and the journaled price both come from the actual fill.
func (e *Engine) sell(a *tokenActor, reason string, forced bool, exitPrice float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fill, err := e.gateway.Sell(ctx, a.position.TokenID, a.position.TokenAmountRaw)
	if err != nil {
		log.Warn().Err(err).Str("tokenId", a.position.TokenID).Msg("sell failed, retaining position")
		return
	}

	var proceedsNative, displayPrice float64
	if e.isSimMode() {
		proceedsNative = a.position.BuyAmountNative * (exitPrice / a.position.BuyPrice)
		displayPrice = exitPrice
	} else {
		proceedsNative = float64(fill.AmountOutLamports) / lamportsPerNative
		displayPrice = fill.PriceNative
	}
	pnl := proceedsNative - a.position.BuyAmountNative

	e.capitalMu.Lock()
	e.availableCapital += proceedsNative
	e.capitalMu.Unlock()

	e.heldMu.Lock()
	delete(e.held, a.position.TokenID)
	e.heldMu.Unlock()
	a.stop()

	e.journalSell(a.position.TokenID, displayPrice, pnl, fill.TxSignature, forced)
	e.notifySell(a.position.TokenID, displayPrice, pnl)

	params := e.paramsSnapshot()
	duration := time.Since(a.position.BuyTimestamp)
	realizedMultiple := proceedsNative / a.position.BuyAmountNative
	if e.isSimMode() && duration < exploitationPhaseAfter && realizedMultiple >= params.SellMultiplier && e.creatorCache != nil {
		wallets := make([]WalletID, 0, len(a.position.CreatorWallets))
		for w := range a.position.CreatorWallets {
			wallets = append(wallets, w)
		}
		if len(wallets) > 0 {
			if _, err := e.creatorCache.InsertAll(wallets); err != nil {
				log.Error().Err(err).Msg("failed to persist creator cache after fast win")
			}
		}
	}
}

// LiquidateAll sells every open Position immediately, ignoring exit
// conditions, journaling each with a forced marker.
func (e *Engine) LiquidateAll() {
	e.heldMu.Lock()
	actors := make([]*tokenActor, 0, len(e.held))
	for _, a := range e.held {
		actors = append(actors, a)
	}
	e.heldMu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *tokenActor) {
			defer wg.Done()
			e.sell(a, "forced_liquidation", true, a.position.LastPriceSeen)
		}(a)
	}
	wg.Wait()
}

func (e *Engine) reject(tokenID TokenID, reason string) {
	e.notifyReject(tokenID, reason)
}

func (e *Engine) journalBuy(tokenID TokenID, price, amount float64, txSig string) {
	w, sim := e.activeJournal()
	if w == nil {
		return
	}
	if err := w.Append(journal.TradeRecord{
		Kind:           journal.KindBuy,
		TokenID:        tokenID,
		TimestampUnix:  time.Now().Unix(),
		AmountNative:   amount,
		PriceNative:    price,
		TxSignature:    txSig,
		SimulationMode: sim,
	}); err != nil {
		log.Error().Err(err).Msg("journal write failed for BUY")
	}
}

func (e *Engine) journalSell(tokenID TokenID, price, pnl float64, txSig string, forced bool) {
	w, sim := e.activeJournal()
	if w == nil {
		return
	}
	reason := ""
	if forced {
		reason = "forced"
	}
	if err := w.Append(journal.TradeRecord{
		Kind:           journal.KindSell,
		TokenID:        tokenID,
		TimestampUnix:  time.Now().Unix(),
		PriceNative:    price,
		PnLNative:      pnl,
		TxSignature:    txSig,
		Reason:         reason,
		SimulationMode: sim,
	}); err != nil {
		log.Error().Err(err).Msg("journal write failed for SELL")
	}
}

func (e *Engine) journalBuyFailed(tokenID TokenID, reason string) {
	w, sim := e.activeJournal()
	if w == nil {
		return
	}
	if err := w.Append(journal.TradeRecord{
		Kind:           journal.KindBuyFailed,
		TokenID:        tokenID,
		TimestampUnix:  time.Now().Unix(),
		Reason:         reason,
		SimulationMode: sim,
	}); err != nil {
		log.Error().Err(err).Msg("journal write failed for BUY_FAILED")
	}
}

func (e *Engine) activeJournal() (*journal.Writer, bool) {
	if e.isSimMode() {
		return e.simJournal, true
	}
	return e.realJournal, false
}

func (e *Engine) notifyBuy(tokenID TokenID, price, amount float64) {
	for _, o := range e.observers {
		o.OnBuy(tokenID, price, amount)
	}
}

func (e *Engine) notifySell(tokenID TokenID, price, pnl float64) {
	for _, o := range e.observers {
		o.OnSell(tokenID, price, pnl)
	}
}

func (e *Engine) notifyReject(tokenID TokenID, reason string) {
	for _, o := range e.observers {
		o.OnReject(tokenID, reason)
	}
}
