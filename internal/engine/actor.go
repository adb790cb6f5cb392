package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// creatorCheckEvery bounds how often the expensive creator-side-sell check
// runs per held token: once every this many price observations, per the
// spec's "expensive; run sparingly" instruction.
const creatorCheckEvery = 5

// tokenActor owns one live Position exclusively: all reads and mutations
// of the Position happen on this goroutine, eliminating the shared
// mutable map the source used for the same purpose.
type tokenActor struct {
	eng      *Engine
	position *Position

	priceCh chan float64
	stopCh  chan struct{}

	ticksSinceCreatorCheck int
}

func newTokenActor(eng *Engine, pos *Position) *tokenActor {
	return &tokenActor{
		eng:      eng,
		position: pos,
		priceCh:  make(chan float64, 64),
		stopCh:   make(chan struct{}),
	}
}

func (a *tokenActor) run() {
	for {
		select {
		case p, ok := <-a.priceCh:
			if !ok {
				return
			}
			a.onPrice(p)
		case <-a.stopCh:
			return
		}
	}
}

// submitPrice delivers an observed price to the actor without blocking the
// caller. A full buffer drops the tick and logs; onPrice evaluates every
// tick that is delivered, so a dropped tick is never evaluated.
func (a *tokenActor) submitPrice(p float64) {
	select {
	case a.priceCh <- p:
	default:
		log.Warn().Str("tokenId", a.position.TokenID).Msg("price tick dropped, actor backlog full")
	}
}

// onPrice implements 4.D.3 exit evaluation, with take-profit outranking
// trailing-stop outranking creator-side sell.
func (a *tokenActor) onPrice(p float64) {
	params := a.eng.paramsSnapshot()

	a.position.LastPriceSeen = p
	if p > a.position.MaxPriceSeen {
		a.position.MaxPriceSeen = p
	}

	if a.position.BuyPrice > 0 && p/a.position.BuyPrice >= params.SellMultiplier {
		// Per spec.md 4.D.5, the take-profit exit price is the formula
		// value, not the (possibly overshot) observed tick that tripped it.
		a.eng.sell(a, "take_profit", false, a.position.BuyPrice*params.SellMultiplier)
		return
	}

	if p < a.position.MaxPriceSeen*(1-params.TrailingStopFraction) {
		a.eng.sell(a, "trailing_stop", false, p)
		return
	}

	a.ticksSinceCreatorCheck++
	if a.eng.creatorSellChecker != nil && a.ticksSinceCreatorCheck >= creatorCheckEvery {
		a.ticksSinceCreatorCheck = 0
		wallets := make([]WalletID, 0, len(a.position.CreatorWallets))
		for w := range a.position.CreatorWallets {
			wallets = append(wallets, w)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sold := a.eng.creatorSellChecker.RecentlySold(ctx, a.position.TokenID, wallets)
		cancel()
		if sold {
			a.eng.sell(a, "creator_sell", false, p)
		}
	}
}

func (a *tokenActor) stop() {
	close(a.stopCh)
}
