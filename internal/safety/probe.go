// Package safety implements the Safety Probe: an independent check of a
// candidate token's honeypot/tax/marketcap characteristics that the
// Decision Engine consults before admitting a buy. It never blocks the
// engine on a slow or failing oracle — evaluation has a hard deadline and
// degrades to a conservative (reject) result rather than hanging.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/jupiter"
)

// forwardLiquidityLamports and reverseSellabilityLamports are the probe
// amounts for the two quote-based checks (spec.md 4.B): 5 units of base
// currency forward, 0.1 units back, both expressed in lamports assuming
// 9-decimal base currency like the teacher's SOL-denominated quotes.
const (
	forwardLiquidityLamports   = 5_000_000_000
	reverseSellabilityLamports = 100_000_000
)

// Report is the outcome of evaluating a token id. Whenever any check cannot
// be completed the Report has Safe=false and a non-empty Reason; fields set
// by the checks that did complete keep their values. The admission rule
// treats such a Report identically to an oracle-confirmed rejection, never
// as a pass.
type Report struct {
	TokenID      string
	IsHoneypot   bool
	BuyTaxPct    float64
	SellTaxPct   float64
	MarketcapUSD float64
	AntiBot      bool
	HasLiquidity bool
	IsSellable   bool
	Safe         bool
	Reason       string
	CheckedAt    time.Time
}

type cacheEntry struct {
	report Report
	at     time.Time
}

// QuoteSource is the subset of jupiter.Client the probe uses for the
// forward-liquidity and reverse-sellability checks; *jupiter.Client
// satisfies it directly.
type QuoteSource interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (*jupiter.QuoteResponse, error)
}

// Probe evaluates tokens against an external honeypot/tax oracle plus two
// aggregator quote checks, caching the combined result per token id for
// ttl. The cache is a map of atomic-swappable entries rather than the
// blockhash double-buffer idiom, since entries are keyed per token id
// rather than being a single rolling value.
type Probe struct {
	oracleURL string
	baseMint  string
	ttl       time.Duration
	client    *http.Client
	quotes    QuoteSource

	cache sync.Map // tokenID -> cacheEntry

	maxTaxBuy    float64
	maxTaxSell   float64
	maxMarketcap float64
}

// NewProbe constructs a Probe. maxTaxBuy/maxTaxSell/maxMarketcap are the
// admission thresholds applied to the oracle's response; quotes supplies
// the forward-liquidity/reverse-sellability checks against baseMint.
func NewProbe(oracleURL string, ttl time.Duration, maxTaxBuy, maxTaxSell, maxMarketcap float64, quotes QuoteSource, baseMint string) *Probe {
	return &Probe{
		oracleURL:    oracleURL,
		baseMint:     baseMint,
		ttl:          ttl,
		client:       &http.Client{Timeout: 5 * time.Second},
		quotes:       quotes,
		maxTaxBuy:    maxTaxBuy,
		maxTaxSell:   maxTaxSell,
		maxMarketcap: maxMarketcap,
	}
}

type oracleResponse struct {
	IsHoneypot   bool    `json:"is_honeypot"`
	BuyTaxPct    float64 `json:"buy_tax_pct"`
	SellTaxPct   float64 `json:"sell_tax_pct"`
	MarketcapUSD float64 `json:"marketcap_usd"`
	AntiBot      bool    `json:"anti_bot"`
}

// oracleCheckResult carries the HTTP oracle outcome through the fan-in,
// plus whether it completed at all (an oracle failure alone must not mask
// a genuine liquidity/sellability failure, and vice versa).
type oracleCheckResult struct {
	parsed oracleResponse
	ok     bool
	reason string
}

// Evaluate never fails: it always returns a Report, substituting a
// rejecting Report when any of the three checks errors, times out, or
// returns a response that cannot be parsed. The three checks (oracle,
// forward-liquidity, reverse-sellability) run concurrently per spec.md
// 4.B.
func (p *Probe) Evaluate(ctx context.Context, tokenID string) Report {
	if cached, ok := p.cache.Load(tokenID); ok {
		entry := cached.(cacheEntry)
		if time.Since(entry.at) < p.ttl {
			return entry.report
		}
	}

	report := p.fetch(ctx, tokenID)
	p.cache.Store(tokenID, cacheEntry{report: report, at: time.Now()})
	return report
}

func (p *Probe) fetch(ctx context.Context, tokenID string) Report {
	base := Report{TokenID: tokenID, Safe: false, CheckedAt: time.Now()}

	var wg sync.WaitGroup
	var oracleRes oracleCheckResult
	var hasLiquidity, isSellable bool
	var liquidityErr, sellableErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		oracleRes = p.fetchOracle(ctx, tokenID)
	}()
	go func() {
		defer wg.Done()
		hasLiquidity, liquidityErr = p.checkForwardLiquidity(ctx, tokenID)
	}()
	go func() {
		defer wg.Done()
		isSellable, sellableErr = p.checkReverseSellability(ctx, tokenID)
	}()
	wg.Wait()

	base.HasLiquidity = hasLiquidity
	base.IsSellable = isSellable

	if !oracleRes.ok {
		base.Reason = oracleRes.reason
		return base
	}

	base.IsHoneypot = oracleRes.parsed.IsHoneypot
	base.BuyTaxPct = oracleRes.parsed.BuyTaxPct
	base.SellTaxPct = oracleRes.parsed.SellTaxPct
	base.MarketcapUSD = oracleRes.parsed.MarketcapUSD
	base.AntiBot = oracleRes.parsed.AntiBot

	switch {
	case base.IsHoneypot:
		base.Reason = "flagged as honeypot"
	case base.BuyTaxPct > p.maxTaxBuy:
		base.Reason = fmt.Sprintf("buy tax %.2f%% exceeds max %.2f%%", base.BuyTaxPct*100, p.maxTaxBuy*100)
	case base.SellTaxPct > p.maxTaxSell:
		base.Reason = fmt.Sprintf("sell tax %.2f%% exceeds max %.2f%%", base.SellTaxPct*100, p.maxTaxSell*100)
	case base.MarketcapUSD > p.maxMarketcap:
		base.Reason = fmt.Sprintf("marketcap $%.0f exceeds max $%.0f", base.MarketcapUSD, p.maxMarketcap)
	case base.AntiBot:
		base.Reason = "anti-bot protection flagged"
	case liquidityErr != nil || !hasLiquidity:
		base.Reason = "no forward liquidity route"
	case sellableErr != nil || !isSellable:
		base.Reason = "no reverse sellability route"
	default:
		base.Safe = true
	}

	return base
}

func (p *Probe) fetchOracle(ctx context.Context, tokenID string) oracleCheckResult {
	url := fmt.Sprintf("%s?token=%s", p.oracleURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return oracleCheckResult{reason: "build oracle request: " + err.Error()}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("tokenId", tokenID).Msg("safety oracle unreachable, defaulting to reject")
		return oracleCheckResult{reason: "oracle unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oracleCheckResult{reason: fmt.Sprintf("oracle returned status %d", resp.StatusCode)}
	}

	var parsed oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return oracleCheckResult{reason: "decode oracle response: " + err.Error()}
	}

	return oracleCheckResult{parsed: parsed, ok: true}
}

// checkForwardLiquidity quotes baseMint -> tokenID for 5 units of base
// currency; it passes iff a route exists with a non-zero out amount.
func (p *Probe) checkForwardLiquidity(ctx context.Context, tokenID string) (bool, error) {
	if p.quotes == nil {
		return false, fmt.Errorf("no quote source configured")
	}
	quote, err := p.quotes.GetQuote(ctx, p.baseMint, tokenID, forwardLiquidityLamports)
	if err != nil {
		return false, err
	}
	return quote != nil && quote.OutAmount != "" && quote.OutAmount != "0", nil
}

// checkReverseSellability quotes tokenID -> baseMint for 0.1 units; it
// passes iff a route exists at all (regardless of out amount size).
func (p *Probe) checkReverseSellability(ctx context.Context, tokenID string) (bool, error) {
	if p.quotes == nil {
		return false, fmt.Errorf("no quote source configured")
	}
	quote, err := p.quotes.GetQuote(ctx, tokenID, p.baseMint, reverseSellabilityLamports)
	if err != nil {
		return false, err
	}
	return quote != nil, nil
}

// Invalidate drops a cached entry, forcing the next Evaluate call to
// re-fetch.
func (p *Probe) Invalidate(tokenID string) {
	p.cache.Delete(tokenID)
}
