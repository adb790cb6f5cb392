package optimizer

import (
	"math"

	"solana-pump-bot/internal/journal"
)

// computeAggregates implements 4.E.1: cumulative profit, win-rate, mean
// and standard deviation of per-trade profit, and running max drawdown,
// derived from SELL records (each already carries the realized PnL,
// unlike the source's _compute_profit/_compute_stats/_compute_drawdown
// which re-derive it from paired buy/sell price lookups).
func computeAggregates(records []journal.TradeRecord) aggregates {
	var (
		profits    []float64
		wins       int
		cumulative float64
		peak       float64
		maxDD      float64
	)

	for _, r := range records {
		if r.Kind != journal.KindSell {
			continue
		}
		profits = append(profits, r.PnLNative)
		if r.PnLNative > 0 {
			wins++
		}

		cumulative += r.PnLNative
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			if dd := (peak - cumulative) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	if len(profits) == 0 {
		return aggregates{}
	}

	var sum float64
	for _, p := range profits {
		sum += p
	}
	mean := sum / float64(len(profits))

	var variance float64
	for _, p := range profits {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(profits))

	return aggregates{
		profit:     cumulative,
		winRate:    float64(wins) / float64(len(profits)),
		meanProfit: mean,
		stdDev:     math.Sqrt(variance),
		drawdown:   maxDD,
	}
}
