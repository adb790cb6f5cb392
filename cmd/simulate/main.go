// Command simulate runs a scripted SIM-mode scenario against the Decision
// Engine directly, without a live websocket subscription: it admits one
// token, steps its price through a fixed trajectory, and reports the
// resulting fill. Grounded on cmd/simulation/main.go's step-by-step
// logging shape, adapted from the trading.Executor harness to
// engine.Engine's Admit/OnPriceUpdate surface.
package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/engine"
	"solana-pump-bot/internal/execution"
	"solana-pump-bot/internal/journal"
	"solana-pump-bot/internal/jupiter"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Info().Msg("starting scripted SIM-mode scenario")

	dummyKey := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	wallet, err := blockchain.NewWallet(dummyKey)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet init failed")
	}

	rpc := blockchain.NewRPCClient("", "", "")
	blockhashCache := blockchain.NewBlockhashCache(rpc, 100*time.Millisecond, 30*time.Second)
	txBuilder := blockchain.NewTransactionBuilder(wallet, blockhashCache, 1000)
	balance := blockchain.NewBalanceTracker(wallet, rpc)
	balance.SetBalance(10 * 1e9) // 10 SOL of simulated capital

	jup := jupiter.NewClient("", 50, 5*time.Second)
	jup.SetSimulation(true, 1.0)

	gateway := execution.New(execution.ModeSimulation, jup, rpc, wallet, txBuilder, balance, 1.0)

	dir, err := os.MkdirTemp("", "pumpbot-sim")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scratch journal directory")
	}
	defer os.RemoveAll(dir)

	simJournal, err := journal.NewWriter(filepath.Join(dir, "simulation.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open simulation journal")
	}
	defer simJournal.Close()

	realJournal, err := journal.NewWriter(filepath.Join(dir, "real.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open real journal")
	}
	defer realJournal.Close()

	creatorCache, err := engine.NewCandidateCreatorCache(filepath.Join(dir, "candidate_creators.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open candidate creator cache")
	}

	eng := engine.New(engine.Config{
		InitialParams: engine.EngineParams{
			BuyAmountNative:      0.1,
			SellMultiplier:       2.0,
			TrailingStopFraction: 0.15,
		},
		InitialCapital: 10.0,
		Gateway:        gateway,
		Balance:        balance,
		CreatorCache:   creatorCache,
		SimJournal:     simJournal,
		RealJournal:    realJournal,
		Observers:      []engine.TradeObserver{loggingObserver{}},
	})
	eng.Start(engine.ModeSim)
	defer eng.Stop()

	ctx := context.Background()
	const tokenID = "SimTokenMint123456789"

	log.Info().Msg("--- STEP 1: ADMIT AT ENTRY PRICE 1.0 ---")
	eng.Admit(ctx, tokenID, 1.0, nil)
	time.Sleep(200 * time.Millisecond)

	log.Info().Msg("--- STEP 2: PRICE WALK 1.2 -> 1.8 -> 2.05 (TAKE-PROFIT) ---")
	for _, p := range []float64{1.2, 1.8, 2.05} {
		eng.OnPriceUpdate(tokenID, p)
		time.Sleep(200 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	status := eng.Status()
	if status.OpenPositions == 0 {
		log.Info().Msg("scenario complete: position closed as expected")
	} else {
		log.Error().Int("openPositions", status.OpenPositions).Msg("scenario failed: position still open")
	}
}

type loggingObserver struct{}

func (loggingObserver) OnBuy(tokenID engine.TokenID, price, amount float64) {
	log.Info().Str("tokenId", tokenID).Float64("price", price).Float64("amount", amount).Msg("SIM_BUY")
}

func (loggingObserver) OnSell(tokenID engine.TokenID, price, pnl float64) {
	log.Info().Str("tokenId", tokenID).Float64("price", price).Float64("pnl", pnl).Msg("SIM_SELL")
}

func (loggingObserver) OnReject(tokenID engine.TokenID, reason string) {
	log.Warn().Str("tokenId", tokenID).Str("reason", reason).Msg("SIM_REJECT")
}
