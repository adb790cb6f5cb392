// Command pumpbot is the headless host process: it wires the Pair
// Discovery Pipeline, Decision Engine, Self-Tuning Controller, and
// control-plane server together and runs them until a shutdown signal
// arrives. Grounded on cmd/bot/main.go's initComponents()
// construction order, trimmed to the headless path only.
package main

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/config"
	"solana-pump-bot/internal/control"
	"solana-pump-bot/internal/discovery"
	"solana-pump-bot/internal/engine"
	"solana-pump-bot/internal/execution"
	"solana-pump-bot/internal/health"
	"solana-pump-bot/internal/journal"
	"solana-pump-bot/internal/jupiter"
	"solana-pump-bot/internal/optimizer"
	"solana-pump-bot/internal/safety"
	"solana-pump-bot/internal/storage"
	"solana-pump-bot/internal/wsclient"
)

func main() {
	setupLogger()
	log.Info().Msg("pumpbot starting")

	configPath := os.Getenv("PUMPBOT_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	wallet, err := loadWallet(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load wallet")
	}

	rpc := blockchain.NewRPCClient(cfg.GetShyftRPCURL(), cfg.GetFallbackRPCURL(), cfg.GetShyftAPIKey())
	blockhashCache := blockchain.NewBlockhashCache(rpc, cfg.GetBlockhashRefresh(), time.Duration(cfg.Get().Blockchain.BlockhashTTLSeconds)*time.Second)
	txBuilder := blockchain.NewTransactionBuilder(wallet, blockhashCache, uint64(cfg.Get().Fees.StaticPriorityFeeSol*1e9))
	balances := blockchain.NewBalanceTracker(wallet, rpc)

	balanceCtx, cancelBalance := context.WithTimeout(context.Background(), 5*time.Second)
	err = balances.Refresh(balanceCtx)
	cancelBalance()
	if err != nil {
		log.Warn().Err(err).Msg("initial balance refresh failed")
	} else {
		log.Info().Float64("sol", balances.BalanceSOL()).Msg("wallet balance")
	}

	jupCfg := cfg.Get().Jupiter
	jup := jupiter.NewClient(jupCfg.QuoteAPIURL, jupCfg.SlippageBps, time.Duration(jupCfg.TimeoutSeconds)*time.Second)

	trading := cfg.GetTrading()
	mode := execution.ModeReal
	if trading.SimulationMode {
		mode = execution.ModeSimulation
	}
	gateway := execution.New(mode, jup, rpc, wallet, txBuilder, balances, 1.0)

	journalDir := cfg.Get().Storage.JournalDir
	if err := os.MkdirAll(journalDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create journal directory")
	}
	simJournal, err := journal.NewWriter(filepath.Join(journalDir, "simulation.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open simulation journal")
	}
	defer simJournal.Close()

	realJournal, err := journal.NewWriter(filepath.Join(journalDir, "real.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open real journal")
	}
	defer realJournal.Close()

	decisionLogger, err := journal.NewDecisionLogger(filepath.Join(journalDir, "decision_log.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open decision log")
	}
	defer decisionLogger.Close()

	db, err := storage.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage db")
	}
	defer db.Close()

	creatorCache, err := engine.NewCandidateCreatorCache(filepath.Join(journalDir, "creator_cache.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load candidate creator cache")
	}

	safetyCfg := cfg.Get().Safety
	probe := safety.NewProbe(safetyCfg.OracleURL, time.Duration(safetyCfg.CacheTTLSeconds)*time.Second, safetyCfg.MaxTaxBuy, safetyCfg.MaxTaxSell, safetyCfg.MaxMarketcap, jup, jupiter.SOLMint)

	eng := engine.New(engine.Config{
		InitialParams: engine.EngineParams{
			BuyAmountNative:      trading.BuyAmountNative,
			SellMultiplier:       trading.SellMultiplier,
			TrailingStopFraction: trading.TrailingStopFraction,
		},
		InitialCapital: trading.AvailableCapitalNative,
		Gateway:        gateway,
		SafetyProbe:    probe,
		Balance:        balances,
		CreatorCache:   creatorCache,
		SimJournal:     simJournal,
		RealJournal:    realJournal,
		Observers:      []engine.TradeObserver{storageObserver{db: db}},
	})

	startMode := engine.ModeReal
	if trading.SimulationMode {
		startMode = engine.ModeSim
	}
	eng.Start(startMode)

	statePath := filepath.Join(journalDir, "engine_params.json")
	optCtrl, err := optimizer.New(engineParamWriter{eng: eng}, decisionLogger, statePath, cryptoRand{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct self-tuning controller")
	}

	optCtx, cancelOpt := context.WithCancel(context.Background())
	defer cancelOpt()
	go optCtrl.Run(optCtx, func() ([]journal.TradeRecord, error) {
		return journal.ReadAll(filepath.Join(journalDir, "simulation.jsonl"))
	})

	wsCfg := cfg.Get().WebSocket
	ws := wsclient.New(cfg.GetShyftWSURL(), time.Duration(wsCfg.ReconnectDelayMs)*time.Millisecond, time.Duration(wsCfg.ErrorDelayMs)*time.Millisecond, time.Duration(wsCfg.PingIntervalMs)*time.Millisecond)

	admitter := &admissionGlue{eng: eng, jup: jup}
	pipeline := discovery.New(ws, rpc, wsCfg.TokenProgramID, cfg.Get().Discovery.LPProgramID, admitter.onMint)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	if err := ws.Connect(dialCtx); err != nil {
		log.Fatal().Err(err).Msg("websocket connect failed")
	}
	cancelDial()

	if err := pipeline.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("discovery pipeline subscribe failed")
	}

	controlCfg := cfg.Get().Control
	server := control.NewServer(controlCfg.ListenHost, controlCfg.ListenPort, engineAdapter{eng: eng})
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("control server failed")
		}
	}()
	log.Info().Str("host", controlCfg.ListenHost).Int("port", controlCfg.ListenPort).Msg("control server started")

	selfURL := fmt.Sprintf("http://%s:%d", controlCfg.ListenHost, controlCfg.ListenPort)
	checker := health.NewChecker(cfg.GetShyftRPCURL(), jupiter.MetisSwapURL, selfURL)
	healthCtx, cancelHealth := context.WithCancel(context.Background())
	defer cancelHealth()
	checker.Start(healthCtx)
	go reportUnhealthy(healthCtx, checker)

	balanceTicker := time.NewTicker(cfg.GetBalanceRefresh())
	defer balanceTicker.Stop()
	go func() {
		for range balanceTicker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := balances.Refresh(ctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("balance refresh failed")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancelOpt()
	eng.Stop()
	server.Shutdown()
	ws.Close()
	blockhashCache.Stop()
	log.Info().Msg("goodbye")
}

// reportUnhealthy logs a warning for every component the health checker
// currently reports as down, polling at twice the checker's own interval.
func reportUnhealthy(ctx context.Context, checker *health.Checker) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range checker.GetStatuses() {
				if !s.Healthy {
					log.Warn().Str("component", s.Name).Str("error", s.Error).Dur("latency", s.Latency).Msg("health check failing")
				}
			}
		}
	}
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func loadWallet(cfg *config.Manager) (*blockchain.Wallet, error) {
	if key := cfg.GetPrivateKey(); key != "" {
		return blockchain.NewWallet(key)
	}

	manager := blockchain.NewCachedKeyManager("./data", 24*time.Hour)
	return manager.GetOrGenerate()
}

// cryptoRand satisfies optimizer.randSource with math/rand's package-level
// source, which is automatically seeded since Go 1.20.
type cryptoRand struct{}

func (cryptoRand) Float64() float64 { return mathrand.Float64() }

// admissionGlue bridges discovery.MintHandler's (tokenID, creatorWallet)
// callback into engine.Engine.Admit, which additionally needs an observed
// entry price that discovery itself does not report.
type admissionGlue struct {
	eng *engine.Engine
	jup *jupiter.Client
}

func (a *admissionGlue) onMint(tokenID string, creatorWallet string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	price, err := a.observedPrice(ctx, tokenID)
	if err != nil {
		log.Debug().Err(err).Str("tokenId", tokenID).Msg("pumpbot: could not price new mint, skipping admission")
		return
	}

	var creatorWallets []engine.WalletID
	if creatorWallet != "" {
		creatorWallets = []engine.WalletID{creatorWallet}
	}

	a.eng.Admit(ctx, tokenID, price, creatorWallets)
}

func (a *admissionGlue) observedPrice(ctx context.Context, tokenID string) (float64, error) {
	const probeLamports = 10_000_000 // 0.01 SOL, enough for a representative quote
	quote, err := a.jup.GetQuote(ctx, jupiter.SOLMint, tokenID, probeLamports)
	if err != nil {
		return 0, err
	}

	inAmt, err := parseAmount(quote.InAmount)
	if err != nil {
		return 0, err
	}
	outAmt, err := parseAmount(quote.OutAmount)
	if err != nil || outAmt == 0 {
		return 0, fmt.Errorf("pumpbot: zero-amount quote for %s", tokenID)
	}

	return float64(inAmt) / float64(outAmt), nil
}

func parseAmount(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

// engineAdapter satisfies control.Engine by translating between
// internal/engine's and internal/control's independently defined
// Mode/Status types, keeping internal/control free of an import on
// internal/engine.
type engineAdapter struct {
	eng *engine.Engine
}

func (a engineAdapter) Start(mode control.EngineMode) {
	if mode == control.ModeReal {
		a.eng.Start(engine.ModeReal)
		return
	}
	a.eng.Start(engine.ModeSim)
}

func (a engineAdapter) Stop()         { a.eng.Stop() }
func (a engineAdapter) LiquidateAll() { a.eng.LiquidateAll() }

func (a engineAdapter) SetParam(name string, value float64) error {
	return a.eng.SetParam(name, value)
}

func (a engineAdapter) Status() control.EngineStatus {
	st := a.eng.Status()
	return control.EngineStatus{
		Running:          st.Running,
		Mode:             st.Mode.String(),
		UptimeSeconds:    st.UptimeSeconds,
		OpenPositions:    st.OpenPositions,
		AvailableCapital: st.AvailableCapital,
		Params: map[string]float64{
			"buy_amount_native":      st.Params.BuyAmountNative,
			"sell_multiplier":        st.Params.SellMultiplier,
			"trailing_stop_fraction": st.Params.TrailingStopFraction,
		},
	}
}

// engineParamWriter satisfies optimizer.ParamWriter, translating
// engine.EngineParams into optimizer.Params so the Self-Tuning Controller
// never needs to import internal/engine directly.
type engineParamWriter struct {
	eng *engine.Engine
}

func (w engineParamWriter) SetParam(name string, value float64) error {
	return w.eng.SetParam(name, value)
}

func (w engineParamWriter) Params() optimizer.Params {
	p := w.eng.Status().Params
	return optimizer.Params{
		BuyAmountNative:      p.BuyAmountNative,
		SellMultiplier:       p.SellMultiplier,
		TrailingStopFraction: p.TrailingStopFraction,
	}
}

// storageObserver persists the Decision Engine's buy and sell notifications
// to the SQLite trade history, mirroring internal/trading/position.go's
// write-through pattern from the teacher. Rejections are only logged at
// debug level, not stored.
type storageObserver struct {
	db *storage.DB
}

func (o storageObserver) OnBuy(tokenID engine.TokenID, price, amount float64) {
	if err := o.db.InsertTrade(&storage.Trade{
		TokenID:      tokenID,
		Kind:         "buy",
		PriceNative:  price,
		AmountNative: amount,
		Timestamp:    storage.Now(),
	}); err != nil {
		log.Warn().Err(err).Str("tokenId", tokenID).Msg("failed to persist buy")
	}
}

func (o storageObserver) OnSell(tokenID engine.TokenID, price, pnl float64) {
	if err := o.db.InsertTrade(&storage.Trade{
		TokenID:     tokenID,
		Kind:        "sell",
		PriceNative: price,
		PnLNative:   pnl,
		Timestamp:   storage.Now(),
	}); err != nil {
		log.Warn().Err(err).Str("tokenId", tokenID).Msg("failed to persist sell")
	}
}

func (o storageObserver) OnReject(tokenID engine.TokenID, reason string) {
	log.Debug().Str("tokenId", tokenID).Str("reason", reason).Msg("admission rejected")
}
