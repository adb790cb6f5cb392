// Package execution implements the Execution Gateway: the single seam
// between the Decision Engine and the outside world for buy/sell
// submission. Mode (simulation vs real) is fixed at construction and never
// flips at runtime, mirroring jupiter.Client's simMode switch but promoted
// to a construction-time invariant so no code path can accidentally submit
// a live swap from a gateway built for simulation.
package execution

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/jupiter"
)

// Sentinel errors returned by Gateway methods. Callers should use
// errors.Is against these rather than string-matching.
var (
	ErrQuoteUnavailable = errors.New("execution: quote unavailable")
	ErrNetwork          = errors.New("execution: network error")
	ErrSigning          = errors.New("execution: signing failed")
	ErrOnChainRejected  = errors.New("execution: transaction rejected on-chain")
)

const solMint = jupiter.SOLMint

// Mode fixes whether a Gateway submits real swaps or returns deterministic
// simulated fills.
type Mode int

const (
	ModeSimulation Mode = iota
	ModeReal
)

// Fill describes the result of a completed buy or sell. AmountOutLamports
// is the actual quantity of the output mint received — for a Buy this is
// the token quantity a Position must record to later sell the real held
// amount, not a placeholder.
type Fill struct {
	TxSignature       string
	AmountOutLamports uint64
	PriceNative       float64
}

// Gateway wraps jupiter.Client and the blockchain signing/submission
// collaborators behind a mode-fixed buy/sell interface.
type Gateway struct {
	mode Mode

	jup       *jupiter.Client
	rpc       *blockchain.RPCClient
	wallet    *blockchain.Wallet
	txBuilder *blockchain.TransactionBuilder
	balances  *blockchain.BalanceTracker

	quoteTimeout time.Duration
	swapTimeout  time.Duration
	sendTimeout  time.Duration
}

// New constructs a Gateway. mode is fixed for the Gateway's lifetime: a
// ModeSimulation gateway puts the wrapped jupiter.Client into simulation
// mode and never issues a swap HTTP call or submits a transaction over
// RPC; a ModeReal gateway always does both.
func New(mode Mode, jup *jupiter.Client, rpc *blockchain.RPCClient, wallet *blockchain.Wallet, txBuilder *blockchain.TransactionBuilder, balances *blockchain.BalanceTracker, simMultiplier float64) *Gateway {
	if mode == ModeSimulation {
		jup.SetSimulation(true, simMultiplier)
	} else {
		jup.SetSimulation(false, 1.0)
	}

	return &Gateway{
		mode:         mode,
		jup:          jup,
		rpc:          rpc,
		wallet:       wallet,
		txBuilder:    txBuilder,
		balances:     balances,
		quoteTimeout: 10 * time.Second,
		swapTimeout:  10 * time.Second,
		sendTimeout:  5 * time.Second,
	}
}

// Mode reports whether this Gateway is fixed to simulation or real.
func (g *Gateway) Mode() Mode {
	return g.mode
}

// Buy spends amountLamports of SOL for tokenMint and returns the resulting
// fill. In ModeSimulation no HTTP swap endpoint and no RPC submission is
// ever contacted; the fill is computed entirely from the mocked quote
// response and a synthetic signature stands in for an on-chain one.
func (g *Gateway) Buy(ctx context.Context, tokenMint string, amountLamports uint64) (*Fill, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, g.quoteTimeout)
	quote, err := g.jup.GetQuote(quoteCtx, solMint, tokenMint, amountLamports)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	outAmount, err := parseLamports(quote.OutAmount)
	if err != nil {
		outAmount = 0
	}

	if g.mode == ModeSimulation {
		return &Fill{
			TxSignature:       syntheticSignature(),
			AmountOutLamports: outAmount,
			PriceNative:       priceFromQuote(amountLamports, outAmount),
		}, nil
	}

	sig, err := g.buildSignAndSend(ctx, solMint, tokenMint, amountLamports)
	if err != nil {
		return nil, err
	}

	return &Fill{
		TxSignature:       sig,
		AmountOutLamports: outAmount,
		PriceNative:       priceFromQuote(amountLamports, outAmount),
	}, nil
}

// Sell converts tokenAmount of tokenMint back to SOL and returns the fill.
// tokenAmount must be the real on-chain quantity the caller holds (e.g.
// Position.TokenAmountRaw, recorded from the Buy fill) — there is no
// "sell everything" sentinel; the aggregator has no notion of one, and a
// Position always knows its own held amount.
func (g *Gateway) Sell(ctx context.Context, tokenMint string, tokenAmount uint64) (*Fill, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, g.quoteTimeout)
	quote, err := g.jup.GetQuote(quoteCtx, tokenMint, solMint, tokenAmount)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	outAmount, err := parseLamports(quote.OutAmount)
	if err != nil {
		outAmount = 0
	}

	if g.mode == ModeSimulation {
		return &Fill{
			TxSignature:       syntheticSignature(),
			AmountOutLamports: outAmount,
			PriceNative:       priceFromQuote(outAmount, tokenAmount),
		}, nil
	}

	sig, err := g.buildSignAndSend(ctx, tokenMint, solMint, tokenAmount)
	if err != nil {
		return nil, err
	}

	return &Fill{
		TxSignature:       sig,
		AmountOutLamports: outAmount,
		PriceNative:       priceFromQuote(outAmount, tokenAmount),
	}, nil
}

// buildSignAndSend fetches the swap transaction, signs it, and submits it
// over RPC. Only reached in ModeReal: ModeSimulation never calls this.
func (g *Gateway) buildSignAndSend(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (string, error) {
	swapCtx, cancel := context.WithTimeout(ctx, g.swapTimeout)
	swapTxBase64, err := g.jup.GetSwapTransaction(swapCtx, inputMint, outputMint, g.wallet.Address(), amountLamports)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	signed, err := g.txBuilder.SignSerializedTransaction(swapTxBase64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout)
	defer cancel()

	sig, err := g.rpc.SendTransaction(sendCtx, signed, false)
	if err != nil {
		txErr := blockchain.ParseTxError(err)
		log.Warn().Str("reason", txErr.Message).Msg("swap transaction rejected")
		return "", fmt.Errorf("%w: %s", ErrOnChainRejected, txErr.Message)
	}

	return sig, nil
}

// syntheticSignature fabricates a signature-shaped string for simulated
// fills, matching the base58-of-random-bytes idiom blockchain.CachedKeyManager
// uses for generated addresses.
func syntheticSignature() string {
	buf := make([]byte, 64)
	_, _ = rand.Read(buf)
	return base58.Encode(buf)
}

func priceFromQuote(inAmount, outAmount uint64) float64 {
	if outAmount == 0 {
		return 0
	}
	return float64(inAmount) / float64(outAmount)
}

func parseLamports(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
