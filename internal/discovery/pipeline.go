// Package discovery implements the Pair Discovery Pipeline: a persistent
// log-subscription listener that extracts newly minted non-base token
// identifiers from pool-creation transactions and forwards them to the
// Decision Engine. Grounded on the retrieved Python original's
// websocket_listener.py (subscribe/reconnect/extract shape) combined with
// blockchain.RPCClient's transaction-fetch contract.
package discovery

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/wsclient"
)

// triggerSubstring is the cheap early-triage string. Preserved exactly as
// observed in the source even though it names account, not mint,
// initialization: double-filtering via the LP-program account-keys
// pre-filter and the initialize2 discriminant is what actually selects
// pool-creation transactions.
const triggerSubstring = "Instruction: InitializeAccount"

// initialize2Discriminant is the exact first 8 bytes of a Raydium AMM v4
// initialize2 instruction's data, base58-decoded.
var initialize2Discriminant = []byte{0xd8, 0x1c, 0x8e, 0x23, 0x84, 0x96, 0xe9, 0x9b}

// Raydium AMM v4 initialize2 account layout positions of the two mints.
// Index 8 is the coin (token) mint, index 9 is the pc (quote, usually
// wrapped SOL) mint.
const (
	coinMintAccountIndex = 8
	pcMintAccountIndex   = 9
)

const solMint = "So11111111111111111111111111111111111111112"

// MintHandler receives each newly discovered non-base mint exactly once,
// along with the creator wallet (the pool-creation transaction's fee
// payer, account-keys index 0) used as the proxy for the token's author.
type MintHandler func(tokenID string, creatorWallet string)

// Pipeline owns the subscription and transaction-fetch workers.
type Pipeline struct {
	ws            *wsclient.Client
	rpc           *blockchain.RPCClient
	tokenProgramID string
	lpProgramID   string

	handler MintHandler

	seenMu sync.Mutex
	seen   map[string]struct{}
}

// New constructs a Pipeline. tokenProgramID is the program mentioned in
// the log subscription; lpProgramID is the liquidity-pool program whose
// account-key presence gates the expensive transaction fetch.
func New(ws *wsclient.Client, rpc *blockchain.RPCClient, tokenProgramID, lpProgramID string, handler MintHandler) *Pipeline {
	return &Pipeline{
		ws:             ws,
		rpc:            rpc,
		tokenProgramID: tokenProgramID,
		lpProgramID:    lpProgramID,
		handler:        handler,
		seen:           make(map[string]struct{}),
	}
}

// Start subscribes to the token program's log stream at finalized
// commitment. The subscription ack is handled by wsclient.Client.Connect
// via LogsSubscribe's synchronous id-or-error contract; Start fails fast
// if that ack never arrives.
func (p *Pipeline) Start(ctx context.Context) error {
	_, err := p.ws.LogsSubscribe([]string{p.tokenProgramID}, "finalized", p.handleNotification)
	if err != nil {
		return err
	}

	log.Info().Str("programId", p.tokenProgramID).Msg("pair discovery subscribed")
	return nil
}

type logsNotificationValue struct {
	Signature string   `json:"signature"`
	Err       any      `json:"err"`
	Logs      []string `json:"logs"`
}

func (p *Pipeline) handleNotification(raw json.RawMessage) {
	var envelope struct {
		Value logsNotificationValue `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Warn().Err(err).Msg("discovery: malformed logs notification")
		return
	}
	value := envelope.Value

	if value.Err != nil {
		return
	}

	triggered := false
	for _, line := range value.Logs {
		if strings.Contains(line, triggerSubstring) {
			triggered = true
			break
		}
	}
	if !triggered {
		return
	}

	go p.inspectTransaction(value.Signature)
}

// inspectTransaction fetches the full transaction, applies the LP-program
// pre-filter, then scans for the initialize2 discriminant. Runs off the
// notification callback goroutine so a slow RPC fetch never blocks the
// subscription read loop.
func (p *Pipeline) inspectTransaction(signature string) {
	if signature == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := p.rpc.GetTransaction(ctx, signature)
	if err != nil {
		log.Debug().Err(err).Str("sig", signature).Msg("discovery: transaction fetch failed")
		return
	}
	if tx == nil {
		return
	}

	keys := tx.AccountKeys()
	if !containsKey(keys, p.lpProgramID) {
		return
	}

	for _, ix := range tx.Instructions() {
		if ix.ProgramID != p.lpProgramID {
			continue
		}
		if !hasInitialize2Discriminant(ix.Data) {
			continue
		}

		tokenID := p.extractNonBaseMint(ix.Accounts)
		if tokenID == "" {
			continue
		}

		if p.alreadySeen(tokenID) {
			return
		}

		creator := ""
		if len(keys) > 0 {
			creator = keys[0]
		}

		log.Info().Str("tokenId", tokenID).Str("creator", creator).Str("sig", signature).Msg("discovery: new pool mint")
		p.handler(tokenID, creator)
		return
	}
}

func (p *Pipeline) extractNonBaseMint(accounts []string) string {
	if len(accounts) <= pcMintAccountIndex {
		return ""
	}
	coinMint := accounts[coinMintAccountIndex]
	pcMint := accounts[pcMintAccountIndex]

	if coinMint == solMint {
		return pcMint
	}
	return coinMint
}

func (p *Pipeline) alreadySeen(tokenID string) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if _, ok := p.seen[tokenID]; ok {
		return true
	}
	p.seen[tokenID] = struct{}{}
	return false
}

func containsKey(keys []string, target string) bool {
	for _, k := range keys {
		if k == target {
			return true
		}
	}
	return false
}

// hasInitialize2Discriminant decodes base58 instruction data and compares
// its leading bytes against initialize2Discriminant.
func hasInitialize2Discriminant(dataBase58 string) bool {
	data, err := base58.Decode(dataBase58)
	if err != nil || len(data) < len(initialize2Discriminant) {
		return false
	}
	for i, b := range initialize2Discriminant {
		if data[i] != b {
			return false
		}
	}
	return true
}
