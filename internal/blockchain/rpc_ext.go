package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// GetAllTokenAccounts fetches an owner's token accounts under both the
// legacy SPL Token program and Token-2022. It fails as a whole if either
// fetch fails.
func (c *RPCClient) GetAllTokenAccounts(ctx context.Context, owner string) ([]TokenAccountInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []interface{}{
			owner,
			map[string]string{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"},
			map[string]string{
				"encoding": "jsonParsed",
			},
		},
	}

	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals uint8  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}

	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}

	accounts := make([]TokenAccountInfo, 0, len(result.Value))
	for _, v := range result.Value {
		amount, _ := strconv.ParseUint(v.Account.Data.Parsed.Info.TokenAmount.Amount, 10, 64)
		accounts = append(accounts, TokenAccountInfo{
			Address:  v.Pubkey,
			Mint:     v.Account.Data.Parsed.Info.Mint,
			Amount:   amount,
			Decimals: v.Account.Data.Parsed.Info.TokenAmount.Decimals,
		})
	}

	accounts2022, err := c.fetchTokenAccounts(ctx, owner, map[string]string{"programId": Token2022ProgramID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Token-2022 accounts: %w", err)
	}

	return append(accounts, accounts2022...), nil
}

// ParsedInstruction is a top-level instruction from a jsonParsed transaction,
// either "parsed" (known program) or raw (accounts + base58 data).
type ParsedInstruction struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"`
}

// TransactionResult is the subset of getTransaction's jsonParsed response
// that Pair Discovery needs: the account keys referenced and the top-level
// instruction list.
type TransactionResult struct {
	Slot        uint64 `json:"slot"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a confirmed transaction by signature with
// encoding=jsonParsed and maxSupportedTransactionVersion=0, per the
// discovery pipeline's transaction-fetch contract.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*TransactionResult, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"maxSupportedTransactionVersion": 0,
				"commitment":                     "finalized",
			},
		},
	}

	var result json.RawMessage
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}

	var tx TransactionResult
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// AccountKeys returns the flat list of account pubkeys referenced by the
// transaction's message, in order.
func (tx *TransactionResult) AccountKeys() []string {
	keys := make([]string, len(tx.Transaction.Message.AccountKeys))
	for i, k := range tx.Transaction.Message.AccountKeys {
		keys[i] = k.Pubkey
	}
	return keys
}

// Instructions returns the transaction's top-level instructions.
func (tx *TransactionResult) Instructions() []ParsedInstruction {
	return tx.Transaction.Message.Instructions
}
