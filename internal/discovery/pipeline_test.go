package discovery

import (
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
)

func TestHasInitialize2Discriminant(t *testing.T) {
	data := append(append([]byte{}, initialize2Discriminant...), 0x01, 0x02)
	encoded := base58.Encode(data)

	if !hasInitialize2Discriminant(encoded) {
		t.Error("expected discriminant match")
	}
	if hasInitialize2Discriminant(base58.Encode([]byte{0x00, 0x01, 0x02})) {
		t.Error("expected no match for unrelated data")
	}
}

func TestExtractNonBaseMint(t *testing.T) {
	p := &Pipeline{seen: make(map[string]struct{})}

	accounts := make([]string, 10)
	for i := range accounts {
		accounts[i] = "acct" + string(rune('0'+i))
	}
	accounts[coinMintAccountIndex] = "TokenMintXYZ"
	accounts[pcMintAccountIndex] = solMint

	got := p.extractNonBaseMint(accounts)
	if got != "TokenMintXYZ" {
		t.Errorf("extractNonBaseMint = %q, want TokenMintXYZ", got)
	}

	accounts[coinMintAccountIndex] = solMint
	accounts[pcMintAccountIndex] = "OtherMintABC"
	got = p.extractNonBaseMint(accounts)
	if got != "OtherMintABC" {
		t.Errorf("extractNonBaseMint = %q, want OtherMintABC", got)
	}
}

func TestExtractNonBaseMintShortAccountsReturnsEmpty(t *testing.T) {
	p := &Pipeline{seen: make(map[string]struct{})}
	if got := p.extractNonBaseMint([]string{"a", "b"}); got != "" {
		t.Errorf("extractNonBaseMint on short list = %q, want empty", got)
	}
}

func TestAlreadySeenDeduplicates(t *testing.T) {
	p := &Pipeline{seen: make(map[string]struct{})}

	if p.alreadySeen("mintA") {
		t.Error("first observation should not be reported as already seen")
	}
	if !p.alreadySeen("mintA") {
		t.Error("second observation should be reported as already seen")
	}
}

func TestHandleNotificationIgnoresNonTriggeringLogs(t *testing.T) {
	var called bool
	p := &Pipeline{
		seen:    make(map[string]struct{}),
		handler: func(tokenID string, creatorWallet string) { called = true },
	}

	raw, _ := json.Marshal(map[string]interface{}{
		"value": map[string]interface{}{
			"signature": "sig1",
			"err":       nil,
			"logs":      []string{"Program log: something unrelated"},
		},
	})
	p.handleNotification(raw)

	if called {
		t.Error("handler should not fire for logs without the trigger substring")
	}
}
