package journal

import (
	"path/filepath"
	"testing"
)

func TestWriterAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulation.jsonl")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	records := []TradeRecord{
		{Kind: KindBuy, TokenID: "mintA", TimestampUnix: 100, AmountNative: 0.1, PriceNative: 0.0001, SimulationMode: true},
		{Kind: KindSell, TokenID: "mintA", TimestampUnix: 200, AmountNative: 0.1, PriceNative: 0.0002, PnLNative: 0.1, TxSignature: "sig1", SimulationMode: true},
		{Kind: KindBuyFailed, TokenID: "mintB", TimestampUnix: 150, Reason: "max open positions reached", SimulationMode: true},
	}

	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("ReadAll returned %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if got[i] != r {
			t.Errorf("record %d = %+v, want %+v", i, got[i], r)
		}
	}
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.jsonl")
	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll on missing file returned error: %v", err)
	}
	if got != nil {
		t.Errorf("ReadAll on missing file = %v, want nil", got)
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Append(TradeRecord{Kind: KindBuy, TokenID: "mintA", TimestampUnix: 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := w.f.WriteString("{not valid json\n"); err != nil {
		t.Fatalf("write corrupt line failed: %v", err)
	}
	if err := w.Append(TradeRecord{Kind: KindSell, TokenID: "mintA", TimestampUnix: 2}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadAll returned %d records, want 2 (corrupt line skipped)", len(got))
	}
}

func TestDecisionLoggerAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision_log.jsonl")

	d, err := NewDecisionLogger(path)
	if err != nil {
		t.Fatalf("NewDecisionLogger failed: %v", err)
	}

	rec := DecisionRecord{
		TimestampUnix: 1000,
		WinRate:       0.65,
		Drawdown:      0.05,
		ProfitNative:  1.2,
		Profile:       "equilibre",
		Frozen:        false,
		ParamsBefore:  map[string]float64{"buy_amount_native": 0.1},
		ParamsAfter:   map[string]float64{"buy_amount_native": 0.11},
		Action:        "profile_rotation",
	}
	if err := d.Append(rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadAllDecisions(path)
	if err != nil {
		t.Fatalf("ReadAllDecisions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ReadAllDecisions returned %d records, want 1", len(got))
	}
	if got[0].Profile != rec.Profile || got[0].Action != rec.Action {
		t.Errorf("decision record = %+v, want %+v", got[0], rec)
	}
}
