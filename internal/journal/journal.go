// Package journal implements the engine's append-only trade record log:
// one JSONL file per run mode (simulation.jsonl / real.jsonl), plus a
// decision_log.jsonl for the self-tuning controller. Records are never
// rewritten in place. storage.DB's trades table is written separately by a
// trade observer; nothing rebuilds it from these files.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// TradeKind tags the variant of a TradeRecord.
type TradeKind string

const (
	KindBuy       TradeKind = "buy"
	KindSell      TradeKind = "sell"
	KindBuyFailed TradeKind = "buy_failed"
)

// TradeRecord is one line of a trade journal. Fields not relevant to a
// given Kind are left at their zero value (e.g. Reason is empty for a
// successful buy).
type TradeRecord struct {
	Kind            TradeKind `json:"kind"`
	TokenID         string    `json:"token_id"`
	TimestampUnix   int64     `json:"timestamp_unix"`
	AmountNative    float64   `json:"amount_native"`
	PriceNative     float64   `json:"price_native"`
	PnLNative       float64   `json:"pnl_native,omitempty"`
	TxSignature     string    `json:"tx_signature,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	SimulationMode  bool      `json:"simulation_mode"`
}

// Writer appends TradeRecords to a JSONL file. Safe for concurrent use by
// multiple per-token-id actors; each Append call takes an exclusive lock
// for the duration of one write so records are never interleaved.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *json.Encoder
}

// NewWriter opens (creating if absent) the journal file at path for
// appending.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	return &Writer{
		path: path,
		f:    f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Append writes one record as a single JSON line, followed by fsync so a
// crash immediately after Append does not lose the record.
func (w *Writer) Append(rec TradeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadAll replays every record in a journal file in order. Malformed
// trailing lines (e.g. a partial write from a crash) are logged and
// skipped rather than aborting the whole replay.
func ReadAll(path string) ([]TradeRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	var records []TradeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn().Err(err).Str("path", path).Int("line", lineNo).Msg("skipping malformed journal line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan journal %s: %w", path, err)
	}

	return records, nil
}

// DecisionRecord is one line of the self-tuning controller's decision log.
type DecisionRecord struct {
	TimestampUnix  int64              `json:"timestamp_unix"`
	WinRate        float64            `json:"win_rate"`
	Drawdown       float64            `json:"drawdown"`
	ProfitNative   float64            `json:"profit_native"`
	Profile        string             `json:"profile"`
	Frozen         bool               `json:"frozen"`
	ParamsBefore   map[string]float64 `json:"params_before"`
	ParamsAfter    map[string]float64 `json:"params_after"`
	Action         string             `json:"action"`
}

// DecisionLogger appends DecisionRecords to decision_log.jsonl.
type DecisionLogger struct {
	w *Writer
}

// NewDecisionLogger opens decision_log.jsonl for appending. It shares
// Writer's file-handling but DecisionRecord has its own Append/ReadAll pair
// since its shape differs from TradeRecord.
func NewDecisionLogger(path string) (*DecisionLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create decision log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open decision log %s: %w", path, err)
	}
	return &DecisionLogger{w: &Writer{f: f, enc: json.NewEncoder(f)}}, nil
}

func (d *DecisionLogger) Append(rec DecisionRecord) error {
	d.w.mu.Lock()
	defer d.w.mu.Unlock()
	if err := d.w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode decision record: %w", err)
	}
	return d.w.f.Sync()
}

func (d *DecisionLogger) Close() error {
	return d.w.Close()
}

// ReadAllDecisions replays every decision record in a log file in order.
func ReadAllDecisions(path string) ([]DecisionRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open decision log %s: %w", path, err)
	}
	defer f.Close()

	var records []DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec DecisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn().Err(err).Str("path", path).Int("line", lineNo).Msg("skipping malformed decision log line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan decision log %s: %w", path, err)
	}

	return records, nil
}
