package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps SQLite database. It is a query-convenience copy kept beside the
// trade journal's JSONL files, which stay the system of record; no code
// here rebuilds its rows from the journal.
type DB struct {
	db *sql.DB
}

// Position represents an open position in the engine's per-token-id map.
type Position struct {
	TokenID        string
	EntryPriceNative float64
	SizeNative     float64
	EntryTime      int64
	MaxPriceSeen   float64
	PartialSold    bool
	EntryTxSig     string
}

// Trade represents a completed trade (buy, sell, or rejected buy attempt).
type Trade struct {
	ID         int64
	TokenID    string
	Kind       string // "buy", "sell", "buy_failed"
	AmountNative float64
	PriceNative  float64
	PnLNative    float64
	Reason       string
	TxSig        string
	Timestamp    int64
}

// CreatorWallet is a row in the candidate-creator cache: a wallet address
// observed creating tokens, with a rolling count of prior creations.
type CreatorWallet struct {
	Address     string
	MintCount   int
	LastSeen    int64
}

// NewDB creates a new database connection
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		token_id TEXT PRIMARY KEY,
		entry_price_native REAL NOT NULL,
		size_native REAL NOT NULL,
		entry_time INTEGER NOT NULL,
		max_price_seen REAL NOT NULL,
		partial_sold INTEGER NOT NULL DEFAULT 0,
		entry_tx_sig TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount_native REAL NOT NULL DEFAULT 0,
		price_native REAL NOT NULL DEFAULT 0,
		pnl_native REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		tx_sig TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS creator_wallets (
		address TEXT PRIMARY KEY,
		mint_count INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_token_id ON trades(token_id);
	`

	_, err := db.Exec(schema)
	return err
}

// InsertPosition inserts or replaces a position
func (d *DB) InsertPosition(p *Position) error {
	partialSold := 0
	if p.PartialSold {
		partialSold = 1
	}
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO positions
		(token_id, entry_price_native, size_native, entry_time, max_price_seen, partial_sold, entry_tx_sig)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.TokenID, p.EntryPriceNative, p.SizeNative, p.EntryTime, p.MaxPriceSeen, partialSold, p.EntryTxSig)
	return err
}

// DeletePosition removes a position
func (d *DB) DeletePosition(tokenID string) error {
	_, err := d.db.Exec("DELETE FROM positions WHERE token_id = ?", tokenID)
	return err
}

// GetPosition retrieves a position by token id
func (d *DB) GetPosition(tokenID string) (*Position, error) {
	var p Position
	var partialSold int
	err := d.db.QueryRow(`
		SELECT token_id, entry_price_native, size_native, entry_time, max_price_seen, partial_sold, entry_tx_sig
		FROM positions WHERE token_id = ?`, tokenID).Scan(
		&p.TokenID, &p.EntryPriceNative, &p.SizeNative, &p.EntryTime, &p.MaxPriceSeen, &partialSold, &p.EntryTxSig)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.PartialSold = partialSold != 0
	return &p, nil
}

// GetAllPositions retrieves all open positions
func (d *DB) GetAllPositions() ([]*Position, error) {
	rows, err := d.db.Query(`
		SELECT token_id, entry_price_native, size_native, entry_time, max_price_seen, partial_sold, entry_tx_sig
		FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		var p Position
		var partialSold int
		if err := rows.Scan(&p.TokenID, &p.EntryPriceNative, &p.SizeNative, &p.EntryTime, &p.MaxPriceSeen, &partialSold, &p.EntryTxSig); err != nil {
			return nil, err
		}
		p.PartialSold = partialSold != 0
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// InsertTrade logs a completed trade or rejected attempt
func (d *DB) InsertTrade(t *Trade) error {
	_, err := d.db.Exec(`
		INSERT INTO trades
		(token_id, kind, amount_native, price_native, pnl_native, reason, tx_sig, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TokenID, t.Kind, t.AmountNative, t.PriceNative, t.PnLNative, t.Reason, t.TxSig, t.Timestamp)
	return err
}

// GetRecentTrades retrieves the most recent trades
func (d *DB) GetRecentTrades(limit int) ([]*Trade, error) {
	rows, err := d.db.Query(`
		SELECT id, token_id, kind, amount_native, price_native, pnl_native, reason, tx_sig, timestamp
		FROM trades ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.TokenID, &t.Kind, &t.AmountNative, &t.PriceNative, &t.PnLNative, &t.Reason, &t.TxSig, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// UpsertCreatorWallet inserts a newly observed creator or bumps its mint
// count and last_seen if already known.
func (d *DB) UpsertCreatorWallet(address string, seenAt int64) error {
	_, err := d.db.Exec(`
		INSERT INTO creator_wallets (address, mint_count, last_seen)
		VALUES (?, 1, ?)
		ON CONFLICT(address) DO UPDATE SET
			mint_count = mint_count + 1,
			last_seen = excluded.last_seen`,
		address, seenAt)
	return err
}

// GetCreatorWallet retrieves a creator wallet's cache entry
func (d *DB) GetCreatorWallet(address string) (*CreatorWallet, error) {
	var c CreatorWallet
	err := d.db.QueryRow(`
		SELECT address, mint_count, last_seen FROM creator_wallets WHERE address = ?`, address).Scan(
		&c.Address, &c.MintCount, &c.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetTradingStats returns aggregate trading stats over completed sells
func (d *DB) GetTradingStats() (totalTrades int, winRate float64, totalPnL float64, err error) {
	var wins int
	err = d.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN pnl_native > 0 THEN 1 ELSE 0 END) as wins,
			COALESCE(SUM(pnl_native), 0) as total_pnl
		FROM trades WHERE kind = 'sell'`).Scan(&totalTrades, &wins, &totalPnL)
	if err != nil {
		return
	}
	if totalTrades > 0 {
		winRate = float64(wins) / float64(totalTrades) * 100
	}
	return
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Now returns current Unix timestamp (helper)
func Now() int64 {
	return time.Now().Unix()
}
