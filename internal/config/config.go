package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	Wallet     WalletConfig     `mapstructure:"wallet"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Jupiter    JupiterConfig    `mapstructure:"jupiter"`
	Blockchain BlockchainConfig `mapstructure:"blockchain"`
	Storage    StorageConfig    `mapstructure:"storage"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Control    ControlConfig    `mapstructure:"control"`
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	BaseMint      string `mapstructure:"base_mint"`
}

type RPCConfig struct {
	ShyftURL          string `mapstructure:"shyft_url"`
	ShyftAPIKeyEnv    string `mapstructure:"shyft_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

// TradingConfig carries the Decision Engine's EngineParams plus operational
// knobs. BuyAmountNative/SellMultiplier/TrailingStopFraction are the three
// mutable fields named by spec.md §3; the validation ranges are enforced in
// Manager.SetParam, not here.
type TradingConfig struct {
	BuyAmountNative       float64 `mapstructure:"buy_amount_native"`
	SellMultiplier        float64 `mapstructure:"sell_multiplier"`
	TrailingStopFraction  float64 `mapstructure:"trailing_stop_fraction"`
	MaxOpenPositions      int     `mapstructure:"max_open_positions"`
	AvailableCapitalNative float64 `mapstructure:"available_capital_native"`
	SimulationMode        bool    `mapstructure:"simulation_mode"`
}

type FeesConfig struct {
	StaticPriorityFeeSol float64 `mapstructure:"static_priority_fee_sol"`
	StaticGasFeeSol      float64 `mapstructure:"static_gas_fee_sol"`
}

type JupiterConfig struct {
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	SlippageBps    int    `mapstructure:"slippage_bps"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BlockchainConfig struct {
	BlockhashRefreshMs    int `mapstructure:"blockhash_refresh_ms"`
	BlockhashTTLSeconds   int `mapstructure:"blockhash_ttl_seconds"`
	BalanceRefreshSeconds int `mapstructure:"balance_refresh_seconds"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
	JournalDir string `mapstructure:"journal_dir"`
}

type WebSocketConfig struct {
	ShyftURL         string `mapstructure:"shyft_url"`
	TokenProgramID   string `mapstructure:"token_program_id"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	ErrorDelayMs     int    `mapstructure:"error_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

type SafetyConfig struct {
	OracleURL       string `mapstructure:"oracle_url"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	MaxTaxBuy       float64 `mapstructure:"max_tax_buy"`
	MaxTaxSell      float64 `mapstructure:"max_tax_sell"`
	MaxMarketcap    float64 `mapstructure:"max_marketcap"`
}

type DiscoveryConfig struct {
	LPProgramID            string `mapstructure:"lp_program_id"`
	Initialize2Discriminant string `mapstructure:"initialize2_discriminant"`
}

type OptimizerConfig struct {
	FirstTickSeconds      int `mapstructure:"first_tick_seconds"`
	SubsequentTickSeconds int `mapstructure:"subsequent_tick_seconds"`
}

type ControlConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager creates a new config manager
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("blockchain.blockhash_refresh_ms", 100)
	v.SetDefault("blockchain.blockhash_ttl_seconds", 60)
	v.SetDefault("blockchain.balance_refresh_seconds", 5)
	v.SetDefault("jupiter.quote_api_url", "https://quote-api.jup.ag/v6/quote")
	v.SetDefault("jupiter.slippage_bps", 500)
	v.SetDefault("jupiter.timeout_seconds", 10)
	v.SetDefault("rpc.shyft_api_key_env", "SHYFT_API_KEY")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("storage.sqlite_path", "./data/engine.db")
	v.SetDefault("storage.journal_dir", "./data")
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("websocket.token_program_id", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	v.SetDefault("websocket.reconnect_delay_ms", 5000)
	v.SetDefault("websocket.error_delay_ms", 10000)
	v.SetDefault("websocket.ping_interval_ms", 10000)
	v.SetDefault("safety.cache_ttl_seconds", 300)
	v.SetDefault("safety.max_tax_buy", 0.15)
	v.SetDefault("safety.max_tax_sell", 0.15)
	v.SetDefault("safety.max_marketcap", 50_000.0)
	v.SetDefault("discovery.lp_program_id", "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	v.SetDefault("discovery.initialize2_discriminant", "d81c8e238496e99b")
	v.SetDefault("optimizer.first_tick_seconds", 3600)
	v.SetDefault("optimizer.subsequent_tick_seconds", 1200)
	v.SetDefault("trading.buy_amount_native", 0.1)
	v.SetDefault("trading.sell_multiplier", 2.0)
	v.SetDefault("trading.trailing_stop_fraction", 0.15)
	v.SetDefault("trading.max_open_positions", 5)
	v.SetDefault("trading.available_capital_native", 1.0)
	v.SetDefault("control.listen_host", "127.0.0.1")
	v.SetDefault("control.listen_port", 8088)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Jupiter.QuoteAPIURL == "" {
		cfg.Jupiter.QuoteAPIURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/engine.db"
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// Get returns the current config (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetTrading returns trading config (most frequently accessed)
func (m *Manager) GetTrading() TradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Trading
}

// SetOnChange registers a callback for config changes
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update modifies config values and saves to file
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(m.config)

	m.viper.Set("trading.buy_amount_native", m.config.Trading.BuyAmountNative)
	m.viper.Set("trading.sell_multiplier", m.config.Trading.SellMultiplier)
	m.viper.Set("trading.trailing_stop_fraction", m.config.Trading.TrailingStopFraction)
	m.viper.Set("trading.max_open_positions", m.config.Trading.MaxOpenPositions)
	m.viper.Set("trading.available_capital_native", m.config.Trading.AvailableCapitalNative)
	m.viper.Set("trading.simulation_mode", m.config.Trading.SimulationMode)

	if err := m.viper.WriteConfig(); err != nil {
		return err
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}

	return nil
}

// SetParam validates and writes a single EngineParams field by name, per
// the ranges in spec.md §3. Returns an error without side-effects when the
// value is out of range or the name is unknown.
func (m *Manager) SetParam(name string, value float64) error {
	switch name {
	case "buy_amount_native":
		if value < 0.01 || value > 2.0 {
			return fmt.Errorf("buy_amount_native out of range [0.01, 2.0]: %v", value)
		}
	case "sell_multiplier":
		if value < 1.0 || value > 2.5 {
			return fmt.Errorf("sell_multiplier out of range [1.0, 2.5]: %v", value)
		}
	case "trailing_stop_fraction":
		if value <= 0 || value >= 1 {
			return fmt.Errorf("trailing_stop_fraction out of range (0, 1): %v", value)
		}
	default:
		return fmt.Errorf("unknown param: %s", name)
	}

	return m.Update(func(c *Config) {
		switch name {
		case "buy_amount_native":
			c.Trading.BuyAmountNative = value
		case "sell_multiplier":
			c.Trading.SellMultiplier = value
		case "trailing_stop_fraction":
			c.Trading.TrailingStopFraction = value
		}
	})
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetPrivateKey loads private key from environment
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetShyftAPIKey loads Shyft API key from environment
func (m *Manager) GetShyftAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
}

// GetFallbackAPIKey loads Fallback API key from environment
func (m *Manager) GetFallbackAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.FallbackAPIKeyEnv)
}

// GetShyftRPCURL returns the full Shyft RPC URL with API key injected
func (m *Manager) GetShyftRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.ShyftURL
	key := os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
	if key == "" {
		return url
	}

	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetFallbackRPCURL returns the full Fallback RPC URL with API key injected
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.FallbackURL
	key := os.Getenv(m.config.RPC.FallbackAPIKeyEnv)
	if key == "" {
		return url
	}

	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}

	if strings.Contains(url, "?") {
		return url + "&" + param + "=" + key
	}
	return url + "?" + param + "=" + key
}

// GetShyftWSURL returns the full Shyft WebSocket URL with API key injected
func (m *Manager) GetShyftWSURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.WebSocket.ShyftURL
	key := os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
	if key == "" {
		return url
	}

	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetBlockhashRefresh returns blockhash refresh interval as duration
func (m *Manager) GetBlockhashRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BlockhashRefreshMs) * time.Millisecond
}

// GetBalanceRefresh returns balance refresh interval as duration
func (m *Manager) GetBalanceRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BalanceRefreshSeconds) * time.Second
}
