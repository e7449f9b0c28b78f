// Package config loads and validates the futures-signal-engine's
// runtime configuration. Grounded on the teacher's config/config.go:
// the same nested-struct-of-structs JSON shape with a file-then-env
// override Load sequence, generalized from the teacher's SaaS-platform
// sections (billing, auth, scanner) to the engine's trading sections.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"futures-signal-engine/internal/regime"
)

// ExchangeConfig holds Binance USDⓈ-M futures connection settings.
// APIKey/APISecret are resolved from internal/secrets at startup if
// left empty here (spec.md §7).
type ExchangeConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`
	WSBaseURL string `json:"ws_base_url"`
	Testnet   bool   `json:"testnet"`
}

// CacheConfig sizes the in-memory candle cache (spec.md §4.2).
type CacheConfig struct {
	Size int `json:"size"` // CACHE_SIZE, candles retained per symbol/timeframe
}

// FeedConfig drives the FeedManager's WebSocket lifecycle (spec.md §4.3).
type FeedConfig struct {
	ReconnectDelay time.Duration `json:"reconnect_delay"` // WS_RECONNECT_DELAY
	MaxRetries     int           `json:"max_retries"`     // WS_MAX_RETRIES
	PingInterval   time.Duration `json:"ping_interval"`   // WS_PING_INTERVAL
	BTCSymbol      string        `json:"btc_symbol"`
	Symbols        []string      `json:"symbols"`
}

// RiskConfig mirrors risk.Config's field-for-field shape so main can
// translate it directly (spec.md §6).
type RiskConfig struct {
	AccountSize           float64 `json:"account_size"`           // ACCOUNT_SIZE
	RiskPerTradePct       float64 `json:"risk_per_trade_pct"`      // RISK_PER_TRADE
	MaxPositionPct        float64 `json:"max_position_pct"`        // MAX_POSITION_PCT
	MinPosition           float64 `json:"min_position"`            // MIN_POSITION
	MaxLeverage           float64 `json:"max_leverage"`            // MAX_LEVERAGE
	MaxConcurrent         int     `json:"max_concurrent"`          // MAX_CONCURRENT
	MaxSignalsPerDay      int     `json:"max_signals_per_day"`     // MAX_SIGNALS_PER_DAY
	DailyProfitTargetPct  float64 `json:"daily_profit_target_pct"`
	MaxDailyDrawdownPct   float64 `json:"max_daily_drawdown_pct"`  // MAX_DAILY_DRAWDOWN_PCT
	MaxConsecutiveLosses  int     `json:"max_consecutive_losses"`  // MAX_CONSECUTIVE_LOSSES
	CooldownMinutes       int     `json:"cooldown_minutes"`        // COOLDOWN_MINUTES
	BreakEvenAtR          float64 `json:"break_even_at_r"`         // BREAK_EVEN_AT_R
	PartialExitAtR        float64 `json:"partial_exit_at_r"`       // PARTIAL_EXIT_AT_R
	TrendingMaxHoldingMin int     `json:"trending_max_holding_min"`
	ChoppyMaxHoldingMin   int     `json:"choppy_max_holding_min"`
	ATRPeriod             int     `json:"atr_period"` // ATR_PERIOD
	ATRSLMult             float64 `json:"atr_sl_mult"` // ATR_SL_MULT, fallback outside per-market profiles
	ATRTPMult             float64 `json:"atr_tp_mult"` // ATR_TP_MULT
	MinATRPct             float64 `json:"min_atr_pct"` // MIN_ATR_PCT
	MaxATRPct             float64 `json:"max_atr_pct"` // MAX_ATR_PCT
}

// FilterConfig overrides the Tier-2 filter weights and per-market-type
// score thresholds the orchestrator uses (spec.md §4.6). Zero-value
// fields leave filters.Tier2Weight and filters.MinScoreByMarket at
// their package defaults.
type FilterConfig struct {
	Tier2Weights     map[string]float64 `json:"tier2_weights"`      // TIER2_FILTERS
	MinScoreByMarket map[string]float64 `json:"min_score_by_market"` // MIN_TIER2_SCORE, keyed by market type
	MinSignalScore   float64            `json:"min_signal_score"`   // MIN_SIGNAL_SCORE
}

// MarketProfileConfig is one market type's signal-generation and
// position-sizing profile (spec.md §4.7/§4.8).
type MarketProfileConfig struct {
	MinScore        float64 `json:"min_score"`
	MinRR           float64 `json:"min_rr"`
	MaxSignals      int     `json:"max_signals"`
	PositionSizePct float64 `json:"position_size_pct"`
	SLMult          float64 `json:"sl_mult"`
	TPMult          float64 `json:"tp_mult"`
}

// MarketConfig is MarketProfileConfig keyed by regime.MarketType's
// string value ("TRENDING", "CHOPPY", "HIGH_VOL", "UNKNOWN").
type MarketConfig map[string]MarketProfileConfig

// DefaultMarketConfig returns spec.md §4.7's stated per-market defaults.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		string(regime.MarketTrending): {MinScore: 60, MinRR: 2.0, MaxSignals: 10, PositionSizePct: 1.0, SLMult: 1.5, TPMult: 3.0},
		string(regime.MarketChoppy):   {MinScore: 55, MinRR: 1.5, MaxSignals: 6, PositionSizePct: 0.5, SLMult: 1.2, TPMult: 1.8},
		string(regime.MarketHighVol):  {MinScore: 65, MinRR: 2.5, MaxSignals: 4, PositionSizePct: 0.5, SLMult: 1.0, TPMult: 2.5},
		string(regime.MarketUnknown):  {MinScore: 60, MinRR: 2.0, MaxSignals: 10, PositionSizePct: 1.0, SLMult: 1.5, TPMult: 3.0},
	}
}

// BTCRegimeConfig mirrors regime.Thresholds (spec.md §4.5).
type BTCRegimeConfig struct {
	HardBlock     float64       `json:"hard_block"`
	ChoppyMinConf float64       `json:"choppy_min_conf"`
	ChoppyADXMin  float64       `json:"choppy_adx_min"`
	TrendMinConf  float64       `json:"trend_min_conf"`
	TrendADXMin   float64       `json:"trend_adx_min"`
	RefreshMin    time.Duration `json:"refresh_min"` // BTC_REGIME_REFRESH_MIN
}

// Thresholds converts BTCRegimeConfig to regime.Thresholds.
func (b BTCRegimeConfig) Thresholds() regime.Thresholds {
	return regime.Thresholds{
		HardBlock:     b.HardBlock,
		ChoppyMinConf: b.ChoppyMinConf,
		ChoppyADXMin:  b.ChoppyADXMin,
		TrendMinConf:  b.TrendMinConf,
		TrendADXMin:   b.TrendADXMin,
	}
}

// JournalConfig points at the CSV/JSON trade journal directory and an
// optional Postgres mirror DSN (spec.md §6).
type JournalConfig struct {
	Dir         string `json:"dir"`
	PostgresDSN string `json:"postgres_dsn"`
}

// DataCacheConfig mirrors datacache.Config's Redis shape.
type DataCacheConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	IncludeFile bool   `json:"include_file"`
	JSONFormat  bool   `json:"json_format"`
	MaxSizeMB   int    `json:"max_size_mb"`
	MaxBackups  int    `json:"max_backups"`
	MaxAgeDays  int    `json:"max_age_days"`
}

// VaultConfig mirrors secrets.Config.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
	SecretPath string `json:"secret_path"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	Exchange  ExchangeConfig  `json:"exchange"`
	Cache     CacheConfig     `json:"cache"`
	Feed      FeedConfig      `json:"feed"`
	Risk      RiskConfig      `json:"risk"`
	Filters   FilterConfig    `json:"filters"`
	Markets   MarketConfig    `json:"markets"`
	BTCRegime BTCRegimeConfig `json:"btc_regime"`
	Journal   JournalConfig   `json:"journal"`
	DataCache DataCacheConfig `json:"data_cache"`
	Logging   LoggingConfig   `json:"logging"`
	Vault     VaultConfig     `json:"vault"`
}

// Default returns the engine's stated defaults (spec.md §6) before any
// file or environment override is applied.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			BaseURL:   "https://fapi.binance.com",
			WSBaseURL: "wss://fstream.binance.com/stream",
		},
		Cache: CacheConfig{Size: 500},
		Feed: FeedConfig{
			ReconnectDelay: 2 * time.Second,
			MaxRetries:     10,
			PingInterval:   3 * time.Minute,
			BTCSymbol:      "BTCUSDT",
			Symbols:        []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"},
		},
		Risk: RiskConfig{
			AccountSize:           100000,
			RiskPerTradePct:       1.0,
			MaxPositionPct:        0.2,
			MinPosition:           10,
			MaxLeverage:           15,
			MaxConcurrent:         1,
			MaxSignalsPerDay:      10,
			DailyProfitTargetPct:  5,
			MaxDailyDrawdownPct:   2.0,
			MaxConsecutiveLosses:  2,
			CooldownMinutes:       15,
			BreakEvenAtR:          0.5,
			PartialExitAtR:        1.0,
			TrendingMaxHoldingMin: 90,
			ChoppyMaxHoldingMin:   60,
			ATRPeriod:             14,
			ATRSLMult:             1.5,
			ATRTPMult:             3.0,
			MinATRPct:             0.1,
			MaxATRPct:             3.0,
		},
		Filters: FilterConfig{MinSignalScore: 60},
		Markets: DefaultMarketConfig(),
		BTCRegime: BTCRegimeConfig{
			HardBlock:     8,
			ChoppyMinConf: 15,
			ChoppyADXMin:  18,
			TrendMinConf:  20,
			TrendADXMin:   20,
			RefreshMin:    60 * time.Second,
		},
		Journal: JournalConfig{Dir: "./data/journal"},
		DataCache: DataCacheConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Vault: VaultConfig{
			Address:    "http://localhost:8200",
			SecretPath: "secret/data/futures-signal-engine/exchange",
		},
	}
}

// Load reads path (if it exists) as a JSON Config document layered over
// Default, loads a top-level .env via godotenv, and applies environment
// variable overrides on top of both. A missing path is not an error;
// a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// Best-effort: a missing .env is normal in production where the
	// orchestrator injects env vars directly.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Exchange.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.WSBaseURL = getEnvOrDefault("BINANCE_WS_BASE_URL", cfg.Exchange.WSBaseURL)
	cfg.Exchange.Testnet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.Exchange.Testnet)
	cfg.Exchange.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = getEnvOrDefault("BINANCE_API_SECRET", cfg.Exchange.APISecret)

	cfg.Cache.Size = getEnvIntOrDefault("CACHE_SIZE", cfg.Cache.Size)

	cfg.Feed.ReconnectDelay = getEnvDurationOrDefault("WS_RECONNECT_DELAY", cfg.Feed.ReconnectDelay)
	cfg.Feed.MaxRetries = getEnvIntOrDefault("WS_MAX_RETRIES", cfg.Feed.MaxRetries)
	cfg.Feed.PingInterval = getEnvDurationOrDefault("WS_PING_INTERVAL", cfg.Feed.PingInterval)
	if syms := os.Getenv("SYMBOLS"); syms != "" {
		cfg.Feed.Symbols = strings.Split(syms, ",")
	}
	cfg.Feed.BTCSymbol = getEnvOrDefault("BTC_SYMBOL", cfg.Feed.BTCSymbol)

	cfg.Risk.AccountSize = getEnvFloatOrDefault("ACCOUNT_SIZE", cfg.Risk.AccountSize)
	cfg.Risk.RiskPerTradePct = getEnvFloatOrDefault("RISK_PER_TRADE", cfg.Risk.RiskPerTradePct)
	cfg.Risk.MaxLeverage = getEnvFloatOrDefault("MAX_LEVERAGE", cfg.Risk.MaxLeverage)
	cfg.Risk.MaxConcurrent = getEnvIntOrDefault("MAX_CONCURRENT", cfg.Risk.MaxConcurrent)
	cfg.Risk.MaxSignalsPerDay = getEnvIntOrDefault("MAX_SIGNALS_PER_DAY", cfg.Risk.MaxSignalsPerDay)
	cfg.Risk.ATRPeriod = getEnvIntOrDefault("ATR_PERIOD", cfg.Risk.ATRPeriod)
	cfg.Risk.ATRSLMult = getEnvFloatOrDefault("ATR_SL_MULT", cfg.Risk.ATRSLMult)
	cfg.Risk.ATRTPMult = getEnvFloatOrDefault("ATR_TP_MULT", cfg.Risk.ATRTPMult)
	cfg.Risk.MinATRPct = getEnvFloatOrDefault("MIN_ATR_PCT", cfg.Risk.MinATRPct)
	cfg.Risk.MaxATRPct = getEnvFloatOrDefault("MAX_ATR_PCT", cfg.Risk.MaxATRPct)
	cfg.Risk.MaxDailyDrawdownPct = getEnvFloatOrDefault("MAX_DAILY_DRAWDOWN_PCT", cfg.Risk.MaxDailyDrawdownPct)
	cfg.Risk.MaxConsecutiveLosses = getEnvIntOrDefault("MAX_CONSECUTIVE_LOSSES", cfg.Risk.MaxConsecutiveLosses)
	cfg.Risk.BreakEvenAtR = getEnvFloatOrDefault("BREAK_EVEN_AT_R", cfg.Risk.BreakEvenAtR)
	cfg.Risk.PartialExitAtR = getEnvFloatOrDefault("PARTIAL_EXIT_AT_R", cfg.Risk.PartialExitAtR)
	cfg.Risk.CooldownMinutes = getEnvIntOrDefault("COOLDOWN_MINUTES", cfg.Risk.CooldownMinutes)

	cfg.Filters.MinSignalScore = getEnvFloatOrDefault("MIN_SIGNAL_SCORE", cfg.Filters.MinSignalScore)

	cfg.BTCRegime.RefreshMin = getEnvDurationOrDefault("BTC_REGIME_REFRESH_MIN", cfg.BTCRegime.RefreshMin)

	cfg.Journal.Dir = getEnvOrDefault("JOURNAL_DIR", cfg.Journal.Dir)
	cfg.Journal.PostgresDSN = getEnvOrDefault("JOURNAL_POSTGRES_DSN", cfg.Journal.PostgresDSN)

	cfg.DataCache.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.DataCache.Enabled)
	cfg.DataCache.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.DataCache.Address)
	cfg.DataCache.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.DataCache.Password)
	cfg.DataCache.DB = getEnvIntOrDefault("REDIS_DB", cfg.DataCache.DB)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)
	cfg.Vault.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.Vault.TLSEnabled)
}

// ConfigError aggregates every field-level validation failure into one
// error so Validate reports the whole problem set at once rather than
// failing fast on the first bad field.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %d issue(s): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// Validate aggregates every field-level check spec.md §6/§7 implies.
// It is called once in main before any component is built.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...interface{}) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.Exchange.BaseURL == "" {
		add("exchange.base_url must not be empty")
	}
	if c.Exchange.APIKey == "" && !c.Vault.Enabled {
		add("exchange.api_key is empty and vault is disabled: no credential source configured")
	}

	if c.Cache.Size <= 0 {
		add("cache.size must be positive, got %d", c.Cache.Size)
	}

	if len(c.Feed.Symbols) == 0 {
		add("feed.symbols must not be empty")
	}
	if c.Feed.BTCSymbol == "" {
		add("feed.btc_symbol must not be empty")
	}
	if c.Feed.MaxRetries < 0 {
		add("feed.max_retries must not be negative")
	}

	if c.Risk.AccountSize <= 0 {
		add("risk.account_size must be positive, got %.2f", c.Risk.AccountSize)
	}
	if c.Risk.MaxConcurrent <= 0 {
		add("risk.max_concurrent must be positive, got %d", c.Risk.MaxConcurrent)
	}
	if c.Risk.MaxDailyDrawdownPct <= 0 {
		add("risk.max_daily_drawdown_pct must be positive, got %.2f", c.Risk.MaxDailyDrawdownPct)
	}
	if c.Risk.ATRPeriod <= 0 {
		add("risk.atr_period must be positive, got %d", c.Risk.ATRPeriod)
	}
	if c.Risk.MinATRPct >= c.Risk.MaxATRPct {
		add("risk.min_atr_pct (%.2f) must be below risk.max_atr_pct (%.2f)", c.Risk.MinATRPct, c.Risk.MaxATRPct)
	}

	if len(c.Markets) == 0 {
		add("markets must define at least one market-type profile")
	}
	for name, p := range c.Markets {
		if p.MinRR <= 0 {
			add("markets[%s].min_rr must be positive, got %.2f", name, p.MinRR)
		}
	}

	if c.BTCRegime.RefreshMin <= 0 {
		add("btc_regime.refresh_min must be positive")
	}
	if c.BTCRegime.TrendMinConf <= c.BTCRegime.HardBlock {
		add("btc_regime.trend_min_conf (%.2f) must exceed hard_block (%.2f)", c.BTCRegime.TrendMinConf, c.BTCRegime.HardBlock)
	}

	if c.Journal.Dir == "" {
		add("journal.dir must not be empty")
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		add("vault.address must not be empty when vault is enabled")
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
	default:
		add("logging.level %q is not a recognized level", c.Logging.Level)
	}

	if len(issues) > 0 {
		return &ConfigError{Issues: issues}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultValue
}
