package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// Feed selects the stock market-data tier.
type Feed string

const (
	FeedSIP Feed = "sip"
	FeedIEX Feed = "iex"
)

// Config holds every recognized option for both binaries.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//
// Every time.Duration field parses a Go duration string such as "30s" or
// "500ms", whatever unit its variable name ends in (_SECS, _MS); a bare
// number fails to parse.
type Config struct {
	// Broker credentials and environment
	AlpacaKey    string `env:"ALPACA_KEY"`
	AlpacaSecret string `env:"ALPACA_SECRET"`
	Environment  string `env:"CREAM_ENV" envDefault:"PAPER"`
	Feed         Feed   `env:"ALPACA_FEED" envDefault:"sip"`

	// Listen ports
	GRPCPort    int `env:"STREAM_PROXY_GRPC_PORT" envDefault:"50051"`
	HealthPort  int `env:"STREAM_PROXY_HEALTH_PORT" envDefault:"8080"`
	MetricsPort int `env:"STREAM_PROXY_METRICS_PORT" envDefault:"9090"`

	// WebSocket session settings
	HeartbeatInterval    time.Duration `env:"STREAM_PROXY_HEARTBEAT_INTERVAL_SECS" envDefault:"30s"`
	HeartbeatTimeout     time.Duration `env:"STREAM_PROXY_HEARTBEAT_TIMEOUT_SECS" envDefault:"90s"`
	ReconnectInitial     time.Duration `env:"STREAM_PROXY_RECONNECT_DELAY_INITIAL_MS" envDefault:"500ms"`
	ReconnectMax         time.Duration `env:"STREAM_PROXY_RECONNECT_DELAY_MAX_SECS" envDefault:"30s"`
	ReconnectMultiplier  float64       `env:"STREAM_PROXY_RECONNECT_DELAY_MULTIPLIER" envDefault:"2.0"`
	MaxReconnectAttempts int           `env:"STREAM_PROXY_MAX_RECONNECT_ATTEMPTS" envDefault:"0"` // 0 = unlimited

	// Per-topic broadcast capacities
	StockQuotesCapacity  int `env:"STREAM_PROXY_STOCK_QUOTES_CAPACITY" envDefault:"4096"`
	StockTradesCapacity  int `env:"STREAM_PROXY_STOCK_TRADES_CAPACITY" envDefault:"4096"`
	StockBarsCapacity    int `env:"STREAM_PROXY_STOCK_BARS_CAPACITY" envDefault:"1024"`
	OptionQuotesCapacity int `env:"STREAM_PROXY_OPTION_QUOTES_CAPACITY" envDefault:"8192"`
	OptionTradesCapacity int `env:"STREAM_PROXY_OPTION_TRADES_CAPACITY" envDefault:"4096"`
	OrderUpdatesCapacity int `env:"STREAM_PROXY_ORDER_UPDATES_CAPACITY" envDefault:"1024"`

	// Stream proxy address the execution engine consumes quotes from.
	StreamProxyAddr string `env:"STREAM_PROXY_ADDR" envDefault:"localhost:50051"`

	// TLS / mTLS for the gRPC listener
	TLSEnabled    bool   `env:"GRPC_TLS_ENABLED" envDefault:"false"`
	TLSCertPath   string `env:"GRPC_TLS_CERT_PATH"`
	TLSKeyPath    string `env:"GRPC_TLS_KEY_PATH"`
	TLSCAPath     string `env:"GRPC_TLS_CA_PATH"`
	TLSClientAuth bool   `env:"GRPC_TLS_CLIENT_AUTH" envDefault:"false"`

	// Risk limits
	PerTradeRiskPct  float64 `env:"RISK_PER_TRADE_PCT" envDefault:"2.0"`
	RiskRewardMin    float64 `env:"RISK_REWARD_MIN" envDefault:"1.5"`
	PDTEnabled       bool    `env:"RISK_PDT_ENABLED" envDefault:"true"`
	PDTThreshold     float64 `env:"RISK_PDT_THRESHOLD" envDefault:"25000"`
	PDTMaxDayTrades  int     `env:"RISK_PDT_MAX_DAY_TRADES" envDefault:"3"`
	MaxNotional      float64 `env:"RISK_MAX_NOTIONAL" envDefault:"50000"`
	MaxUnits         int64   `env:"RISK_MAX_UNITS" envDefault:"10000"`
	MaxPctEquity     float64 `env:"RISK_MAX_PCT_EQUITY" envDefault:"25"`
	MaxGrossDollars  float64 `env:"RISK_MAX_GROSS_DOLLARS" envDefault:"250000"`
	MaxNetDollars    float64 `env:"RISK_MAX_NET_DOLLARS" envDefault:"150000"`
	MaxGrossPctEq    float64 `env:"RISK_MAX_GROSS_PCT_EQUITY" envDefault:"200"`
	MaxNetPctEq      float64 `env:"RISK_MAX_NET_PCT_EQUITY" envDefault:"100"`

	// Tactics
	PassiveOffsetBps     float64       `env:"TACTIC_PASSIVE_OFFSET_BPS" envDefault:"2"`
	PassiveDecay         time.Duration `env:"TACTIC_PASSIVE_DECAY_SECS" envDefault:"15s"`
	PassiveMaxWait       time.Duration `env:"TACTIC_PASSIVE_MAX_WAIT_SECS" envDefault:"120s"`
	AggressiveCrossBps   float64       `env:"TACTIC_AGGRESSIVE_CROSS_BPS" envDefault:"5"`
	AggressiveTimeout    time.Duration `env:"TACTIC_AGGRESSIVE_TIMEOUT_SECS" envDefault:"30s"`
	TWAPSliceInterval    time.Duration `env:"TACTIC_TWAP_SLICE_INTERVAL_SECS" envDefault:"60s"`
	VWAPMaxPctVolume     float64       `env:"TACTIC_VWAP_MAX_PCT_VOLUME" envDefault:"0.1"`
	IcebergDisplayFrac   float64       `env:"TACTIC_ICEBERG_DISPLAY_FRACTION" envDefault:"0.1"`

	// Mass-cancel safety
	MassCancelEnabled bool          `env:"SAFETY_MASS_CANCEL_ENABLED" envDefault:"true"`
	MassCancelGrace   time.Duration `env:"SAFETY_MASS_CANCEL_GRACE_SECS" envDefault:"30s"`
	MassCancelGTC     bool          `env:"SAFETY_MASS_CANCEL_INCLUDE_GTC" envDefault:"false"`

	// Shutdown
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE_SECS" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file plus environment
// variables. Priority: ENV vars > .env file > defaults.
func Load() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Env returns the normalized trading environment.
func (c *Config) Env() domain.Environment {
	switch strings.ToUpper(c.Environment) {
	case "LIVE":
		return domain.Live
	case "BACKTEST":
		return domain.Backtest
	default:
		return domain.Paper
	}
}

// Validate checks startup invariants. Fatal misconfiguration surfaces here so
// the process can exit non-zero before opening any connection.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Environment) {
	case "PAPER", "LIVE", "BACKTEST":
	default:
		return fmt.Errorf("CREAM_ENV must be PAPER, LIVE, or BACKTEST, got %q", c.Environment)
	}

	if c.Env() != domain.Backtest {
		if c.AlpacaKey == "" || c.AlpacaSecret == "" {
			return fmt.Errorf("ALPACA_KEY and ALPACA_SECRET are required in %s", strings.ToUpper(c.Environment))
		}
	}

	if c.Feed != FeedSIP && c.Feed != FeedIEX {
		return fmt.Errorf("ALPACA_FEED must be sip or iex, got %q", c.Feed)
	}

	for name, port := range map[string]int{
		"STREAM_PROXY_GRPC_PORT":    c.GRPCPort,
		"STREAM_PROXY_HEALTH_PORT":  c.HealthPort,
		"STREAM_PROXY_METRICS_PORT": c.MetricsPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}

	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("reconnect delays invalid: initial=%s max=%s", c.ReconnectInitial, c.ReconnectMax)
	}
	if c.ReconnectMultiplier < 1 {
		return fmt.Errorf("STREAM_PROXY_RECONNECT_DELAY_MULTIPLIER must be >= 1, got %g", c.ReconnectMultiplier)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("STREAM_PROXY_MAX_RECONNECT_ATTEMPTS must be >= 0")
	}

	for name, cap := range map[string]int{
		"STREAM_PROXY_STOCK_QUOTES_CAPACITY":  c.StockQuotesCapacity,
		"STREAM_PROXY_STOCK_TRADES_CAPACITY":  c.StockTradesCapacity,
		"STREAM_PROXY_STOCK_BARS_CAPACITY":    c.StockBarsCapacity,
		"STREAM_PROXY_OPTION_QUOTES_CAPACITY": c.OptionQuotesCapacity,
		"STREAM_PROXY_OPTION_TRADES_CAPACITY": c.OptionTradesCapacity,
		"STREAM_PROXY_ORDER_UPDATES_CAPACITY": c.OrderUpdatesCapacity,
	} {
		if cap < 1 {
			return fmt.Errorf("%s must be > 0, got %d", name, cap)
		}
	}

	if c.TLSEnabled {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return fmt.Errorf("GRPC_TLS_CERT_PATH and GRPC_TLS_KEY_PATH are required when TLS is enabled")
		}
		if c.TLSClientAuth && c.TLSCAPath == "" {
			return fmt.Errorf("GRPC_TLS_CA_PATH is required for client auth")
		}
	}

	if c.PerTradeRiskPct <= 0 || c.PerTradeRiskPct > 100 {
		return fmt.Errorf("RISK_PER_TRADE_PCT must be in (0,100], got %g", c.PerTradeRiskPct)
	}
	if c.RiskRewardMin <= 0 {
		return fmt.Errorf("RISK_REWARD_MIN must be positive, got %g", c.RiskRewardMin)
	}
	if c.PDTMaxDayTrades < 1 {
		return fmt.Errorf("RISK_PDT_MAX_DAY_TRADES must be >= 1, got %d", c.PDTMaxDayTrades)
	}

	// Mass-cancel is the live-mode safety net; running live without it is a
	// startup error, not a warning.
	if c.Env() == domain.Live && !c.MassCancelEnabled {
		return fmt.Errorf("SAFETY_MASS_CANCEL_ENABLED cannot be false in LIVE")
	}
	if c.MassCancelGrace <= 0 {
		return fmt.Errorf("SAFETY_MASS_CANCEL_GRACE_SECS must be positive")
	}

	return nil
}
