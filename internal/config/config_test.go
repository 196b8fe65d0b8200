package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccheney/cream-sub002/internal/domain"
)

func validConfig() *Config {
	return &Config{
		AlpacaKey:            "key",
		AlpacaSecret:         "secret",
		Environment:          "PAPER",
		Feed:                 FeedSIP,
		GRPCPort:             50051,
		HealthPort:           8080,
		MetricsPort:          9090,
		HeartbeatInterval:    30e9,
		HeartbeatTimeout:     90e9,
		ReconnectInitial:     5e8,
		ReconnectMax:         30e9,
		ReconnectMultiplier:  2,
		StockQuotesCapacity:  1,
		StockTradesCapacity:  1,
		StockBarsCapacity:    1,
		OptionQuotesCapacity: 1,
		OptionTradesCapacity: 1,
		OrderUpdatesCapacity: 1,
		PerTradeRiskPct:      2,
		RiskRewardMin:        1.5,
		PDTMaxDayTrades:      3,
		MassCancelEnabled:    true,
		MassCancelGrace:      30e9,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestCredentialsRequiredOutsideBacktest(t *testing.T) {
	c := validConfig()
	c.AlpacaKey = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Environment = "BACKTEST"
	c.AlpacaKey = ""
	c.AlpacaSecret = ""
	assert.NoError(t, c.Validate())
}

func TestMassCancelMandatoryInLive(t *testing.T) {
	c := validConfig()
	c.Environment = "LIVE"
	c.MassCancelEnabled = false
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MASS_CANCEL")
}

func TestEnvNormalization(t *testing.T) {
	c := validConfig()
	c.Environment = "live"
	assert.Equal(t, domain.Live, c.Env())
	c.Environment = "BACKTEST"
	assert.Equal(t, domain.Backtest, c.Env())
	c.Environment = "PAPER"
	assert.Equal(t, domain.Paper, c.Env())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad env", func(c *Config) { c.Environment = "STAGING" }},
		{"bad feed", func(c *Config) { c.Feed = "opra" }},
		{"bad port", func(c *Config) { c.GRPCPort = 0 }},
		{"bad multiplier", func(c *Config) { c.ReconnectMultiplier = 0.5 }},
		{"zero capacity", func(c *Config) { c.OptionQuotesCapacity = 0 }},
		{"tls missing cert", func(c *Config) { c.TLSEnabled = true }},
		{"bad risk pct", func(c *Config) { c.PerTradeRiskPct = 0 }},
		{"max below initial", func(c *Config) { c.ReconnectMax = c.ReconnectInitial / 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
