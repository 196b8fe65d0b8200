// Command execution-engine validates, submits, tracks, and reconciles
// orders against the broker, with deterministic simulation for backtests.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "go.uber.org/automaxprocs"

	"github.com/ccheney/cream-sub002/internal/alpaca"
	"github.com/ccheney/cream-sub002/internal/broker"
	"github.com/ccheney/cream-sub002/internal/config"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/engine"
	"github.com/ccheney/cream-sub002/internal/httpapi"
	"github.com/ccheney/cream-sub002/internal/logging"
	"github.com/ccheney/cream-sub002/internal/metrics"
	"github.com/ccheney/cream-sub002/internal/risk"
	"github.com/ccheney/cream-sub002/internal/rpc"
	"github.com/ccheney/cream-sub002/internal/tactics"
)

const (
	liveTradeStream  = "wss://api.alpaca.markets/stream"
	paperTradeStream = "wss://paper-api.alpaca.markets/stream"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := logging.New("execution-engine", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()
	env := cfg.Env()

	if env == domain.Live {
		log.Warn().Msg("LIVE trading environment: orders will reach the market")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bk := broker.NewClient(broker.ClientConfig{
		Key:         cfg.AlpacaKey,
		Secret:      cfg.AlpacaSecret,
		Environment: env,
		Logger:      log,
		OnRetry:     func() { m.BrokerRetries.Inc() },
	})

	riskEngine := risk.NewEngine(limitsFromConfig(cfg))
	repo := engine.NewMemoryRepository()
	eng := engine.New(repo, bk, riskEngine, nil, m, env, log)

	quotes := newQuoteCache()
	eng.WithTactics(engine.NewTactician(tacticianFromConfig(cfg), nil), quotes)

	protection := engine.NewProtection(bk, env, log)
	eng.WithProtection(protection)

	var wg sync.WaitGroup

	// Quote feed from the stream proxy drives stop enforcement and tactic
	// selection context.
	if env != domain.Backtest && cfg.StreamProxyAddr != "" {
		proxy, err := rpc.DialProxy(cfg.StreamProxyAddr)
		if err != nil {
			log.Error().Err(err).Msg("stream proxy unavailable; live stop enforcement degraded")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer proxy.Close()
				for rootCtx.Err() == nil {
					err := proxy.StreamQuotes(rootCtx, nil, func(q domain.Quote) {
						quotes.OnQuote(q)
						protection.Monitor().OnQuote(q)
					})
					if rootCtx.Err() != nil {
						return
					}
					log.Warn().Err(err).Msg("quote stream interrupted, redialing")
					select {
					case <-rootCtx.Done():
						return
					case <-time.After(2 * time.Second):
					}
				}
			}()
		}
	}

	// Mass-cancel safety net, fed by the trade-updates session heartbeat.
	// Mandatory in Live (config validation already refused a live run with
	// it disabled); optional in Paper; never run in backtests.
	var massCancel *engine.MassCancel
	if env != domain.Backtest && cfg.MassCancelEnabled {
		massCancel = engine.NewMassCancel(engine.MassCancelConfig{
			Grace:      cfg.MassCancelGrace,
			IncludeGTC: cfg.MassCancelGTC,
		}, eng, m, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			massCancel.Run(rootCtx)
		}()
	}

	// Trade-updates session keeps aggregates reconciled with the broker.
	if env != domain.Backtest {
		streamURL := paperTradeStream
		if env == domain.Live {
			streamURL = liveTradeStream
		}
		session := alpaca.NewSession(alpaca.SessionConfig{
			Feed:   alpaca.FeedTradeUpdates,
			URL:    streamURL,
			Key:    cfg.AlpacaKey,
			Secret: cfg.AlpacaSecret,
			Codec:  alpaca.NewJSONCodec(alpaca.FeedTradeUpdates),
			Reconnect: alpaca.NewReconnectPolicy(
				cfg.ReconnectInitial, cfg.ReconnectMax,
				cfg.ReconnectMultiplier, 0.2, cfg.MaxReconnectAttempts,
			),
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTimeout:  cfg.HeartbeatTimeout,
			Logger:            log,
		})

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := session.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Error().Err(err).Msg("trade-updates session terminated")
			}
		}()
		go func() {
			defer wg.Done()
			consumeTradeUpdates(rootCtx, session, eng, massCancel, log)
		}()
	}

	// Rolling manager walks tracked option positions.
	if env != domain.Backtest {
		rolling := engine.NewRollingManager(engine.DefaultRollingPolicy(), bk, env, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rolling.Run(rootCtx)
		}()
	}

	// Partial-fill timeout sweeper.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				eng.SweepPartialTimeouts(rootCtx)
			}
		}
	}()

	engineRPC := rpc.NewEngineServer(eng, bk, env, log)

	creds, err := rpc.ServerCredentials(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tls setup failed")
	}
	grpcSrv := rpc.NewServer(creds)
	grpcSrv.RegisterService(&rpc.EngineServiceDesc, engineRPC)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rpc.Serve(grpcSrv, cfg.GRPCPort, log); err != nil && rootCtx.Err() == nil {
			log.Fatal().Err(err).Msg("grpc serve failed")
		}
	}()

	httpSrv := serveHTTP(cfg.HealthPort, httpapi.New(engineRPC, log).Handler(), log, "http")
	metricsSrv := serveHTTP(cfg.MetricsPort, m.Handler(), log, "metrics")

	log.Info().
		Str("environment", string(env)).
		Int("grpc_port", cfg.GRPCPort).
		Int("http_port", cfg.HealthPort).
		Msg("execution engine started")

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	grpcSrv.GracefulStop()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
	log.Info().Msg("shutdown complete")
}

// consumeTradeUpdates folds order updates into aggregates and feeds the
// mass-cancel heartbeat.
func consumeTradeUpdates(ctx context.Context, session *alpaca.Session, eng *engine.Engine, mc *engine.MassCancel, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			if mc != nil && ev.Kind != alpaca.EventTimeout && ev.Kind != alpaca.EventError {
				mc.Heartbeat()
			}
			if ev.Kind != alpaca.EventOrderUpdate || ev.OrderUpdate == nil {
				continue
			}
			if err := eng.ApplyOrderUpdate(*ev.OrderUpdate); err != nil {
				log.Error().Err(err).
					Str("order", ev.OrderUpdate.ClientOrderID).
					Msg("order update rejected by aggregate")
			}
		}
	}
}

// quoteCache keeps the latest quote per symbol for tactic selection.
type quoteCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

func newQuoteCache() *quoteCache {
	return &quoteCache{quotes: make(map[string]domain.Quote)}
}

func (c *quoteCache) OnQuote(q domain.Quote) {
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
}

func (c *quoteCache) Snapshot(symbol string) (tactics.Snapshot, bool) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return tactics.Snapshot{}, false
	}

	state := tactics.MarketNormal
	if mid := q.Mid(); mid.IsPositive() {
		// Spread wider than 30 bps of mid reads as a wide market.
		widePct := q.Spread().Decimal().Div(mid.Decimal())
		if widePct.Cmp(decimal.RequireFromString("0.003")) > 0 {
			state = tactics.MarketWideSpread
		}
	}
	return tactics.Snapshot{
		Quote:     q,
		LastPrice: q.Mid(),
		State:     state,
	}, true
}

func tacticianFromConfig(cfg *config.Config) engine.TacticianConfig {
	return engine.TacticianConfig{
		Passive: tactics.PassiveLimitConfig{
			OffsetBps: decimal.NewFromFloat(cfg.PassiveOffsetBps),
			Decay:     cfg.PassiveDecay,
			MaxWait:   cfg.PassiveMaxWait,
		},
		Aggressive: tactics.AggressiveLimitConfig{
			CrossBps: decimal.NewFromFloat(cfg.AggressiveCrossBps),
			Timeout:  cfg.AggressiveTimeout,
		},
		TWAP: tactics.TWAPConfig{
			Duration:      5 * time.Minute,
			SliceInterval: cfg.TWAPSliceInterval,
		},
		VWAP: tactics.VWAPConfig{
			MaxPctVolume: decimal.NewFromFloat(cfg.VWAPMaxPctVolume),
		},
		IcebergDisplayFraction: decimal.NewFromFloat(cfg.IcebergDisplayFrac),
	}
}

func limitsFromConfig(cfg *config.Config) risk.Limits {
	return risk.Limits{
		MaxNotional:     domain.MoneyFromFloat(cfg.MaxNotional),
		MaxUnits:        domain.QuantityFromInt(cfg.MaxUnits),
		MaxPctEquity:    decimal.NewFromFloat(cfg.MaxPctEquity),
		MaxGrossDollars: domain.MoneyFromFloat(cfg.MaxGrossDollars),
		MaxNetDollars:   domain.MoneyFromFloat(cfg.MaxNetDollars),
		MaxGrossPctEq:   decimal.NewFromFloat(cfg.MaxGrossPctEq),
		MaxNetPctEq:     decimal.NewFromFloat(cfg.MaxNetPctEq),
		MaxRiskPct:      decimal.NewFromFloat(cfg.PerTradeRiskPct),
		MinRiskReward:   decimal.NewFromFloat(cfg.RiskRewardMin),
		PDTEnabled:      cfg.PDTEnabled,
		PDTThreshold:    domain.MoneyFromFloat(cfg.PDTThreshold),
		MaxDayTrades:    cfg.PDTMaxDayTrades,
	}
}

func serveHTTP(port int, handler http.Handler, log zerolog.Logger, name string) *http.Server {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}
	go func() {
		log.Info().Int("port", port).Str("listener", name).Msg("http listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("listener", name).Msg("http listener failed")
		}
	}()
	return srv
}
