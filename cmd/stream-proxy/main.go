// Command stream-proxy multiplexes the broker's market-data WebSockets into
// a single fan-out gRPC service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/ccheney/cream-sub002/internal/alpaca"
	"github.com/ccheney/cream-sub002/internal/config"
	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/hub"
	"github.com/ccheney/cream-sub002/internal/logging"
	"github.com/ccheney/cream-sub002/internal/metrics"
	"github.com/ccheney/cream-sub002/internal/rpc"
)

// Broker stream endpoints per environment and feed.
const (
	marketDataStreamBase = "wss://stream.data.alpaca.markets"
	liveAPIStream        = "wss://api.alpaca.markets/stream"
	paperAPIStream       = "wss://paper-api.alpaca.markets/stream"
)

// feedTracker is the atomic per-feed state cell read by the status RPC.
type feedTracker struct {
	feed       alpaca.FeedKind
	state      atomic.Int32
	reconnects atomic.Uint64
	events     atomic.Uint64
}

// statusBoard aggregates every feed's tracker.
type statusBoard struct {
	trackers []*feedTracker
}

func (b *statusBoard) Statuses() []rpc.FeedStatus {
	out := make([]rpc.FeedStatus, 0, len(b.trackers))
	for _, t := range b.trackers {
		out = append(out, rpc.FeedStatus{
			Feed:       string(t.feed),
			State:      alpaca.SessionState(t.state.Load()).String(),
			Reconnects: t.reconnects.Load(),
			EventsSeen: t.events.Load(),
		})
	}
	return out
}

// feedRuntime couples a session to its stream kinds and status tracker.
type feedRuntime struct {
	feed    alpaca.FeedKind
	kinds   []alpaca.StreamKind
	session *alpaca.Session
	tracker *feedTracker
}

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

	log := logging.New("stream-proxy", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(hub.Capacities{
		hub.TopicStockQuotes:  cfg.StockQuotesCapacity,
		hub.TopicStockTrades:  cfg.StockTradesCapacity,
		hub.TopicStockBars:    cfg.StockBarsCapacity,
		hub.TopicOptionQuotes: cfg.OptionQuotesCapacity,
		hub.TopicOptionTrades: cfg.OptionTradesCapacity,
		hub.TopicOrderUpdates: cfg.OrderUpdatesCapacity,
	}, m, log)

	feeds, board := buildFeeds(cfg, m, log)

	// The desired set fans out per stream kind to the owning session.
	subs := alpaca.NewSubscriptionManager(func(desired alpaca.SubscriptionSet) {
		for _, f := range feeds {
			f.session.UpdateDesired(filterKinds(desired, f.kinds))
		}
	})

	var wg sync.WaitGroup
	for _, f := range feeds {
		f := f
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := f.session.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Error().Err(err).Str("feed", string(f.feed)).Msg("session terminated")
			}
		}()
		go func() {
			defer wg.Done()
			pumpEvents(rootCtx, f, h, m)
		}()
	}

	creds, err := rpc.ServerCredentials(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tls setup failed")
	}
	grpcSrv := rpc.NewServer(creds)
	grpcSrv.RegisterService(&rpc.ProxyServiceDesc, rpc.NewProxyServer(h, subs, board, log))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rpc.Serve(grpcSrv, cfg.GRPCPort, log); err != nil && rootCtx.Err() == nil {
			log.Fatal().Err(err).Msg("grpc serve failed")
		}
	}()

	healthSrv := serveHTTP(cfg.HealthPort, healthHandler(board), log, "health")
	metricsSrv := serveHTTP(cfg.MetricsPort, m.Handler(), log, "metrics")

	log.Info().
		Str("environment", string(cfg.Env())).
		Str("feed", string(cfg.Feed)).
		Int("grpc_port", cfg.GRPCPort).
		Msg("stream proxy started")

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	grpcSrv.GracefulStop()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
	log.Info().Msg("shutdown complete")
}

func buildFeeds(cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) ([]*feedRuntime, *statusBoard) {
	newPolicy := func() *alpaca.ReconnectPolicy {
		return alpaca.NewReconnectPolicy(
			cfg.ReconnectInitial, cfg.ReconnectMax,
			cfg.ReconnectMultiplier, 0.2, cfg.MaxReconnectAttempts,
		)
	}

	optionsFeed := "opra"
	if cfg.Feed == config.FeedIEX {
		// IEX-tier accounts get the indicative options feed.
		optionsFeed = "indicative"
	}
	tradeStream := paperAPIStream
	if cfg.Env() == domain.Live {
		tradeStream = liveAPIStream
	}

	specs := []struct {
		feed  alpaca.FeedKind
		url   string
		codec alpaca.Codec
		kinds []alpaca.StreamKind
	}{
		{
			feed:  alpaca.FeedStocks,
			url:   fmt.Sprintf("%s/v2/%s", marketDataStreamBase, cfg.Feed),
			codec: alpaca.NewJSONCodec(alpaca.FeedStocks),
			kinds: []alpaca.StreamKind{alpaca.StreamStockQuotes, alpaca.StreamStockTrades, alpaca.StreamStockBars},
		},
		{
			feed:  alpaca.FeedOptions,
			url:   fmt.Sprintf("%s/v1beta1/%s", marketDataStreamBase, optionsFeed),
			codec: alpaca.NewMsgPackCodec(alpaca.FeedOptions),
			kinds: []alpaca.StreamKind{alpaca.StreamOptionQuotes, alpaca.StreamOptionTrades},
		},
		{
			feed:  alpaca.FeedTradeUpdates,
			url:   tradeStream,
			codec: alpaca.NewJSONCodec(alpaca.FeedTradeUpdates),
			kinds: []alpaca.StreamKind{alpaca.StreamOrderUpdates},
		},
	}

	board := &statusBoard{}
	feeds := make([]*feedRuntime, 0, len(specs))
	for _, spec := range specs {
		tracker := &feedTracker{feed: spec.feed}
		board.trackers = append(board.trackers, tracker)

		session := alpaca.NewSession(alpaca.SessionConfig{
			Feed:              spec.feed,
			URL:               spec.url,
			Key:               cfg.AlpacaKey,
			Secret:            cfg.AlpacaSecret,
			Codec:             spec.codec,
			Reconnect:         newPolicy(),
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTimeout:  cfg.HeartbeatTimeout,
			Logger:            log,
			OnState: func(feed alpaca.FeedKind, st alpaca.SessionState) {
				tracker.state.Store(int32(st))
				m.SessionState.WithLabelValues(string(feed)).Set(float64(st))
				if st == alpaca.StateConnecting {
					tracker.reconnects.Add(1)
					m.ReconnectAttempts.WithLabelValues(string(feed)).Inc()
				}
			},
		})
		feeds = append(feeds, &feedRuntime{
			feed:    spec.feed,
			kinds:   spec.kinds,
			session: session,
			tracker: tracker,
		})
	}
	return feeds, board
}

// pumpEvents moves one session's normalized events into the hub.
func pumpEvents(ctx context.Context, f *feedRuntime, h *hub.Hub, m *metrics.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.session.Events():
			if !ok {
				return
			}
			f.tracker.events.Add(1)
			switch ev.Kind {
			case alpaca.EventError:
				m.CodecErrors.WithLabelValues(string(f.feed), "decode").Inc()
				continue
			case alpaca.EventTimeout:
				m.HeartbeatTimeouts.WithLabelValues(string(f.feed)).Inc()
				continue
			case alpaca.EventAuthenticated, alpaca.EventSubscribed, alpaca.EventStatus:
				continue
			}
			if topic, ok := hub.TopicFor(ev); ok {
				m.EventsDecoded.WithLabelValues(string(f.feed), string(ev.Kind)).Inc()
				h.Publish(topic, ev)
			}
		}
	}
}

// filterKinds projects a desired set onto the kinds one session owns.
func filterKinds(desired alpaca.SubscriptionSet, kinds []alpaca.StreamKind) alpaca.SubscriptionSet {
	out := alpaca.NewSubscriptionSet()
	for _, k := range kinds {
		for _, sym := range desired.Symbols(k) {
			out.Add(k, sym)
		}
	}
	return out
}

func healthHandler(board *statusBoard) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","feeds":%d}`, len(board.trackers))
	})
	return mux
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
