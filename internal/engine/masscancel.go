package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccheney/cream-sub002/internal/domain"
	"github.com/ccheney/cream-sub002/internal/metrics"
)

// MassCancelConfig tunes the disconnect safety net. In Live the manager is
// mandatory; config validation rejects disabling it at startup.
type MassCancelConfig struct {
	Grace      time.Duration
	IncludeGTC bool
	// Excluded client order ids survive a mass cancel (e.g. resting
	// protective stops the operator wants kept).
	Excluded map[string]bool
	// CheckInterval is how often staleness is evaluated.
	CheckInterval time.Duration
}

// MassCancel watches the broker-connection heartbeat and cancels all open
// non-excluded orders once the connection has been silent past the grace
// period.
type MassCancel struct {
	cfg     MassCancelConfig
	engine  *Engine
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu        sync.Mutex
	lastBeat  time.Time
	triggered bool
	now       func() time.Time
}

func NewMassCancel(cfg MassCancelConfig, eng *Engine, m *metrics.Metrics, log zerolog.Logger) *MassCancel {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Second
	}
	mc := &MassCancel{
		cfg:     cfg,
		engine:  eng,
		metrics: m,
		log:     log.With().Str("component", "mass_cancel").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	mc.lastBeat = mc.now()
	return mc
}

// Heartbeat records broker-connection liveness; the order-updates stream
// calls this on every event and on every pong.
func (m *MassCancel) Heartbeat() {
	m.mu.Lock()
	m.lastBeat = m.now()
	m.triggered = false
	m.mu.Unlock()
}

// Run checks staleness until ctx cancels. Takes the supervisor token and
// exits promptly on cancel.
func (m *MassCancel) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check fires the mass cancel once per outage.
func (m *MassCancel) check(ctx context.Context) {
	m.mu.Lock()
	stale := m.now().Sub(m.lastBeat) > m.cfg.Grace
	already := m.triggered
	if stale && !already {
		m.triggered = true
	}
	m.mu.Unlock()

	if !stale || already {
		return
	}
	m.Fire(ctx)
}

// Fire cancels every open, non-excluded order. GTC orders are skipped
// unless configured in.
func (m *MassCancel) Fire(ctx context.Context) {
	m.log.Error().Dur("grace", m.cfg.Grace).Msg("broker connection lost, mass-cancelling open orders")
	if m.metrics != nil {
		m.metrics.MassCancelRuns.Inc()
	}

	var ids []string
	for _, o := range m.engine.repo.List() {
		if o.Status.Terminal() {
			continue
		}
		if o.TimeInForce == domain.GTC && !m.cfg.IncludeGTC {
			continue
		}
		if m.cfg.Excluded[o.ClientOrderID] {
			continue
		}
		ids = append(ids, o.ClientOrderID)
	}
	if len(ids) == 0 {
		return
	}

	outcomes := m.engine.CancelOrders(ctx, ids, "mass cancel: broker connection lost")
	for _, out := range outcomes {
		if out.Err != nil {
			m.log.Error().Err(out.Err).Str("order", out.ClientOrderID).Msg("mass cancel failed for order")
		}
	}
	m.log.Warn().Int("orders", len(ids)).Msg("mass cancel complete")
}
