// Package stops enforces protective levels: a live price monitor driven by
// inbound quotes, and a backtest simulator that resolves stop/target hits
// against candle extremes.
package stops

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// TriggerKind says which protective level fired.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "stop_loss"
	TriggerTakeProfit TriggerKind = "take_profit"
)

// Trigger is the monitor's output: which position fired, which level, and at
// what observed price.
type Trigger struct {
	PositionID string
	Instrument domain.Instrument
	Kind       TriggerKind
	Level      domain.Money
	LastPrice  domain.Money
	Direction  domain.Direction
	Quantity   domain.Quantity
}

// watch is one tracked position row.
type watch struct {
	positionID string
	instrument domain.Instrument
	direction  domain.Direction
	quantity   domain.Quantity
	stop       domain.Money
	target     domain.Money
	active     bool
}

// Monitor evaluates every active row whose instrument matches each inbound
// price. Rows deactivate on trigger so a position fires at most once.
type Monitor struct {
	mu      sync.Mutex
	rows    map[string]*watch
	bySym   map[string][]*watch
	onFire  func(Trigger)
	log     zerolog.Logger
}

func NewMonitor(onFire func(Trigger), log zerolog.Logger) *Monitor {
	return &Monitor{
		rows:   make(map[string]*watch),
		bySym:  make(map[string][]*watch),
		onFire: onFire,
		log:    log.With().Str("component", "price_monitor").Logger(),
	}
}

// Track arms stop and target levels for a position. A zero level disables
// that side.
func (m *Monitor) Track(positionID string, inst domain.Instrument, dir domain.Direction, qty domain.Quantity, stop, target domain.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &watch{
		positionID: positionID,
		instrument: inst,
		direction:  dir,
		quantity:   qty,
		stop:       stop,
		target:     target,
		active:     true,
	}
	m.rows[positionID] = w
	m.bySym[inst.Symbol] = append(m.bySym[inst.Symbol], w)
}

// Untrack removes a position (closed externally).
func (m *Monitor) Untrack(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.rows[positionID]; ok {
		w.active = false
		delete(m.rows, positionID)
	}
}

// Active reports whether a position is still armed.
func (m *Monitor) Active(positionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[positionID]
	return ok && w.active
}

// OnPrice evaluates the last price against every active row for the symbol.
// Long: stop fires at last <= stop, target at last >= target. Short is
// inverted. On fire the row deactivates before the callback runs.
func (m *Monitor) OnPrice(symbol string, last domain.Money) {
	m.mu.Lock()
	var fired []Trigger
	for _, w := range m.bySym[symbol] {
		if !w.active {
			continue
		}
		kind, hit := evaluate(w.direction, last, w.stop, w.target)
		if !hit {
			continue
		}
		w.active = false
		delete(m.rows, w.positionID)
		level := w.stop
		if kind == TriggerTakeProfit {
			level = w.target
		}
		fired = append(fired, Trigger{
			PositionID: w.positionID,
			Instrument: w.instrument,
			Kind:       kind,
			Level:      level,
			LastPrice:  last,
			Direction:  w.direction,
			Quantity:   w.quantity,
		})
	}
	m.mu.Unlock()

	for _, tr := range fired {
		m.log.Warn().
			Str("position", tr.PositionID).
			Str("kind", string(tr.Kind)).
			Str("level", tr.Level.String()).
			Str("last", tr.LastPrice.String()).
			Msg("protective level triggered")
		if m.onFire != nil {
			m.onFire(tr)
		}
	}
}

// OnQuote feeds the monitor from the quote stream using the mid.
func (m *Monitor) OnQuote(q domain.Quote) {
	m.OnPrice(q.Symbol, q.Mid())
}

// evaluate resolves a single price against the levels. Stop wins when both
// would fire on the same print.
func evaluate(dir domain.Direction, last, stop, target domain.Money) (TriggerKind, bool) {
	if dir == domain.Long {
		if stop.IsPositive() && last.Cmp(stop) <= 0 {
			return TriggerStopLoss, true
		}
		if target.IsPositive() && last.Cmp(target) >= 0 {
			return TriggerTakeProfit, true
		}
		return "", false
	}
	if stop.IsPositive() && last.Cmp(stop) >= 0 {
		return TriggerStopLoss, true
	}
	if target.IsPositive() && last.Cmp(target) <= 0 {
		return TriggerTakeProfit, true
	}
	return "", false
}
