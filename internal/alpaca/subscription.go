package alpaca

import (
	"sort"
	"sync"
)

// SubscriptionSet maps stream kinds to symbol sets. The zero value is empty.
type SubscriptionSet map[StreamKind]map[string]struct{}

func NewSubscriptionSet() SubscriptionSet {
	return make(SubscriptionSet)
}

func (s SubscriptionSet) Add(kind StreamKind, symbols ...string) {
	if s[kind] == nil {
		s[kind] = make(map[string]struct{})
	}
	for _, sym := range symbols {
		s[kind][sym] = struct{}{}
	}
}

func (s SubscriptionSet) Contains(kind StreamKind, symbol string) bool {
	_, ok := s[kind][symbol]
	return ok
}

// Symbols returns the sorted union of symbols across the given kinds.
func (s SubscriptionSet) Symbols(kinds ...StreamKind) []string {
	seen := make(map[string]struct{})
	for _, k := range kinds {
		for sym := range s[k] {
			seen[sym] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s SubscriptionSet) Empty() bool {
	for _, syms := range s {
		if len(syms) > 0 {
			return false
		}
	}
	return true
}

func (s SubscriptionSet) Clone() SubscriptionSet {
	cp := NewSubscriptionSet()
	for k, syms := range s {
		for sym := range syms {
			cp.Add(k, sym)
		}
	}
	return cp
}

// Diff returns what must be subscribed (in desired, not in s) and
// unsubscribed (in s, not in desired) to converge s onto desired.
func (s SubscriptionSet) Diff(desired SubscriptionSet) (add, remove SubscriptionSet) {
	add = NewSubscriptionSet()
	remove = NewSubscriptionSet()
	for k, syms := range desired {
		for sym := range syms {
			if !s.Contains(k, sym) {
				add.Add(k, sym)
			}
		}
	}
	for k, syms := range s {
		for sym := range syms {
			if !desired.Contains(k, sym) {
				remove.Add(k, sym)
			}
		}
	}
	return add, remove
}

// Apply merges add and removes remove, converging toward the desired set.
func (s SubscriptionSet) Apply(add, remove SubscriptionSet) {
	for k, syms := range add {
		for sym := range syms {
			s.Add(k, sym)
		}
	}
	for k, syms := range remove {
		for sym := range syms {
			delete(s[k], sym)
		}
	}
}

// SubscriptionManager keeps the reference-counted desired set. Each
// downstream gRPC call contributes its symbols on entry and releases them on
// exit; the session reconciles the broker-side set to the current union.
type SubscriptionManager struct {
	mu     sync.Mutex
	counts map[StreamKind]map[string]int

	// onChange is invoked with the new desired union after every mutation.
	// The session debounces and reconciles; re-sending an unchanged set is a
	// broker-side no-op.
	onChange func(SubscriptionSet)
}

func NewSubscriptionManager(onChange func(SubscriptionSet)) *SubscriptionManager {
	return &SubscriptionManager{
		counts:   make(map[StreamKind]map[string]int),
		onChange: onChange,
	}
}

// Acquire adds one subscriber's interest and returns a release function. The
// release is idempotent.
func (m *SubscriptionManager) Acquire(kind StreamKind, symbols []string) (release func()) {
	m.mu.Lock()
	if m.counts[kind] == nil {
		m.counts[kind] = make(map[string]int)
	}
	for _, sym := range symbols {
		m.counts[kind][sym]++
	}
	desired := m.desiredLocked()
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(desired)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for _, sym := range symbols {
				if m.counts[kind][sym] > 0 {
					m.counts[kind][sym]--
					if m.counts[kind][sym] == 0 {
						delete(m.counts[kind], sym)
					}
				}
			}
			desired := m.desiredLocked()
			m.mu.Unlock()
			if m.onChange != nil {
				m.onChange(desired)
			}
		})
	}
}

// Desired returns the current union.
func (m *SubscriptionManager) Desired() SubscriptionSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desiredLocked()
}

func (m *SubscriptionManager) desiredLocked() SubscriptionSet {
	out := NewSubscriptionSet()
	for kind, syms := range m.counts {
		for sym, n := range syms {
			if n > 0 {
				out.Add(kind, sym)
			}
		}
	}
	return out
}
