package backtest

import (
	"container/heap"
	"time"

	"github.com/ccheney/cream-sub002/internal/domain"
)

// ReplayEvent is one candle in the merged stream.
type ReplayEvent struct {
	Bar      domain.Bar
	Sequence int
}

// replayHeap orders events by (timestamp, sequence).
type replayHeap []cursor

type cursor struct {
	event ReplayEvent
	// source identifies the per-instrument stream and position within it.
	source, index int
}

func (h replayHeap) Len() int { return len(h) }
func (h replayHeap) Less(i, j int) bool {
	ti, tj := h[i].event.Bar.Timestamp, h[j].event.Bar.Timestamp
	if ti.Equal(tj) {
		return h[i].event.Sequence < h[j].event.Sequence
	}
	return ti.Before(tj)
}
func (h replayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *replayHeap) Push(x interface{}) { *h = append(*h, x.(cursor)) }
func (h *replayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Progress reports how far a replay has advanced.
type Progress struct {
	EventsProcessed int
	TotalEvents     int
	EventsPerSecond float64
	ETA             time.Duration
}

// Replay merges per-instrument candle streams into one time-ordered
// sequence and tracks the latest candle per instrument for forward-fill
// lookups.
type Replay struct {
	streams [][]domain.Bar
	h       replayHeap
	latest  map[string]domain.Bar

	processed int
	total     int
	startedAt time.Time
	now       func() time.Time
}

// NewReplay takes one candle slice per instrument, each already sorted by
// timestamp.
func NewReplay(streams ...[]domain.Bar) *Replay {
	r := &Replay{
		streams: streams,
		now:     time.Now,
	}
	r.Reset()
	return r
}

// Reset rewinds to the beginning; the replay can run again.
func (r *Replay) Reset() {
	r.h = r.h[:0]
	r.latest = make(map[string]domain.Bar)
	r.processed = 0
	r.total = 0
	r.startedAt = time.Time{}

	// Sequence is the stream index: a stable tiebreak for equal timestamps.
	for si, stream := range r.streams {
		r.total += len(stream)
		if len(stream) > 0 {
			r.h = append(r.h, cursor{
				event:  ReplayEvent{Bar: stream[0], Sequence: si},
				source: si,
				index:  0,
			})
		}
	}
	heap.Init(&r.h)
}

// Next pops the earliest candle across all streams; ok is false at the end.
func (r *Replay) Next() (ReplayEvent, bool) {
	if r.h.Len() == 0 {
		return ReplayEvent{}, false
	}
	if r.startedAt.IsZero() {
		r.startedAt = r.now()
	}

	cur := heap.Pop(&r.h).(cursor)
	r.processed++
	r.latest[cur.event.Bar.Symbol] = cur.event.Bar

	next := cur.index + 1
	if next < len(r.streams[cur.source]) {
		heap.Push(&r.h, cursor{
			event:  ReplayEvent{Bar: r.streams[cur.source][next], Sequence: cur.source},
			source: cur.source,
			index:  next,
		})
	}
	return cur.event, true
}

// Latest is the forward-fill lookup: the most recent candle seen for the
// symbol.
func (r *Replay) Latest(symbol string) (domain.Bar, bool) {
	bar, ok := r.latest[symbol]
	return bar, ok
}

// Progress snapshots throughput and the remaining-time estimate.
func (r *Replay) Progress() Progress {
	p := Progress{
		EventsProcessed: r.processed,
		TotalEvents:     r.total,
	}
	if r.startedAt.IsZero() || r.processed == 0 {
		return p
	}
	elapsed := r.now().Sub(r.startedAt).Seconds()
	if elapsed > 0 {
		p.EventsPerSecond = float64(r.processed) / elapsed
		remaining := r.total - r.processed
		if p.EventsPerSecond > 0 {
			p.ETA = time.Duration(float64(remaining)/p.EventsPerSecond) * time.Second
		}
	}
	return p
}
