package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters for the submission pipeline. All
// fields are atomics so the hot path never takes a lock.
type Metrics struct {
	submitted    uint64
	accepted     uint64
	rejected     uint64
	validation   uint64
	nonceResyncs uint64
	retries      uint64
	timeouts     uint64
	reconnects   uint64
	deadLetters  uint64
	eventDrops   uint64

	submitLatency LatencyStats
	eventLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	max   uint64
}

func (s *LatencyStats) observe(d time.Duration) {
	n := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, n)
	for {
		old := atomic.LoadUint64(&s.max)
		if n <= old || atomic.CompareAndSwapUint64(&s.max, old, n) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	sum := atomic.LoadUint64(&s.sum)
	out := LatencySnapshot{
		Count: count,
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		out.Avg = time.Duration(sum / count)
	}
	return out
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Avg   time.Duration
	Max   time.Duration
}

// Snapshot captures the current counter values.
type Snapshot struct {
	Submitted    uint64
	Accepted     uint64
	Rejected     uint64
	Validation   uint64
	NonceResyncs uint64
	Retries      uint64
	Timeouts     uint64
	Reconnects   uint64
	DeadLetters  uint64
	EventDrops   uint64

	SubmitLatency LatencySnapshot
	EventLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSubmitted(n int) {
	if m != nil {
		atomic.AddUint64(&m.submitted, uint64(n))
	}
}

func (m *Metrics) IncAccepted() {
	if m != nil {
		atomic.AddUint64(&m.accepted, 1)
	}
}

func (m *Metrics) IncRejected() {
	if m != nil {
		atomic.AddUint64(&m.rejected, 1)
	}
}

func (m *Metrics) IncValidation() {
	if m != nil {
		atomic.AddUint64(&m.validation, 1)
	}
}

func (m *Metrics) IncNonceResync() {
	if m != nil {
		atomic.AddUint64(&m.nonceResyncs, 1)
	}
}

func (m *Metrics) IncRetry() {
	if m != nil {
		atomic.AddUint64(&m.retries, 1)
	}
}

func (m *Metrics) IncTimeout() {
	if m != nil {
		atomic.AddUint64(&m.timeouts, 1)
	}
}

func (m *Metrics) IncReconnect() {
	if m != nil {
		atomic.AddUint64(&m.reconnects, 1)
	}
}

func (m *Metrics) IncDeadLetter() {
	if m != nil {
		atomic.AddUint64(&m.deadLetters, 1)
	}
}

func (m *Metrics) IncEventDrop() {
	if m != nil {
		atomic.AddUint64(&m.eventDrops, 1)
	}
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m != nil {
		m.submitLatency.observe(d)
	}
}

func (m *Metrics) ObserveEvent(d time.Duration) {
	if m != nil {
		m.eventLatency.observe(d)
	}
}

// Snapshot captures the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Submitted:     atomic.LoadUint64(&m.submitted),
		Accepted:      atomic.LoadUint64(&m.accepted),
		Rejected:      atomic.LoadUint64(&m.rejected),
		Validation:    atomic.LoadUint64(&m.validation),
		NonceResyncs:  atomic.LoadUint64(&m.nonceResyncs),
		Retries:       atomic.LoadUint64(&m.retries),
		Timeouts:      atomic.LoadUint64(&m.timeouts),
		Reconnects:    atomic.LoadUint64(&m.reconnects),
		DeadLetters:   atomic.LoadUint64(&m.deadLetters),
		EventDrops:    atomic.LoadUint64(&m.eventDrops),
		SubmitLatency: m.submitLatency.snapshot(),
		EventLatency:  m.eventLatency.snapshot(),
	}
}
