package obs

import (
	"sync"
	"time"

	"main/internal/schema"
)

// Transition is one order state change, published for external observers
// (metrics, logs, audit). Observers never feed back into the pipeline.
type Transition struct {
	ClientOrderID schema.ClientOrderID
	Market        schema.MarketID
	Side          schema.Side
	From          schema.OrderState
	To            schema.OrderState
	Code          int32
	Message       string
	TxHash        string
	At            time.Time
}

// TransitionStream fans order state changes out to subscribers over bounded
// channels. A slow subscriber loses transitions rather than stalling the
// reconciler.
type TransitionStream struct {
	mu      sync.Mutex
	subs    []chan Transition
	dropped uint64
}

// NewTransitionStream creates an empty stream.
func NewTransitionStream() *TransitionStream {
	return &TransitionStream{}
}

// Subscribe registers a new bounded subscriber channel.
func (s *TransitionStream) Subscribe(buffer int) <-chan Transition {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Transition, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Publish delivers the transition to every subscriber without blocking.
func (s *TransitionStream) Publish(t Transition) {
	if s == nil {
		return
	}
	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- t:
		default:
			s.dropped++
		}
	}
	s.mu.Unlock()
}

// Dropped returns how many transitions were discarded on full subscribers.
func (s *TransitionStream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes all subscriber channels.
func (s *TransitionStream) Close() {
	s.mu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.mu.Unlock()
}
