package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Mode selects the lease policy.
type Mode uint8

const (
	// ModeOptimistic predicts the next value locally with no I/O. Safe only
	// under the single-process-per-key contract.
	ModeOptimistic Mode = iota
	// ModeConservative asks the venue for every lease. Required when multiple
	// processes share a key.
	ModeConservative
)

// ParseMode maps a config string to a mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "optimistic":
		return ModeOptimistic, true
	case "conservative":
		return ModeConservative, true
	default:
		return 0, false
	}
}

// Fetcher reads the authoritative next nonce for (account, key) from the
// venue's REST endpoint.
type Fetcher interface {
	NextNonce(ctx context.Context, account schema.AccountIndex, key schema.APIKeyIndex) (int64, error)
}

// Config sizes a sequencer.
type Config struct {
	Mode        Mode
	Account     schema.AccountIndex
	StartKey    schema.APIKeyIndex
	EndKey      schema.APIKeyIndex
	RetryBudget int
	RetryDelay  time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.EndKey < cfg.StartKey {
		cfg.EndKey = cfg.StartKey
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
}

// Sequencer owns the signing-sequence counters for one account's api key
// range. Keys rotate round-robin per lease. Values are strictly increasing
// per key; gaps are allowed, reuse never is.
//
// Exactly one dispatcher task may call Lease; Resync is safe from the
// reconciler because all state sits behind one mutex.
type Sequencer struct {
	cfg     Config
	fetcher Fetcher

	mu      sync.Mutex
	current schema.APIKeyIndex
	next    map[schema.APIKeyIndex]int64
	retired uint64
}

// NewSequencer primes every key in the range from the venue and returns a
// ready sequencer.
func NewSequencer(ctx context.Context, cfg Config, fetcher Fetcher) (*Sequencer, error) {
	cfg.setDefaults()
	if cfg.StartKey > cfg.EndKey {
		return nil, exception.ErrNonceKeyRange
	}
	if fetcher == nil {
		return nil, exception.ErrNilInstance
	}

	s := &Sequencer{
		cfg:     cfg,
		fetcher: fetcher,
		current: cfg.EndKey,
		next:    make(map[schema.APIKeyIndex]int64, int(cfg.EndKey-cfg.StartKey)+1),
	}
	for key := cfg.StartKey; ; key++ {
		value, err := s.fetchWithRetry(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("prime nonce for key %d", key))
		}
		s.next[key] = value
		if key == cfg.EndKey {
			break
		}
	}
	return s, nil
}

// Lease returns the next (key, nonce) pair. Optimistic mode never blocks;
// conservative mode performs a venue round trip and fails with
// ErrNonceUnavailable once its retry budget is spent.
func (s *Sequencer) Lease(ctx context.Context) (schema.NonceLease, error) {
	s.mu.Lock()
	key := s.rotateLocked()

	if s.cfg.Mode == ModeOptimistic {
		value, ok := s.next[key]
		if !ok {
			s.mu.Unlock()
			return schema.NonceLease{}, errors.Wrap(exception.ErrNonceUnknownKey, fmt.Sprintf("key %d", key))
		}
		s.next[key] = value + 1
		s.mu.Unlock()
		return schema.NonceLease{Key: key, Value: value}, nil
	}
	s.mu.Unlock()

	value, err := s.fetchWithRetry(ctx, key)
	if err != nil {
		return schema.NonceLease{}, errors.Wrap(exception.ErrNonceUnavailable, err.Error())
	}

	s.mu.Lock()
	// A concurrent resync may have advanced past the fetched value; never
	// hand out anything at or below what was already leased.
	if known := s.next[key]; known > value {
		value = known
	}
	s.next[key] = value + 1
	s.mu.Unlock()
	return schema.NonceLease{Key: key, Value: value}, nil
}

// Resync forces the counter for key to confirmed+1. A negative confirmed
// value refetches from the venue instead.
func (s *Sequencer) Resync(ctx context.Context, key schema.APIKeyIndex, confirmed int64) error {
	if confirmed < 0 {
		fetched, err := s.fetchWithRetry(ctx, key)
		if err != nil {
			return errors.Wrap(err, "resync fetch")
		}
		confirmed = fetched - 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.next[key]; !ok {
		return errors.Wrap(exception.ErrNonceUnknownKey, fmt.Sprintf("key %d", key))
	}
	if next := confirmed + 1; next > s.next[key] {
		s.next[key] = next
	}
	logs.Infof("nonce resynced, key: %d, next: %d", key, s.next[key])
	return nil
}

// MarkRejected retires a lease permanently. The counter is never decremented:
// monotonicity holds and the rejected value becomes a gap.
func (s *Sequencer) MarkRejected(lease schema.NonceLease) {
	s.mu.Lock()
	s.retired++
	s.mu.Unlock()
}

// Retired returns how many leases were retired without consumption.
func (s *Sequencer) Retired() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

func (s *Sequencer) rotateLocked() schema.APIKeyIndex {
	if s.current >= s.cfg.EndKey {
		s.current = s.cfg.StartKey
	} else {
		s.current++
	}
	return s.current
}

func (s *Sequencer) fetchWithRetry(ctx context.Context, key schema.APIKeyIndex) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.cfg.RetryDelay << uint(attempt-1)):
			}
		}
		value, err := s.fetcher.NextNonce(ctx, s.cfg.Account, key)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return 0, lastErr
}
