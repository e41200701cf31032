package nonce

import (
	"context"
	"sync"
	"testing"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

// fakeFetcher serves per-key nonce values and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	next  map[schema.APIKeyIndex]int64
	err   error
	calls int
}

func newFakeFetcher(values map[schema.APIKeyIndex]int64) *fakeFetcher {
	return &fakeFetcher{next: values}
}

func (f *fakeFetcher) NextNonce(ctx context.Context, account schema.AccountIndex, key schema.APIKeyIndex) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.next[key], nil
}

func (f *fakeFetcher) set(key schema.APIKeyIndex, value int64) {
	f.mu.Lock()
	f.next[key] = value
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewSequencerPrimesEveryKey(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 10, 1: 20, 2: 30})
	seq, err := NewSequencer(t.Context(), Config{StartKey: 0, EndKey: 2}, fetcher)
	require.NoError(t, err)
	require.NotNil(t, seq)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestNewSequencerRejectsNilFetcher(t *testing.T) {
	_, err := NewSequencer(t.Context(), Config{}, nil)
	assert.True(t, errors.Is(err, exception.ErrNilInstance))
}

func TestOptimisticLeaseRotatesAndIncreases(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{1: 100, 2: 200})
	seq, err := NewSequencer(t.Context(), Config{StartKey: 1, EndKey: 2}, fetcher)
	require.NoError(t, err)
	primed := fetcher.callCount()

	seen := make(map[schema.APIKeyIndex][]int64)
	for i := 0; i < 6; i++ {
		lease, err := seq.Lease(t.Context())
		require.NoError(t, err)
		seen[lease.Key] = append(seen[lease.Key], lease.Value)
	}

	// Round-robin over the key range, three leases per key.
	require.Len(t, seen[1], 3)
	require.Len(t, seen[2], 3)
	assert.Equal(t, []int64{100, 101, 102}, seen[1])
	assert.Equal(t, []int64{200, 201, 202}, seen[2])

	// Optimistic mode never goes back to the venue after priming.
	assert.Equal(t, primed, fetcher.callCount())
}

func TestConservativeLeaseFetchesEveryTime(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 50})
	seq, err := NewSequencer(t.Context(), Config{Mode: ModeConservative, StartKey: 0, EndKey: 0}, fetcher)
	require.NoError(t, err)
	primed := fetcher.callCount()

	lease, err := seq.Lease(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(50), lease.Value)
	assert.Equal(t, primed+1, fetcher.callCount())

	// A stale venue answer never re-issues a value already handed out.
	lease, err = seq.Lease(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(51), lease.Value)
}

func TestConservativeLeaseExhaustsRetryBudget(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 50})
	seq, err := NewSequencer(t.Context(), Config{
		Mode:        ModeConservative,
		StartKey:    0,
		EndKey:      0,
		RetryBudget: 2,
		RetryDelay:  time.Millisecond,
	}, fetcher)
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.err = errors.New("venue down")
	fetcher.mu.Unlock()

	before := fetcher.callCount()
	_, err = seq.Lease(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrNonceUnavailable))
	assert.Equal(t, before+2, fetcher.callCount())
}

func TestResyncMovesForwardOnly(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 100})
	seq, err := NewSequencer(t.Context(), Config{StartKey: 0, EndKey: 0}, fetcher)
	require.NoError(t, err)

	require.NoError(t, seq.Resync(t.Context(), 0, 149))
	lease, err := seq.Lease(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(150), lease.Value)

	// A confirmed value behind the counter never rewinds it.
	require.NoError(t, seq.Resync(t.Context(), 0, 10))
	lease, err = seq.Lease(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(151), lease.Value)
}

func TestResyncRefetchesOnNegativeConfirmed(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 100})
	seq, err := NewSequencer(t.Context(), Config{StartKey: 0, EndKey: 0}, fetcher)
	require.NoError(t, err)

	fetcher.set(0, 500)
	require.NoError(t, seq.Resync(t.Context(), 0, -1))

	lease, err := seq.Lease(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(500), lease.Value)
}

func TestResyncUnknownKey(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 100})
	seq, err := NewSequencer(t.Context(), Config{StartKey: 0, EndKey: 0}, fetcher)
	require.NoError(t, err)

	err = seq.Resync(t.Context(), 5, 10)
	assert.True(t, errors.Is(err, exception.ErrNonceUnknownKey))
}

func TestMarkRejectedNeverRewinds(t *testing.T) {
	fetcher := newFakeFetcher(map[schema.APIKeyIndex]int64{0: 100})
	seq, err := NewSequencer(t.Context(), Config{StartKey: 0, EndKey: 0}, fetcher)
	require.NoError(t, err)

	lease, err := seq.Lease(t.Context())
	require.NoError(t, err)
	seq.MarkRejected(lease)
	assert.Equal(t, uint64(1), seq.Retired())

	// The rejected value becomes a gap; the counter keeps moving up.
	next, err := seq.Lease(t.Context())
	require.NoError(t, err)
	assert.Equal(t, lease.Value+1, next.Value)
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		desc     string
		input    string
		expected Mode
		ok       bool
	}{
		{desc: "default", input: "", expected: ModeOptimistic, ok: true},
		{desc: "optimistic", input: "optimistic", expected: ModeOptimistic, ok: true},
		{desc: "conservative", input: "conservative", expected: ModeConservative, ok: true},
		{desc: "unknown", input: "pessimistic", ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			mode, ok := ParseMode(tc.input)
			if ok != tc.ok {
				t.Fatalf("expected ok %v, got %v", tc.ok, ok)
			}
			if tc.ok && mode != tc.expected {
				t.Fatalf("expected mode %v, got %v", tc.expected, mode)
			}
		})
	}
}
