package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	calls    atomic.Int64
	statuses map[string]Status
	delay    time.Duration
	err      error
}

func (c *countingLookup) Lookup(ctx context.Context, player string) (Status, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return StatusUnknown, c.err
	}
	return StaticLookup(c.statuses).Lookup(ctx, player)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *outcomeRecorder) RecordLookup(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func TestOracleMemoizesLookups(t *testing.T) {
	ctx := context.Background()
	lookup := &countingLookup{statuses: map[string]Status{"alice": StatusTOSViolation}}
	rec := &outcomeRecorder{}
	oracle := NewOracle(lookup, WithRecorder(rec))

	for i := 0; i < 5; i++ {
		status, err := oracle.StatusFor(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, StatusTOSViolation, status)
	}

	assert.Equal(t, int64(1), lookup.calls.Load())
	assert.Equal(t, 1, rec.outcomes[OutcomeMiss])
	assert.Equal(t, 4, rec.outcomes[OutcomeHit])
}

func TestOracleCachesNotFound(t *testing.T) {
	ctx := context.Background()
	lookup := &countingLookup{statuses: map[string]Status{}}
	oracle := NewOracle(lookup)

	status, err := oracle.StatusFor(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)

	_, err = oracle.StatusFor(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(1), lookup.calls.Load())

	cached, ok, err := oracle.Cached(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusUnknown, cached)
}

func TestOraclePropagatesServiceErrors(t *testing.T) {
	ctx := context.Background()
	lookup := &countingLookup{err: errors.New("connection refused")}
	rec := &outcomeRecorder{}
	oracle := NewOracle(lookup, WithRecorder(rec))

	_, err := oracle.StatusFor(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice")
	assert.Equal(t, 1, rec.outcomes[OutcomeError])

	// failures are not cached
	_, ok, err := oracle.Cached(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOracleCachedNeverLooksUp(t *testing.T) {
	ctx := context.Background()
	lookup := &countingLookup{statuses: map[string]Status{"alice": StatusOpen}}
	oracle := NewOracle(lookup)

	_, ok, err := oracle.Cached(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), lookup.calls.Load())

	require.NoError(t, oracle.Seed(ctx, "bob", StatusClosed))
	status, ok, err := oracle.Cached(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusClosed, status)

	// seeded players are never sent to the service
	status, err = oracle.StatusFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, status)
	assert.Equal(t, int64(0), lookup.calls.Load())
}

func TestOracleCollapsesConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	lookup := &countingLookup{statuses: map[string]Status{"alice": StatusOpen}, delay: 20 * time.Millisecond}
	oracle := NewOracle(lookup)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := oracle.StatusFor(ctx, "alice")
			assert.NoError(t, err)
			assert.Equal(t, StatusOpen, status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), lookup.calls.Load())
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"open":          StatusOpen,
		"closed":        StatusClosed,
		"disabled":      StatusClosed,
		"tosViolation":  StatusTOSViolation,
		"tos_violation": StatusTOSViolation,
		"":              StatusUnknown,
	} {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("banned")
	assert.Error(t, err)
}

func TestReadStatuses(t *testing.T) {
	table, err := ReadStatuses(strings.NewReader("player,status\nalice,open\nbob,tosViolation\ncarol,closed\n"))
	require.NoError(t, err)
	assert.Len(t, table, 3)
	assert.Equal(t, StatusTOSViolation, table["bob"])

	_, err = table.Lookup(context.Background(), "dave")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ReadStatuses(strings.NewReader("alice,banned\n"))
	assert.Error(t, err)
}
