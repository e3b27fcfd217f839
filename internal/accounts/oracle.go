package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Lookup outcomes reported to a Recorder
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Recorder observes oracle traffic
type Recorder interface {
	RecordLookup(outcome string)
}

// Oracle is the memoized view of the account service. Calibration resolves
// statuses through StatusFor; prediction only reads what is already cached.
type Oracle struct {
	lookup   Lookup
	cache    Cache
	group    singleflight.Group
	recorder Recorder
}

// Option configures an Oracle
type Option func(*Oracle)

// WithCache replaces the default in-memory cache
func WithCache(c Cache) Option {
	return func(o *Oracle) { o.cache = c }
}

// WithRecorder reports hits, misses and failures
func WithRecorder(r Recorder) Option {
	return func(o *Oracle) { o.recorder = r }
}

// NewOracle returns an oracle resolving misses through lookup
func NewOracle(lookup Lookup, opts ...Option) *Oracle {
	o := &Oracle{lookup: lookup, cache: NewMemoryCache()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StatusFor returns the player's status, querying the account service at most
// once per player. Players the service does not know resolve to StatusUnknown.
func (o *Oracle) StatusFor(ctx context.Context, player string) (Status, error) {
	if status, ok, err := o.cache.Get(ctx, player); err != nil {
		log.Warn().Err(err).Str("player", player).Msg("status cache read failed")
	} else if ok {
		o.record(OutcomeHit)
		return status, nil
	}

	v, err, _ := o.group.Do(player, func() (interface{}, error) {
		// a concurrent caller may have filled the cache while we waited
		if status, ok, err := o.cache.Get(ctx, player); err == nil && ok {
			return status, nil
		}

		o.record(OutcomeMiss)
		status, err := o.lookup.Lookup(ctx, player)
		if errors.Is(err, ErrNotFound) {
			o.record(OutcomeNotFound)
			status, err = StatusUnknown, nil
		}
		if err != nil {
			o.record(OutcomeError)
			return StatusUnknown, fmt.Errorf("account lookup for %s: %w", player, err)
		}

		if err := o.cache.Set(ctx, player, status); err != nil {
			log.Warn().Err(err).Str("player", player).Msg("status cache write failed")
		}
		return status, nil
	})
	if err != nil {
		return StatusUnknown, err
	}
	return v.(Status), nil
}

// Cached returns the status recorded for player without contacting the
// account service. ok is false if the player was never resolved.
func (o *Oracle) Cached(ctx context.Context, player string) (Status, bool, error) {
	return o.cache.Get(ctx, player)
}

// Seed records a known status, e.g. from a previous export
func (o *Oracle) Seed(ctx context.Context, player string, status Status) error {
	return o.cache.Set(ctx, player, status)
}

func (o *Oracle) record(outcome string) {
	if o.recorder != nil {
		o.recorder.RecordLookup(outcome)
	}
}
