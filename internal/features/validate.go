package features

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonFinite marks a NaN or infinite feature value
	ErrNonFinite = errors.New("non-finite feature value")
	// ErrInvalidRow marks a row that violates a structural constraint
	ErrInvalidRow = errors.New("invalid feature row")
)

// Validate rejects rows that would break calibration. The threshold sweep only
// terminates once every mean_perf_diff is exceeded, so non-finite values must
// never get past ingestion.
func Validate(rows []Row) error {
	for i, r := range rows {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("row %d (player %q): %w", i, r.Player, err)
		}
	}
	return nil
}

// Validate checks a single row
func (r Row) Validate() error {
	if r.Player == "" {
		return fmt.Errorf("%w: empty player", ErrInvalidRow)
	}
	if r.NumberOfGames < 0 {
		return fmt.Errorf("%w: number_of_games %d < 0", ErrInvalidRow, r.NumberOfGames)
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"mean_perf_diff", r.MeanPerfDiff},
		{"std_perf_diff", r.StdPerfDiff},
		{"mean_rating", r.MeanRating},
		{"median_rating", r.MedianRating},
		{"std_rating", r.StdRating},
		{"mean_opponent_rating", r.MeanOpponentRating},
		{"std_opponent_rating", r.StdOpponentRating},
		{"mean_rating_gain", r.MeanRatingGain},
		{"std_rating_gain", r.StdRatingGain},
		{"proportion_increment_games", r.ProportionIncrementGames},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNonFinite, f.name, f.value)
		}
	}

	return nil
}
