package features

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TimeControl is the game pacing category a row was aggregated under
type TimeControl string

const (
	Bullet    TimeControl = "bullet"
	Blitz     TimeControl = "blitz"
	Rapid     TimeControl = "rapid"
	Classical TimeControl = "classical"
)

// BinWidth is the size of a rating bracket
const BinWidth = 100

// AllTimeControls returns the recognized time controls in canonical order
func AllTimeControls() []TimeControl {
	return []TimeControl{Bullet, Blitz, Rapid, Classical}
}

// Recognized reports whether tc takes part in calibration and prediction
func (tc TimeControl) Recognized() bool {
	switch tc {
	case Bullet, Blitz, Rapid, Classical:
		return true
	default:
		return false
	}
}

func (tc TimeControl) String() string { return string(tc) }

// Segment identifies one (time control, rating bin) partition of the feature table
type Segment struct {
	TimeControl TimeControl `json:"time_control"`
	Bin         int         `json:"rating_bin"`
}

// Label renders the rating bracket as "{bin}-{bin+100}"
func (s Segment) Label() string {
	return fmt.Sprintf("%d-%d", s.Bin, s.Bin+BinWidth)
}

func (s Segment) String() string {
	return fmt.Sprintf("%s/%s", s.TimeControl, s.Label())
}

// ParseLabel converts a "{lo}-{hi}" bracket label back into its lower bound
func ParseLabel(label string) (int, error) {
	// a leading '-' belongs to a negative lower bound
	idx := strings.Index(label[min(1, len(label)):], "-")
	if idx < 0 {
		return 0, fmt.Errorf("invalid rating bin label %q", label)
	}
	idx += min(1, len(label))

	lo, err := strconv.Atoi(label[:idx])
	if err != nil {
		return 0, fmt.Errorf("invalid rating bin label %q: %w", label, err)
	}
	hi, err := strconv.Atoi(label[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("invalid rating bin label %q: %w", label, err)
	}
	if hi-lo != BinWidth {
		return 0, fmt.Errorf("invalid rating bin label %q: width %d", label, hi-lo)
	}
	return lo, nil
}

// Less orders segments by rating bin, then time control
func (s Segment) Less(other Segment) bool {
	if s.Bin != other.Bin {
		return s.Bin < other.Bin
	}
	return s.TimeControl < other.TimeControl
}

// SortSegments sorts segments in place in group-by order
func SortSegments(segments []Segment) {
	sort.Slice(segments, func(i, j int) bool { return segments[i].Less(segments[j]) })
}

// Row is one aggregated record per player per time control
type Row struct {
	Player      string      `json:"player"`
	TimeControl TimeControl `json:"time_control"`
	RatingBin   int         `json:"rating_bin"`

	NumberOfGames int     `json:"number_of_games"`
	MeanPerfDiff  float64 `json:"mean_perf_diff"`
	StdPerfDiff   float64 `json:"std_perf_diff"`

	MeanRating         float64 `json:"mean_rating"`
	MedianRating       float64 `json:"median_rating"`
	StdRating          float64 `json:"std_rating"`
	MeanOpponentRating float64 `json:"mean_opponent_rating"`
	StdOpponentRating  float64 `json:"std_opponent_rating"`

	MeanRatingGain           float64 `json:"mean_rating_gain"`
	StdRatingGain            float64 `json:"std_rating_gain"`
	ProportionIncrementGames float64 `json:"proportion_increment_games"`

	// Record holds the source CSV fields so unknown columns survive a round trip
	Record []string `json:"-"`
}

// Segment returns the partition this row belongs to
func (r Row) Segment() Segment {
	return Segment{TimeControl: r.TimeControl, Bin: r.RatingBin}
}

// FilterRecognized keeps rows with a recognized time control, preserving order
func FilterRecognized(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.TimeControl.Recognized() {
			out = append(out, r)
		}
	}
	return out
}

// GroupBySegment partitions rows by segment. Row order inside a group is preserved
// and the returned keys are sorted by (bin, time control).
func GroupBySegment(rows []Row) (map[Segment][]Row, []Segment) {
	groups := make(map[Segment][]Row)
	var keys []Segment

	for _, r := range rows {
		seg := r.Segment()
		if _, ok := groups[seg]; !ok {
			keys = append(keys, seg)
		}
		groups[seg] = append(groups[seg], r)
	}

	SortSegments(keys)
	return groups, keys
}
