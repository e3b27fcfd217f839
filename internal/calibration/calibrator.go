package calibration

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/features"
)

// StatusSource resolves account statuses, memoized per player
type StatusSource interface {
	StatusFor(ctx context.Context, player string) (accounts.Status, error)
}

// ScoreTable maps an account status to how strongly it confirms a flag
type ScoreTable map[accounts.Status]float64

// DefaultScores weights a closed account as closer to a ToS violation than to an open one
func DefaultScores() ScoreTable {
	return ScoreTable{
		accounts.StatusOpen:         0,
		accounts.StatusTOSViolation: 1,
		accounts.StatusClosed:       0.75,
	}
}

// Config controls the threshold sweep
type Config struct {
	Step          float64    `yaml:"step"`           // Sweep increment (default: 0.01)
	MaxCandidates int        `yaml:"max_candidates"` // 0 sweeps until nobody is flagged
	Scores        ScoreTable `yaml:"-"`
}

// DefaultConfig returns the default sweep configuration
func DefaultConfig() Config {
	return Config{
		Step:   0.01,
		Scores: DefaultScores(),
	}
}

// Validate checks the sweep can make progress
func (c Config) Validate() error {
	if !(c.Step > 0) || math.IsInf(c.Step, 0) {
		return fmt.Errorf("calibration step must be positive and finite, got %v", c.Step)
	}
	if c.MaxCandidates < 0 {
		return fmt.Errorf("max candidates must be >= 0, got %d", c.MaxCandidates)
	}
	for _, status := range []accounts.Status{accounts.StatusOpen, accounts.StatusClosed, accounts.StatusTOSViolation} {
		score, ok := c.Scores[status]
		if !ok {
			return fmt.Errorf("no score for account status %s", status)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return fmt.Errorf("score for %s must be finite, got %v", status, score)
		}
	}
	return nil
}

// Candidate is one evaluated threshold
type Candidate struct {
	Threshold float64 `json:"threshold"`
	Accuracy  float64 `json:"accuracy"`
	Metric    float64 `json:"metric"`
	Flagged   int     `json:"flagged"`
	Resolved  int     `json:"resolved"` // flagged players with a known account status
}

// Trace is the ordered sequence of candidates tried for one segment
type Trace []Candidate

// Result is the outcome of calibrating one segment
type Result struct {
	Threshold float64 `json:"threshold"`
	Metric    float64 `json:"metric"`
	Improved  bool    `json:"improved"` // false when no candidate beat a metric of 0
	Trace     Trace   `json:"trace"`
}

// Calibrator searches the perf diff threshold that best trades detection
// volume against account-status accuracy
type Calibrator struct {
	cfg    Config
	source StatusSource
}

// New creates a calibrator resolving statuses through source
func New(source StatusSource, cfg Config) (*Calibrator, error) {
	if cfg.Scores == nil {
		cfg.Scores = DefaultScores()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{cfg: cfg, source: source}, nil
}

// Calibrate sweeps thresholds upward from start in fixed steps until no row in
// the segment is flagged. Each candidate t flags rows with mean perf diff > t
// and is scored ln(flagged+1) * accuracy. The best candidate only changes on a
// strictly greater metric, so ties keep the lower threshold, and a segment
// where nothing beats 0 keeps start.
func (c *Calibrator) Calibrate(ctx context.Context, rows []features.Row, start float64) (Result, error) {
	res := Result{Threshold: start}

	for _, r := range rows {
		if math.IsNaN(r.MeanPerfDiff) || math.IsInf(r.MeanPerfDiff, 0) {
			return res, fmt.Errorf("%w: mean_perf_diff for %s", features.ErrNonFinite, r.Player)
		}
	}

	for i := 0; ; i++ {
		if c.cfg.MaxCandidates > 0 && i >= c.cfg.MaxCandidates {
			log.Warn().Int("max_candidates", c.cfg.MaxCandidates).Float64("threshold", res.Threshold).
				Msg("threshold sweep stopped at candidate limit")
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		t := candidate(start, c.cfg.Step, i)
		flagged := flaggedPlayers(rows, t)
		if len(flagged) == 0 {
			break
		}

		cand, err := c.score(ctx, t, flagged)
		if err != nil {
			return res, err
		}
		res.Trace = append(res.Trace, cand)

		if cand.Metric > res.Metric {
			res.Metric = cand.Metric
			res.Threshold = t
			res.Improved = true
		}
	}

	return res, nil
}

func (c *Calibrator) score(ctx context.Context, t float64, flagged []string) (Candidate, error) {
	var total float64
	resolved := 0

	for _, player := range flagged {
		status, err := c.source.StatusFor(ctx, player)
		if err != nil {
			return Candidate{}, err
		}
		// unresolved players carry no evidence either way
		if !status.Known() {
			continue
		}
		total += c.cfg.Scores[status]
		resolved++
	}

	accuracy := 0.0
	if resolved > 0 {
		accuracy = total / float64(resolved)
	}

	return Candidate{
		Threshold: t,
		Accuracy:  accuracy,
		Metric:    Metric(len(flagged), accuracy),
		Flagged:   len(flagged),
		Resolved:  resolved,
	}, nil
}

// Metric is ln(flagged+1) * accuracy: volume earns logarithmic credit, so a
// threshold flagging a few players perfectly can beat one flagging many poorly
func Metric(flagged int, accuracy float64) float64 {
	return math.Log(float64(flagged)+1) * accuracy
}

// candidate returns start + i*step rounded to 1e-9, so thresholds land on the
// decimal grid instead of accumulating float drift
func candidate(start, step float64, i int) float64 {
	return math.Round((start+float64(i)*step)*1e9) / 1e9
}

func flaggedPlayers(rows []features.Row, t float64) []string {
	var out []string
	for _, r := range rows {
		if r.MeanPerfDiff > t {
			out = append(out, r.Player)
		}
	}
	return out
}
