package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sawpanic/perfguard/internal/calibration"
	"github.com/sawpanic/perfguard/internal/features"
	atomicio "github.com/sawpanic/perfguard/internal/io"
)

// Sink receives the calibration curve of each segment as it is fitted
type Sink interface {
	Record(ctx context.Context, seg features.Segment, trace calibration.Trace, best float64) error
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) Record(context.Context, features.Segment, calibration.Trace, float64) error {
	return nil
}

// MultiSink fans a trace out to several sinks
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, seg features.Segment, trace calibration.Trace, best float64) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, seg, trace, best); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileName returns "{base}_{time_control}_{bin label}{ext}"
func FileName(base string, seg features.Segment, ext string) string {
	name := fmt.Sprintf("%s_%s_%s%s", base, seg.TimeControl, seg.Label(), ext)
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}

// JSONSink writes one JSON document per segment
type JSONSink struct {
	Dir  string
	Base string
}

type jsonTrace struct {
	TimeControl   features.TimeControl `json:"time_control"`
	RatingBin     string               `json:"rating_bin"`
	BestThreshold float64              `json:"best_threshold"`
	Candidates    calibration.Trace    `json:"candidates"`
}

func (s JSONSink) Record(_ context.Context, seg features.Segment, trace calibration.Trace, best float64) error {
	if trace == nil {
		trace = calibration.Trace{}
	}
	path := filepath.Join(s.Dir, FileName(s.Base, seg, ".json"))
	doc := jsonTrace{
		TimeControl:   seg.TimeControl,
		RatingBin:     seg.Label(),
		BestThreshold: best,
		Candidates:    trace,
	}
	if err := atomicio.WriteJSONAtomic(path, doc); err != nil {
		return fmt.Errorf("failed to write trace for %s: %w", seg, err)
	}
	return nil
}
