// Package report renders markdown summaries of threshold fits.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/perfguard/internal/detector"
	atomicio "github.com/sawpanic/perfguard/internal/io"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

// FitReport creates markdown reports of calibration runs
type FitReport struct {
	ModelName string
	ModelPath string
	Now       func() time.Time
}

// NewFitReport creates a report generator for the named model
func NewFitReport(modelName, modelPath string) *FitReport {
	return &FitReport{ModelName: modelName, ModelPath: modelPath, Now: time.Now}
}

// Write renders the report and writes it atomically to path
func (fr *FitReport) Write(path string, summary detector.FitSummary, store *thresholds.Store) error {
	if err := atomicio.WriteFileAtomic(path, []byte(fr.Build(summary, store))); err != nil {
		return fmt.Errorf("failed to write fit report: %w", err)
	}
	return nil
}

// Build renders the report
func (fr *FitReport) Build(summary detector.FitSummary, store *thresholds.Store) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Threshold Fit Report: %s\n\n", fr.ModelName)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", fr.Now().UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Run ID:** `%s`\n", summary.RunID)
	if fr.ModelPath != "" {
		fmt.Fprintf(&b, "- **Model file:** `%s`\n", fr.ModelPath)
	}
	fmt.Fprintf(&b, "- **Rows:** %d (%d dropped for unrecognized time control)\n", summary.Rows, summary.Dropped)
	fmt.Fprintf(&b, "- **Elapsed:** %v\n\n", summary.Elapsed.Round(time.Millisecond))

	b.WriteString(fr.overview(summary, store))
	b.WriteString(fr.segmentTable(summary))
	return b.String()
}

func (fr *FitReport) overview(summary detector.FitSummary, store *thresholds.Store) string {
	improved, candidates := 0, 0
	for _, s := range summary.Segments {
		if s.Improved {
			improved++
		}
		candidates += len(s.Trace)
	}

	var b strings.Builder
	b.WriteString("## Overview\n\n")
	b.WriteString("| | Count |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Segments in store | %d |\n", store.Len())
	fmt.Fprintf(&b, "| Segments in training data | %d |\n", len(summary.Segments))
	fmt.Fprintf(&b, "| Calibrated above default | %d |\n", improved)
	fmt.Fprintf(&b, "| Kept default (%.2f) | %d |\n", store.DefaultThreshold(), store.Len()-improved)
	fmt.Fprintf(&b, "| Candidates evaluated | %d |\n\n", candidates)
	return b.String()
}

func (fr *FitReport) segmentTable(summary detector.FitSummary) string {
	var b strings.Builder
	b.WriteString("## Segments\n\n")
	if len(summary.Segments) == 0 {
		b.WriteString("_No segments in the training data._\n")
		return b.String()
	}

	b.WriteString("| Time control | Rating bin | Rows | Threshold | Metric | Candidates | Max flagged |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|---:|\n")
	for _, s := range summary.Segments {
		threshold := fmt.Sprintf("%.2f", s.Threshold)
		if !s.Improved {
			threshold += " (default)"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %.4f | %d | %d |\n",
			s.Segment.TimeControl, s.Segment.Label(), s.Rows, threshold, s.Metric, len(s.Trace), s.MaxFlagged())
	}
	return b.String()
}
