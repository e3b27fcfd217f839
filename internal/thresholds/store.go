package thresholds

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sawpanic/perfguard/internal/features"
)

// DefaultThreshold is the perf diff threshold every segment starts from
const DefaultThreshold = 0.15

// Rating range pre-populated by New: bins MinBin, MinBin+100, ..., MaxBin-100
const (
	MinBin = 0
	MaxBin = 4000
)

// ErrSegmentNotFound is returned for segments the store was never initialized with
var ErrSegmentNotFound = errors.New("segment not found in threshold store")

// Entry is the calibrated state of one segment
type Entry struct {
	Threshold float64  `json:"threshold"`
	Metric    *float64 `json:"metric,omitempty"` // nil until the segment is calibrated
}

// Store maps segments to thresholds. It is safe for concurrent use.
type Store struct {
	mu               sync.RWMutex
	entries          map[features.Segment]Entry
	defaultThreshold float64
}

// New returns a store holding defaultThreshold for every recognized time
// control and every bin in [MinBin, MaxBin).
func New(defaultThreshold float64) *Store {
	s := NewEmpty(defaultThreshold)
	for _, tc := range features.AllTimeControls() {
		for bin := MinBin; bin < MaxBin; bin += features.BinWidth {
			s.entries[features.Segment{TimeControl: tc, Bin: bin}] = Entry{Threshold: defaultThreshold}
		}
	}
	return s
}

// NewEmpty returns a store with no segments, used when restoring a saved model
func NewEmpty(defaultThreshold float64) *Store {
	return &Store{
		entries:          make(map[features.Segment]Entry),
		defaultThreshold: defaultThreshold,
	}
}

// DefaultThreshold returns the threshold segments were initialized with
func (s *Store) DefaultThreshold() float64 {
	return s.defaultThreshold
}

// Threshold returns the threshold for seg
func (s *Store) Threshold(seg features.Segment) (float64, error) {
	e, err := s.Entry(seg)
	if err != nil {
		return 0, err
	}
	return e.Threshold, nil
}

// Entry returns the full state for seg
func (s *Store) Entry(seg features.Segment) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[seg]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, seg)
	}
	return e, nil
}

// Set overwrites seg with a calibrated threshold and its metric
func (s *Store) Set(seg features.Segment, threshold, metric float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := metric
	s.entries[seg] = Entry{Threshold: threshold, Metric: &m}
}

// Restore sets seg exactly as it was persisted, metric included
func (s *Store) Restore(seg features.Segment, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Metric != nil {
		m := *e.Metric
		e.Metric = &m
	}
	s.entries[seg] = e
}

// Len returns the number of segments held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Segments returns every segment in (bin, time control) order
func (s *Store) Segments() []features.Segment {
	s.mu.RLock()
	segments := make([]features.Segment, 0, len(s.entries))
	for seg := range s.entries {
		segments = append(segments, seg)
	}
	s.mu.RUnlock()

	features.SortSegments(segments)
	return segments
}

// Entries returns a copy of the mapping
func (s *Store) Entries() map[features.Segment]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[features.Segment]Entry, len(s.entries))
	for seg, e := range s.entries {
		out[seg] = e
	}
	return out
}

// Calibrated returns the segments that have been through calibration
func (s *Store) Calibrated() []features.Segment {
	var out []features.Segment
	for _, seg := range s.Segments() {
		if e, _ := s.Entry(seg); e.Metric != nil {
			out = append(out, seg)
		}
	}
	return out
}
