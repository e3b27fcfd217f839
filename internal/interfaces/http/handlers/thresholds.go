package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

func record(seg features.Segment, e thresholds.Entry) ThresholdRecord {
	return ThresholdRecord{
		TimeControl: string(seg.TimeControl),
		RatingBin:   seg.Label(),
		Threshold:   e.Threshold,
		Metric:      e.Metric,
	}
}

// Thresholds handles GET /thresholds. Optional query parameters:
// time_control filters by time control, calibrated=true drops default entries.
func (h *Handlers) Thresholds(w http.ResponseWriter, r *http.Request) {
	store := h.model.Store()

	tc := features.TimeControl(r.URL.Query().Get("time_control"))
	if tc != "" && !tc.Recognized() {
		h.writeError(w, r, http.StatusBadRequest, "invalid_time_control",
			fmt.Sprintf("unrecognized time control %q", tc))
		return
	}

	calibratedOnly := false
	if v := r.URL.Query().Get("calibrated"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "calibrated must be a boolean")
			return
		}
		calibratedOnly = parsed
	}

	entries := store.Entries()
	response := ThresholdsResponse{
		Model:      h.meta.Name,
		RunID:      h.model.RunID(),
		Thresholds: []ThresholdRecord{},
	}
	for _, seg := range store.Segments() {
		e := entries[seg]
		if tc != "" && seg.TimeControl != tc {
			continue
		}
		if calibratedOnly && e.Metric == nil {
			continue
		}
		response.Thresholds = append(response.Thresholds, record(seg, e))
	}
	response.Count = len(response.Thresholds)

	h.writeJSON(w, http.StatusOK, response)
}

// Threshold handles GET /thresholds/{time_control}/{bin}; bin is either the
// lower bound ("1500") or the label ("1500-1600")
func (h *Handlers) Threshold(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tc := features.TimeControl(vars["time_control"])
	if !tc.Recognized() {
		h.writeError(w, r, http.StatusBadRequest, "invalid_time_control",
			fmt.Sprintf("unrecognized time control %q", tc))
		return
	}

	bin, err := parseBin(vars["bin"])
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_rating_bin", err.Error())
		return
	}

	seg := features.Segment{TimeControl: tc, Bin: bin}
	e, err := h.model.Store().Entry(seg)
	if errors.Is(err, thresholds.ErrSegmentNotFound) {
		h.writeError(w, r, http.StatusNotFound, "segment_not_found",
			fmt.Sprintf("no threshold for %s", seg))
		return
	}
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, record(seg, e))
}

func parseBin(v string) (int, error) {
	if strings.Contains(strings.TrimPrefix(v, "-"), "-") {
		return features.ParseLabel(v)
	}
	bin, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid rating bin %q", v)
	}
	return bin, nil
}
