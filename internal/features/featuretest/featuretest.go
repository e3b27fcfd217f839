// Package featuretest builds the small feature tables shared by package tests.
package featuretest

import (
	"fmt"

	"github.com/sawpanic/perfguard/internal/features"
)

// Players returns "test_player{from}".."test_player{to}"
func Players(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("test_player%d", i))
	}
	return out
}

// Rows builds one row per perf diff, all in the same segment
func Rows(players []string, tc features.TimeControl, bin int, perfDiffs []float64) []features.Row {
	rows := make([]features.Row, len(perfDiffs))
	for i, perf := range perfDiffs {
		rating := float64(bin + 10*(i+1))
		gain := 1.0
		if i%2 == 1 {
			gain = -1.0
		}
		increment := 0.0
		if tc == features.Blitz {
			increment = 1.0
		}
		rows[i] = features.Row{
			Player:                   players[i],
			TimeControl:              tc,
			RatingBin:                bin,
			NumberOfGames:            100,
			MeanPerfDiff:             perf,
			StdPerfDiff:              0.005,
			MeanRating:               rating,
			MedianRating:             rating,
			StdRating:                10,
			MeanOpponentRating:       rating,
			StdOpponentRating:        10,
			MeanRatingGain:           gain,
			StdRatingGain:            0.01,
			ProportionIncrementGames: increment,
		}
	}
	return rows
}

// TrainRows is the training set: blitz 1500-1600 and bullet 1600-1700 for
// test_player1..6. Calibration against TrainStatuses selects 0.16 and 0.17.
func TrainRows() []features.Row {
	players := Players(1, 6)
	rows := Rows(players, features.Blitz, 1500, []float64{0.155, 0.16, 0.17, 0.18, 0.19, 0.25})
	return append(rows, Rows(players, features.Bullet, 1600, []float64{0.16, 0.17, 0.18, 0.19, 0.20, 0.26})...)
}

// TrainStatuses are the account statuses for TrainRows players
func TrainStatuses() map[string]string {
	return map[string]string{
		"test_player1": "open",
		"test_player2": "open",
		"test_player3": "tosViolation",
		"test_player4": "tosViolation",
		"test_player5": "tosViolation",
		"test_player6": "closed",
	}
}

// TestRows is the held-out set for test_player7..12, of which 10, 11 and 12
// perform above expectation in both time controls.
func TestRows() []features.Row {
	players := Players(7, 12)
	rows := Rows(players, features.Blitz, 1500, []float64{0.04, 0.06, 0.15, 0.161, 0.17, 0.25})
	return append(rows, Rows(players, features.Bullet, 1600, []float64{0.15, 0.15, 0.16, 0.171, 0.18, 0.25})...)
}

// TestStatuses are the account statuses for TestRows players
func TestStatuses() map[string]string {
	return map[string]string{
		"test_player7":  "open",
		"test_player8":  "open",
		"test_player9":  "open",
		"test_player10": "closed",
		"test_player11": "tosViolation",
		"test_player12": "tosViolation",
	}
}
