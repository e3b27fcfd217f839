package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Column names understood by the loader
const (
	ColPlayer                   = "player"
	ColTimeControl              = "time_control"
	ColRatingBin                = "rating_bin"
	ColNumberOfGames            = "number_of_games"
	ColMeanPerfDiff             = "mean_perf_diff"
	ColStdPerfDiff              = "std_perf_diff"
	ColMeanRating               = "mean_rating"
	ColMedianRating             = "median_rating"
	ColStdRating                = "std_rating"
	ColMeanOpponentRating       = "mean_opponent_rating"
	ColStdOpponentRating        = "std_opponent_rating"
	ColMeanRatingGain           = "mean_rating_gain"
	ColStdRatingGain            = "std_rating_gain"
	ColProportionIncrementGames = "proportion_increment_games"
)

// RequiredColumns must be present for calibration and prediction to work
var RequiredColumns = []string{ColPlayer, ColTimeControl, ColRatingBin, ColMeanPerfDiff}

// DefaultColumns is the header used when rows were built in code
var DefaultColumns = []string{
	ColPlayer, ColTimeControl, ColNumberOfGames, ColMeanPerfDiff, ColStdPerfDiff,
	ColMeanRating, ColMedianRating, ColStdRating, ColMeanOpponentRating, ColStdOpponentRating,
	ColMeanRatingGain, ColStdRatingGain, ColProportionIncrementGames, ColRatingBin,
}

// Table is a loaded feature file with its original column order
type Table struct {
	Header []string
	Rows   []Row
}

// LoadCSV reads and validates a player feature file
func LoadCSV(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature file: %w", err)
	}
	defer file.Close()

	table, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ReadCSV parses a feature table. Unknown columns are kept in Row.Record.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := mapColumns(header)
	for _, col := range RequiredColumns {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("feature file missing required %q column", col)
		}
	}

	table := &Table{Header: header}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		row, err := parseRecord(record, columns)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func mapColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, column := range header {
		columns[strings.ToLower(strings.TrimSpace(column))] = i
	}
	return columns
}

func parseRecord(record []string, columns map[string]int) (Row, error) {
	row := Row{Record: record}

	cell := func(name string) (string, bool) {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[idx]), true
	}

	row.Player, _ = cell(ColPlayer)
	tc, _ := cell(ColTimeControl)
	row.TimeControl = TimeControl(tc)

	bin, _ := cell(ColRatingBin)
	ratingBin, err := parseInt(bin)
	if err != nil {
		return Row{}, fmt.Errorf("%s: %w", ColRatingBin, err)
	}
	row.RatingBin = ratingBin

	perf, _ := cell(ColMeanPerfDiff)
	if perf == "" {
		return Row{}, fmt.Errorf("%w: empty %s", ErrInvalidRow, ColMeanPerfDiff)
	}

	if v, ok := cell(ColNumberOfGames); ok && v != "" {
		games, err := parseInt(v)
		if err != nil {
			return Row{}, fmt.Errorf("%s: %w", ColNumberOfGames, err)
		}
		row.NumberOfGames = games
	}

	for name, dst := range map[string]*float64{
		ColMeanPerfDiff:             &row.MeanPerfDiff,
		ColStdPerfDiff:              &row.StdPerfDiff,
		ColMeanRating:               &row.MeanRating,
		ColMedianRating:             &row.MedianRating,
		ColStdRating:                &row.StdRating,
		ColMeanOpponentRating:       &row.MeanOpponentRating,
		ColStdOpponentRating:        &row.StdOpponentRating,
		ColMeanRatingGain:           &row.MeanRatingGain,
		ColStdRatingGain:            &row.StdRatingGain,
		ColProportionIncrementGames: &row.ProportionIncrementGames,
	} {
		v, ok := cell(name)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Row{}, fmt.Errorf("%s: %w", name, err)
		}
		*dst = f
	}

	return row, nil
}

// parseInt accepts "1500" as well as the "1500.0" form float-typed exporters write
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidRow, s)
	}
	return int(f), nil
}

// WriteAnnotatedCSV writes rows under header followed by extra columns. Rows that
// carry their source record are written verbatim; rows built in code are rendered
// from their typed fields.
func WriteAnnotatedCSV(w io.Writer, header []string, rows []Row, extraHeader []string, extra func(i int) []string) error {
	if len(header) == 0 {
		header = DefaultColumns
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(append(append([]string{}, header...), extraHeader...)); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i, row := range rows {
		record := row.Record
		if record == nil {
			record = row.render(header)
		}
		out := append(append([]string{}, record...), extra(i)...)
		if err := writer.Write(out); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (r Row) render(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = r.Field(col)
	}
	return out
}

// Field formats a known column of the row, or "" for unknown columns
func (r Row) Field(name string) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	switch strings.ToLower(name) {
	case ColPlayer:
		return r.Player
	case ColTimeControl:
		return string(r.TimeControl)
	case ColRatingBin:
		return strconv.Itoa(r.RatingBin)
	case ColNumberOfGames:
		return strconv.Itoa(r.NumberOfGames)
	case ColMeanPerfDiff:
		return f(r.MeanPerfDiff)
	case ColStdPerfDiff:
		return f(r.StdPerfDiff)
	case ColMeanRating:
		return f(r.MeanRating)
	case ColMedianRating:
		return f(r.MedianRating)
	case ColStdRating:
		return f(r.StdRating)
	case ColMeanOpponentRating:
		return f(r.MeanOpponentRating)
	case ColStdOpponentRating:
		return f(r.StdOpponentRating)
	case ColMeanRatingGain:
		return f(r.MeanRatingGain)
	case ColStdRatingGain:
		return f(r.StdRatingGain)
	case ColProportionIncrementGames:
		return f(r.ProportionIncrementGames)
	default:
		return ""
	}
}
