package accounts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotFound is returned by a Lookup for players the account service does not know
var ErrNotFound = errors.New("account not found")

// Lookup resolves the current status of one player against the account service
type Lookup interface {
	Lookup(ctx context.Context, player string) (Status, error)
}

// LookupFunc adapts a function to Lookup
type LookupFunc func(ctx context.Context, player string) (Status, error)

func (f LookupFunc) Lookup(ctx context.Context, player string) (Status, error) {
	return f(ctx, player)
}

// StaticLookup answers from a fixed table, for offline runs against a status export
type StaticLookup map[string]Status

func (s StaticLookup) Lookup(_ context.Context, player string) (Status, error) {
	status, ok := s[player]
	if !ok || !status.Known() {
		return StatusUnknown, fmt.Errorf("%w: %s", ErrNotFound, player)
	}
	return status, nil
}

// LoadStatusFile reads a "player,status" CSV export. A header row is optional.
func LoadStatusFile(path string) (StaticLookup, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open status file: %w", err)
	}
	defer file.Close()

	table, err := ReadStatuses(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ReadStatuses parses a "player,status" CSV
func ReadStatuses(r io.Reader) (StaticLookup, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	table := make(StaticLookup)
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		player, label := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if line == 1 && player == "player" {
			continue
		}

		status, err := ParseStatus(label)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		table[player] = status
	}

	return table, nil
}
