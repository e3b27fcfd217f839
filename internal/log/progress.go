package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// ProgressIndicator provides visual feedback for long-running operations
type ProgressIndicator struct {
	mu           sync.Mutex
	name         string
	total        int
	current      int
	startTime    time.Time
	out          io.Writer
	showProgress bool
	showETA      bool
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	ShowProgress bool
	ShowETA      bool
}

// DefaultProgressConfig shows a bar with ETA
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{ShowProgress: true, ShowETA: true}
}

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewProgressIndicator creates a new progress indicator writing to out
func NewProgressIndicator(name string, total int, out io.Writer, config ProgressConfig) *ProgressIndicator {
	return &ProgressIndicator{
		name:         name,
		total:        total,
		startTime:    time.Now(),
		out:          out,
		showProgress: config.ShowProgress,
		showETA:      config.ShowETA,
	}
}

// NewTerminalProgress writes to stderr when it is a terminal and falls back
// to debug log events otherwise
func NewTerminalProgress(name string, total int) *ProgressIndicator {
	if IsTerminal(os.Stderr) {
		return NewProgressIndicator(name, total, os.Stderr, DefaultProgressConfig())
	}
	return NewProgressIndicator(name, total, nil, ProgressConfig{})
}

// Increment advances progress by one step
func (pi *ProgressIndicator) Increment(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current++
	if pi.out == nil {
		log.Debug().Str("task", pi.name).Int("done", pi.current).Int("total", pi.total).Msg(message)
		return
	}
	pi.printProgress(message)
}

// Current returns the number of completed steps
func (pi *ProgressIndicator) Current() int {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.current
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := time.Since(pi.startTime).Round(time.Millisecond)
	if pi.out == nil {
		log.Debug().Str("task", pi.name).Int("total", pi.total).Dur("elapsed", duration).Msg("completed")
		return
	}
	fmt.Fprintf(pi.out, "\r\033[K%s completed (%d items, %v)\n", pi.name, pi.total, duration)
}

// Fail marks the progress as failed
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.out == nil {
		return
	}
	duration := time.Since(pi.startTime).Round(time.Millisecond)
	fmt.Fprintf(pi.out, "\r\033[K%s failed: %s (%v)\n", pi.name, reason, duration)
}

func (pi *ProgressIndicator) printProgress(message string) {
	var output strings.Builder

	// Clear line and return to beginning
	output.WriteString("\r\033[K")
	output.WriteString(pi.name)

	if pi.showProgress && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := int(float64(barWidth) * float64(pi.current) / float64(pi.total))

		output.WriteString(" [")
		output.WriteString(strings.Repeat("█", filled))
		output.WriteString(strings.Repeat("░", barWidth-filled))
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, percentage))
	} else if pi.total > 0 {
		output.WriteString(fmt.Sprintf(" (%d/%d)", pi.current, pi.total))
	}

	if pi.showETA && pi.total > 0 && pi.current > 0 && pi.current < pi.total {
		elapsed := time.Since(pi.startTime)
		rate := float64(pi.current) / elapsed.Seconds()
		eta := time.Duration(float64(pi.total-pi.current)/rate) * time.Second
		output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}

	fmt.Fprint(pi.out, output.String())
}
