package fetcher

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
)

// Indeterminate is the Percent value reported when the size is unknown.
const Indeterminate = -1

// Progress is a snapshot of a running download.
type Progress struct {
	// Received is the number of bytes received so far.
	Received int64
	// Total is the advertised size, or -1 when unknown.
	Total int64
	// Percent is 0..100, or Indeterminate.
	Percent int
	// Done is set on the final report.
	Done bool
}

// ProgressFunc receives download progress.
type ProgressFunc func(Progress)

// tracker counts bytes passing through it and reports them.
type tracker struct {
	total    int64
	received int64
	report   ProgressFunc
}

func newTracker(total int64, report ProgressFunc) *tracker {
	return &tracker{total: total, report: report}
}

// Write implements io.Writer for io.TeeReader.
func (t *tracker) Write(p []byte) (int, error) {
	t.received += int64(len(p))
	t.emit(false)

	return len(p), nil
}

func (t *tracker) finish() {
	t.emit(true)
}

func (t *tracker) emit(done bool) {
	if t.report == nil {
		return
	}

	t.report(Progress{
		Received: t.received,
		Total:    t.total,
		Percent:  percentOf(t.received, t.total),
		Done:     done,
	})
}

// percentOf returns the completed share, or Indeterminate for unknown totals.
func percentOf(received, total int64) int {
	if total <= 0 {
		return Indeterminate
	}

	if received >= total {
		return 100
	}

	return int(received * 100 / total)
}

// LineReporter renders progress as a single carriage-return line.
type LineReporter struct {
	mu          sync.Mutex
	output      io.Writer
	lastPercent int
	lastLength  int
}

// NewLineReporter creates a reporter writing to output.
func NewLineReporter(output io.Writer) *LineReporter {
	return &LineReporter{output: output, lastPercent: Indeterminate - 1}
}

// Report implements ProgressFunc. Known sizes redraw only when the percentage changes.
func (r *LineReporter) Report(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Percent != Indeterminate && p.Percent == r.lastPercent && !p.Done {
		return
	}

	r.lastPercent = p.Percent

	var line string
	if p.Percent == Indeterminate {
		line = fmt.Sprintf("Downloading: %s", humanize.IBytes(uint64(p.Received)))
	} else {
		line = fmt.Sprintf("Downloading: %3d%% (%s / %s)",
			p.Percent,
			humanize.IBytes(uint64(p.Received)),
			humanize.IBytes(uint64(p.Total)))
	}

	padding := max(r.lastLength-len(line), 0)
	r.lastLength = len(line)

	_, _ = fmt.Fprintf(r.output, "\r%s%*s", line, padding, "")

	if p.Done {
		_, _ = fmt.Fprintln(r.output)
	}
}
