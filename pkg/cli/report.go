package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datamap/datamap-cli/pkg/download"
	"github.com/datamap/datamap-cli/pkg/progress"
)

// ProgressPrinter renders aggregator snapshots as a single updating line
// on stderr. It is the display collaborator; the transfer engine knows
// nothing about it.
type ProgressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewProgressPrinter() *ProgressPrinter {
	return &ProgressPrinter{out: os.Stderr}
}

func (p *ProgressPrinter) Print(s progress.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var speed string
	if s.Elapsed > 0 {
		perSec := uint64(float64(s.BytesDone) / s.Elapsed.Seconds())
		speed = fmt.Sprintf("%s/s", humanize.IBytes(perSec))
	} else {
		speed = "-"
	}
	fmt.Fprintf(p.out, "\rDownloading: %d active, %d finished | %s / %s | %s    ",
		s.Active,
		s.Finished,
		humanize.IBytes(uint64(s.BytesDone)),
		humanize.IBytes(uint64(s.TotalBytes)),
		speed,
	)
}

// Done terminates the progress line so subsequent output starts clean.
func (p *ProgressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
}

// PrintReport writes the final per-file report. Verbose mode adds attempt
// counts; failed files always carry a human-readable reason.
func PrintReport(w io.Writer, report *download.Report, elapsed time.Duration, verbose bool) {
	for i := range report.Results {
		res := &report.Results[i]
		switch res.State {
		case download.StateCompleted:
			line := fmt.Sprintf("  ok       %s (%s)", res.Descriptor.Name, humanize.IBytes(uint64(res.Descriptor.SizeBytes)))
			if verbose {
				line += fmt.Sprintf(" [attempts: %d, checksum verified: %t]", res.Attempts, res.ChecksumVerified)
			}
			fmt.Fprintln(w, line)
		case download.StatePaused:
			fmt.Fprintf(w, "  paused   %s (%s of %s downloaded, resumable)\n",
				res.Descriptor.Name,
				humanize.IBytes(uint64(res.BytesTransferred)),
				humanize.IBytes(uint64(res.Descriptor.SizeBytes)))
		default:
			line := fmt.Sprintf("  failed   %s: %v", res.Descriptor.Name, res.Err)
			if verbose {
				line += fmt.Sprintf(" [attempts: %d]", res.Attempts)
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "%d of %d files downloaded in %s (%s)\n",
		report.Completed(), len(report.Results), elapsed.Round(time.Millisecond), report.Rollup)
}
