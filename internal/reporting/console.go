// File: internal/reporting/console.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wyatt727/BSTI/api/schemas"
)

// ConsoleReporter renders a run summary as human-readable text.
type ConsoleReporter struct {
	writer io.WriteCloser
}

// NewConsole returns a console reporter writing to w.
func NewConsole(w io.WriteCloser) *ConsoleReporter {
	return &ConsoleReporter{writer: w}
}

// Write renders the summary. The whole rendering is built up front and
// written once, so a broken pipe cannot leave a half-printed table.
func (r *ConsoleReporter) Write(s *schemas.RunSummary) error {
	var b strings.Builder

	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	duration := s.FinishedAt.Sub(s.StartedAt).Round(10 * time.Millisecond)
	fmt.Fprintf(&b, "\nRun %s%s finished in %s (scope %s)\n", s.RunID, mode, duration, s.Scope)
	fmt.Fprintf(&b, "  files: %d   findings: %d   flaws: %d\n",
		s.FilesLoaded, s.FindingsTotal, s.FlawsTotal)

	if s.DryRun {
		wouldCreate, wouldUpdate := 0, 0
		for _, o := range s.Outcomes {
			if o.Disposition != schemas.DispositionPlanned {
				continue
			}
			if o.RemoteID == "" {
				wouldCreate++
			} else {
				wouldUpdate++
			}
		}
		fmt.Fprintf(&b, "  would create: %d   would update: %d   unchanged: %d\n",
			wouldCreate, wouldUpdate, s.Unchanged)
	} else {
		fmt.Fprintf(&b, "  created: %d   updated: %d   unchanged: %d   failed: %d\n",
			s.Created, s.Updated, s.Unchanged, s.Failed)
	}

	if s.Failed > 0 {
		fmt.Fprintf(&b, "\nFailed flaws:\n")
		for _, o := range s.Outcomes {
			if o.Disposition != schemas.DispositionFailed {
				continue
			}
			fmt.Fprintf(&b, "  %s  %s\n      %s\n", o.FlawKey, o.Title, o.Error)
		}
	}

	if len(s.RowErrors) > 0 {
		fmt.Fprintf(&b, "\nSkipped rows (%d):\n", len(s.RowErrors))
		for _, re := range s.RowErrors {
			fmt.Fprintf(&b, "  %s\n", re.Error())
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintf(&b, "\nClassifier warnings (%d):\n", len(s.Warnings))
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "  %s\n", w.String())
		}
	}

	_, err := io.WriteString(r.writer, b.String())
	return err
}

// Close releases the underlying writer.
func (r *ConsoleReporter) Close() error {
	return r.writer.Close()
}
