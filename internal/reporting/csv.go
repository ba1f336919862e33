// File: internal/reporting/csv.go
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/wyatt727/BSTI/api/schemas"
)

var csvHeader = []string{"flaw_key", "title", "disposition", "remote_id", "error"}

// CSVReporter writes one row per flaw outcome.
type CSVReporter struct {
	writer io.WriteCloser
}

// NewCSV returns a CSV reporter writing to w.
func NewCSV(w io.WriteCloser) *CSVReporter {
	return &CSVReporter{writer: w}
}

// Write emits a header row followed by one row per outcome in summary order.
func (r *CSVReporter) Write(s *schemas.RunSummary) error {
	cw := csv.NewWriter(r.writer)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, o := range s.Outcomes {
		row := []string{o.FlawKey, o.Title, string(o.Disposition), o.RemoteID, o.Error}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", o.FlawKey, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV report: %w", err)
	}
	return nil
}

// Close releases the underlying writer.
func (r *CSVReporter) Close() error {
	return r.writer.Close()
}
