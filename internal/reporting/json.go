// File: internal/reporting/json.go
package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/wyatt727/BSTI/api/schemas"
)

var json = jsoniter.Config{EscapeHTML: false, SortMapKeys: true, IndentionStep: 4}.Froze()

// JSONReporter writes the full run summary as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
}

// NewJSON returns a JSON reporter writing to w.
func NewJSON(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: w}
}

// Write marshals the summary verbatim, including every outcome, row error
// and classifier warning.
func (r *JSONReporter) Write(s *schemas.RunSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return nil
}

// Close releases the underlying writer.
func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
