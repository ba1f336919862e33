// File: internal/reporting/reporter.go

// Package reporting renders end-of-run summaries: a console rendering for
// the operator plus optional machine-readable report files.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/wyatt727/BSTI/api/schemas"
)

// Reporter writes a run summary to an output.
type Reporter interface {
	// Write renders one summary. A reporter renders a single run.
	Write(summary *schemas.RunSummary) error
	// Close finalizes the report and releases the underlying handle.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a reporter for the given format writing to outputPath. An
// empty path or "stdout" writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdout := outputPath == "" || outputPath == "stdout"

	if isStdout {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create report file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "console", "":
		return NewConsole(writer), nil
	case "json":
		return NewJSON(writer), nil
	case "csv":
		return NewCSV(writer), nil
	default:
		if !isStdout {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// Console wraps w in the console reporter used for the unconditional
// end-of-run rendering; Close leaves the writer open.
func Console(w io.Writer) Reporter {
	return NewConsole(&nopWriteCloser{w})
}
