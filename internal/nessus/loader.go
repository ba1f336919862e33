// File: internal/nessus/loader.go

// Package nessus parses scanner export files into normalized findings.
// Malformed rows are collected as RowErrors next to the findings that did
// parse; only a structurally unusable file aborts with a FormatError.
package nessus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wyatt727/BSTI/api/schemas"
)

// Required CSV columns, spelled the way the scanner exports them.
var requiredColumns = []string{
	"Plugin ID", "Name", "Risk", "Host", "Port", "Protocol", "Description",
}

// Optional columns picked up when present.
const (
	colSolution = "Solution"
	colSeeAlso  = "See Also"
	colCVE      = "CVE"
	colOutput   = "Plugin Output"
)

// denyList holds check ids that are pure scanner noise and never worth a
// finding. 11213 is the traceroute information plugin.
var denyList = map[string]string{
	"11213": "Track/Trace",
}

// Result is the outcome of loading one or more export files.
type Result struct {
	Findings  []schemas.Finding
	RowErrors []schemas.RowError
	Files     []string
}

// Loader reads scanner exports. Safe for concurrent use.
type Loader struct {
	logger *zap.Logger
}

// NewLoader returns a Loader logging under the "loader" component name.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("loader")}
}

// DiscoverInputs lists the export files (.csv and .nessus) directly inside
// dir, sorted by name for a deterministic load order.
func DiscoverInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".nessus":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Load parses every given file and merges the results in input order.
// Multi-file loads run one goroutine per file; a FormatError on any file
// fails the whole load fast, as does context cancellation.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Result, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files given")
	}

	perFile := make([]*Result, len(paths))
	if len(paths) == 1 {
		res, err := l.loadFile(ctx, paths[0])
		if err != nil {
			return nil, err
		}
		perFile[0] = res
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, path := range paths {
			g.Go(func() error {
				res, err := l.loadFile(gctx, path)
				if err != nil {
					return err
				}
				perFile[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	merged := &Result{Files: append([]string(nil), paths...)}
	for _, res := range perFile {
		merged.Findings = append(merged.Findings, res.Findings...)
		merged.RowErrors = append(merged.RowErrors, res.RowErrors...)
	}
	l.logger.Info("Export files loaded.",
		zap.Int("files", len(paths)),
		zap.Int("findings", len(merged.Findings)),
		zap.Int("row_errors", len(merged.RowErrors)))
	return merged, nil
}

// loadFile dispatches on the file extension.
func (l *Loader) loadFile(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nessus":
		return l.loadXML(path)
	default:
		return l.loadCSV(path)
	}
}

// loadCSV validates the header once, then parses row by row. Rows that fail
// to conform become RowErrors; the file keeps going.
func (l *Loader) loadCSV(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 0 // Enforce the header's width on every row.

	header, err := reader.Read()
	if err != nil {
		return nil, &schemas.FormatError{Path: path, Reason: "empty or unreadable file"}
	}
	columns, missing := indexHeader(header)
	if len(missing) > 0 {
		return nil, &schemas.FormatError{Path: path, Missing: missing}
	}

	res := &Result{Files: []string{path}}
	line := 1 // Header consumed; data records count from 2.
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			// A ragged or badly quoted row; the reader recovers on the
			// next record.
			res.RowErrors = append(res.RowErrors, schemas.RowError{
				Path: path, Line: line, Reason: rowReadReason(err),
			})
			continue
		}

		finding, rowErr := parseRow(path, line, columns, record)
		if rowErr != nil {
			res.RowErrors = append(res.RowErrors, *rowErr)
			continue
		}
		if note, denied := denyList[finding.CheckID]; denied {
			l.logger.Debug("Skipping deny-listed check.",
				zap.String("check_id", finding.CheckID),
				zap.String("plugin", note))
			continue
		}
		res.Findings = append(res.Findings, finding)
	}
	return res, nil
}

// indexHeader maps column names to positions and reports missing required
// columns. The first cell may carry a UTF-8 BOM.
func indexHeader(header []string) (map[string]int, []string) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		columns[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	return columns, missing
}

// parseRow converts one CSV record into a Finding, or explains why it can't.
func parseRow(path string, line int, columns map[string]int, record []string) (schemas.Finding, *schemas.RowError) {
	get := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	checkID := get("Plugin ID")
	fail := func(reason string) (schemas.Finding, *schemas.RowError) {
		return schemas.Finding{}, &schemas.RowError{Path: path, Line: line, CheckID: checkID, Reason: reason}
	}

	if checkID == "" {
		return fail("missing check identifier")
	}
	title := get("Name")
	if title == "" {
		return fail("missing finding title")
	}
	host := get("Host")
	if host == "" {
		return fail("missing host")
	}

	severity, err := schemas.ParseSeverity(get("Risk"))
	if err != nil {
		return fail(err.Error())
	}

	port := 0
	if raw := get("Port"); raw != "" {
		port, err = strconv.Atoi(raw)
		if err != nil || port < 0 {
			return fail(fmt.Sprintf("invalid port %q", raw))
		}
	}

	return schemas.Finding{
		CheckID:      checkID,
		Title:        title,
		Severity:     severity,
		Host:         host,
		Port:         port,
		Protocol:     strings.ToLower(get("Protocol")),
		Description:  get("Description"),
		EvidenceText: get(colOutput),
		Solution:     get(colSolution),
		SeeAlso:      get(colSeeAlso),
		CVE:          get(colCVE),
	}, nil
}

// rowReadReason trims the csv package's noisy prefix off recoverable read
// errors.
func rowReadReason(err error) string {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Err.Error()
	}
	return err.Error()
}
