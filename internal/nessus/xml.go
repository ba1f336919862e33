// File: internal/nessus/xml.go
package nessus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

// loadXML parses a native .nessus (NessusClientData_v2) export. The XML
// export carries the same fields as the CSV plus per-item risk factors;
// items are normalized into the identical Finding shape.
func (l *Loader) loadXML(path string) (*Result, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, &schemas.FormatError{Path: path, Reason: fmt.Sprintf("not parseable XML: %v", err)}
	}

	root := doc.SelectElement("NessusClientData_v2")
	if root == nil {
		return nil, &schemas.FormatError{Path: path, Reason: "missing NessusClientData_v2 root element"}
	}

	res := &Result{Files: []string{path}}
	for _, report := range root.SelectElements("Report") {
		for _, host := range report.SelectElements("ReportHost") {
			hostName := host.SelectAttrValue("name", "")
			for _, item := range host.SelectElements("ReportItem") {
				finding, rowErr := parseReportItem(path, hostName, item)
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
		}
	}
	return res, nil
}

// parseReportItem normalizes one ReportItem element.
func parseReportItem(path, hostName string, item *etree.Element) (schemas.Finding, *schemas.RowError) {
	checkID := item.SelectAttrValue("pluginID", "")
	fail := func(reason string) (schemas.Finding, *schemas.RowError) {
		return schemas.Finding{}, &schemas.RowError{Path: path, CheckID: checkID, Reason: reason}
	}

	if checkID == "" {
		return fail("ReportItem missing pluginID")
	}
	if hostName == "" {
		return fail("ReportHost missing name")
	}
	title := item.SelectAttrValue("pluginName", "")
	if title == "" {
		return fail("ReportItem missing pluginName")
	}

	// Prefer the textual risk factor; fall back to the numeric severity
	// attribute older exports carry.
	rawSeverity := childText(item, "risk_factor")
	if rawSeverity == "" {
		rawSeverity = item.SelectAttrValue("severity", "")
	}
	severity, err := schemas.ParseSeverity(rawSeverity)
	if err != nil {
		return fail(err.Error())
	}

	port := 0
	if raw := item.SelectAttrValue("port", ""); raw != "" {
		port, err = strconv.Atoi(raw)
		if err != nil || port < 0 {
			return fail(fmt.Sprintf("invalid port %q", raw))
		}
	}

	var cves []string
	for _, cve := range item.SelectElements("cve") {
		if text := strings.TrimSpace(cve.Text()); text != "" {
			cves = append(cves, text)
		}
	}

	return schemas.Finding{
		CheckID:      checkID,
		Title:        title,
		Severity:     severity,
		Host:         hostName,
		Port:         port,
		Protocol:     strings.ToLower(item.SelectAttrValue("protocol", "")),
		Description:  childText(item, "description"),
		EvidenceText: childText(item, "plugin_output"),
		Solution:     childText(item, "solution"),
		SeeAlso:      childText(item, "see_also"),
		CVE:          strings.Join(cves, ", "),
	}, nil
}

// childText returns the trimmed text of a direct child element, or "".
func childText(parent *etree.Element, tag string) string {
	child := parent.SelectElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}
