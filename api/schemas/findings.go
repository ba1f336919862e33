// File: api/schemas/findings.go
package schemas

import (
	"fmt"
	"sort"
	"strings"
)

// -- Severity --

// Severity represents the severity level of a finding. The canonical values
// match the scanner's Risk column spelling so they survive round-trips
// through export files and platform payloads unchanged.
type Severity string

// Constants defining the standard severity levels, lowest to highest.
const (
	SeverityInformational Severity = "Informational"
	SeverityLow           Severity = "Low"
	SeverityMedium        Severity = "Medium"
	SeverityHigh          Severity = "High"
	SeverityCritical      Severity = "Critical"
)

// severityOrdinals fixes the ordering used for floors and merge maxima.
var severityOrdinals = map[Severity]int{
	SeverityInformational: 1,
	SeverityLow:           2,
	SeverityMedium:        3,
	SeverityHigh:          4,
	SeverityCritical:      5,
}

// Ordinal returns the numeric rank of the severity (Informational=1 ..
// Critical=5). Unknown severities rank below Informational.
func (s Severity) Ordinal() int {
	return severityOrdinals[s]
}

// Valid reports whether the severity is one of the five known levels.
func (s Severity) Valid() bool {
	_, ok := severityOrdinals[s]
	return ok
}

// AtLeast reports whether s ranks at or above the floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Ordinal() >= floor.Ordinal()
}

// ParseSeverity normalizes a scanner risk string to a Severity. The scanner
// spells the informational level "None" in CSV exports and "0" in native XML
// risk factors; both map to Informational.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "4":
		return SeverityCritical, nil
	case "high", "3":
		return SeverityHigh, nil
	case "medium", "2":
		return SeverityMedium, nil
	case "low", "1":
		return SeverityLow, nil
	case "none", "informational", "info", "0":
		return SeverityInformational, nil
	default:
		return "", fmt.Errorf("unknown severity %q", raw)
	}
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Ordinal() > a.Ordinal() {
		return b
	}
	return a
}

// -- Scope --

// Scope is the assessment context a run operates under. It disambiguates
// otherwise-identical flaw titles between engagement types.
type Scope string

// Constants for the supported assessment scopes.
const (
	ScopeInternal     Scope = "internal"
	ScopeExternal     Scope = "external"
	ScopeWeb          Scope = "web"
	ScopeMobile       Scope = "mobile"
	ScopeSurveillance Scope = "surveillance"
)

// scopeTitlePrefixes are fixed literals. They keep flaw identity distinct
// between scopes that would otherwise collide on identical titles, so they
// are deliberately not configurable.
var scopeTitlePrefixes = map[Scope]string{
	ScopeInternal:     "",
	ScopeExternal:     "(External) ",
	ScopeWeb:          "(Web) ",
	ScopeMobile:       "(Mobile) ",
	ScopeSurveillance: "(Surveillance) ",
}

// scopeTags map each scope to the platform tag attached to every flaw
// uploaded under it.
var scopeTags = map[Scope]string{
	ScopeInternal:     "internal_finding",
	ScopeExternal:     "external_finding",
	ScopeWeb:          "webapp_finding",
	ScopeMobile:       "mobileapp_finding",
	ScopeSurveillance: "surveillance_finding",
}

// Valid reports whether the scope is one of the supported contexts.
func (s Scope) Valid() bool {
	_, ok := scopeTags[s]
	return ok
}

// TitlePrefix returns the fixed marker prepended to flaw titles under this
// scope. Internal scope has no marker.
func (s Scope) TitlePrefix() string {
	return scopeTitlePrefixes[s]
}

// Tag returns the platform tag for the scope.
func (s Scope) Tag() string {
	return scopeTags[s]
}

// ParseScope normalizes an operator-supplied scope string.
func ParseScope(raw string) (Scope, error) {
	s := Scope(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown scope %q", raw)
	}
	return s, nil
}

// -- Finding --

// Finding is one normalized row from a scan export. Findings are immutable
// once parsed; many findings may share a CheckID.
type Finding struct {
	CheckID  string   `json:"check_id"` // Scanner plugin/check identifier.
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`

	Description  string `json:"description"`
	EvidenceText string `json:"evidence_text,omitempty"` // Raw plugin output.

	// Pass-through metadata, kept verbatim from the export.
	Solution string `json:"solution,omitempty"`
	SeeAlso  string `json:"see_also,omitempty"`
	CVE      string `json:"cve,omitempty"`
}

// Asset returns the finding's host/port/protocol tuple.
func (f Finding) Asset() Asset {
	return Asset{Host: f.Host, Port: f.Port, Protocol: f.Protocol}
}

// -- Asset --

// Asset is a (host, port, protocol) tuple a flaw affects.
type Asset struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// String renders the tuple in "host:port/protocol" form for logs and keys.
func (a Asset) String() string {
	return fmt.Sprintf("%s:%d/%s", a.Host, a.Port, a.Protocol)
}

// SortAssets orders assets by (host, protocol, port) in place and returns the
// slice. This is the canonical order used by fingerprints and rendered lists.
func SortAssets(assets []Asset) []Asset {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].Host != assets[j].Host {
			return assets[i].Host < assets[j].Host
		}
		if assets[i].Protocol != assets[j].Protocol {
			return assets[i].Protocol < assets[j].Protocol
		}
		return assets[i].Port < assets[j].Port
	})
	return assets
}

// RenderAssets formats assets the way the reporting platform expects:
// one line per (host, protocol) pair with unique ports sorted numerically,
// e.g. "10.0.0.1 (tcp 22; 80)". Host-level assets (port 0) render bare.
func RenderAssets(assets []Asset) []string {
	type hostProto struct {
		host, proto string
	}
	ports := make(map[hostProto][]int)
	order := make([]hostProto, 0, len(assets))
	for _, a := range SortAssets(append([]Asset(nil), assets...)) {
		key := hostProto{a.Host, a.Protocol}
		if _, seen := ports[key]; !seen {
			order = append(order, key)
		}
		ports[key] = appendUniquePort(ports[key], a.Port)
	}

	lines := make([]string, 0, len(order))
	for _, key := range order {
		ps := ports[key]
		if len(ps) == 1 && ps[0] == 0 {
			lines = append(lines, key.host)
			continue
		}
		rendered := make([]string, 0, len(ps))
		for _, p := range ps {
			rendered = append(rendered, fmt.Sprintf("%d", p))
		}
		lines = append(lines, fmt.Sprintf("%s (%s %s)", key.host, key.proto, strings.Join(rendered, "; ")))
	}
	return lines
}

func appendUniquePort(ports []int, p int) []int {
	for _, existing := range ports {
		if existing == p {
			return ports
		}
	}
	return append(ports, p)
}
