// File: internal/consolidate/consolidate.go

// Package consolidate merges normalized findings into upload-ready flaws.
// Categorized findings collapse many-to-one per (category, scope); findings
// without a category keep one flaw per (check id, host). Severity filtering
// happens here and nowhere else.
package consolidate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/categories"
)

// keySeparator joins flaw key components. A non-printing separator keeps
// crafted titles from colliding with category or scope names.
const keySeparator = "\x1f"

// FlawKey derives the stable identity of a flaw. It is a pure function of
// the group identifier (category name, or check id for uncategorized flaws),
// the scope, and the already-prefixed title; the same inputs always produce
// the same key, which is what makes cross-run reconciliation possible.
func FlawKey(groupID string, scope schemas.Scope, prefixedTitle string) string {
	h := sha256.New()
	h.Write([]byte(groupID))
	h.Write([]byte(keySeparator))
	h.Write([]byte(scope))
	h.Write([]byte(keySeparator))
	h.Write([]byte(prefixedTitle))
	return hex.EncodeToString(h.Sum(nil))
}

// Engine consolidates one run's findings under a single scope.
type Engine struct {
	classifier *categories.Classifier
	scope      schemas.Scope
	floor      schemas.Severity
	logger     *zap.Logger
}

// New returns an engine for the given scope and severity floor. Findings
// below the floor never reach a flaw; the default floor (Low) is what keeps
// Informational findings out.
func New(classifier *categories.Classifier, scope schemas.Scope, floor schemas.Severity, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		classifier: classifier,
		scope:      scope,
		floor:      floor,
		logger:     logger.Named("consolidate"),
	}
}

// group accumulates the members of one future flaw in arrival order.
type group struct {
	category *categories.Category // nil for uncategorized groups
	checkID  string
	members  []schemas.Finding
}

// Consolidate filters, groups and merges findings into flaws. The returned
// slice is ordered by severity (highest first), then title, for stable
// output; upload order carries no meaning beyond readability.
func (e *Engine) Consolidate(findings []schemas.Finding) []schemas.Flaw {
	groups := make(map[string]*group)
	var order []string

	dropped := 0
	for _, f := range findings {
		if !f.Severity.AtLeast(e.floor) {
			dropped++
			continue
		}

		var key string
		var cat *categories.Category
		if c, ok := e.classifier.Classify(f.CheckID); ok {
			cat = c
			key = "cat" + keySeparator + c.Name
		} else {
			// Uncategorized findings only collapse duplicates for the
			// same host.
			key = "chk" + keySeparator + f.CheckID + keySeparator + f.Host
		}

		g, ok := groups[key]
		if !ok {
			g = &group{category: cat, checkID: f.CheckID}
			groups[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, f)
	}

	flaws := make([]schemas.Flaw, 0, len(order))
	for _, key := range order {
		flaws = append(flaws, e.buildFlaw(groups[key]))
	}

	sort.SliceStable(flaws, func(i, j int) bool {
		if flaws[i].Severity.Ordinal() != flaws[j].Severity.Ordinal() {
			return flaws[i].Severity.Ordinal() > flaws[j].Severity.Ordinal()
		}
		return flaws[i].Title < flaws[j].Title
	})

	e.logger.Info("Findings consolidated.",
		zap.Int("findings_in", len(findings)),
		zap.Int("below_floor", dropped),
		zap.Int("flaws_out", len(flaws)),
		zap.String("scope", string(e.scope)))
	return flaws
}

// buildFlaw merges one group into its flaw.
func (e *Engine) buildFlaw(g *group) schemas.Flaw {
	prefix := e.scope.TitlePrefix()

	severity := g.members[0].Severity
	assets := make([]schemas.Asset, 0, len(g.members))
	seenAssets := make(map[schemas.Asset]bool)
	for _, m := range g.members {
		severity = schemas.MaxSeverity(severity, m.Severity)
		if a := m.Asset(); !seenAssets[a] {
			seenAssets[a] = true
			assets = append(assets, a)
		}
	}
	schemas.SortAssets(assets)

	references := collectReferences(g.members)

	if g.category != nil {
		title := prefix + g.category.DisplayTitle
		return schemas.Flaw{
			FlawKey:         FlawKey(g.category.Name, e.scope, title),
			Title:           title,
			Severity:        severity,
			Scope:           e.scope,
			Category:        g.category.Name,
			WriteupDBID:     g.category.WriteupDBID,
			Description:     mergeDescriptions(g.category.Description, g.members),
			Recommendations: g.category.Recommendations,
			References:      references,
			AffectedAssets:  assets,
		}
	}

	first := g.members[0]
	title := prefix + first.Title
	return schemas.Flaw{
		FlawKey:         FlawKey(g.checkID, e.scope, title),
		Title:           title,
		Severity:        severity,
		Scope:           e.scope,
		CheckID:         g.checkID,
		Description:     first.Description,
		Recommendations: first.Solution,
		References:      references,
		AffectedAssets:  assets,
	}
}

// mergeDescriptions renders the category description followed by one chunk
// per distinct member title: a bold header with the observed severity, the
// member's description the first time that text appears, and the member
// asset list. Duplicate member rows collapse into their chunk.
func mergeDescriptions(categoryDescription string, members []schemas.Finding) string {
	type chunk struct {
		title       string
		severity    schemas.Severity
		description string
		assets      []schemas.Asset
		seen        map[schemas.Asset]bool
	}

	chunks := make(map[string]*chunk)
	var order []string
	seenDescriptions := make(map[string]bool)

	for _, m := range members {
		c, ok := chunks[m.Title]
		if !ok {
			c = &chunk{title: m.Title, severity: m.Severity, seen: make(map[schemas.Asset]bool)}
			if desc := strings.TrimSpace(m.Description); desc != "" && !seenDescriptions[desc] {
				seenDescriptions[desc] = true
				c.description = desc
			}
			chunks[m.Title] = c
			order = append(order, m.Title)
		}
		c.severity = schemas.MaxSeverity(c.severity, m.Severity)
		if a := m.Asset(); !c.seen[a] {
			c.seen[a] = true
			c.assets = append(c.assets, a)
		}
	}

	var b strings.Builder
	if categoryDescription != "" {
		b.WriteString(categoryDescription)
	}
	for _, title := range order {
		c := chunks[title]
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<p><b>%s (severity: %s)</b></p>", c.title, c.severity)
		if c.description != "" {
			fmt.Fprintf(&b, "<p>%s</p>", c.description)
		}
		b.WriteString("<ul>")
		for _, line := range schemas.RenderAssets(c.assets) {
			fmt.Fprintf(&b, "<li>%s</li>", line)
		}
		b.WriteString("</ul>")
	}
	return b.String()
}

// collectReferences unions the members' see-also links, newline-split,
// first-seen order.
func collectReferences(members []schemas.Finding) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range members {
		for _, line := range strings.Split(m.SeeAlso, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			refs = append(refs, line)
		}
	}
	return refs
}
