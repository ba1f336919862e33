// File: internal/enrich/enrich.go

// Package enrich decorates consolidated flaws with tags, custom fields and
// screenshot references before upload. Enrichment never alters a flaw's
// identity: key, title and severity go in and come out unchanged.
package enrich

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

// Platform custom field identifiers. Labels are what reviewers see in the
// report UI, so they stay verbatim.
const (
	fieldRemediationKey   = "remediation_details"
	fieldRemediationLabel = "Detailed Information and Remediation"

	fieldRecommendationTitleKey   = "recommendation_title"
	fieldRecommendationTitleLabel = "Title of the recommendation - Short Recommendation"
	fieldRecommendationTitleValue = "FIXME"

	fieldOwnerKey   = "owner"
	fieldOwnerLabel = "Recommendation owner (who will fix the finding)"
	fieldOwnerValue = "Systems Administrator"
)

// severityTags maps a severity to the triage tags non-core reports carry.
// Informational flaws get none.
var severityTags = map[schemas.Severity][]string{
	schemas.SeverityLow:      {"priority_low", "complexity_easy"},
	schemas.SeverityMedium:   {"priority_medium", "complexity_intermediate"},
	schemas.SeverityHigh:     {"priority_high", "complexity_complex"},
	schemas.SeverityCritical: {"priority_high", "complexity_complex"},
}

// ScreenshotName returns the artifact filename a flaw's evidence screenshot
// must carry to be picked up: the MD5 hex of the lowercased flaw title plus
// a .png extension. Title casing never changes the match.
func ScreenshotName(title string) string {
	sum := md5.Sum([]byte(strings.ToLower(title)))
	return hex.EncodeToString(sum[:]) + ".png"
}

// Enricher applies the per-flaw decoration for one run.
type Enricher struct {
	nonCore       bool
	screenshotDir string
	logger        *zap.Logger
}

// New returns an enricher. An empty screenshotDir disables screenshot
// matching; nonCore controls the extra triage fields and tags.
func New(nonCore bool, screenshotDir string, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		nonCore:       nonCore,
		screenshotDir: screenshotDir,
		logger:        logger.Named("enrich"),
	}
}

// Enrich decorates flaws in place and returns the same slice.
func (e *Enricher) Enrich(flaws []schemas.Flaw) []schemas.Flaw {
	matched := 0
	for i := range flaws {
		e.enrichOne(&flaws[i])
		if flaws[i].ScreenshotRef != "" {
			matched++
		}
	}
	if e.screenshotDir != "" {
		e.logger.Info("Screenshot matching complete.",
			zap.Int("flaws", len(flaws)),
			zap.Int("matched", matched),
			zap.String("dir", e.screenshotDir))
	}
	return flaws
}

func (e *Enricher) enrichOne(flaw *schemas.Flaw) {
	flaw.Tags = appendTag(flaw.Tags, flaw.Scope.Tag())

	if e.nonCore {
		for _, tag := range severityTags[flaw.Severity] {
			flaw.Tags = appendTag(flaw.Tags, tag)
		}
		flaw.CustomFields = append(flaw.CustomFields,
			schemas.CustomField{Key: fieldRecommendationTitleKey, Label: fieldRecommendationTitleLabel, Value: fieldRecommendationTitleValue},
			schemas.CustomField{Key: fieldOwnerKey, Label: fieldOwnerLabel, Value: fieldOwnerValue},
		)
	}

	if flaw.Recommendations != "" {
		flaw.CustomFields = append(flaw.CustomFields, schemas.CustomField{
			Key:   fieldRemediationKey,
			Label: fieldRemediationLabel,
			Value: flaw.Recommendations,
		})
	}

	if e.screenshotDir == "" {
		return
	}
	name := ScreenshotName(flaw.Title)
	path := filepath.Join(e.screenshotDir, name)
	if _, err := os.Stat(path); err != nil {
		e.logger.Debug("No screenshot for flaw.",
			zap.String("title", flaw.Title),
			zap.String("expected", name))
		return
	}
	flaw.ScreenshotRef = path
}

func appendTag(tags []string, tag string) []string {
	for _, existing := range tags {
		if existing == tag {
			return tags
		}
	}
	return append(tags, tag)
}
