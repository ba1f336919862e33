// File: internal/enrich/enrich_test.go
package enrich_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/enrich"
)

func baseFlaw() schemas.Flaw {
	return schemas.Flaw{
		FlawKey:         "abc123",
		Title:           "(External) SSH Misconfigurations",
		Severity:        schemas.SeverityMedium,
		Scope:           schemas.ScopeExternal,
		Recommendations: "<p>Harden the SSH configuration.</p>",
	}
}

func TestScreenshotName(t *testing.T) {
	t.Parallel()

	// md5("test") is a fixed vector; the lowercasing makes casing irrelevant.
	assert.Equal(t, "098f6bcd4621d373cade4e832627b4f6.png", enrich.ScreenshotName("test"))
	assert.Equal(t, enrich.ScreenshotName("TEST"), enrich.ScreenshotName("test"))
	assert.NotEqual(t, enrich.ScreenshotName("one"), enrich.ScreenshotName("two"))
}

func TestEnrichAddsScopeTag(t *testing.T) {
	t.Parallel()

	flaws := enrich.New(false, "", zap.NewNop()).Enrich([]schemas.Flaw{baseFlaw()})

	require.Len(t, flaws, 1)
	assert.Equal(t, []string{"external_finding"}, flaws[0].Tags)
}

func TestEnrichNonCoreFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity schemas.Severity
		tags     []string
	}{
		{schemas.SeverityInformational, []string{"external_finding"}},
		{schemas.SeverityLow, []string{"external_finding", "priority_low", "complexity_easy"}},
		{schemas.SeverityMedium, []string{"external_finding", "priority_medium", "complexity_intermediate"}},
		{schemas.SeverityHigh, []string{"external_finding", "priority_high", "complexity_complex"}},
		{schemas.SeverityCritical, []string{"external_finding", "priority_high", "complexity_complex"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.severity), func(t *testing.T) {
			t.Parallel()

			flaw := baseFlaw()
			flaw.Severity = tc.severity
			flaws := enrich.New(true, "", zap.NewNop()).Enrich([]schemas.Flaw{flaw})

			require.Len(t, flaws, 1)
			assert.Equal(t, tc.tags, flaws[0].Tags)

			var keys []string
			for _, cf := range flaws[0].CustomFields {
				keys = append(keys, cf.Key)
			}
			assert.Equal(t, []string{"recommendation_title", "owner", "remediation_details"}, keys)
		})
	}
}

func TestEnrichRemediationFieldTracksRecommendations(t *testing.T) {
	t.Parallel()

	with := baseFlaw()
	without := baseFlaw()
	without.Recommendations = ""

	flaws := enrich.New(false, "", zap.NewNop()).Enrich([]schemas.Flaw{with, without})

	require.Len(t, flaws, 2)
	require.Len(t, flaws[0].CustomFields, 1)
	assert.Equal(t, "Detailed Information and Remediation", flaws[0].CustomFields[0].Label)
	assert.Equal(t, "<p>Harden the SSH configuration.</p>", flaws[0].CustomFields[0].Value)
	assert.Empty(t, flaws[1].CustomFields)
}

func TestEnrichScreenshotMatching(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	flaw := baseFlaw()
	path := filepath.Join(dir, enrich.ScreenshotName(flaw.Title))
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	missing := baseFlaw()
	missing.Title = "(External) TLS Weaknesses"

	flaws := enrich.New(false, dir, zap.NewNop()).Enrich([]schemas.Flaw{flaw, missing})

	require.Len(t, flaws, 2)
	assert.Equal(t, path, flaws[0].ScreenshotRef)
	assert.Empty(t, flaws[1].ScreenshotRef)
}

func TestEnrichPreservesIdentity(t *testing.T) {
	t.Parallel()

	flaw := baseFlaw()
	flaws := enrich.New(true, t.TempDir(), zap.NewNop()).Enrich([]schemas.Flaw{flaw})

	require.Len(t, flaws, 1)
	assert.Equal(t, flaw.FlawKey, flaws[0].FlawKey)
	assert.Equal(t, flaw.Title, flaws[0].Title)
	assert.Equal(t, flaw.Severity, flaws[0].Severity)
}
