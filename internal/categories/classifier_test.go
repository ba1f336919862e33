// File: internal/categories/classifier_test.go
package categories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClassifierLookups(t *testing.T) {
	t.Parallel()

	m := &Map{Categories: []Category{
		{Name: "SSH", DisplayTitle: "SSH Misconfigurations", MemberCheckIDs: []string{"10881", "90317"}},
		{Name: "TLS", DisplayTitle: "TLS Weaknesses", MemberCheckIDs: []string{"20007"}},
		{Name: "Empty", DisplayTitle: "Placeholder"},
	}}
	c := NewClassifier(m, zap.NewNop())

	cat, ok := c.Classify("10881")
	require.True(t, ok)
	assert.Equal(t, "SSH", cat.Name)

	cat, ok = c.Classify("20007")
	require.True(t, ok)
	assert.Equal(t, "TLS", cat.Name)

	_, ok = c.Classify("31337")
	assert.False(t, ok, "unknown check ids are uncategorized")

	assert.Empty(t, c.Warnings())
}

func TestClassifierFirstDeclarationWins(t *testing.T) {
	t.Parallel()

	m := &Map{Categories: []Category{
		{Name: "First", MemberCheckIDs: []string{"111", "222"}},
		{Name: "Second", MemberCheckIDs: []string{"222", "333"}},
		{Name: "Third", MemberCheckIDs: []string{"222"}},
	}}

	core, logs := observer.New(zap.WarnLevel)
	c := NewClassifier(m, zap.New(core))

	cat, ok := c.Classify("222")
	require.True(t, ok)
	assert.Equal(t, "First", cat.Name, "first declaration in map order must win")

	warnings := c.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "222", warnings[0].CheckID)
	assert.Equal(t, "First", warnings[0].Winner)
	assert.Equal(t, []string{"Second", "Third"}, warnings[0].Losers)

	assert.GreaterOrEqual(t, logs.Len(), 1, "conflicts must be logged, not silently recorded")
}

func TestClassifierEmptyCategoryNeverMatches(t *testing.T) {
	t.Parallel()

	m := &Map{Categories: []Category{{Name: "Empty", DisplayTitle: "Placeholder"}}}
	c := NewClassifier(m, zap.NewNop())

	_, ok := c.Classify("anything")
	assert.False(t, ok)
	assert.Empty(t, c.Warnings())
}
