// File: internal/categories/classifier.go
package categories

import (
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

// Classifier resolves check ids to categories through an index built once
// from the map. Lookups are O(1). A check id declared under more than one
// category resolves to the first category in map-declaration order; every
// such conflict is recorded as a ClassifierWarning at build time.
type Classifier struct {
	index    map[string]*Category
	warnings []schemas.ClassifierWarning
}

// NewClassifier builds the index for a loaded map.
func NewClassifier(m *Map, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("classifier")

	c := &Classifier{index: make(map[string]*Category)}
	conflicts := make(map[string]*schemas.ClassifierWarning)

	for i := range m.Categories {
		cat := &m.Categories[i]
		for _, id := range cat.MemberCheckIDs {
			winner, taken := c.index[id]
			if !taken {
				c.index[id] = cat
				continue
			}
			// Later declaration loses; surface it, don't drop it.
			if w, seen := conflicts[id]; seen {
				w.Losers = append(w.Losers, cat.Name)
				continue
			}
			warning := schemas.ClassifierWarning{
				CheckID: id,
				Winner:  winner.Name,
				Losers:  []string{cat.Name},
			}
			conflicts[id] = &warning
			logger.Warn("Check id declared in multiple categories; first declaration wins.",
				zap.String("check_id", id),
				zap.String("winner", winner.Name),
				zap.String("also_declared_in", cat.Name))
		}
	}

	// Materialize warnings in first-conflict order for a stable summary.
	seen := make(map[string]bool, len(conflicts))
	for i := range m.Categories {
		for _, id := range m.Categories[i].MemberCheckIDs {
			if w, ok := conflicts[id]; ok && !seen[id] {
				c.warnings = append(c.warnings, *w)
				seen[id] = true
			}
		}
	}
	return c
}

// Classify resolves a check id. The second return is false for uncategorized
// check ids.
func (c *Classifier) Classify(checkID string) (*Category, bool) {
	cat, ok := c.index[checkID]
	return cat, ok
}

// Warnings returns the multi-membership conflicts found at build time.
func (c *Classifier) Warnings() []schemas.ClassifierWarning {
	return c.warnings
}
