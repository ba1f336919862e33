// File: internal/session/session.go

// Package session implements the category-map editing workflow: a pending
// change set layered over the persisted map, with read-only simulation of a
// full classification pass before anything is committed.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/categories"
	"github.com/wyatt727/BSTI/internal/consolidate"
	"github.com/wyatt727/BSTI/internal/nessus"
)

// OpKind distinguishes pending operations.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpRemove OpKind = "remove"
)

// Operation is one uncommitted map edit.
type Operation struct {
	Kind     OpKind
	Category string
	CheckID  string
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s %s", o.Kind, o.Category, o.CheckID)
}

// State reports whether a session holds uncommitted operations.
type State string

const (
	StateClean   State = "clean"
	StatePending State = "pending"
)

// Manager owns one editing session over a category map store. Operations
// accumulate in memory and reach the file only through Write; the persisted
// map is never mutated any other way.
type Manager struct {
	id      string
	store   *categories.Store
	loader  *nessus.Loader
	logger  *zap.Logger
	pending []Operation
}

// NewManager starts a clean session against the store.
func NewManager(store *categories.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Manager{
		id:     id,
		store:  store,
		loader: nessus.NewLoader(logger),
		logger: logger.Named("session").With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (m *Manager) ID() string { return m.id }

// State returns StatePending while uncommitted operations exist.
func (m *Manager) State() State {
	if len(m.pending) == 0 {
		return StateClean
	}
	return StatePending
}

// Pending returns a copy of the uncommitted operations in apply order.
func (m *Manager) Pending() []Operation {
	return append([]Operation(nil), m.pending...)
}

// Add queues adding checkID to category. The operation is validated against
// the map as it would look with everything already pending applied, so typos
// and duplicates surface at entry time rather than at commit.
func (m *Manager) Add(category, checkID string) error {
	overlay, err := m.overlay()
	if err != nil {
		return err
	}
	if err := overlay.AddID(category, checkID); err != nil {
		return err
	}
	m.pending = append(m.pending, Operation{Kind: OpAdd, Category: category, CheckID: checkID})
	m.logger.Info("Queued membership addition.",
		zap.String("category", category), zap.String("check_id", checkID))
	return nil
}

// Remove queues removing checkID from category, validated like Add.
func (m *Manager) Remove(category, checkID string) error {
	overlay, err := m.overlay()
	if err != nil {
		return err
	}
	if err := overlay.RemoveID(category, checkID); err != nil {
		return err
	}
	m.pending = append(m.pending, Operation{Kind: OpRemove, Category: category, CheckID: checkID})
	m.logger.Info("Queued membership removal.",
		zap.String("category", category), zap.String("check_id", checkID))
	return nil
}

// overlay returns the persisted map with every pending operation applied.
func (m *Manager) overlay() (*categories.Map, error) {
	persisted, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	return applyOps(persisted, m.pending)
}

func applyOps(m *categories.Map, ops []Operation) (*categories.Map, error) {
	out := m.Clone()
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpAdd:
			err = out.AddID(op.Category, op.CheckID)
		case OpRemove:
			err = out.RemoveID(op.Category, op.CheckID)
		default:
			err = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("applying pending %q: %w", op, err)
		}
	}
	return out, nil
}

// CategoryView is one category's resulting membership.
type CategoryView struct {
	Name     string
	CheckIDs []string
}

// View describes the session for display: the pending operations plus the
// membership each touched category would end up with after a write.
type View struct {
	State      State
	Pending    []Operation
	Categories []CategoryView
}

// View renders the session state without side effects.
func (m *Manager) View() (*View, error) {
	overlay, err := m.overlay()
	if err != nil {
		return nil, err
	}

	v := &View{State: m.State(), Pending: m.Pending()}
	touched := make(map[string]bool, len(m.pending))
	for _, op := range m.pending {
		touched[op.Category] = true
	}
	for i := range overlay.Categories {
		cat := &overlay.Categories[i]
		if !touched[cat.Name] {
			continue
		}
		v.Categories = append(v.Categories, CategoryView{
			Name:     cat.Name,
			CheckIDs: append([]string(nil), cat.MemberCheckIDs...),
		})
	}
	return v, nil
}

// Write persists the pending operations atomically and returns the session
// to the clean state. A clean session writes nothing.
func (m *Manager) Write() error {
	if len(m.pending) == 0 {
		m.logger.Info("Nothing pending; category map left untouched.")
		return nil
	}
	overlay, err := m.overlay()
	if err != nil {
		return err
	}
	if err := m.store.Save(overlay); err != nil {
		return err
	}
	m.logger.Info("Session committed.", zap.Int("operations", len(m.pending)))
	m.pending = nil
	return nil
}

// Discard drops every pending operation without touching the store and
// returns how many were dropped.
func (m *Manager) Discard() int {
	n := len(m.pending)
	m.pending = nil
	if n > 0 {
		m.logger.Info("Pending operations discarded.", zap.Int("operations", n))
	}
	return n
}

// CategoryCount is the number of findings that classified into one category.
type CategoryCount struct {
	Category string
	Findings int
}

// Suggestion proposes a category for an uncategorized check based on the
// map's keyword metadata. Suggestions are advisory output only.
type Suggestion struct {
	CheckID  string
	Title    string
	Category string
	Matched  string // The keyword(s) that matched.
}

// Simulation is the read-only preview of a classification run against the
// overlay map.
type Simulation struct {
	Files         []string
	Findings      int
	Flaws         int
	PerCategory   []CategoryCount // Map declaration order, hits only.
	Uncategorized int
	Suggestions   []Suggestion
	RowErrors     []schemas.RowError
	Warnings      []schemas.ClassifierWarning
}

// Simulate loads the given export files and classifies them against the
// persisted map plus the pending operations, reporting what a run would do
// without writing anything: per-category finding counts, the consolidated
// flaw count, and keyword-based category suggestions for whatever stayed
// uncategorized.
func (m *Manager) Simulate(ctx context.Context, scope schemas.Scope, floor schemas.Severity, paths ...string) (*Simulation, error) {
	overlay, err := m.overlay()
	if err != nil {
		return nil, err
	}

	result, err := m.loader.Load(ctx, paths...)
	if err != nil {
		return nil, err
	}

	classifier := categories.NewClassifier(overlay, m.logger)
	flaws := consolidate.New(classifier, scope, floor, m.logger).Consolidate(result.Findings)

	sim := &Simulation{
		Files:     result.Files,
		Findings:  len(result.Findings),
		Flaws:     len(flaws),
		RowErrors: result.RowErrors,
		Warnings:  classifier.Warnings(),
	}

	counts := make(map[string]int)
	suggested := make(map[string]bool) // One suggestion per check id.
	for _, finding := range result.Findings {
		if cat, ok := classifier.Classify(finding.CheckID); ok {
			counts[cat.Name]++
			continue
		}
		sim.Uncategorized++
		if suggested[finding.CheckID] {
			continue
		}
		suggested[finding.CheckID] = true
		if s, ok := suggest(overlay, finding); ok {
			sim.Suggestions = append(sim.Suggestions, s)
		}
	}
	for i := range overlay.Categories {
		name := overlay.Categories[i].Name
		if n := counts[name]; n > 0 {
			sim.PerCategory = append(sim.PerCategory, CategoryCount{Category: name, Findings: n})
		}
	}

	m.logger.Info("Simulation finished.",
		zap.Int("findings", sim.Findings),
		zap.Int("flaws", sim.Flaws),
		zap.Int("uncategorized", sim.Uncategorized),
		zap.Int("suggestions", len(sim.Suggestions)))
	return sim, nil
}

// suggest matches a finding title against each category's keyword metadata
// in declaration order and proposes the first hit. A title matches when it
// contains any primary keyword, or two distinct secondary keywords, and no
// exclude word. All matching is case-insensitive substring matching.
func suggest(m *categories.Map, finding schemas.Finding) (Suggestion, bool) {
	for i := range m.Categories {
		cat := &m.Categories[i]
		matched, ok := matchKeywords(cat, finding.Title)
		if !ok {
			continue
		}
		return Suggestion{
			CheckID:  finding.CheckID,
			Title:    finding.Title,
			Category: cat.Name,
			Matched:  matched,
		}, true
	}
	return Suggestion{}, false
}

func matchKeywords(cat *categories.Category, title string) (string, bool) {
	lower := strings.ToLower(title)
	contains := func(keyword string) bool {
		return keyword != "" && strings.Contains(lower, strings.ToLower(keyword))
	}

	for _, word := range cat.ExcludeWords {
		if contains(word) {
			return "", false
		}
	}
	for _, keyword := range cat.PrimaryKeywords {
		if contains(keyword) {
			return keyword, true
		}
	}

	var hits []string
	seen := make(map[string]bool)
	for _, keyword := range cat.SecondaryKeywords {
		folded := strings.ToLower(keyword)
		if seen[folded] || !contains(keyword) {
			continue
		}
		seen[folded] = true
		hits = append(hits, keyword)
		if len(hits) == 2 {
			return hits[0] + " + " + hits[1], true
		}
	}
	return "", false
}
