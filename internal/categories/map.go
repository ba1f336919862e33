// File: internal/categories/map.go

// Package categories owns the category map: the persisted mapping from
// check identifiers to named merge-groups, and the classifier built from it.
// Declaration order inside the map file is significant (it breaks ties when
// a check id appears in more than one category), so decoding and encoding
// both preserve it.
package categories

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.Config{
	EscapeHTML:    false,
	IndentionStep: 4,
}.Froze()

// Category is a named grouping rule. Fields mirror the map file's shape.
type Category struct {
	// Name is the map key the category is declared under.
	Name string `json:"-"`

	DisplayTitle    string   `json:"writeup_name"`
	Description     string   `json:"description,omitempty"`
	MemberCheckIDs  []string `json:"ids"`
	WriteupDBID     string   `json:"writeup_db_id,omitempty"`
	Recommendations string   `json:"recommendations,omitempty"`

	// Keyword metadata drives the session manager's simulate suggestions.
	// The pipeline classifier never reads it.
	PrimaryKeywords   []string `json:"primary_keywords,omitempty"`
	SecondaryKeywords []string `json:"secondary_keywords,omitempty"`
	ExcludeWords      []string `json:"exclude_words,omitempty"`
}

// Map is the full category map in declaration order.
type Map struct {
	Categories []Category
}

// Get returns the category with the given name.
func (m *Map) Get(name string) (*Category, bool) {
	for i := range m.Categories {
		if m.Categories[i].Name == name {
			return &m.Categories[i], true
		}
	}
	return nil, false
}

// Clone deep-copies the map. Sessions mutate clones, never the loaded map.
func (m *Map) Clone() *Map {
	clone := &Map{Categories: make([]Category, len(m.Categories))}
	copy(clone.Categories, m.Categories)
	for i := range clone.Categories {
		c := &clone.Categories[i]
		c.MemberCheckIDs = append([]string(nil), c.MemberCheckIDs...)
		c.PrimaryKeywords = append([]string(nil), c.PrimaryKeywords...)
		c.SecondaryKeywords = append([]string(nil), c.SecondaryKeywords...)
		c.ExcludeWords = append([]string(nil), c.ExcludeWords...)
	}
	return clone
}

// AddID appends a check id to a category's membership. Adding to an unknown
// category or re-adding an existing id is an error so sessions catch typos.
func (m *Map) AddID(category, checkID string) error {
	cat, ok := m.Get(category)
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	for _, id := range cat.MemberCheckIDs {
		if id == checkID {
			return fmt.Errorf("check %s is already a member of %q", checkID, category)
		}
	}
	cat.MemberCheckIDs = append(cat.MemberCheckIDs, checkID)
	return nil
}

// RemoveID removes a check id from a category's membership.
func (m *Map) RemoveID(category, checkID string) error {
	cat, ok := m.Get(category)
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	for i, id := range cat.MemberCheckIDs {
		if id == checkID {
			cat.MemberCheckIDs = append(cat.MemberCheckIDs[:i], cat.MemberCheckIDs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("check %s is not a member of %q", checkID, category)
}

// decodeMap walks the raw JSON with the iterator API instead of unmarshaling
// into a Go map, which would shuffle category order.
func decodeMap(data []byte) (*Map, error) {
	m := &Map{}
	it := json.BorrowIterator(data)
	defer json.ReturnIterator(it)

	for field := it.ReadObject(); field != ""; field = it.ReadObject() {
		if field != "plugins" {
			it.Skip()
			continue
		}
		for name := it.ReadObject(); name != ""; name = it.ReadObject() {
			var cat Category
			it.ReadVal(&cat)
			cat.Name = name
			m.Categories = append(m.Categories, cat)
		}
	}
	if it.Error != nil && it.Error != io.EOF {
		return nil, fmt.Errorf("decoding category map: %w", it.Error)
	}
	return m, nil
}

// encodeMap renders the map back to the file shape, category order intact.
func encodeMap(m *Map) ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField("plugins")
	stream.WriteObjectStart()
	for i := range m.Categories {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(m.Categories[i].Name)
		stream.WriteVal(&m.Categories[i])
	}
	stream.WriteObjectEnd()
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, fmt.Errorf("encoding category map: %w", stream.Error)
	}
	out := append([]byte(nil), stream.Buffer()...)
	return append(out, '\n'), nil
}

// Store reads and writes the category map file.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore returns a store for the map file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger.Named("category_map")}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the map file.
func (s *Store) Load() (*Map, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading category map: %w", err)
	}
	m, err := decodeMap(data)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Category map loaded.",
		zap.String("path", s.path),
		zap.Int("categories", len(m.Categories)))
	return m, nil
}

// Save writes the map atomically: a temp file in the same directory is
// flushed and renamed over the target, so readers never observe a torn file.
func (s *Store) Save(m *Map) error {
	data, err := encodeMap(m)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".category-map-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp map file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp map file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp map file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp map file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing category map: %w", err)
	}

	s.logger.Info("Category map written.",
		zap.String("path", s.path),
		zap.Int("categories", len(m.Categories)))
	return nil
}
