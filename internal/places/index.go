package places

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/signalsfoundry/roadgraph/model"
)

const (
	// MinQueryLength is the shortest query that filters; shorter queries
	// list every place in file order.
	MinQueryLength = 2
	// DefaultSearchLimit is the page size when none is given.
	DefaultSearchLimit = 20
	// MaxSearchLimit caps the page size.
	MaxSearchLimit = 100
)

// Index is an immutable, in-memory place table searchable by name.
type Index struct {
	places   []model.Place
	lowered  []string
	resolved int
}

// NewIndex builds an index over places, which must already be joined.
// The index keeps places; callers must not modify it afterwards.
func NewIndex(places []model.Place) *Index {
	idx := &Index{
		places:  places,
		lowered: make([]string, len(places)),
	}
	for i, p := range places {
		idx.lowered[i] = strings.ToLower(p.Name)
		if p.Resolved() {
			idx.resolved++
		}
	}
	return idx
}

// Len returns the number of places.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.places)
}

// Resolved returns how many places carry a node id.
func (idx *Index) Resolved() int {
	if idx == nil {
		return 0
	}
	return idx.resolved
}

// Get returns the place with the given id.
func (idx *Index) Get(id uint32) (model.Place, bool) {
	if idx == nil || int64(id) >= int64(len(idx.places)) {
		return model.Place{}, false
	}
	return idx.places[id], true
}

// SearchResult is one page of a search.
type SearchResult struct {
	Places  []model.Place `json:"places"`
	Total   int           `json:"total"`
	HasMore bool          `json:"hasMore"`
	Offset  int           `json:"offset"`
}

// Search returns the page [offset, offset+limit) of places whose name
// contains query, case-insensitively. Names starting with the query come
// first; ties are broken by name.
func (idx *Index) Search(query string, limit, offset int) SearchResult {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)
	offset = max(offset, 0)

	matches := idx.match(strings.ToLower(strings.TrimSpace(query)))
	total := len(matches)
	page := []model.Place{}
	if offset < total {
		end := min(offset+limit, total)
		page = make([]model.Place, 0, end-offset)
		for _, i := range matches[offset:end] {
			page = append(page, idx.places[i])
		}
	}
	return SearchResult{
		Places:  page,
		Total:   total,
		HasMore: offset+limit < total,
		Offset:  offset,
	}
}

type match struct {
	i      int
	prefix bool
}

func (idx *Index) match(q string) []int {
	if idx == nil {
		return nil
	}
	if utf8.RuneCountInString(q) < MinQueryLength {
		all := make([]int, len(idx.places))
		for i := range all {
			all[i] = i
		}
		return all
	}

	var found []match
	for i, name := range idx.lowered {
		if pos := strings.Index(name, q); pos >= 0 {
			found = append(found, match{i: i, prefix: pos == 0})
		}
	}
	slices.SortStableFunc(found, func(a, b match) int {
		if a.prefix != b.prefix {
			if a.prefix {
				return -1
			}
			return 1
		}
		return cmp.Or(
			strings.Compare(idx.lowered[a.i], idx.lowered[b.i]),
			strings.Compare(idx.places[a.i].Name, idx.places[b.i].Name),
		)
	})

	out := make([]int, len(found))
	for i, m := range found {
		out[i] = m.i
	}
	return out
}
