// Package store holds the canonical, merged view of all sources and serves
// point-in-time consistent reads.
//
// Merge is the single write entry point. Writers serialize on a mutex and
// publish a fresh immutable snapshot with an atomic pointer swap, so readers
// never block on a writer and never observe a partially merged batch. A
// source's merge replaces that source's previous contribution wholesale,
// which keeps the served state a pure function of each source's latest
// release plus the configured priority order.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/varhub-io/varhub/internal/entity"
)

// ErrEntityNotFound is returned when a queried identifier is absent
var ErrEntityNotFound = errors.New("entity not found")

// Store is the consolidated entity store
type Store struct {
	// writeMu serializes merges and removals; reads never take it
	writeMu sync.Mutex

	snapshot atomic.Pointer[snapshot]
}

// snapshot is one immutable published state. Variants reachable from a
// snapshot are never mutated; merges clone before writing.
type snapshot struct {
	variants map[entity.ID]*entity.Variant

	// priorities of every source that has contributed, needed to resolve
	// field conflicts against already-stored values
	priorities map[string]int

	// sortedIDs gives queries a stable iteration order for pagination
	sortedIDs []entity.ID
}

func emptySnapshot() *snapshot {
	return &snapshot{
		variants:   make(map[entity.ID]*entity.Variant),
		priorities: make(map[string]int),
	}
}

// New creates an empty store
func New() *Store {
	s := &Store{}
	s.snapshot.Store(emptySnapshot())
	return s
}

// MergeStats summarizes one committed merge
type MergeStats struct {
	EntitiesCreated int
	EntitiesUpdated int
	FieldsWritten   int
	FieldsSkipped   int
	EntitiesDropped int
}

// Merge commits one source's normalized batch. It is atomic with respect to
// readers: the new state becomes visible in a single snapshot swap, or not at
// all. Field conflicts resolve by source priority (lower value wins); the
// order in which sources merge never changes the outcome.
func (s *Store) Merge(source string, priority int, fingerprint string, fragments []entity.Fragment) (*MergeStats, error) {
	if source == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if priority <= 0 {
		return nil, fmt.Errorf("source %s: priority must be positive", source)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.snapshot.Load()
	next := &snapshot{
		variants:   make(map[entity.ID]*entity.Variant, len(cur.variants)),
		priorities: make(map[string]int, len(cur.priorities)+1),
	}
	for name, p := range cur.priorities {
		next.priorities[name] = p
	}
	next.priorities[source] = priority

	stats := &MergeStats{}

	// Strip the source's previous contribution so the committed state
	// reflects only its latest release.
	for id, v := range cur.variants {
		stripped, changed := stripSource(v, source)
		if !changed {
			next.variants[id] = v
			continue
		}
		if len(stripped.Fields) == 0 {
			stats.EntitiesDropped++
			continue
		}
		next.variants[id] = stripped
	}

	prov := entity.Provenance{Source: source, Fingerprint: fingerprint}
	for _, fragment := range fragments {
		if err := fragment.Validate(); err != nil {
			return nil, fmt.Errorf("invalid fragment: %w", err)
		}

		v, exists := next.variants[fragment.ID]
		if !exists {
			v = entity.NewVariant(fragment.ID)
			next.variants[fragment.ID] = v
			stats.EntitiesCreated++
		} else {
			v = v.Clone()
			next.variants[fragment.ID] = v
			stats.EntitiesUpdated++
		}

		for name, value := range fragment.Fields {
			existing, ok := v.Fields[name]
			if ok && existing.Provenance.Source != source {
				existingPriority, known := next.priorities[existing.Provenance.Source]
				if known && existingPriority < priority {
					stats.FieldsSkipped++
					continue
				}
			}
			v.Fields[name] = entity.Field{Value: value, Provenance: prov}
			stats.FieldsWritten++
		}
	}

	next.rebuildIndex()
	s.snapshot.Store(next)
	return stats, nil
}

// stripSource returns the variant without the named source's fields. The
// second return value reports whether anything was removed; when false the
// original pointer can be reused unchanged.
func stripSource(v *entity.Variant, source string) (*entity.Variant, bool) {
	touched := false
	for _, f := range v.Fields {
		if f.Provenance.Source == source {
			touched = true
			break
		}
	}
	if !touched {
		return v, false
	}

	out := entity.NewVariant(v.ID)
	for name, f := range v.Fields {
		if f.Provenance.Source == source {
			continue
		}
		out.Fields[name] = f
	}
	return out, true
}

// RemoveSource strips every contribution of the named source, dropping
// entities left with no fields. Unknown sources are a no-op. Used by
// administrative deregistration.
func (s *Store) RemoveSource(source string) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.snapshot.Load()
	if _, known := cur.priorities[source]; !known {
		return 0
	}

	next := &snapshot{
		variants:   make(map[entity.ID]*entity.Variant, len(cur.variants)),
		priorities: make(map[string]int, len(cur.priorities)),
	}
	for name, p := range cur.priorities {
		if name == source {
			continue
		}
		next.priorities[name] = p
	}

	removed := 0
	for id, v := range cur.variants {
		stripped, changed := stripSource(v, source)
		if !changed {
			next.variants[id] = v
			continue
		}
		removed += len(v.Fields) - len(stripped.Fields)
		if len(stripped.Fields) == 0 {
			continue
		}
		next.variants[id] = stripped
	}

	next.rebuildIndex()
	s.snapshot.Store(next)
	return removed
}

func (sn *snapshot) rebuildIndex() {
	sn.sortedIDs = make([]entity.ID, 0, len(sn.variants))
	for id := range sn.variants {
		sn.sortedIDs = append(sn.sortedIDs, id)
	}
	sort.Slice(sn.sortedIDs, func(i, j int) bool { return sn.sortedIDs[i] < sn.sortedIDs[j] })
}

// Get returns the variant for the given identifier. The returned value is a
// clone; callers may mutate it freely.
func (s *Store) Get(id entity.ID) (*entity.Variant, error) {
	sn := s.snapshot.Load()
	v, ok := sn.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return v.Clone(), nil
}

// EntityCount returns the number of entities in the current snapshot
func (s *Store) EntityCount() int {
	return len(s.snapshot.Load().variants)
}

// SourceEntityCount returns how many entities carry at least one field from
// the named source in the current snapshot.
func (s *Store) SourceEntityCount(source string) int {
	sn := s.snapshot.Load()
	count := 0
	for _, v := range sn.variants {
		for _, f := range v.Fields {
			if f.Provenance.Source == source {
				count++
				break
			}
		}
	}
	return count
}

// Query is a read-only filter over the current snapshot
type Query struct {
	// Gene filters on the canonical gene field, case-insensitive exact match
	Gene string

	// Significance filters on clinical significance, case-insensitive exact match
	Significance string

	// Assembly filters on genome assembly, exact match
	Assembly string

	// Source keeps only entities with at least one field from this source
	Source string

	// Limit caps the page size; 0 means no limit
	Limit int

	// Cursor resumes a previous page
	Cursor string
}

// QueryResult is one page of matching variants
type QueryResult struct {
	Variants   []*entity.Variant
	NextCursor string
	Total      int
}

// Query returns variants matching the filter from the last committed
// snapshot, in stable identifier order.
func (s *Store) Query(q Query) (*QueryResult, error) {
	sn := s.snapshot.Load()

	start, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}

	var matched []*entity.Variant
	for _, id := range sn.sortedIDs {
		v := sn.variants[id]
		if q.matches(v) {
			matched = append(matched, v)
		}
	}

	result := &QueryResult{Total: len(matched)}
	if start >= len(matched) {
		return result, nil
	}
	matched = matched[start:]

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
		result.NextCursor = encodeCursor(start + q.Limit)
	}

	result.Variants = make([]*entity.Variant, len(matched))
	for i, v := range matched {
		result.Variants[i] = v.Clone()
	}
	return result, nil
}

func (q *Query) matches(v *entity.Variant) bool {
	if q.Gene != "" {
		gene, ok := v.Get(entity.FieldGene)
		if !ok || !strings.EqualFold(gene, q.Gene) {
			return false
		}
	}
	if q.Significance != "" {
		sig, ok := v.Get(entity.FieldSignificance)
		if !ok || !strings.EqualFold(sig, q.Significance) {
			return false
		}
	}
	if q.Assembly != "" {
		assembly, ok := v.Get(entity.FieldAssembly)
		if !ok || assembly != q.Assembly {
			return false
		}
	}
	if q.Source != "" {
		found := false
		for _, f := range v.Fields {
			if f.Provenance.Source == q.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
