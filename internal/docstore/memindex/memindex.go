// Package memindex is an in-memory implementation of docstore.Store,
// grounded on the teacher's in-process map-backed storage backends. Each
// kind gets its own append-only version list per document id; queries scan
// and filter in place rather than maintaining secondary indexes, which is
// adequate for the module's reference/test scale.
package memindex

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/types"
)

type version struct {
	doc      interface{}
	branch   string
	start    int64
	end      *int64
	commitID string
	fields   func() map[string]string // field accessor for query matching
	id       string
}

// Index is a single-kind document store: every id maps to its ordered
// history of versions, newest last.
type Index struct {
	mu       sync.RWMutex
	versions map[string][]*version
}

// Store holds one Index per docstore.Kind.
type Store struct {
	mu      sync.Mutex
	indexes map[docstore.Kind]*Index
}

// New returns an empty Store.
func New() *Store {
	return &Store{indexes: make(map[docstore.Kind]*Index)}
}

func (s *Store) index(kind docstore.Kind) *Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[kind]
	if !ok {
		idx = &Index{versions: make(map[string][]*version)}
		s.indexes[kind] = idx
	}
	return idx
}

// Doc is the accessor pair every adapter in internal/ingest/internal/
// integrity registers so memindex can extract an id, a branch, and queryable
// field values from an arbitrary domain struct without knowing its concrete
// type.
type Doc interface {
	DocID() string
	DocBranch() string
	DocFields() map[string]string
}

func (s *Store) Save(ctx context.Context, kind docstore.Kind, commit branchstore.Commit, docs []interface{}) error {
	idx := s.index(kind)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, d := range docs {
		dd, ok := d.(Doc)
		if !ok {
			continue
		}
		v := &version{
			doc:      d,
			branch:   commit.Branch(),
			start:    commit.Timepoint(),
			commitID: commit.ID(),
			id:       dd.DocID(),
			fields:   dd.DocFields,
		}
		existing := idx.versions[dd.DocID()]
		// Within one commit, rewrite in place rather than append a second
		// version of the same id (spec invariant: at most one row per id
		// carries start == commit.timepoint).
		replaced := false
		for i, ev := range existing {
			if ev.commitID == commit.ID() && ev.branch == commit.Branch() {
				existing[i] = v
				replaced = true
				break
			}
		}
		if !replaced {
			idx.versions[dd.DocID()] = append(existing, v)
		}
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context, commitID string) error {
	s.mu.Lock()
	indexes := make([]*Index, 0, len(s.indexes))
	for _, idx := range s.indexes {
		indexes = append(indexes, idx)
	}
	s.mu.Unlock()

	for _, idx := range indexes {
		idx.mu.Lock()
		for id, vs := range idx.versions {
			filtered := vs[:0]
			for _, v := range vs {
				if v.commitID != commitID {
					filtered = append(filtered, v)
				}
			}
			if len(filtered) == 0 {
				delete(idx.versions, id)
			} else {
				idx.versions[id] = filtered
			}
		}
		idx.mu.Unlock()
	}
	return nil
}

func (s *Store) Refresh(ctx context.Context, kind docstore.Kind) error {
	return nil // every write is immediately visible in this reference store
}

func (s *Store) BulkScriptedUpdate(ctx context.Context, kind docstore.Kind, updates []docstore.AdditionalFieldUpdate) error {
	idx := s.index(kind)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, u := range updates {
		vs := idx.versions[u.MemberID]
		if len(vs) == 0 {
			continue
		}
		latest := vs[len(vs)-1]
		if setter, ok := latest.doc.(FieldSetter); ok {
			for name, value := range u.Fields {
				setter.SetField(name, value)
			}
		}
	}
	return nil
}

// FieldSetter lets BulkScriptedUpdate mutate a document's additional fields
// in place, matching the narrow rewriteAdditionalFields primitive the spec
// asks the store interface to expose instead of generic scripting.
type FieldSetter interface {
	SetField(name, value string)
}

// Stream returns a cursor that pages through the kind's ids in
// docstore.PageSize batches, resolving and filtering one batch's worth of
// versions at a time rather than building the full result set up front — the
// in-memory equivalent of a scroll/search-after cursor against an external
// store, bounding peak memory to one page regardless of index size.
func (s *Store) Stream(ctx context.Context, kind docstore.Kind, criteria branchstore.Criteria, query docstore.Query) (docstore.Cursor, error) {
	idx := s.index(kind)
	idx.mu.RLock()
	ids := make([]string, 0, len(idx.versions))
	for id := range idx.versions {
		ids = append(ids, id)
	}
	idx.mu.RUnlock()
	sort.Strings(ids)

	return &pagedCursor{idx: idx, criteria: criteria, query: query, ids: ids}, nil
}

// pagedCursor walks a sorted id list in docstore.PageSize batches, filling
// one page of matching hits at a time.
type pagedCursor struct {
	idx      *Index
	criteria branchstore.Criteria
	query    docstore.Query
	ids      []string // ids not yet paged in

	page    []docstore.Hit
	pagePos int
}

func (c *pagedCursor) Next(ctx context.Context) (docstore.Hit, bool, error) {
	for {
		if c.pagePos < len(c.page) {
			h := c.page[c.pagePos]
			c.pagePos++
			return h, true, nil
		}
		if len(c.ids) == 0 {
			return docstore.Hit{}, false, nil
		}
		c.fillPage()
	}
}

func (c *pagedCursor) fillPage() {
	n := docstore.PageSize
	if n > len(c.ids) {
		n = len(c.ids)
	}
	batch := c.ids[:n]
	c.ids = c.ids[n:]

	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()
	c.page = c.page[:0]
	c.pagePos = 0
	for _, id := range batch {
		latest := latestVisible(c.idx.versions[id], c.criteria)
		if latest == nil {
			continue
		}
		if !matches(c.query, latest.fields()) {
			continue
		}
		c.page = append(c.page, docstore.Hit{Doc: latest.doc, Start: latest.start, End: latest.end})
	}
}

func (c *pagedCursor) Close() error { return nil }

// latestVisible picks the version of one document id visible on
// criteria.Branch: among versions written on criteria.Branch or any of its
// ancestors, the one on the most specific (deepest) branch wins; ties on
// the same branch are broken by the highest commit timepoint. This mirrors
// branch-hierarchy content resolution — a child branch sees its parent's
// content except where it has overridden a component itself. Versions
// written by criteria.BeforeOpenCommit are not visible.
func latestVisible(vs []*version, criteria branchstore.Criteria) *version {
	var best *version
	for _, v := range vs {
		if !types.IsDescendantOf(criteria.Branch, v.branch) {
			continue
		}
		if criteria.BeforeOpenCommit != "" && v.commitID == criteria.BeforeOpenCommit {
			continue
		}
		if criteria.UnpromotedOnly && v.branch != criteria.Branch {
			continue
		}
		if best == nil ||
			len(v.branch) > len(best.branch) ||
			(v.branch == best.branch && v.start > best.start) {
			best = v
		}
	}
	return best
}

func matches(q docstore.Query, fields map[string]string) bool {
	for _, must := range q.Must {
		if !matches(must, fields) {
			return false
		}
	}
	for _, not := range q.MustNot {
		if matches(not, fields) {
			return false
		}
	}
	if len(q.Should) > 0 {
		any := false
		for _, should := range q.Should {
			if matches(should, fields) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if q.Term != nil && fields[q.Term.Field] != q.Term.Value {
		return false
	}
	if q.Terms != nil {
		found := false
		for _, v := range q.Terms.Values {
			if fields[q.Terms.Field] == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Range != nil {
		if !inRange(fields[q.Range.Field], q.Range) {
			return false
		}
	}
	return true
}

// inRange parses raw (a decimal field value, e.g. an effectiveTime) and
// checks it against the range's bounds. A field that is absent or
// unparseable never matches a range clause, mirroring SQL NULL semantics.
func inRange(raw string, r *docstore.RangeClause) bool {
	if raw == "" {
		return false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	if r.GTE != nil && n < *r.GTE {
		return false
	}
	if r.GT != nil && n <= *r.GT {
		return false
	}
	if r.LTE != nil && n > *r.LTE {
		return false
	}
	return true
}

var _ docstore.Store = (*Store)(nil)
