// Package memstore is an in-process, map-backed implementation of
// branchstore.Store. It exists so the ingestion, integrity, and MRCM
// packages can be exercised and tested without a real branch/commit
// substrate running alongside them, mirroring the teacher's own
// ephemeral/memory storage backends used for its zero-dependency CLI mode
// and test suite.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/types"
)

// Store is a single process-wide branch tree held entirely in memory.
type Store struct {
	mu         sync.RWMutex
	branches   map[string]*types.Branch
	commits    map[string]*commit
	locks      map[string]string // branch path -> holding commit id
	nextTime   int64
	onRollback func(commitID string)
}

// OnRollback registers a callback invoked when a commit is closed without
// being marked successful, so the document store backing this branch store
// can discard the rows it tagged with that commit id. Ingestion wiring
// calls this once at startup with docstore.Rollback bound to the same
// commit id.
func (s *Store) OnRollback(fn func(commitID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRollback = fn
}

// New returns a Store seeded with a root "MAIN" branch.
func New() *Store {
	s := &Store{
		branches: make(map[string]*types.Branch),
		commits:  make(map[string]*commit),
		locks:    make(map[string]string),
	}
	s.branches[types.RootBranch] = &types.Branch{
		Path:     types.RootBranch,
		Metadata: make(map[string]map[string]string),
	}
	return s
}

// CreateBranch adds a child branch rooted at parentPath's current head
// timestamp. Used by tests and by operator tooling; not part of the
// consumed Store interface itself.
func (s *Store) CreateBranch(path, parentPath string) (*types.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[path]; exists {
		return nil, types.NewValidationError("branch %q already exists", path)
	}
	parent, ok := s.branches[parentPath]
	if !ok {
		return nil, types.NewValidationError("parent branch %q does not exist", parentPath)
	}
	b := &types.Branch{
		Path:          path,
		BaseTimestamp: parent.HeadTimestamp,
		HeadTimestamp: parent.HeadTimestamp,
		Metadata:      make(map[string]map[string]string),
	}
	s.branches[path] = b
	return b, nil
}

func (s *Store) GetBranch(ctx context.Context, path string) (*types.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[path]
	if !ok {
		return nil, types.NewValidationError("branch %q does not exist", path)
	}
	clone := *b
	clone.Metadata = cloneMetadata(b.Metadata)
	return &clone, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, path string, metadata map[string]map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[path]
	if !ok {
		return types.NewValidationError("branch %q does not exist", path)
	}
	for section, kv := range metadata {
		if b.Metadata[section] == nil {
			b.Metadata[section] = make(map[string]string)
		}
		for k, v := range kv {
			if v == "" {
				delete(b.Metadata[section], k)
			} else {
				b.Metadata[section][k] = v
			}
		}
	}
	return nil
}

// commit implements branchstore.Commit. A held lock per branch path
// reproduces the "open-commit fails immediately under contention" contract.
type commit struct {
	id        string
	branch    string
	kind      branchstore.CommitKind
	timepoint int64
	store     *Store
	done      atomic.Bool
}

func (c *commit) ID() string                   { return c.id }
func (c *commit) Branch() string               { return c.branch }
func (c *commit) Kind() branchstore.CommitKind { return c.kind }
func (c *commit) Timepoint() int64             { return c.timepoint }

func (c *commit) MarkSuccessful(ctx context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	b := c.store.branches[c.branch]
	if b != nil {
		b.HeadTimestamp = c.timepoint
	}
	c.done.Store(true)
	return nil
}

func (c *commit) Close(ctx context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	delete(c.store.locks, c.branch)
	if !c.done.Load() {
		c.store.rollback(c.id)
	}
	return nil
}

func (s *Store) OpenCommit(ctx context.Context, path string, kind branchstore.CommitKind, lockMetadata map[string]string) (branchstore.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[path]; !exists {
		return nil, types.NewValidationError("branch %q does not exist", path)
	}
	if _, held := s.locks[path]; held {
		return nil, types.NewLockContentionError(path)
	}

	s.nextTime++
	c := &commit{
		id:        uuid.NewString(),
		branch:    path,
		kind:      kind,
		timepoint: s.nextTime,
		store:     s,
	}
	s.locks[path] = c.id
	s.commits[c.id] = c
	return c, nil
}

func (s *Store) rollback(commitID string) {
	delete(s.commits, commitID)
	if s.onRollback != nil {
		s.onRollback(commitID)
	}
}

func (s *Store) BranchCriteriaOn(branch string) branchstore.Criteria {
	return branchstore.Criteria{Branch: branch}
}

func (s *Store) BranchCriteriaIncludingOpenCommit(c branchstore.Commit) branchstore.Criteria {
	return branchstore.Criteria{Branch: c.Branch(), IncludeOpenCommit: c.ID()}
}

func (s *Store) BranchCriteriaUnpromotedChanges(branch string) branchstore.Criteria {
	return branchstore.Criteria{Branch: branch, UnpromotedOnly: true}
}

func (s *Store) BranchCriteriaUnpromotedChangesAndDeletions(branch string) branchstore.Criteria {
	return branchstore.Criteria{Branch: branch, UnpromotedOnly: true, IncludeTombstones: true}
}

func (s *Store) BranchCriteriaBeforeOpenCommit(c branchstore.Commit) branchstore.Criteria {
	return branchstore.Criteria{Branch: c.Branch(), BeforeOpenCommit: c.ID()}
}

// Descendants returns every branch path that is a descendant of (or equal
// to) root, sorted for deterministic iteration in tests and sweeps.
func (s *Store) Descendants(root string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path := range s.branches {
		if types.IsDescendantOf(path, root) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func cloneMetadata(m map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(m))
	for section, kv := range m {
		inner := make(map[string]string, len(kv))
		for k, v := range kv {
			inner[k] = v
		}
		out[section] = inner
	}
	return out
}

var _ branchstore.Store = (*Store)(nil)
var _ branchstore.Commit = (*commit)(nil)
