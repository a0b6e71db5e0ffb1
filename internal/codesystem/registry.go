// Package codesystem is a minimal in-process registry standing in for the
// external code-system catalog the ingestion coordinator and integrity
// engine both depend on through narrow interfaces (ingest.CodeSystems,
// integrity.CodeSystemLocator). A real deployment backs this with whatever
// service owns code-system lifecycle; this registry exists so the module
// can run standalone, mirroring the teacher's in-memory storage backend
// used for its zero-dependency CLI mode and test suite.
package codesystem

import (
	"context"
	"sort"
	"sync"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/types"
)

// Registry tracks which branch path roots a code system, so a commit on a
// task branch several levels deep can still be traced back to the system
// that owns it.
type Registry struct {
	mu       sync.RWMutex
	byPath   map[string]*types.CodeSystem
	branches branchstore.Store
}

// New builds an empty Registry. MAIN is always implicitly registered as a
// code system of its own, since every branch not under a more specific
// registration must resolve to something.
func New(branches branchstore.Store) *Registry {
	return &Registry{
		byPath:   map[string]*types.CodeSystem{types.RootBranch: {ID: types.RootBranch, BranchPath: types.RootBranch}},
		branches: branches,
	}
}

// Register records branchPath as the root of a code system, e.g.
// "MAIN/SNOMEDCT-US".
func (r *Registry) Register(id, branchPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPath[branchPath] = &types.CodeSystem{ID: id, BranchPath: branchPath}
}

// Exists reports whether branchPath names an existing branch, satisfying
// ingest.CodeSystems.
func (r *Registry) Exists(ctx context.Context, branchPath string) (bool, error) {
	_, err := r.branches.GetBranch(ctx, branchPath)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// CreateVersion is called when an import releases a new version. It checks
// that branchPath exists and records nothing: neither the branch nor this
// registry is stamped with the effective time.
func (r *Registry) CreateVersion(ctx context.Context, branchPath string, effectiveTime int, internalRelease bool) error {
	_, err := r.branches.GetBranch(ctx, branchPath)
	return err
}

// OwningCodeSystemBranch resolves the code-system branch path that owns
// branchPath: the longest registered branch path that is an ancestor of (or
// equal to) branchPath, satisfying integrity.CodeSystemLocator. MAIN always
// matches, so this never fails to resolve.
func (r *Registry) OwningCodeSystemBranch(ctx context.Context, branchPath string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []string
	for path := range r.byPath {
		if types.IsDescendantOf(branchPath, path) {
			candidates = append(candidates, path)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	return candidates[0], nil
}
