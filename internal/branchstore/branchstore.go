// Package branchstore defines the branch/commit version-control substrate
// consumed by the ingestion, integrity, and MRCM packages. The real
// substrate is an external collaborator; this package only specifies the
// interface those packages program against, plus the branch-path arithmetic
// shared by every caller.
package branchstore

import (
	"context"

	"github.com/snomed-core/termcore/internal/types"
)

// Criteria scopes a query to a particular view of a branch: its latest
// committed content, that content plus an open commit's staged writes, or
// only the changes made on the branch itself (optionally with tombstones).
type Criteria struct {
	Branch            string
	IncludeOpenCommit string // non-empty commit id, mutually exclusive with the unpromoted modes below
	UnpromotedOnly    bool
	IncludeTombstones bool
	BeforeOpenCommit  string // non-empty commit id: the snapshot the commit started from
}

// Store is the interface the core consumes from the branch/commit
// substrate (C1). Every method that can block on I/O takes a context.
type Store interface {
	// GetBranch returns the branch at path, or types.ValidationError if it
	// does not exist.
	GetBranch(ctx context.Context, path string) (*types.Branch, error)

	// OpenCommit begins a new commit on path, tagged with lockMetadata for
	// diagnostic purposes. Returns types.LockContentionError if another
	// commit already holds the lock on this branch.
	OpenCommit(ctx context.Context, path string, kind CommitKind, lockMetadata map[string]string) (Commit, error)

	// UpdateMetadata persists a branch's metadata mapping.
	UpdateMetadata(ctx context.Context, path string, metadata map[string]map[string]string) error

	// BranchCriteriaOn selects the latest visible version of each component
	// on branch.
	BranchCriteriaOn(branch string) Criteria

	// BranchCriteriaIncludingOpenCommit is BranchCriteriaOn plus rows tagged
	// with the given open commit.
	BranchCriteriaIncludingOpenCommit(commit Commit) Criteria

	// BranchCriteriaUnpromotedChanges selects only components changed on
	// branch and not yet promoted to its parent.
	BranchCriteriaUnpromotedChanges(branch string) Criteria

	// BranchCriteriaUnpromotedChangesAndDeletions is
	// BranchCriteriaUnpromotedChanges plus tombstones.
	BranchCriteriaUnpromotedChangesAndDeletions(branch string) Criteria

	// BranchCriteriaBeforeOpenCommit selects the snapshot a commit started
	// from, before any of its writes.
	BranchCriteriaBeforeOpenCommit(commit Commit) Criteria
}

// CommitKind distinguishes a content-bearing commit from a branch rebase,
// used by the MRCM commit listener to decide whether to run at all.
type CommitKind string

const (
	CommitKindContent CommitKind = "CONTENT"
	CommitKindRebase  CommitKind = "REBASE"
)

// Commit is the lifecycle handle returned by OpenCommit: open, then either
// MarkSuccessful followed by Close (commit takes effect), or Close alone
// (rollback of every write tagged with this commit).
type Commit interface {
	ID() string
	Branch() string
	Kind() CommitKind
	Timepoint() int64

	MarkSuccessful(ctx context.Context) error
	Close(ctx context.Context) error
}

// ParentPath, IsDescendantOf, IsRoot, RootBranch live in internal/types,
// since both branchstore and its callers need branch-path arithmetic
// without importing a store implementation.
var (
	ParentPath     = types.ParentPath
	IsDescendantOf = types.IsDescendantOf
	IsRoot         = types.IsRoot
)
