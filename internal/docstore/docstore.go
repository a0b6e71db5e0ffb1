// Package docstore defines the indexed document store consumed by the
// ingestion, integrity, and MRCM packages: a streaming, predicate-indexed
// lookup over typed documents, plus a narrow inline-update primitive. The
// real store is an external collaborator (C2); this package specifies the
// interface and ships an in-memory reference implementation in
// docstore/memindex.
package docstore

import (
	"context"

	"github.com/snomed-core/termcore/internal/branchstore"
)

// Kind identifies which entity-kind index a query targets.
type Kind string

const (
	KindConcept            Kind = "concept"
	KindDescription        Kind = "description"
	KindRelationship       Kind = "relationship"
	KindIdentifier         Kind = "identifier"
	KindReferenceSetMember Kind = "referenceSetMember"
	KindQueryConcept       Kind = "queryConcept"
)

// Query is a boolean tree of must/mustNot/should clauses over term/terms/
// range leaves on indexed field names, mirroring the shape the document
// store's real query DSL exposes.
type Query struct {
	Must    []Query
	MustNot []Query
	Should  []Query

	Term  *TermClause
	Terms *TermsClause
	Range *RangeClause
}

// TermClause matches documents where Field equals Value exactly.
type TermClause struct {
	Field string
	Value string
}

// TermsClause matches documents where Field equals any of Values.
type TermsClause struct {
	Field  string
	Values []string
}

// RangeClause matches documents where Field falls within [GTE, LTE]
// (either bound may be nil to leave it open).
type RangeClause struct {
	Field string
	GTE   *int
	LTE   *int
	GT    *int
}

// Term builds a single-term query leaf.
func Term(field, value string) Query { return Query{Term: &TermClause{Field: field, Value: value}} }

// Terms builds a multi-value term query leaf.
func Terms(field string, values []string) Query {
	return Query{Terms: &TermsClause{Field: field, Values: values}}
}

// And wraps clauses in a must conjunction.
func And(clauses ...Query) Query { return Query{Must: clauses} }

// AdditionalFieldUpdate names one field-level rewrite to apply in place to
// an existing reference set member document, modeling the inline scripted
// update `ctx._source.additionalFields.<name>='<value>'` the real store
// expects, without requiring implementations to support generic scripting.
type AdditionalFieldUpdate struct {
	MemberID string
	Fields   map[string]string
}

// Hit is one document returned from a Stream call, tagged with the commit
// that wrote it (used by the integrity engine and MRCM updater to decide
// whether a row belongs to the in-flight commit).
type Hit struct {
	Doc   interface{}
	Start int64 // commit timepoint this version was written at
	End   *int64
}

// PageSize is the fixed page size every full scan uses, so the store
// streams results rather than materialising them.
const PageSize = 10_000

// Store is the interface the core consumes from the indexed document store.
type Store interface {
	// Stream returns a lazy, paged sequence of hits matching query within
	// criteria, for the given entity kind. The returned iterator function
	// reports io.EOF-equivalent via ok=false; callers must drain it to
	// completion or call Close to release the underlying cursor early.
	Stream(ctx context.Context, kind Kind, criteria branchstore.Criteria, query Query) (Cursor, error)

	// BulkScriptedUpdate applies every AdditionalFieldUpdate, then performs
	// an explicit refresh so subsequent Stream calls observe the writes.
	BulkScriptedUpdate(ctx context.Context, kind Kind, updates []AdditionalFieldUpdate) error

	// Refresh makes all writes committed so far visible to new Stream
	// calls. The MRCM updater calls this after an in-commit rewrite.
	Refresh(ctx context.Context, kind Kind) error

	// Save writes (appends or replaces, per the commit's write semantics) a
	// batch of documents tagged with the given commit.
	Save(ctx context.Context, kind Kind, commit branchstore.Commit, docs []interface{}) error

	// Rollback discards every row tagged with commitID. Called by the
	// reference branch store when a commit is closed without being marked
	// successful.
	Rollback(ctx context.Context, commitID string) error
}

// Cursor is a scoped, releasable iterator over Stream results.
type Cursor interface {
	Next(ctx context.Context) (Hit, bool, error)
	Close() error
}
