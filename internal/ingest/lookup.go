package ingest

import (
	"context"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/patch"
	"github.com/snomed-core/termcore/internal/types"
)

// releasedEnvelope is the narrow shape a stored document must expose for
// storeLookup to read its release envelope back out.
type releasedEnvelope interface {
	Envelope() *types.ComponentEnvelope
}

// storeLookup implements patch.Lookup against one kind's index, scoped to
// the branch snapshot the import's commit started from — so a patcher
// never sees its own in-flight writes as "existing" content.
type storeLookup struct {
	docs     docstore.Store
	kind     docstore.Kind
	criteria branchstore.Criteria
}

func newStoreLookup(docs docstore.Store, kind docstore.Kind, criteria branchstore.Criteria) *storeLookup {
	return &storeLookup{docs: docs, kind: kind, criteria: criteria}
}

func (l *storeLookup) ExistingAtOrAfter(ctx context.Context, id string, t int, strict bool) (bool, error) {
	rng := &docstore.RangeClause{Field: "effectiveTime"}
	if strict {
		gt := t
		rng.GT = &gt
	} else {
		gte := t
		rng.GTE = &gte
	}
	q := docstore.And(docstore.Term("id", id), docstore.Query{Range: rng})
	cursor, err := l.docs.Stream(ctx, l.kind, l.criteria, q)
	if err != nil {
		return false, err
	}
	defer cursor.Close()
	_, ok, err := cursor.Next(ctx)
	return ok, err
}

func (l *storeLookup) PriorRelease(ctx context.Context, id string) (types.ReleaseEnvelope, string, bool, error) {
	cursor, err := l.docs.Stream(ctx, l.kind, l.criteria, docstore.Term("id", id))
	if err != nil {
		return types.ReleaseEnvelope{}, "", false, err
	}
	defer cursor.Close()
	hit, ok, err := cursor.Next(ctx)
	if err != nil || !ok {
		return types.ReleaseEnvelope{}, "", false, err
	}
	re, ok := hit.Doc.(releasedEnvelope)
	if !ok {
		return types.ReleaseEnvelope{}, "", false, nil
	}
	env := re.Envelope()
	if !env.Released {
		return types.ReleaseEnvelope{}, "", false, nil
	}
	hash := ""
	if env.ReleaseHash != nil {
		hash = *env.ReleaseHash
	}
	return env.ReleaseEnvelope, hash, true, nil
}

var _ patch.Lookup = (*storeLookup)(nil)
