package ecl

import (
	"context"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/types"
)

// relationshipUnwrapper is the same structural-typing accessor pattern
// internal/integrity uses: the ingestion package's relationship document
// wrapper satisfies this implicitly via its own Unwrap method, letting this
// package read relationship rows back out without importing internal/ingest.
type relationshipUnwrapper interface{ Unwrap() *types.Relationship }

// Hierarchy answers descendant queries over a branch's active IS_A
// relationships, built once by LoadHierarchy from a single streamed scan.
type Hierarchy struct {
	childrenOf map[string][]string // destinationId (parent) -> sourceIds (children)
}

// LoadHierarchy streams every active IS_A relationship on criteria and
// indexes it by destination concept, ready for repeated descendant queries.
func LoadHierarchy(ctx context.Context, docs docstore.Store, criteria branchstore.Criteria, isARelationshipType string) (*Hierarchy, error) {
	h := &Hierarchy{childrenOf: make(map[string][]string)}

	cursor, err := docs.Stream(ctx, docstore.KindRelationship, criteria, docstore.Term("typeId", isARelationshipType))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		r, ok := unwrapRelationship(hit.Doc)
		if !ok || !r.Active {
			continue
		}
		h.childrenOf[r.DestinationID] = append(h.childrenOf[r.DestinationID], r.SourceID)
	}
	return h, nil
}

// Evaluate returns the set of concept ids the expression selects.
func (h *Hierarchy) Evaluate(expr *Expression) map[string]bool {
	out := make(map[string]bool)
	if expr.Operator == DescendantOrSelf {
		out[expr.FocusID] = true
	}

	queue := []string{expr.FocusID}
	visited := map[string]bool{expr.FocusID: true}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range h.childrenOf[next] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out[child] = true
			queue = append(queue, child)
		}
	}
	return out
}

func unwrapRelationship(doc interface{}) (*types.Relationship, bool) {
	u, ok := doc.(relationshipUnwrapper)
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}
