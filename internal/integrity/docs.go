package integrity

import (
	"sort"

	"github.com/snomed-core/termcore/internal/types"
)

// Structural accessor interfaces the ingestion package's unexported
// document wrapper types already satisfy via an Unwrap method, letting this
// package read the same store rows back out as plain domain structs
// without importing internal/ingest (which would create an import cycle
// once the ingestion coordinator starts calling into this package after a
// commit).
type (
	conceptUnwrapper      interface{ Unwrap() *types.Concept }
	descriptionUnwrapper  interface{ Unwrap() *types.Description }
	relationshipUnwrapper interface{ Unwrap() *types.Relationship }
	refsetMemberUnwrapper interface{ Unwrap() *types.ReferenceSetMember }
)

func unwrapConcept(doc interface{}) (*types.Concept, bool) {
	u, ok := doc.(conceptUnwrapper)
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}

func unwrapDescription(doc interface{}) (*types.Description, bool) {
	u, ok := doc.(descriptionUnwrapper)
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}

func unwrapRelationship(doc interface{}) (*types.Relationship, bool) {
	u, ok := doc.(relationshipUnwrapper)
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}

func unwrapRefsetMember(doc interface{}) (*types.ReferenceSetMember, bool) {
	u, ok := doc.(refsetMemberUnwrapper)
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}

// queryConceptDoc wraps types.QueryConcept so it can be written to and read
// back from the document store, the same way the ingestion package's
// wrapper types adapt RF2 components. Nothing in this module currently
// populates the semantic index — it is a derived artifact of the
// classifier, out of scope here — so only tests and operator tooling write
// rows of this shape directly.
type queryConceptDoc struct{ *types.QueryConcept }

func (d *queryConceptDoc) Unwrap() *types.QueryConcept { return d.QueryConcept }
func (d *queryConceptDoc) DocID() string               { return d.Branch + "|" + d.ConceptID }
func (d *queryConceptDoc) DocBranch() string           { return "" }
func (d *queryConceptDoc) DocFields() map[string]string {
	return map[string]string{
		"conceptId": d.ConceptID,
		"stated":    boolString(d.Stated),
	}
}

func unwrapQueryConcept(doc interface{}) (*types.QueryConcept, bool) {
	u, ok := doc.(interface{ Unwrap() *types.QueryConcept })
	if !ok {
		return nil, false
	}
	return u.Unwrap(), true
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
