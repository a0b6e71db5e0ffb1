package integrity

import (
	"context"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/obs"
	"github.com/snomed-core/termcore/internal/types"
)

// conceptIDs streams KindConcept under criteria and returns the set of
// concept ids present, regardless of active state.
func (e *Engine) conceptIDs(ctx context.Context, criteria branchstore.Criteria) (map[string]bool, error) {
	cursor, err := e.docs.Stream(ctx, docstore.KindConcept, criteria, docstore.Query{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	ids := make(map[string]bool)
	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		c, ok := unwrapConcept(hit.Doc)
		if !ok {
			continue
		}
		ids[c.ID] = true
	}
	return ids, nil
}

// conceptActivity streams KindConcept under criteria and returns, for every
// concept present, whether it is active. A concept id absent from the
// returned map does not exist on the branch at all, which this engine
// always treats the same as "inactive" for reference-integrity purposes.
func (e *Engine) conceptActivity(ctx context.Context, criteria branchstore.Criteria) (map[string]bool, error) {
	cursor, err := e.docs.Stream(ctx, docstore.KindConcept, criteria, docstore.Query{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	activity := make(map[string]bool)
	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		c, ok := unwrapConcept(hit.Doc)
		if !ok {
			continue
		}
		activity[c.ID] = c.Active
	}
	return activity, nil
}

// scanRelationshipsAgainstBadSet is Phase B: every active, non-inferred
// relationship under criteria whose source, type, or (for non-concrete
// relationships) destination falls in bad is recorded in maps.
func (e *Engine) scanRelationshipsAgainstBadSet(ctx context.Context, criteria branchstore.Criteria, bad map[string]bool, maps *badRefMaps) error {
	cursor, err := e.docs.Stream(ctx, docstore.KindRelationship, criteria, docstore.Query{})
	if err != nil {
		return err
	}
	defer cursor.Close()

	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		r, ok := unwrapRelationship(hit.Doc)
		if !ok || !r.Active || r.CharacteristicTypeID == types.CharacteristicInferred {
			continue
		}
		if bad[r.SourceID] {
			maps.source[r.ID] = r.SourceID
		}
		if bad[r.TypeID] {
			maps.typ[r.ID] = r.TypeID
		}
		if !r.Concrete() && bad[r.DestinationID] {
			maps.destination[r.ID] = r.DestinationID
		}
	}
	return nil
}

// scanAxiomsReferencingBadSet is Phase C: every stated semantic-index row
// whose attribute map mentions a concept in bad gets its owning axiom
// member(s) re-parsed and recorded in axioms.
func (e *Engine) scanAxiomsReferencingBadSet(ctx context.Context, criteria branchstore.Criteria, bad map[string]bool, axioms map[string]*axiomEntry) error {
	isBad := func(id string) bool { return bad[id] }

	cursor, err := e.docs.Stream(ctx, docstore.KindQueryConcept, criteria, docstore.Term("stated", "1"))
	if err != nil {
		return err
	}
	defer cursor.Close()

	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		qc, ok := unwrapQueryConcept(hit.Doc)
		if !ok || !qc.Stated {
			continue
		}
		mentionsBad := false
		for _, dests := range qc.Attributes {
			for d := range dests {
				if isBad(d) {
					mentionsBad = true
					break
				}
			}
			if mentionsBad {
				break
			}
		}
		if !mentionsBad {
			continue
		}
		if err := e.collectAxiomBadRefs(ctx, criteria, qc.ConceptID, isBad, axioms); err != nil {
			return err
		}
	}
	return nil
}

// collectAxiomBadRefs fetches the active axiom members referencing
// conceptID, parses each member's OWL expression, and records any
// referenced concept satisfying isBad against axioms.
func (e *Engine) collectAxiomBadRefs(ctx context.Context, criteria branchstore.Criteria, conceptID string, isBad func(string) bool, axioms map[string]*axiomEntry) error {
	cursor, err := e.docs.Stream(ctx, docstore.KindReferenceSetMember, criteria, docstore.Term("referencedComponentId", conceptID))
	if err != nil {
		return err
	}
	defer cursor.Close()

	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		m, ok := unwrapRefsetMember(hit.Doc)
		if !ok || !m.Active {
			continue
		}
		expr := m.Field(types.OWLExpressionField)
		if expr == "" {
			continue
		}
		ids, err := ParseOWLExpression(expr)
		if err != nil {
			obs.Logf("integrity: skipping unparseable axiom %s on concept %s: %v\n", m.MemberID, conceptID, err)
			continue
		}
		var bad []string
		for id := range ids {
			if isBad(id) {
				bad = append(bad, id)
			}
		}
		if len(bad) == 0 {
			continue
		}
		entry := axioms[m.MemberID]
		if entry == nil {
			entry = &axiomEntry{referencedComponentID: conceptID, badRefs: make(map[string]bool)}
			axioms[m.MemberID] = entry
		}
		for _, id := range bad {
			entry.badRefs[id] = true
		}
	}
	return nil
}

// buildInverseMaps is Phase D: for every relationship or axiom member
// changed under criteria, index it by the concept ids it depends on being
// active, so Phase E can re-check exactly those ids' current activity.
func (e *Engine) buildInverseMaps(ctx context.Context, criteria branchstore.Criteria) (*inverseMaps, error) {
	inv := &inverseMaps{
		bySource:       make(map[string][]string),
		byType:         make(map[string][]string),
		byDestination:  make(map[string][]string),
		byAxiomConcept: make(map[string][]string),
		memberConcept:  make(map[string]string),
	}

	relCursor, err := e.docs.Stream(ctx, docstore.KindRelationship, criteria, docstore.Query{})
	if err != nil {
		return nil, err
	}
	defer relCursor.Close()
	for {
		hit, ok, err := relCursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		r, ok := unwrapRelationship(hit.Doc)
		if !ok || r.CharacteristicTypeID == types.CharacteristicInferred {
			continue
		}
		inv.bySource[r.SourceID] = append(inv.bySource[r.SourceID], r.ID)
		inv.byType[r.TypeID] = append(inv.byType[r.TypeID], r.ID)
		if !r.Concrete() {
			inv.byDestination[r.DestinationID] = append(inv.byDestination[r.DestinationID], r.ID)
		}
	}

	memberCursor, err := e.docs.Stream(ctx, docstore.KindReferenceSetMember, criteria, docstore.Query{})
	if err != nil {
		return nil, err
	}
	defer memberCursor.Close()
	for {
		hit, ok, err := memberCursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		m, ok := unwrapRefsetMember(hit.Doc)
		if !ok {
			continue
		}
		expr := m.Field(types.OWLExpressionField)
		if expr == "" {
			continue
		}
		ids, err := ParseOWLExpression(expr)
		if err != nil {
			obs.Logf("integrity: skipping unparseable axiom %s while indexing changes: %v\n", m.MemberID, err)
			continue
		}
		inv.memberConcept[m.MemberID] = m.ReferencedComponentID
		for id := range ids {
			inv.byAxiomConcept[id] = append(inv.byAxiomConcept[id], m.MemberID)
		}
	}

	return inv, nil
}

// assembleReport is Phase F: attach FSN/PT display terms to every axiom
// entry and build the final Report.
func (e *Engine) assembleReport(ctx context.Context, criteria branchstore.Criteria, maps *badRefMaps, axioms map[string]*axiomEntry) (*Report, error) {
	report := &Report{
		RelationshipsWithMissingOrInactiveSource:      maps.source,
		RelationshipsWithMissingOrInactiveType:        maps.typ,
		RelationshipsWithMissingOrInactiveDestination: maps.destination,
	}
	if len(axioms) == 0 {
		return report, nil
	}

	report.AxiomsWithMissingOrInactiveReferencedConcept = make(map[string]ConceptMini, len(axioms))
	for memberID, entry := range axioms {
		mini, err := e.conceptMini(ctx, criteria, entry.referencedComponentID)
		if err != nil {
			return nil, err
		}
		mini.MissingOrInactiveConcepts = sortedKeys(entry.badRefs)
		report.AxiomsWithMissingOrInactiveReferencedConcept[memberID] = mini
	}
	return report, nil
}

// conceptMini builds the display descriptor for a concept: its id, FSN, and
// a preferred term. Language-refset acceptability is not modeled here; the
// preferred term is the first active non-FSN description encountered.
func (e *Engine) conceptMini(ctx context.Context, criteria branchstore.Criteria, conceptID string) (ConceptMini, error) {
	mini := ConceptMini{ID: conceptID}

	cursor, err := e.docs.Stream(ctx, docstore.KindDescription, criteria, docstore.Term("conceptId", conceptID))
	if err != nil {
		return mini, err
	}
	defer cursor.Close()

	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return mini, err
		}
		if !ok {
			break
		}
		d, ok := unwrapDescription(hit.Doc)
		if !ok || !d.Active {
			continue
		}
		if d.TypeID == e.wellKnown.DescriptionTypes.FSN {
			if mini.FSN == "" {
				mini.FSN = d.Term
			}
		} else if mini.PT == "" {
			mini.PT = d.Term
		}
	}
	return mini, nil
}

// fetchRelationship looks up a single relationship by id under criteria, for
// the fix-verification path's re-check of previously reported rows.
func (e *Engine) fetchRelationship(ctx context.Context, criteria branchstore.Criteria, id string) (*types.Relationship, bool, error) {
	cursor, err := e.docs.Stream(ctx, docstore.KindRelationship, criteria, docstore.Term("id", id))
	if err != nil {
		return nil, false, err
	}
	defer cursor.Close()

	hit, ok, err := cursor.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	r, ok := unwrapRelationship(hit.Doc)
	if !ok {
		return nil, false, nil
	}
	return r, true, nil
}

// fetchRefsetMember looks up a single reference set member by id under
// criteria, for the fix-verification path's re-check of previously reported
// axioms.
func (e *Engine) fetchRefsetMember(ctx context.Context, criteria branchstore.Criteria, id string) (*types.ReferenceSetMember, bool, error) {
	cursor, err := e.docs.Stream(ctx, docstore.KindReferenceSetMember, criteria, docstore.Term("id", id))
	if err != nil {
		return nil, false, err
	}
	defer cursor.Close()

	hit, ok, err := cursor.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	m, ok := unwrapRefsetMember(hit.Doc)
	if !ok {
		return nil, false, nil
	}
	return m, true, nil
}
