package integrity

import (
	"context"
	"testing"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/branchstore/memstore"
	"github.com/snomed-core/termcore/internal/config"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/docstore/memindex"
	"github.com/snomed-core/termcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConceptDoc, testRelationshipDoc, and testRefsetMemberDoc mirror the
// ingestion package's unexported document wrapper types closely enough to
// satisfy memindex.Doc and this package's Unwrap-based accessor interfaces,
// since tests here cannot import internal/ingest's unexported types
// directly.
type testConceptDoc struct{ *types.Concept }

func (d *testConceptDoc) Unwrap() *types.Concept { return d.Concept }
func (d *testConceptDoc) DocID() string          { return d.ID }
func (d *testConceptDoc) DocBranch() string      { return "" }
func (d *testConceptDoc) DocFields() map[string]string {
	return map[string]string{"id": d.ID, "active": boolString(d.Active)}
}

type testDescriptionDoc struct{ *types.Description }

func (d *testDescriptionDoc) Unwrap() *types.Description { return d.Description }
func (d *testDescriptionDoc) DocID() string              { return d.ID }
func (d *testDescriptionDoc) DocBranch() string          { return "" }
func (d *testDescriptionDoc) DocFields() map[string]string {
	return map[string]string{"id": d.ID, "conceptId": d.ConceptID, "typeId": d.TypeID}
}

type testRelationshipDoc struct{ *types.Relationship }

func (d *testRelationshipDoc) Unwrap() *types.Relationship { return d.Relationship }
func (d *testRelationshipDoc) DocID() string               { return d.ID }
func (d *testRelationshipDoc) DocBranch() string           { return "" }
func (d *testRelationshipDoc) DocFields() map[string]string {
	return map[string]string{
		"id":                   d.ID,
		"active":               boolString(d.Active),
		"sourceId":             d.SourceID,
		"destinationId":        d.DestinationID,
		"typeId":               d.TypeID,
		"characteristicTypeId": string(d.CharacteristicTypeID),
	}
}

type testRefsetMemberDoc struct{ *types.ReferenceSetMember }

func (d *testRefsetMemberDoc) Unwrap() *types.ReferenceSetMember { return d.ReferenceSetMember }
func (d *testRefsetMemberDoc) DocID() string                     { return d.MemberID }
func (d *testRefsetMemberDoc) DocBranch() string                 { return "" }
func (d *testRefsetMemberDoc) DocFields() map[string]string {
	fields := map[string]string{
		"id":                    d.MemberID,
		"active":                boolString(d.Active),
		"refsetId":              d.RefsetID,
		"referencedComponentId": d.ReferencedComponentID,
	}
	for k, v := range d.AdditionalFields {
		fields[k] = v
	}
	return fields
}

func (d *testRefsetMemberDoc) SetField(name, value string) {
	if d.AdditionalFields == nil {
		d.AdditionalFields = make(map[string]string)
	}
	d.AdditionalFields[name] = value
}

var testWellKnown = config.WellKnownIDs{}

type fakeCodeSystemLocator struct {
	owning map[string]string
}

func (f *fakeCodeSystemLocator) OwningCodeSystemBranch(ctx context.Context, branchPath string) (string, error) {
	if owning, ok := f.owning[branchPath]; ok {
		return owning, nil
	}
	return branchPath, nil
}

func effectiveTime(v int) *int { return &v }

func putConcept(t *testing.T, branches *memstore.Store, docs *memindex.Store, branch, id string, active bool) {
	t.Helper()
	c, err := branches.OpenCommit(context.Background(), branch, branchstore.CommitKindContent, nil)
	require.NoError(t, err)
	doc := &testConceptDoc{&types.Concept{
		ComponentEnvelope: types.ComponentEnvelope{ID: id, Active: active, EffectiveTime: effectiveTime(20230101)},
	}}
	require.NoError(t, docs.Save(context.Background(), docstore.KindConcept, c, []interface{}{doc}))
	require.NoError(t, c.MarkSuccessful(context.Background()))
	require.NoError(t, c.Close(context.Background()))
}

func putRelationship(t *testing.T, branches *memstore.Store, docs *memindex.Store, branch string, r *types.Relationship) {
	t.Helper()
	c, err := branches.OpenCommit(context.Background(), branch, branchstore.CommitKindContent, nil)
	require.NoError(t, err)
	require.NoError(t, docs.Save(context.Background(), docstore.KindRelationship, c, []interface{}{&testRelationshipDoc{r}}))
	require.NoError(t, c.MarkSuccessful(context.Background()))
	require.NoError(t, c.Close(context.Background()))
}

// TestCheckIncrementalMissingDestination covers seed scenario 2: inactivating
// a concept on a descendant branch surfaces every relationship on an
// ancestor branch whose destination now references it.
func TestCheckIncrementalMissingDestination(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()
	_, err := branches.CreateBranch("MAIN/project", "MAIN")
	require.NoError(t, err)
	_, err = branches.CreateBranch("MAIN/project/fix", "MAIN/project")
	require.NoError(t, err)

	putConcept(t, branches, docs, "MAIN", "100000", true)
	putRelationship(t, branches, docs, "MAIN", &types.Relationship{
		ComponentEnvelope:    types.ComponentEnvelope{ID: "7000", Active: true},
		SourceID:             "900000000000441003",
		TypeID:               "116680003",
		DestinationID:        "100000",
		CharacteristicTypeID: types.CharacteristicStated,
	})

	// Inactivate 100000 on the fix branch only.
	putConcept(t, branches, docs, "MAIN/project/fix", "100000", false)

	engine := New(branches, docs, &fakeCodeSystemLocator{}, testWellKnown, nil)
	report, err := engine.Check(ctx, "MAIN/project/fix")
	require.NoError(t, err)

	assert.Empty(t, report.RelationshipsWithMissingOrInactiveSource)
	assert.Empty(t, report.RelationshipsWithMissingOrInactiveType)
	assert.Equal(t, map[string]string{"7000": "100000"}, report.RelationshipsWithMissingOrInactiveDestination)
	assert.Empty(t, report.AxiomsWithMissingOrInactiveReferencedConcept)
}

func TestCheckRefusesRootBranch(t *testing.T) {
	branches := memstore.New()
	docs := memindex.New()
	engine := New(branches, docs, &fakeCodeSystemLocator{}, testWellKnown, nil)

	_, err := engine.Check(context.Background(), "MAIN")
	require.Error(t, err)
	var rse *types.RuntimeStateError
	assert.ErrorAs(t, err, &rse)
}

// TestSweepEmptyOnCleanBranch covers seed scenario 1: a freshly ingested,
// fully active branch reports no integrity issues under a full sweep.
func TestSweepEmptyOnCleanBranch(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()
	putConcept(t, branches, docs, "MAIN", "100000", true)

	engine := New(branches, docs, &fakeCodeSystemLocator{}, testWellKnown, nil)
	report, err := engine.Sweep(ctx, "MAIN", true)
	require.NoError(t, err)
	assert.True(t, report.Empty())
}

// TestSweepFindsBadAxiomReference covers the stated-axiom branch of the full
// sweep (§4.6.3 / §4.6.4): an OWL axiom referencing an inactive concept is
// found via the semantic index and enriched with a display term.
func TestSweepFindsBadAxiomReference(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()

	wellKnown := config.WellKnownIDs{}
	wellKnown.DescriptionTypes.FSN = "900000000000003001"

	putConcept(t, branches, docs, "MAIN", "73211009", true)
	putConcept(t, branches, docs, "MAIN", "74732009", true)
	putConcept(t, branches, docs, "MAIN", "609096000", false) // attribute value concept, inactive

	c1, err := branches.OpenCommit(ctx, "MAIN", branchstore.CommitKindContent, nil)
	require.NoError(t, err)
	require.NoError(t, docs.Save(ctx, docstore.KindDescription, c1, []interface{}{
		&testDescriptionDoc{&types.Description{
			ComponentEnvelope: types.ComponentEnvelope{ID: "d1", Active: true},
			ConceptID:         "73211009",
			TypeID:            "900000000000003001",
			Term:              "Diabetes mellitus (disorder)",
		}},
	}))
	require.NoError(t, docs.Save(ctx, docstore.KindReferenceSetMember, c1, []interface{}{
		&testRefsetMemberDoc{&types.ReferenceSetMember{
			ComponentEnvelope:     types.ComponentEnvelope{ID: "axiom1", Active: true},
			MemberID:              "axiom1",
			RefsetID:              "733073007",
			ReferencedComponentID: "73211009",
			AdditionalFields: map[string]string{
				types.OWLExpressionField: "SubClassOf(:73211009 ObjectSomeValuesFrom(:609096000 :74732009))",
			},
		}},
	}))
	require.NoError(t, docs.Save(ctx, docstore.KindQueryConcept, c1, []interface{}{
		&queryConceptDoc{&types.QueryConcept{
			Branch:     "MAIN",
			ConceptID:  "73211009",
			Stated:     true,
			Attributes: map[string]map[string]bool{"ATTR.74732009": {"609096000": true}},
		}},
	}))
	require.NoError(t, c1.MarkSuccessful(ctx))
	require.NoError(t, c1.Close(ctx))

	engine := New(branches, docs, &fakeCodeSystemLocator{}, wellKnown, nil)
	report, err := engine.Sweep(ctx, "MAIN", true)
	require.NoError(t, err)

	require.Contains(t, report.AxiomsWithMissingOrInactiveReferencedConcept, "axiom1")
	entry := report.AxiomsWithMissingOrInactiveReferencedConcept["axiom1"]
	assert.Equal(t, "73211009", entry.ID)
	assert.Equal(t, "Diabetes mellitus (disorder)", entry.FSN)
	assert.Equal(t, []string{"609096000"}, entry.MissingOrInactiveConcepts)
}

// TestCheckFixPartialResolution covers seed scenario 6: a fix branch that
// resolves some but not all of the parent's reported issues returns a report
// containing only the unresolved ids, and the integrityIssue flag set on
// MAIN remains set (CheckFix clears the flag only on the fix branch, and
// only when its result is empty).
func TestCheckFixPartialResolution(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()

	const typeID = "116680003"
	const sourceID = "900000000000441003"
	putConcept(t, branches, docs, "MAIN", sourceID, true)
	putConcept(t, branches, docs, "MAIN", typeID, true)
	putConcept(t, branches, docs, "MAIN", "100000", true)
	putConcept(t, branches, docs, "MAIN", "200000", true)
	putRelationship(t, branches, docs, "MAIN", &types.Relationship{
		ComponentEnvelope:    types.ComponentEnvelope{ID: "7000", Active: true},
		SourceID:             sourceID,
		TypeID:               typeID,
		DestinationID:        "100000",
		CharacteristicTypeID: types.CharacteristicStated,
	})
	putRelationship(t, branches, docs, "MAIN", &types.Relationship{
		ComponentEnvelope:    types.ComponentEnvelope{ID: "7001", Active: true},
		SourceID:             sourceID,
		TypeID:               typeID,
		DestinationID:        "200000",
		CharacteristicTypeID: types.CharacteristicStated,
	})
	putConcept(t, branches, docs, "MAIN", "100000", false)
	putConcept(t, branches, docs, "MAIN", "200000", false)
	require.NoError(t, branches.UpdateMetadata(ctx, "MAIN", map[string]map[string]string{
		types.MetaSectionInternal: {types.MetaKeyIntegrityIssue: "true"},
	}))

	// Project and its fix task branch rebase onto MAIN only after all of the
	// above inactivations, so their BaseTimestamp satisfies CheckFix's
	// rebased precondition.
	_, err := branches.CreateBranch("MAIN/project", "MAIN")
	require.NoError(t, err)
	_, err = branches.CreateBranch("MAIN/project/fix", "MAIN/project")
	require.NoError(t, err)

	// The fix branch resolves 100000 but leaves 200000 inactive.
	putConcept(t, branches, docs, "MAIN/project/fix", "100000", true)

	engine := New(branches, docs, &fakeCodeSystemLocator{}, testWellKnown, nil)
	report, err := engine.CheckFix(ctx, "MAIN/project/fix", "MAIN")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"7001": "200000"}, report.RelationshipsWithMissingOrInactiveDestination)
	assert.NotContains(t, report.RelationshipsWithMissingOrInactiveDestination, "7000")

	branch, err := branches.GetBranch(ctx, "MAIN")
	require.NoError(t, err)
	assert.Equal(t, "true", branch.MetaGet(types.MetaSectionInternal, types.MetaKeyIntegrityIssue))
}

func TestParseOWLExpressionRoundTrip(t *testing.T) {
	expr := "SubClassOf(:73211009 ObjectIntersectionOf(:64572001 ObjectSomeValuesFrom(:609096000 :74732009)))"
	first, err := ParseOWLExpression(expr)
	require.NoError(t, err)
	second, err := ParseOWLExpression(expr)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, map[string]bool{
		"73211009": true, "64572001": true, "609096000": true, "74732009": true,
	}, first)
}

func TestParseOWLExpressionEmpty(t *testing.T) {
	ids, err := ParseOWLExpression("")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFindExtraConceptsInSemanticIndex(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()
	putConcept(t, branches, docs, "MAIN", "100000", true)

	c, err := branches.OpenCommit(ctx, "MAIN", branchstore.CommitKindContent, nil)
	require.NoError(t, err)
	require.NoError(t, docs.Save(ctx, docstore.KindQueryConcept, c, []interface{}{
		&queryConceptDoc{&types.QueryConcept{Branch: "MAIN", ConceptID: "100000", Stated: true}},
		&queryConceptDoc{&types.QueryConcept{Branch: "MAIN", ConceptID: "999999", Stated: true}},
		&queryConceptDoc{&types.QueryConcept{Branch: "MAIN", ConceptID: "999998", Stated: false}},
	}))
	require.NoError(t, c.MarkSuccessful(ctx))
	require.NoError(t, c.Close(ctx))

	engine := New(branches, docs, &fakeCodeSystemLocator{}, testWellKnown, nil)
	stated, inferred, err := engine.FindExtraConceptsInSemanticIndex(ctx, "MAIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"999999"}, stated)
	assert.Equal(t, []string{"999998"}, inferred)
}

func TestPreCommitCompletionClearsFlagWhenResolved(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()
	putConcept(t, branches, docs, "MAIN", "100000", true)
	require.NoError(t, branches.UpdateMetadata(ctx, "MAIN", map[string]map[string]string{
		types.MetaSectionInternal: {types.MetaKeyIntegrityIssue: "true"},
	}))

	engine := New(branches, docs, &fakeCodeSystemLocator{}, testWellKnown, nil)

	c, err := branches.OpenCommit(ctx, "MAIN", branchstore.CommitKindContent, nil)
	require.NoError(t, err)
	engine.PreCommitCompletion(ctx, c)
	require.NoError(t, c.MarkSuccessful(ctx))
	require.NoError(t, c.Close(ctx))

	branch, err := branches.GetBranch(ctx, "MAIN")
	require.NoError(t, err)
	assert.Equal(t, "", branch.MetaGet(types.MetaSectionInternal, types.MetaKeyIntegrityIssue))
}

func TestConceptMiniEnrichment(t *testing.T) {
	ctx := context.Background()
	branches := memstore.New()
	docs := memindex.New()
	putConcept(t, branches, docs, "MAIN", "100000", true)

	wellKnown := config.WellKnownIDs{}
	wellKnown.DescriptionTypes.FSN = "900000000000003001"

	c, err := branches.OpenCommit(ctx, "MAIN", branchstore.CommitKindContent, nil)
	require.NoError(t, err)
	require.NoError(t, docs.Save(ctx, docstore.KindDescription, c, []interface{}{
		&testDescriptionDoc{&types.Description{
			ComponentEnvelope: types.ComponentEnvelope{ID: "d1", Active: true},
			ConceptID:         "100000",
			TypeID:            "900000000000003001",
			Term:              "Clinical finding (finding)",
		}},
		&testDescriptionDoc{&types.Description{
			ComponentEnvelope: types.ComponentEnvelope{ID: "d2", Active: true},
			ConceptID:         "100000",
			TypeID:            "900000000000013009",
			Term:              "Clinical finding",
		}},
	}))
	require.NoError(t, c.MarkSuccessful(ctx))
	require.NoError(t, c.Close(ctx))

	engine := New(branches, docs, &fakeCodeSystemLocator{}, wellKnown, nil)
	mini, err := engine.conceptMini(ctx, branches.BranchCriteriaOn("MAIN"), "100000")
	require.NoError(t, err)
	assert.Equal(t, "Clinical finding (finding)", mini.FSN)
	assert.Equal(t, "Clinical finding", mini.PT)
}

func TestBoolString(t *testing.T) {
	assert.Equal(t, "1", boolString(true))
	assert.Equal(t, "0", boolString(false))
}
