package memindex

import (
	"context"
	"testing"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommit struct {
	id        string
	branch    string
	timepoint int64
}

func (c fakeCommit) ID() string                           { return c.id }
func (c fakeCommit) Branch() string                       { return c.branch }
func (c fakeCommit) Kind() branchstore.CommitKind         { return branchstore.CommitKindContent }
func (c fakeCommit) Timepoint() int64                     { return c.timepoint }
func (c fakeCommit) MarkSuccessful(context.Context) error { return nil }
func (c fakeCommit) Close(context.Context) error          { return nil }

type fakeDoc struct {
	id     string
	fields map[string]string
}

func (d *fakeDoc) DocID() string                 { return d.id }
func (d *fakeDoc) DocBranch() string             { return "" }
func (d *fakeDoc) DocFields() map[string]string  { return d.fields }
func (d *fakeDoc) SetField(name, value string)   { d.fields[name] = value }

func TestStreamInheritsFromAncestorBranch(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := fakeCommit{id: "c1", branch: "MAIN", timepoint: 1}
	doc := &fakeDoc{id: "concept-1", fields: map[string]string{"active": "true"}}
	require.NoError(t, s.Save(ctx, docstore.KindConcept, c, []interface{}{doc}))

	cursor, err := s.Stream(ctx, docstore.KindConcept, branchstore.Criteria{Branch: "MAIN/project/fix"}, docstore.Query{})
	require.NoError(t, err)
	hit, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc, hit.Doc)
}

func TestStreamChildOverridesParent(t *testing.T) {
	ctx := context.Background()
	s := New()

	c1 := fakeCommit{id: "c1", branch: "MAIN", timepoint: 1}
	parentDoc := &fakeDoc{id: "concept-1", fields: map[string]string{"active": "true"}}
	require.NoError(t, s.Save(ctx, docstore.KindConcept, c1, []interface{}{parentDoc}))

	c2 := fakeCommit{id: "c2", branch: "MAIN/project/fix", timepoint: 2}
	childDoc := &fakeDoc{id: "concept-1", fields: map[string]string{"active": "false"}}
	require.NoError(t, s.Save(ctx, docstore.KindConcept, c2, []interface{}{childDoc}))

	cursor, err := s.Stream(ctx, docstore.KindConcept, branchstore.Criteria{Branch: "MAIN/project/fix"}, docstore.Query{})
	require.NoError(t, err)
	hit, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", hit.Doc.(*fakeDoc).fields["active"])

	cursorMain, err := s.Stream(ctx, docstore.KindConcept, branchstore.Criteria{Branch: "MAIN"}, docstore.Query{})
	require.NoError(t, err)
	hitMain, ok, err := cursorMain.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", hitMain.Doc.(*fakeDoc).fields["active"])
}

func TestRollbackDiscardsCommitRows(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := fakeCommit{id: "c1", branch: "MAIN", timepoint: 1}
	doc := &fakeDoc{id: "concept-1", fields: map[string]string{}}
	require.NoError(t, s.Save(ctx, docstore.KindConcept, c, []interface{}{doc}))
	require.NoError(t, s.Rollback(ctx, "c1"))

	cursor, err := s.Stream(ctx, docstore.KindConcept, branchstore.Criteria{Branch: "MAIN"}, docstore.Query{})
	require.NoError(t, err)
	_, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBulkScriptedUpdateSetsField(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := fakeCommit{id: "c1", branch: "MAIN", timepoint: 1}
	doc := &fakeDoc{id: "member-1", fields: map[string]string{}}
	require.NoError(t, s.Save(ctx, docstore.KindReferenceSetMember, c, []interface{}{doc}))

	err := s.BulkScriptedUpdate(ctx, docstore.KindReferenceSetMember, []docstore.AdditionalFieldUpdate{
		{MemberID: "member-1", Fields: map[string]string{"attributeRule": "rule-1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "rule-1", doc.fields["attributeRule"])
}
