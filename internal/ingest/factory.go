package ingest

import (
	"context"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/buffer"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/patch"
	"github.com/snomed-core/termcore/internal/types"
)

// factory builds the patcher, buffer set, and per-kind row parsers for one
// running import job, bound to its (possibly changing, for FULL) open
// commit.
type factory struct {
	coord   *Coordinator
	job     *Job
	commit  branchstore.Commit
	buffers *buffer.Set

	patchers     map[buffer.Kind]*patch.Patcher
	moduleFilter map[string]bool // nil = accept every module

	// moduleCutoffs holds, for SNAPSHOT imports only (and not when
	// PatchReleaseVersion disables the patcher), the highest
	// effectiveTime already present per moduleId and per kind: a row at or
	// below its module's cutoff is stale content the archive is
	// republishing unchanged and is dropped before it ever reaches the
	// patcher.
	moduleCutoffs map[buffer.Kind]map[string]int

	// onReleaseBoundary is only used by FULL imports, which commit once per
	// distinct effectiveTime bucket rather than once for the whole job; it
	// lets the coordinator's local commit variable track the factory's.
	onReleaseBoundary func(branchstore.Commit)

	// skippedBeforeReset carries forward skip counts from patchers retired
	// at an earlier FULL-import release boundary, since rebuildPatchers
	// replaces the map outright.
	skippedBeforeReset int
}

func docstoreKind(k buffer.Kind) docstore.Kind {
	switch k {
	case buffer.KindConcept:
		return docstore.KindConcept
	case buffer.KindDescription:
		return docstore.KindDescription
	case buffer.KindRelationship:
		return docstore.KindRelationship
	case buffer.KindIdentifier:
		return docstore.KindIdentifier
	case buffer.KindReferenceSetMember:
		return docstore.KindReferenceSetMember
	default:
		panic("ingest: unmapped buffer kind " + string(k))
	}
}

// newFactory builds a factory for job, bound to commit. copyReleaseFields is
// disabled when the job is about to mint a new release (createCodeSystemVersion)
// — an incoming row that matches a prior release still gets its own fresh
// effectiveTime rather than inheriting the old one (§4.5).
func (c *Coordinator) newFactory(ctx context.Context, job *Job, commit branchstore.Commit) (*factory, error) {
	f := &factory{coord: c, job: job, commit: commit}

	if len(job.Config.ModuleIDs) > 0 {
		f.moduleFilter = make(map[string]bool, len(job.Config.ModuleIDs))
		for _, m := range job.Config.ModuleIDs {
			f.moduleFilter[m] = true
		}
	}

	f.rebuildPatchers()

	if job.Config.Type == ImportSnapshot && job.Config.PatchReleaseVersion != patch.PatchReleaseVersion {
		criteria := c.branches.BranchCriteriaBeforeOpenCommit(commit)
		f.moduleCutoffs = make(map[buffer.Kind]map[string]int, 5)
		for _, kind := range []buffer.Kind{
			buffer.KindConcept, buffer.KindDescription, buffer.KindRelationship,
			buffer.KindIdentifier, buffer.KindReferenceSetMember,
		} {
			cutoffs, err := c.computeModuleCutoffs(ctx, docstoreKind(kind), criteria)
			if err != nil {
				return nil, err
			}
			f.moduleCutoffs[kind] = cutoffs
		}
	}

	persistFuncs := make(map[buffer.Kind]buffer.PersistFunc, 5)
	for _, kind := range []buffer.Kind{
		buffer.KindConcept, buffer.KindDescription, buffer.KindRelationship,
		buffer.KindIdentifier, buffer.KindReferenceSetMember,
	} {
		dk := docstoreKind(kind)
		persistFuncs[kind] = func(ctx context.Context, entities []interface{}) error {
			return c.docs.Save(ctx, dk, f.commit, entities)
		}
	}
	f.buffers = buffer.NewSet(persistFuncs)
	return f, nil
}

// rebuildPatchers (re)creates one Patcher per core/dependent kind, scoped to
// the snapshot the current commit started from. Called once at factory
// construction and again whenever a FULL import rolls to a new commit at a
// release boundary, since the "before this commit" snapshot moves forward
// each time.
func (f *factory) rebuildPatchers() {
	opts := patch.Options{
		ClearEffectiveTimes: f.job.Config.ClearEffectiveTimes,
		CopyReleaseFields:   !f.job.Config.CreateCodeSystemVersion,
		PatchReleaseVersion: f.job.Config.PatchReleaseVersion,
	}
	// The patcher's conflict-skip logic only applies to DELTA imports; a
	// SNAPSHOT or FULL archive represents a full republish and must not be
	// compared against whatever a branch already carries.
	if f.job.Config.Type != ImportDelta {
		opts.PatchReleaseVersion = patch.PatchReleaseVersion
	}

	criteria := f.coord.branches.BranchCriteriaBeforeOpenCommit(f.commit)
	f.patchers = make(map[buffer.Kind]*patch.Patcher, 5)
	for _, kind := range []buffer.Kind{
		buffer.KindConcept, buffer.KindDescription, buffer.KindRelationship,
		buffer.KindIdentifier, buffer.KindReferenceSetMember,
	} {
		lookup := newStoreLookup(f.coord.docs, docstoreKind(kind), criteria)
		f.patchers[kind] = patch.New(opts, lookup)
	}
}

// advanceToReleaseBoundary closes and marks successful the commit a FULL
// import's just-finished release bucket was written to, opens the next
// one, and rebuilds patchers against it — so the next bucket's
// CopyReleaseFields comparisons are scoped to the release that just closed,
// not the job's original starting snapshot (§4.5.1). The caller is
// responsible for ensuring every row of the closing bucket has already been
// applied before calling this.
func (f *factory) advanceToReleaseBoundary(ctx context.Context) error {
	if err := f.buffers.FlushAll(ctx); err != nil {
		return err
	}
	if err := f.coord.runPreCommitHooks(ctx, f.commit); err != nil {
		return err
	}
	if err := f.commit.MarkSuccessful(ctx); err != nil {
		return err
	}
	if err := f.commit.Close(ctx); err != nil {
		return err
	}
	newCommit, err := f.coord.openCommitWithRetry(ctx, f.job.Config.BranchPath, branchstore.CommitKindContent, map[string]string{"importJobId": f.job.ID})
	if err != nil {
		return err
	}
	f.commit = newCommit
	if f.onReleaseBoundary != nil {
		f.onReleaseBoundary(newCommit)
	}
	f.skippedBeforeReset = f.totalSkipped()
	f.rebuildPatchers()
	return nil
}

// totalSkipped sums every kind's patcher skip count, used to report how
// many incoming rows a re-import found already present at the same or a
// later effectiveTime.
func (f *factory) totalSkipped() int {
	total := f.skippedBeforeReset
	for _, p := range f.patchers {
		total += p.Stats().Skipped
	}
	return total
}

func (f *factory) moduleAccepted(moduleID string) bool {
	if f.moduleFilter == nil {
		return true
	}
	return f.moduleFilter[moduleID]
}

// belowModuleCutoff reports whether et falls at or below the module
// effective-time filter's cutoff for kind/moduleID, meaning the row is
// stale content a SNAPSHOT archive is republishing unchanged.
func (f *factory) belowModuleCutoff(kind buffer.Kind, moduleID string, et *int) bool {
	if f.moduleCutoffs == nil || et == nil {
		return false
	}
	cutoff, ok := f.moduleCutoffs[kind][moduleID]
	return ok && *et <= cutoff
}

// applyAndSave runs doc through kind's patcher and, if it survives, marks it
// released (when it carries an effectiveTime) before buffering it.
func (f *factory) applyAndSave(ctx context.Context, kind buffer.Kind, doc patch.Envelope) error {
	keep, err := f.patchers[kind].Apply(ctx, doc)
	if err != nil || !keep {
		return err
	}
	env := doc.Envelope()
	if env.EffectiveTime != nil {
		hash := doc.ContentHash()
		env.SetReleased(*env.EffectiveTime)
		env.ReleaseHash = &hash
	}
	return f.buffers.Save(ctx, kind, doc)
}

func baseEnvelope(row Row) types.ComponentEnvelope {
	return types.ComponentEnvelope{
		ID:            row["id"],
		EffectiveTime: types.ParseEffectiveTime(row["effectiveTime"]),
		Active:        types.ParseActive(row["active"]),
		ModuleID:      row["moduleId"],
	}
}

func (f *factory) newConceptState(ctx context.Context, row Row) error {
	env := baseEnvelope(row)
	if !f.moduleAccepted(env.ModuleID) || f.belowModuleCutoff(buffer.KindConcept, env.ModuleID, env.EffectiveTime) {
		return nil
	}
	c := &types.Concept{ComponentEnvelope: env, DefinitionStatusID: row["definitionStatusId"]}
	return f.applyAndSave(ctx, buffer.KindConcept, &conceptDoc{c})
}

func (f *factory) newDescriptionState(ctx context.Context, row Row) error {
	env := baseEnvelope(row)
	if !f.moduleAccepted(env.ModuleID) || f.belowModuleCutoff(buffer.KindDescription, env.ModuleID, env.EffectiveTime) {
		return nil
	}
	d := &types.Description{
		ComponentEnvelope:  env,
		ConceptID:          row["conceptId"],
		LanguageCode:       row["languageCode"],
		TypeID:             row["typeId"],
		Term:               row["term"],
		CaseSignificanceID: row["caseSignificanceId"],
	}
	return f.applyAndSave(ctx, buffer.KindDescription, &descriptionDoc{d})
}

func (f *factory) newStatedRelationshipState(ctx context.Context, row Row) error {
	if LegacyDuplicateStatedRelationshipIDs[row["id"]] {
		return nil
	}
	return f.newRelationshipState(ctx, row, types.CharacteristicStated)
}

func (f *factory) newInferredRelationshipState(ctx context.Context, row Row) error {
	return f.newRelationshipState(ctx, row, types.CharacteristicInferred)
}

func (f *factory) newConcreteRelationshipState(ctx context.Context, row Row) error {
	env := baseEnvelope(row)
	if !f.moduleAccepted(env.ModuleID) || f.belowModuleCutoff(buffer.KindRelationship, env.ModuleID, env.EffectiveTime) {
		return nil
	}
	group, _ := parseGroup(row["relationshipGroup"])
	r := &types.Relationship{
		ComponentEnvelope:    env,
		SourceID:             row["sourceId"],
		Value:                row["value"],
		RelationshipGroup:    group,
		TypeID:               row["typeId"],
		CharacteristicTypeID: types.CharacteristicInferred,
		ModifierID:           row["modifierId"],
	}
	return f.applyAndSave(ctx, buffer.KindRelationship, &relationshipDoc{r})
}

func (f *factory) newRelationshipState(ctx context.Context, row Row, characteristic types.CharacteristicType) error {
	env := baseEnvelope(row)
	if !f.moduleAccepted(env.ModuleID) || f.belowModuleCutoff(buffer.KindRelationship, env.ModuleID, env.EffectiveTime) {
		return nil
	}
	group, _ := parseGroup(row["relationshipGroup"])
	r := &types.Relationship{
		ComponentEnvelope:    env,
		SourceID:             row["sourceId"],
		DestinationID:        row["destinationId"],
		RelationshipGroup:    group,
		TypeID:               row["typeId"],
		CharacteristicTypeID: characteristic,
		ModifierID:           row["modifierId"],
	}
	return f.applyAndSave(ctx, buffer.KindRelationship, &relationshipDoc{r})
}

func (f *factory) newIdentifierState(ctx context.Context, row Row) error {
	env := baseEnvelope(row)
	if !f.moduleAccepted(env.ModuleID) || f.belowModuleCutoff(buffer.KindIdentifier, env.ModuleID, env.EffectiveTime) {
		return nil
	}
	id := &types.Identifier{
		ComponentEnvelope:     env,
		AlternateIdentifier:   row["alternateIdentifier"],
		IdentifierSchemeID:    row["identifierSchemeId"],
		ReferencedComponentID: row["referencedComponentId"],
	}
	return f.applyAndSave(ctx, buffer.KindIdentifier, &identifierDoc{id})
}

func (f *factory) newReferenceSetMemberState(ctx context.Context, row Row) error {
	env := baseEnvelope(row)
	env.ID = row["id"] // the member id, carried in the "id" RF2 column like every other component
	if !f.moduleAccepted(env.ModuleID) || f.belowModuleCutoff(buffer.KindReferenceSetMember, env.ModuleID, env.EffectiveTime) {
		return nil
	}
	additional := make(map[string]string)
	for k, v := range row {
		switch k {
		case "id", "effectiveTime", "active", "moduleId", "refsetId", "referencedComponentId":
			continue
		default:
			additional[k] = v
		}
	}
	m := &types.ReferenceSetMember{
		ComponentEnvelope:     env,
		MemberID:              row["id"],
		RefsetID:              row["refsetId"],
		ReferencedComponentID: row["referencedComponentId"],
		AdditionalFields:      additional,
	}
	return f.applyAndSave(ctx, buffer.KindReferenceSetMember, &refsetMemberDoc{m})
}

func parseGroup(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, nil
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
