package mrcm

import (
	"context"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/config"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/mrcm/ecl"
	"github.com/snomed-core/termcore/internal/types"
)

// refsetMemberUnwrapper is the same cross-package accessor pattern used by
// internal/integrity: the ingestion package's document wrapper satisfies
// this implicitly, letting this package read rows back out of the store
// without importing internal/ingest.
type refsetMemberUnwrapper interface{ Unwrap() *types.ReferenceSetMember }
type descriptionUnwrapper interface{ Unwrap() *types.Description }

func unwrapRefsetMember(doc interface{}) (*types.ReferenceSetMember, bool) {
	u, ok := doc.(refsetMemberUnwrapper)
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

// Updater runs the commit-time MRCM auto-maintenance hook: whenever a
// commit changes an MRCM reference set member, the active rulebook is
// recomputed and the generator's output written back before the commit
// completes.
type Updater struct {
	branches  branchstore.Store
	docs      docstore.Store
	wellKnown config.WellKnownIDs
	generator Generator
}

// New builds an Updater over the given stores and generator.
func New(branches branchstore.Store, docs docstore.Store, wellKnown config.WellKnownIDs, generator Generator) *Updater {
	return &Updater{branches: branches, docs: docs, wellKnown: wellKnown, generator: generator}
}

// PreCommitCompletion implements the 7-step algorithm. It runs on every
// content or rebase commit except while importing a code system version,
// and returns a real error on generator or store failure so the caller can
// roll the commit back: unlike the integrity engine's equivalent hook, the
// MRCM rulebook must never be left inconsistent with the members it derives
// from.
func (u *Updater) PreCommitCompletion(ctx context.Context, commit branchstore.Commit) error {
	branch, err := u.branches.GetBranch(ctx, commit.Branch())
	if err != nil {
		return err
	}
	if branch.MetaGet(types.MetaSectionInternal, types.MetaKeyImportingCodeSystemVersion) == "true" {
		return nil
	}

	// Step 1: detect changed MRCM refset members in the commit.
	changedCriteria := branchstore.Criteria{Branch: commit.Branch(), IncludeOpenCommit: commit.ID(), UnpromotedOnly: true}
	refsetIDs := u.wellKnown.MRCMRefsetIDs()
	changed, err := u.changedMRCMMembers(ctx, changedCriteria, refsetIDs)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	// Step 2: load the active rulebook, including this commit's own writes.
	current := u.branches.BranchCriteriaIncludingOpenCommit(commit)
	rulebook, allMembers, starts, err := u.loadRulebook(ctx, current, refsetIDs)
	if err != nil {
		return err
	}

	// Step 3: short terms for every referenced concept.
	shortTerms, err := u.shortTerms(ctx, current, rulebook)
	if err != nil {
		return err
	}

	// Step 4: data attributes, descendants of CONCEPT_MODEL_DATA_ATTRIBUTE.
	dataAttributes, err := u.dataAttributes(ctx, current)
	if err != nil {
		return err
	}

	// Step 5: invoke the external generator.
	generated, err := u.generator.Generate(ctx, GeneratorInput{
		Rulebook:       rulebook,
		ShortTerms:     shortTerms,
		DataAttributes: dataAttributes,
	})
	if err != nil {
		return types.NewRuntimeStateError("generating MRCM rules for commit on %s: %v", commit.Branch(), err)
	}

	defaultModuleID := branch.MetaGet(types.MetaSectionInternal, types.MetaKeyDefaultModuleID)
	return u.applyGenerated(ctx, commit, allMembers, starts, generated, defaultModuleID)
}

// changedMRCMMembers returns the member ids touched by the commit whose
// refset id is one of the three MRCM refsets.
func (u *Updater) changedMRCMMembers(ctx context.Context, criteria branchstore.Criteria, refsetIDs [3]string) (map[string]bool, error) {
	changed := make(map[string]bool)
	cursor, err := u.docs.Stream(ctx, docstore.KindReferenceSetMember, criteria, docstore.Terms("refsetId", refsetIDs[:]))
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
		m, ok := unwrapRefsetMember(hit.Doc)
		if !ok {
			continue
		}
		changed[m.MemberID] = true
	}
	return changed, nil
}

// loadRulebook streams the active members of all three MRCM refsets under
// criteria, returning the reduced Rulebook the generator consumes, the full
// documents keyed by member id (needed later to write fields back), and
// each member's current index version timepoint (needed to decide rewrite
// vs. append in applyGenerated).
func (u *Updater) loadRulebook(ctx context.Context, criteria branchstore.Criteria, refsetIDs [3]string) (Rulebook, map[string]*types.ReferenceSetMember, map[string]int64, error) {
	all := make(map[string]*types.ReferenceSetMember)
	starts := make(map[string]int64)
	var rulebook Rulebook

	kinds := []struct {
		refsetID string
		dest     *[]RulebookMember
	}{
		{refsetIDs[0], &rulebook.Domains},
		{refsetIDs[1], &rulebook.AttributeDomains},
		{refsetIDs[2], &rulebook.AttributeRanges},
	}

	for _, k := range kinds {
		cursor, err := u.docs.Stream(ctx, docstore.KindReferenceSetMember, criteria, docstore.Term("refsetId", k.refsetID))
		if err != nil {
			return rulebook, nil, nil, err
		}
		for {
			hit, ok, err := cursor.Next(ctx)
			if err != nil {
				cursor.Close()
				return rulebook, nil, nil, err
			}
			if !ok {
				break
			}
			m, ok := unwrapRefsetMember(hit.Doc)
			if !ok || !m.Active {
				continue
			}
			all[m.MemberID] = m
			starts[m.MemberID] = hit.Start
			*k.dest = append(*k.dest, RulebookMember{
				MemberID:              m.MemberID,
				RefsetID:              m.RefsetID,
				ReferencedComponentID: m.ReferencedComponentID,
				AdditionalFields:      m.AdditionalFields,
			})
		}
		cursor.Close()
	}
	return rulebook, all, starts, nil
}

// shortTerms fetches a display term for every concept id referenced from
// the rulebook: FSN for domain member concepts, preferred term otherwise.
func (u *Updater) shortTerms(ctx context.Context, criteria branchstore.Criteria, rulebook Rulebook) (map[string]string, error) {
	domainConcepts := make(map[string]bool, len(rulebook.Domains))
	conceptIDs := make(map[string]bool)
	for _, m := range rulebook.Domains {
		domainConcepts[m.ReferencedComponentID] = true
		conceptIDs[m.ReferencedComponentID] = true
	}
	for _, m := range rulebook.AttributeDomains {
		conceptIDs[m.ReferencedComponentID] = true
	}
	for _, m := range rulebook.AttributeRanges {
		conceptIDs[m.ReferencedComponentID] = true
	}

	terms := make(map[string]string, len(conceptIDs))
	for id := range conceptIDs {
		term, err := u.shortTerm(ctx, criteria, id, domainConcepts[id])
		if err != nil {
			return nil, err
		}
		terms[id] = term
	}
	return terms, nil
}

// shortTerm looks up one concept's display label: the FSN when wantFSN,
// else the first active non-FSN description encountered. Language-refset
// acceptability is not modeled, matching the same simplification the
// integrity engine's display enrichment makes.
func (u *Updater) shortTerm(ctx context.Context, criteria branchstore.Criteria, conceptID string, wantFSN bool) (string, error) {
	cursor, err := u.docs.Stream(ctx, docstore.KindDescription, criteria, docstore.Term("conceptId", conceptID))
	if err != nil {
		return "", err
	}
	defer cursor.Close()

	var fsn, other string
	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		d, ok := unwrapDescription(hit.Doc)
		if !ok || !d.Active {
			continue
		}
		if d.TypeID == u.wellKnown.DescriptionTypes.FSN {
			if fsn == "" {
				fsn = d.Term
			}
		} else if other == "" {
			other = d.Term
		}
	}
	if wantFSN {
		if fsn != "" {
			return fsn, nil
		}
		return other, nil
	}
	if other != "" {
		return other, nil
	}
	return fsn, nil
}

// dataAttributes evaluates "<< CONCEPT_MODEL_DATA_ATTRIBUTE" over the
// branch's active IS_A hierarchy.
func (u *Updater) dataAttributes(ctx context.Context, criteria branchstore.Criteria) (map[string]bool, error) {
	expr, err := ecl.ParseExpression("<< " + u.wellKnown.MRCM.ConceptModelDataAttribute)
	if err != nil {
		return nil, err
	}
	hierarchy, err := ecl.LoadHierarchy(ctx, u.docs, criteria, u.wellKnown.RelationshipTypes.IsA)
	if err != nil {
		return nil, err
	}
	return hierarchy.Evaluate(expr), nil
}

// applyGenerated implements steps 5b through 7: write the generator's
// output onto each member, update effectiveTime/moduleId, then partition
// between in-place rewrite (the member's current version was already
// written by this same commit) and append (every other case).
func (u *Updater) applyGenerated(ctx context.Context, commit branchstore.Commit, all map[string]*types.ReferenceSetMember, starts map[string]int64, generated []GeneratedMember, defaultModuleID string) error {
	var rewrites []docstore.AdditionalFieldUpdate
	var appends []interface{}

	for _, g := range generated {
		member, ok := all[g.MemberID]
		if !ok {
			continue
		}
		for k, v := range g.Fields {
			member.SetField(k, v)
		}
		if g.ContentChanged {
			member.EffectiveTime = nil
		}
		if defaultModuleID != "" {
			member.ModuleID = defaultModuleID
		}

		if starts[member.MemberID] == commit.Timepoint() {
			rewrites = append(rewrites, docstore.AdditionalFieldUpdate{MemberID: member.MemberID, Fields: g.Fields})
			continue
		}
		appends = append(appends, member)
	}

	if len(rewrites) > 0 {
		if err := u.docs.BulkScriptedUpdate(ctx, docstore.KindReferenceSetMember, rewrites); err != nil {
			return err
		}
		if err := u.docs.Refresh(ctx, docstore.KindReferenceSetMember); err != nil {
			return err
		}
	}
	if len(appends) > 0 {
		if err := u.docs.Save(ctx, docstore.KindReferenceSetMember, commit, appends); err != nil {
			return err
		}
	}
	return nil
}
