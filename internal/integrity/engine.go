package integrity

import (
	"context"
	"time"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/config"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/obs"
	"github.com/snomed-core/termcore/internal/types"
	"go.opentelemetry.io/otel/metric"
)

// CodeSystemLocator resolves the code-system branch that owns a commit's
// branch, so the commit-time hook can tell whether it is running directly
// on a code system's branch or on a task branch beneath one.
type CodeSystemLocator interface {
	OwningCodeSystemBranch(ctx context.Context, branchPath string) (string, error)
}

// Engine runs the three integrity-report entry points and the commit-time
// hook, against the branch/commit and document stores only: it never
// mutates content, so it composes freely with any concurrent reader.
type Engine struct {
	branches    branchstore.Store
	docs        docstore.Store
	codeSystems CodeSystemLocator
	wellKnown   config.WellKnownIDs
	metrics     *Metrics
}

// New builds an Engine over the given stores.
func New(branches branchstore.Store, docs docstore.Store, codeSystems CodeSystemLocator, wellKnown config.WellKnownIDs, meter metric.Meter) *Engine {
	return &Engine{
		branches:    branches,
		docs:        docs,
		codeSystems: codeSystems,
		wellKnown:   wellKnown,
		metrics:     NewMetrics(meter),
	}
}

// Metrics holds the scan-duration histogram the three entry points record.
type Metrics struct {
	ScanDuration metric.Float64Histogram
}

// NewMetrics builds Metrics from meter; a nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter) *Metrics {
	if meter == nil {
		return &Metrics{}
	}
	duration, _ := meter.Float64Histogram("termcore.integrity.scan_duration_seconds")
	return &Metrics{ScanDuration: duration}
}

func (m *Metrics) recordDuration(ctx context.Context, start time.Time) {
	if m.ScanDuration != nil {
		m.ScanDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// Check runs the incremental integrity check (§4.6.1): what changed on
// branch that now references a concept made inactive or deleted by those
// same unpromoted changes. Refuses to run on the root branch — a branch
// with no parent has nothing to be "incremental" against, so callers must
// use Sweep there instead.
func (e *Engine) Check(ctx context.Context, branch string) (*Report, error) {
	if branchstore.IsRoot(branch) {
		return nil, types.NewRuntimeStateError("incremental integrity check cannot run on root branch %q; use Sweep", branch)
	}
	defer e.metrics.recordDuration(ctx, time.Now())
	return e.incrementalReport(ctx, branch)
}

func (e *Engine) incrementalReport(ctx context.Context, branch string) (*Report, error) {
	current := e.branches.BranchCriteriaOn(branch)
	changed := e.branches.BranchCriteriaUnpromotedChanges(branch)
	changedWithDeletions := e.branches.BranchCriteriaUnpromotedChangesAndDeletions(branch)
	return e.runIncremental(ctx, current, changed, changedWithDeletions)
}

// incrementalReportOpenCommit is the commit-time hook's view of §4.6.1: the
// same algorithm, scoped to the branch's committed content plus the
// in-flight commit's staged writes.
func (e *Engine) incrementalReportOpenCommit(ctx context.Context, commit branchstore.Commit) (*Report, error) {
	current := e.branches.BranchCriteriaIncludingOpenCommit(commit)
	changed := branchstore.Criteria{Branch: commit.Branch(), IncludeOpenCommit: commit.ID(), UnpromotedOnly: true}
	changedWithDeletions := branchstore.Criteria{Branch: commit.Branch(), IncludeOpenCommit: commit.ID(), UnpromotedOnly: true, IncludeTombstones: true}
	return e.runIncremental(ctx, current, changed, changedWithDeletions)
}

// runIncremental implements Phases A through F of §4.6.1 against explicit
// criteria, so both the ordinary branch-scoped check and the commit-time
// hook's open-commit view can share it.
func (e *Engine) runIncremental(ctx context.Context, current, changed, changedWithDeletions branchstore.Criteria) (*Report, error) {
	changedConcepts, err := e.conceptIDs(ctx, changedWithDeletions)
	if err != nil {
		return nil, err
	}
	currentActivity, err := e.conceptActivity(ctx, current)
	if err != nil {
		return nil, err
	}

	// Phase A: D = concepts changed/deleted on the branch that are not
	// currently active.
	D := make(map[string]bool)
	for id := range changedConcepts {
		if !currentActivity[id] {
			D[id] = true
		}
	}

	maps := newBadRefMaps()
	axioms := make(map[string]*axiomEntry)

	if len(D) > 0 {
		// Phase B
		if err := e.scanRelationshipsAgainstBadSet(ctx, current, D, maps); err != nil {
			return nil, err
		}
		// Phase C
		if err := e.scanAxiomsReferencingBadSet(ctx, current, D, axioms); err != nil {
			return nil, err
		}
	}

	// Phase D
	inv, err := e.buildInverseMaps(ctx, changed)
	if err != nil {
		return nil, err
	}
	R := make(map[string]bool, len(inv.bySource)+len(inv.byType)+len(inv.byDestination)+len(inv.byAxiomConcept))
	for id := range inv.bySource {
		R[id] = true
	}
	for id := range inv.byType {
		R[id] = true
	}
	for id := range inv.byDestination {
		R[id] = true
	}
	for id := range inv.byAxiomConcept {
		R[id] = true
	}

	// Phase E
	for id := range R {
		if currentActivity[id] {
			continue
		}
		for _, relID := range inv.bySource[id] {
			maps.source[relID] = id
		}
		for _, relID := range inv.byType[id] {
			maps.typ[relID] = id
		}
		for _, relID := range inv.byDestination[id] {
			maps.destination[relID] = id
		}
		for _, memberID := range inv.byAxiomConcept[id] {
			entry := axioms[memberID]
			if entry == nil {
				entry = &axiomEntry{referencedComponentID: inv.memberConcept[memberID], badRefs: make(map[string]bool)}
				axioms[memberID] = entry
			}
			entry.badRefs[id] = true
		}
	}

	// Phase F
	return e.assembleReport(ctx, current, maps, axioms)
}

// CheckFix runs the fix-verification check (§4.6.2): given a task branch
// being used to fix the integrity problems found on its owning code system
// branch, reports which of those problems remain.
func (e *Engine) CheckFix(ctx context.Context, fixBranch, parentSystemPath string) (*Report, error) {
	defer e.metrics.recordDuration(ctx, time.Now())

	project := types.ParentPath(fixBranch)
	if project == "" || !types.IsDescendantOf(project, parentSystemPath) {
		return nil, types.NewRuntimeStateError("fix branch %q's project %q is not a descendant of %q", fixBranch, project, parentSystemPath)
	}
	parentBranch, err := e.branches.GetBranch(ctx, parentSystemPath)
	if err != nil {
		return nil, err
	}
	projectBranch, err := e.branches.GetBranch(ctx, project)
	if err != nil {
		return nil, err
	}
	fixBranchObj, err := e.branches.GetBranch(ctx, fixBranch)
	if err != nil {
		return nil, err
	}
	if projectBranch.BaseTimestamp < parentBranch.HeadTimestamp || fixBranchObj.BaseTimestamp < parentBranch.HeadTimestamp {
		return nil, types.NewRuntimeStateError("fix branch %q (or its project %q) is not rebased onto %q", fixBranch, project, parentSystemPath)
	}

	p, err := e.incrementalReport(ctx, parentSystemPath)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return e.incrementalReport(ctx, fixBranch)
	}

	criteria := e.branches.BranchCriteriaOn(fixBranch)
	activity, err := e.conceptActivity(ctx, criteria)
	if err != nil {
		return nil, err
	}

	maps := newBadRefMaps()
	relIDs := make(map[string]bool)
	for id := range p.RelationshipsWithMissingOrInactiveSource {
		relIDs[id] = true
	}
	for id := range p.RelationshipsWithMissingOrInactiveType {
		relIDs[id] = true
	}
	for id := range p.RelationshipsWithMissingOrInactiveDestination {
		relIDs[id] = true
	}
	for relID := range relIDs {
		r, ok, err := e.fetchRelationship(ctx, criteria, relID)
		if err != nil {
			return nil, err
		}
		if !ok || !r.Active || r.CharacteristicTypeID == types.CharacteristicInferred {
			continue // retired or no longer stated: the fix resolved it
		}
		if !activity[r.SourceID] {
			maps.source[r.ID] = r.SourceID
		}
		if !activity[r.TypeID] {
			maps.typ[r.ID] = r.TypeID
		}
		if !r.Concrete() && !activity[r.DestinationID] {
			maps.destination[r.ID] = r.DestinationID
		}
	}

	axioms := make(map[string]*axiomEntry)
	for memberID := range p.AxiomsWithMissingOrInactiveReferencedConcept {
		m, ok, err := e.fetchRefsetMember(ctx, criteria, memberID)
		if err != nil {
			return nil, err
		}
		if !ok || !m.Active {
			continue
		}
		ids, err := ParseOWLExpression(m.Field(types.OWLExpressionField))
		if err != nil {
			obs.Logf("integrity: skipping unparseable axiom %s during fix verification: %v\n", m.MemberID, err)
			continue
		}
		entry := &axiomEntry{referencedComponentID: m.ReferencedComponentID, badRefs: make(map[string]bool)}
		for id := range ids {
			if !activity[id] {
				entry.badRefs[id] = true
			}
		}
		if len(entry.badRefs) > 0 {
			axioms[memberID] = entry
		}
	}

	report, err := e.assembleReport(ctx, criteria, maps, axioms)
	if err != nil {
		return nil, err
	}
	if report.Empty() {
		if err := e.branches.UpdateMetadata(ctx, fixBranch, map[string]map[string]string{
			types.MetaSectionInternal: {types.MetaKeyIntegrityIssue: ""},
		}); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// Sweep runs the full sweep (§4.6.3): every active relationship of the
// requested characteristic (stated or inferred) whose source, type, or
// destination falls outside the set of currently active concepts, plus
// (when stated) every axiom whose referenced concepts do.
func (e *Engine) Sweep(ctx context.Context, branch string, stated bool) (*Report, error) {
	defer e.metrics.recordDuration(ctx, time.Now())

	criteria := e.branches.BranchCriteriaOn(branch)
	activity, err := e.conceptActivity(ctx, criteria)
	if err != nil {
		return nil, err
	}
	isBad := func(id string) bool { return !activity[id] }

	maps := newBadRefMaps()
	cursor, err := e.docs.Stream(ctx, docstore.KindRelationship, criteria, docstore.Query{})
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
		isInferred := r.CharacteristicTypeID == types.CharacteristicInferred
		if stated == isInferred {
			continue
		}
		if isBad(r.SourceID) {
			maps.source[r.ID] = r.SourceID
		}
		if isBad(r.TypeID) {
			maps.typ[r.ID] = r.TypeID
		}
		if !r.Concrete() && isBad(r.DestinationID) {
			maps.destination[r.ID] = r.DestinationID
		}
	}

	axioms := make(map[string]*axiomEntry)
	if stated {
		qcCursor, err := e.docs.Stream(ctx, docstore.KindQueryConcept, criteria, docstore.Term("stated", "1"))
		if err != nil {
			return nil, err
		}
		defer qcCursor.Close()
		for {
			hit, ok, err := qcCursor.Next(ctx)
			if err != nil {
				return nil, err
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
				return nil, err
			}
		}
	}

	return e.assembleReport(ctx, criteria, maps, axioms)
}

// FindExtraConceptsInSemanticIndex (§4.6.6) finds semantic-index rows whose
// concept is no longer active, partitioned by stated/inferred. Operators
// use this to detect stale rows a classifier run should have deleted.
func (e *Engine) FindExtraConceptsInSemanticIndex(ctx context.Context, branchPath string) (stated, inferred []string, err error) {
	criteria := e.branches.BranchCriteriaOn(branchPath)
	activity, err := e.conceptActivity(ctx, criteria)
	if err != nil {
		return nil, nil, err
	}

	cursor, err := e.docs.Stream(ctx, docstore.KindQueryConcept, criteria, docstore.Query{})
	if err != nil {
		return nil, nil, err
	}
	defer cursor.Close()
	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		qc, ok := unwrapQueryConcept(hit.Doc)
		if !ok || activity[qc.ConceptID] {
			continue
		}
		if qc.Stated {
			stated = append(stated, qc.ConceptID)
		} else {
			inferred = append(inferred, qc.ConceptID)
		}
	}
	return stated, inferred, nil
}

// PreCommitCompletion (§4.6.5) re-checks a branch flagged with a prior
// integrity issue as part of the commit it is about to complete, clearing
// the flag once the problem is resolved. A failure here is logged, not
// propagated: the commit itself must still succeed.
func (e *Engine) PreCommitCompletion(ctx context.Context, commit branchstore.Commit) {
	branch, err := e.branches.GetBranch(ctx, commit.Branch())
	if err != nil {
		obs.Logf("integrity: preCommitCompletion: loading branch %s: %v\n", commit.Branch(), err)
		return
	}
	if branch.MetaGet(types.MetaSectionInternal, types.MetaKeyIntegrityIssue) != "true" {
		return
	}

	owning, err := e.codeSystems.OwningCodeSystemBranch(ctx, commit.Branch())
	if err != nil {
		obs.Logf("integrity: preCommitCompletion: locating code system for %s: %v\n", commit.Branch(), err)
		return
	}

	var report *Report
	if commit.Branch() == owning {
		report, err = e.incrementalReportOpenCommit(ctx, commit)
	} else {
		report, err = e.CheckFix(ctx, commit.Branch(), owning)
	}
	if err != nil {
		obs.Logf("integrity: preCommitCompletion: check failed for %s: %v\n", commit.Branch(), err)
		return
	}
	if !report.Empty() {
		return
	}
	if err := e.branches.UpdateMetadata(ctx, commit.Branch(), map[string]map[string]string{
		types.MetaSectionInternal: {types.MetaKeyIntegrityIssue: ""},
	}); err != nil {
		obs.Logf("integrity: preCommitCompletion: clearing integrityIssue flag on %s: %v\n", commit.Branch(), err)
	}
}
