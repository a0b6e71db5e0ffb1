package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/docstore"
	"github.com/snomed-core/termcore/internal/obs"
	"github.com/snomed-core/termcore/internal/types"
	"go.opentelemetry.io/otel/metric"
)

// LegacyDuplicateStatedRelationshipIDs is a tiny allow-list of stated
// relationship ids dropped from the stated-relationships stream to avoid
// double ingestion with the inferred file. The reason three specific ids
// need this is lost to history; preserved as a tunable constant rather
// than inlined, per the historical note this carries forward.
var LegacyDuplicateStatedRelationshipIDs = map[string]bool{
	"3187444026": true,
	"3192499027": true,
	"3574321020": true,
}

// CodeSystems is the narrow collaborator the coordinator needs from the
// code-system layer: existence checks and version creation.
type CodeSystems interface {
	Exists(ctx context.Context, branchPath string) (bool, error)
	CreateVersion(ctx context.Context, branchPath string, effectiveTime int, internalRelease bool) error
}

// ArchiveSource supplies one io.Reader per RF2 component kind present in
// the archive. Archive unpacking itself (zip layout, file naming) is out
// of scope for this module; callers resolve that externally and hand the
// coordinator already-opened per-kind readers.
type ArchiveSource struct {
	Concepts              io.Reader
	Descriptions          io.Reader
	StatedRelationships   io.Reader
	InferredRelationships io.Reader
	ConcreteRelationships io.Reader
	Identifiers           io.Reader
	ReferenceSetMembers   io.Reader
}

// PreCommitHook runs just before a content commit is marked successful, so
// other packages can react to what the commit just wrote while it can still
// be aborted. A hook returning an error fails the whole import.
type PreCommitHook func(ctx context.Context, commit branchstore.Commit) error

// Coordinator runs import jobs (C5): it opens commits, patches and buffers
// incoming RF2 rows, and finalises or rolls back.
type Coordinator struct {
	branches    branchstore.Store
	docs        docstore.Store
	codeSystems CodeSystems
	registry    *Registry
	metrics     *Metrics
	preCommit   []PreCommitHook
}

// New builds a Coordinator over the given branch/document stores.
func New(branches branchstore.Store, docs docstore.Store, codeSystems CodeSystems, registry *Registry, meter metric.Meter) *Coordinator {
	return &Coordinator{
		branches:    branches,
		docs:        docs,
		codeSystems: codeSystems,
		registry:    registry,
		metrics:     NewMetrics(meter),
	}
}

// AddPreCommitHook registers fn to run before every content commit this
// coordinator drives is marked successful, in registration order. Used to
// wire the MRCM auto-maintenance and reference-integrity commit hooks
// without this package importing either.
func (c *Coordinator) AddPreCommitHook(fn PreCommitHook) {
	c.preCommit = append(c.preCommit, fn)
}

func (c *Coordinator) runPreCommitHooks(ctx context.Context, commit branchstore.Commit) error {
	for _, fn := range c.preCommit {
		if err := fn(ctx, commit); err != nil {
			return err
		}
	}
	return nil
}

// CreateJob validates a job's preconditions and registers it, returning the
// new job. It does not start ingestion — Run does that.
func (c *Coordinator) CreateJob(ctx context.Context, cfg JobConfig) (*Job, error) {
	if _, err := c.branches.GetBranch(ctx, cfg.BranchPath); err != nil {
		return nil, err
	}
	if cfg.Type == ImportFull {
		if !branchstore.IsRoot(cfg.BranchPath) {
			return nil, types.NewValidationError("FULL import only permitted on the root branch, got %q", cfg.BranchPath)
		}
		empty, err := c.branchIsEmpty(ctx, cfg.BranchPath)
		if err != nil {
			return nil, err
		}
		if !empty {
			return nil, types.NewValidationError("FULL import only permitted on an empty root branch")
		}
	}
	if cfg.CreateCodeSystemVersion {
		exists, err := c.codeSystems.Exists(ctx, cfg.BranchPath)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, types.NewValidationError("createCodeSystemVersion requires an existing CodeSystem on %q", cfg.BranchPath)
		}
	}
	return c.registry.Create(cfg), nil
}

// computeModuleCutoffs scans kind's existing content on criteria and returns
// the highest effectiveTime already present per moduleId, used by SNAPSHOT
// imports to drop rows the archive republishes unchanged.
func (c *Coordinator) computeModuleCutoffs(ctx context.Context, kind docstore.Kind, criteria branchstore.Criteria) (map[string]int, error) {
	cursor, err := c.docs.Stream(ctx, kind, criteria, docstore.Query{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	cutoffs := make(map[string]int)
	for {
		hit, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		fd, ok := hit.Doc.(interface{ DocFields() map[string]string })
		if !ok {
			continue
		}
		fields := fd.DocFields()
		et, err := strconv.Atoi(fields["effectiveTime"])
		if err != nil {
			continue
		}
		mod := fields["moduleId"]
		if cur, ok := cutoffs[mod]; !ok || et > cur {
			cutoffs[mod] = et
		}
	}
	return cutoffs, nil
}

func (c *Coordinator) branchIsEmpty(ctx context.Context, path string) (bool, error) {
	cursor, err := c.docs.Stream(ctx, docstore.KindConcept, c.branches.BranchCriteriaOn(path), docstore.Query{})
	if err != nil {
		return false, err
	}
	defer cursor.Close()
	_, ok, err := cursor.Next(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Run drives an already-created job to completion against src, following
// the §4.5 execution steps: write import metadata, open a commit, push
// every row through patch+buffer, then finalise or roll back.
func (c *Coordinator) Run(ctx context.Context, jobID string, src ArchiveSource) error {
	job, ok := c.registry.Get(jobID)
	if !ok {
		return types.NewValidationError("unknown import job %q", jobID)
	}
	c.registry.setStatus(jobID, StatusRunning)

	if err := c.writeImportMetadata(ctx, job); err != nil {
		c.registry.setFailure(jobID, err.Error())
		return err
	}

	var runErr error
	switch job.Config.Type {
	case ImportFull:
		runErr = c.runFull(ctx, job, src)
	default:
		runErr = c.runSingleCommit(ctx, job, src)
	}

	if runErr != nil {
		c.registry.setFailure(jobID, runErr.Error())
		_ = c.clearImportMetadata(ctx, job)
		return runErr
	}

	if job.Config.CreateCodeSystemVersion && job.Config.Type != ImportFull && job.MaxEffectiveTime != nil {
		if err := c.codeSystems.CreateVersion(ctx, job.Config.BranchPath, *job.MaxEffectiveTime, job.Config.InternalRelease); err != nil {
			c.registry.setFailure(jobID, err.Error())
			return err
		}
	}
	if err := c.clearImportMetadata(ctx, job); err != nil {
		obs.Logf("ingest: failed to clear import metadata for job %s: %v\n", jobID, err)
	}
	c.registry.setStatus(jobID, StatusCompleted)
	return nil
}

func (c *Coordinator) writeImportMetadata(ctx context.Context, job *Job) error {
	meta := map[string]map[string]string{
		types.MetaSectionInternal: {
			types.MetaKeyImportType: string(job.Config.Type),
		},
	}
	if job.Config.Type == ImportFull || job.Config.CreateCodeSystemVersion {
		meta[types.MetaSectionInternal][types.MetaKeyImportingCodeSystemVersion] = "true"
	}
	hasCodeSystem, err := c.codeSystems.Exists(ctx, job.Config.BranchPath)
	if err != nil {
		return err
	}
	if !hasCodeSystem {
		meta[types.MetaSectionAuthorFlags] = map[string]string{types.MetaKeyBatchChange: "true"}
	}
	return c.branches.UpdateMetadata(ctx, job.Config.BranchPath, meta)
}

func (c *Coordinator) clearImportMetadata(ctx context.Context, job *Job) error {
	return c.branches.UpdateMetadata(ctx, job.Config.BranchPath, map[string]map[string]string{
		types.MetaSectionInternal: {
			types.MetaKeyImportType:                 "",
			types.MetaKeyImportingCodeSystemVersion: "",
		},
		types.MetaSectionAuthorFlags: {
			types.MetaKeyBatchChange: "",
		},
	})
}

func (c *Coordinator) openCommitWithRetry(ctx context.Context, path string, kind branchstore.CommitKind, lockMeta map[string]string) (branchstore.Commit, error) {
	var commit branchstore.Commit
	op := func() error {
		var err error
		commit, err = c.branches.OpenCommit(ctx, path, kind, lockMeta)
		if _, ok := err.(*types.LockContentionError); ok {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return commit, nil
}

func (c *Coordinator) runSingleCommit(ctx context.Context, job *Job, src ArchiveSource) error {
	start := time.Now()
	commit, err := c.openCommitWithRetry(ctx, job.Config.BranchPath, branchstore.CommitKindContent, map[string]string{"importJobId": job.ID})
	if err != nil {
		return err
	}

	f, err := c.newFactory(ctx, job, commit)
	if err != nil {
		_ = commit.Close(ctx)
		return err
	}

	if err := c.drive(ctx, job, f, src); err != nil {
		_ = commit.Close(ctx)
		c.metrics.recordFailure(ctx)
		return err
	}
	if err := f.buffers.FlushAll(ctx); err != nil {
		_ = commit.Close(ctx)
		return err
	}
	if err := c.runPreCommitHooks(ctx, commit); err != nil {
		_ = commit.Close(ctx)
		return err
	}
	if err := commit.MarkSuccessful(ctx); err != nil {
		_ = commit.Close(ctx)
		return err
	}
	if err := commit.Close(ctx); err != nil {
		return err
	}
	c.registry.setSkipped(job.ID, f.totalSkipped())
	c.metrics.recordDuration(ctx, time.Since(start).Seconds())
	return nil
}

// runFull commits one release at a time, each in its own atomic commit
// (§4.5.1). RF2 FULL files are sorted by id then effectiveTime, so a
// single streaming pass across them sees effectiveTime oscillate rather
// than advance — the whole archive is read and bucketed by effectiveTime
// first, and each bucket is then fed through its own commit in ascending
// order. Rows with an empty effectiveTime column form their own leading
// bucket; bucketing reads the archive's column as written, so
// --clear-effective-times does not change which bucket a row lands in.
func (c *Coordinator) runFull(ctx context.Context, job *Job, src ArchiveSource) error {
	commit, err := c.openCommitWithRetry(ctx, job.Config.BranchPath, branchstore.CommitKindContent, map[string]string{"importJobId": job.ID})
	if err != nil {
		return err
	}
	f, err := c.newFactory(ctx, job, commit)
	if err != nil {
		_ = commit.Close(ctx)
		return err
	}
	f.onReleaseBoundary = func(newCommit branchstore.Commit) {
		commit = newCommit
	}

	buckets, nilBucket, err := c.bucketByEffectiveTime(job, f, src)
	if err != nil {
		_ = commit.Close(ctx)
		return err
	}
	order := make([]int, 0, len(buckets))
	for et := range buckets {
		order = append(order, et)
	}
	sort.Ints(order)

	releases := make([][]taggedRow, 0, len(order)+1)
	if len(nilBucket) > 0 {
		releases = append(releases, nilBucket)
	}
	for _, et := range order {
		releases = append(releases, buckets[et])
	}

	for i, rows := range releases {
		if i > 0 {
			if err := f.advanceToReleaseBoundary(ctx); err != nil {
				_ = commit.Close(ctx)
				return err
			}
		}
		for _, tr := range rows {
			if err := tr.apply(ctx, tr.row); err != nil {
				_ = commit.Close(ctx)
				return fmt.Errorf("%s file row id=%s: %w", tr.kind, tr.row["id"], err)
			}
		}
	}

	if err := f.buffers.FlushAll(ctx); err != nil {
		_ = commit.Close(ctx)
		return err
	}
	if err := c.runPreCommitHooks(ctx, commit); err != nil {
		_ = commit.Close(ctx)
		return err
	}
	if err := commit.MarkSuccessful(ctx); err != nil {
		_ = commit.Close(ctx)
		return err
	}
	if err := commit.Close(ctx); err != nil {
		return err
	}
	c.registry.setSkipped(job.ID, f.totalSkipped())
	return nil
}

// step pairs one RF2 component kind with its reader and the factory
// callback that parses and applies one of its rows.
type step struct {
	name string
	r    io.Reader
	fn   func(context.Context, Row) error
}

func archiveSteps(f *factory, src ArchiveSource) []step {
	return []step{
		{"concept", src.Concepts, f.newConceptState},
		{"description", src.Descriptions, f.newDescriptionState},
		{"statedRelationship", src.StatedRelationships, f.newStatedRelationshipState},
		{"inferredRelationship", src.InferredRelationships, f.newInferredRelationshipState},
		{"concreteRelationship", src.ConcreteRelationships, f.newConcreteRelationshipState},
		{"identifier", src.Identifiers, f.newIdentifierState},
		{"referenceSetMember", src.ReferenceSetMembers, f.newReferenceSetMemberState},
	}
}

// drive pushes every row of every present archive file through the
// factory's per-kind callback, in the order a real archive reader would
// present them: core kinds before dependent kinds is enforced by the
// buffer set itself, not by file read order. Used by DELTA and SNAPSHOT
// imports, which commit the whole archive at once and so need no
// effectiveTime bucketing.
func (c *Coordinator) drive(ctx context.Context, job *Job, f *factory, src ArchiveSource) error {
	for _, s := range archiveSteps(f, src) {
		if s.r == nil {
			continue
		}
		af, err := NewArchiveFile(s.r)
		if err != nil {
			return fmt.Errorf("%s file: %w", s.name, err)
		}
		for {
			row, ok, err := af.Next()
			if err != nil {
				return fmt.Errorf("%s file: %w", s.name, err)
			}
			if !ok {
				break
			}
			if err := s.fn(ctx, row); err != nil {
				return fmt.Errorf("%s file row id=%s: %w", s.name, row["id"], err)
			}
			if et := types.ParseEffectiveTime(row["effectiveTime"]); et != nil {
				c.registry.observeEffectiveTime(job.ID, *et)
			}
		}
	}
	return nil
}

// taggedRow is one archive row paired with the factory callback that
// parses and applies rows of its kind, used to re-group a FULL archive's
// rows by effectiveTime independently of which file they came from.
type taggedRow struct {
	kind  string
	apply func(context.Context, Row) error
	row   Row
}

// bucketByEffectiveTime reads every present file in src to completion,
// grouping each row under its effectiveTime. Rows with no parseable
// effectiveTime are returned separately rather than under a zero-value
// bucket key, so they never collide with a real release dated that way.
func (c *Coordinator) bucketByEffectiveTime(job *Job, f *factory, src ArchiveSource) (map[int][]taggedRow, []taggedRow, error) {
	buckets := make(map[int][]taggedRow)
	var nilBucket []taggedRow

	for _, s := range archiveSteps(f, src) {
		if s.r == nil {
			continue
		}
		af, err := NewArchiveFile(s.r)
		if err != nil {
			return nil, nil, fmt.Errorf("%s file: %w", s.name, err)
		}
		for {
			row, ok, err := af.Next()
			if err != nil {
				return nil, nil, fmt.Errorf("%s file: %w", s.name, err)
			}
			if !ok {
				break
			}
			tr := taggedRow{kind: s.name, apply: s.fn, row: row}
			et := types.ParseEffectiveTime(row["effectiveTime"])
			if et == nil {
				nilBucket = append(nilBucket, tr)
				continue
			}
			buckets[*et] = append(buckets[*et], tr)
			c.registry.observeEffectiveTime(job.ID, *et)
		}
	}
	return buckets, nilBucket, nil
}

// Metrics holds the OpenTelemetry instruments the coordinator records.
type Metrics struct {
	ImportDuration metric.Float64Histogram
	ImportFailures metric.Int64Counter
	RowsIngested   metric.Int64Counter
}

// NewMetrics builds Metrics from meter. A nil meter (the OTel no-op
// default) yields no-op instruments, so metrics remain fully optional.
func NewMetrics(meter metric.Meter) *Metrics {
	if meter == nil {
		return &Metrics{}
	}
	duration, _ := meter.Float64Histogram("termcore.ingest.import_duration_seconds")
	failures, _ := meter.Int64Counter("termcore.ingest.import_failures")
	rows, _ := meter.Int64Counter("termcore.ingest.rows_ingested")
	return &Metrics{ImportDuration: duration, ImportFailures: failures, RowsIngested: rows}
}

func (m *Metrics) recordFailure(ctx context.Context) {
	if m.ImportFailures != nil {
		m.ImportFailures.Add(ctx, 1)
	}
}

func (m *Metrics) recordDuration(ctx context.Context, seconds float64) {
	if m.ImportDuration != nil {
		m.ImportDuration.Record(ctx, seconds)
	}
}
