package ingest

import (
	"sync"

	"github.com/google/uuid"
)

// ImportType is one of the three archive shapes the coordinator accepts.
type ImportType string

const (
	ImportDelta    ImportType = "DELTA"
	ImportSnapshot ImportType = "SNAPSHOT"
	ImportFull     ImportType = "FULL"
)

// Status is an import job's lifecycle state.
type Status string

const (
	StatusWaitingForFile Status = "WAITING_FOR_FILE"
	StatusRunning        Status = "RUNNING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

// JobConfig is the set of knobs a caller supplies when creating an import
// job, mirroring spec.md §4.5's field list as a typed struct rather than a
// stringly-typed options map.
type JobConfig struct {
	Type                    ImportType
	BranchPath              string
	ModuleIDs               []string // filter; empty = all modules
	CreateCodeSystemVersion bool
	ClearEffectiveTimes     bool
	PatchReleaseVersion     int // -1 disables the patcher and, for SNAPSHOT, the module cutoff filter
	InternalRelease         bool
}

// Job is one import's mutable lifecycle record, held in the process-wide
// Registry with no persistence across restarts.
type Job struct {
	ID     string
	Config JobConfig
	Status Status

	// MaxEffectiveTime is the largest effectiveTime observed across every
	// component ingested, used as "the release version created" when
	// CreateCodeSystemVersion is set.
	MaxEffectiveTime *int

	// SkippedRows counts rows the effective-time patcher dropped across
	// every component kind, summed once the job completes.
	SkippedRows int

	FailureReason string
}

// Registry is the process-wide, in-memory map of import jobs. Entries are
// never persisted; on restart, every in-flight job is gone (matching
// spec.md §9's note that this is explicitly in scope only as a
// single-instance, explicit-lifecycle registry — multi-instance deployments
// would move this to the shared store, out of scope here).
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry returns an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create allocates a new job with an opaque id and WAITING_FOR_FILE status.
func (r *Registry) Create(cfg JobConfig) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := &Job{ID: uuid.NewString(), Config: cfg, Status: StatusWaitingForFile}
	r.jobs[j.ID] = j
	return j
}

// Get returns the job with the given id, or ok=false if unknown.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Remove deletes a job from the registry, used after completion once the
// caller no longer needs to poll its status, or by an operator-configured
// TTL sweep.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *Registry) setStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = status
	}
}

func (r *Registry) setFailure(id string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = StatusFailed
		j.FailureReason = reason
	}
}

func (r *Registry) setSkipped(id string, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.SkippedRows = skipped
	}
}

func (r *Registry) observeEffectiveTime(id string, et int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	if j.MaxEffectiveTime == nil || et > *j.MaxEffectiveTime {
		v := et
		j.MaxEffectiveTime = &v
	}
}
