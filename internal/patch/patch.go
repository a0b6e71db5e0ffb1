// Package patch implements the effective-time patcher (C4): per-import-batch
// conflict resolution between incoming RF2 rows and whatever a branch
// already carries for the same component id.
package patch

import (
	"context"

	"github.com/snomed-core/termcore/internal/types"
)

// PatchReleaseVersion is the sentinel meaning "the patcher is disabled
// entirely" when passed as a job's patchReleaseVersion.
const PatchReleaseVersion = -1

// Lookup resolves the store queries the patcher needs, scoped to whatever
// branch snapshot the caller already fixed (normally
// branchCriteriaBeforeOpenCommit).
type Lookup interface {
	// ExistingAtOrAfter reports whether a document with id and an
	// effectiveTime >= t (or > t when strict) already exists.
	ExistingAtOrAfter(ctx context.Context, id string, t int, strict bool) (bool, error)

	// PriorRelease returns the last released version's envelope and content
	// hash for id, or ok=false if the component was never released.
	PriorRelease(ctx context.Context, id string) (env types.ReleaseEnvelope, hash string, ok bool, err error)
}

// Options configures one Patcher for one import job.
type Options struct {
	ClearEffectiveTimes bool
	CopyReleaseFields   bool
	PatchReleaseVersion int // -1 disables the patcher
}

// Stats counts how many incoming rows the patcher suppressed, per run.
type Stats struct {
	Skipped int
}

// Patcher applies §4.4's effective-time conflict rules to one import job's
// incoming stream of components, one row at a time (rows within one kind
// may carry distinct effectiveTime values, so batching by kind alone isn't
// enough).
type Patcher struct {
	opts   Options
	lookup Lookup
	stats  Stats
}

// New builds a Patcher bound to lookup for the given job options.
func New(opts Options, lookup Lookup) *Patcher {
	return &Patcher{opts: opts, lookup: lookup}
}

// Stats returns the running counts of suppressed rows.
func (p *Patcher) Stats() Stats { return p.stats }

// Envelope is the minimal shape Apply needs from a component: its id, its
// component/release envelope (addressable for in-place mutation), and a
// stable content hash used to detect "this row is identical to what was
// last released".
type Envelope interface {
	ComponentID() string
	Envelope() *types.ComponentEnvelope
	ContentHash() string
}

// Apply runs the patcher on one incoming component, returning keep=false if
// the row should be dropped. If ClearEffectiveTimes is set, the envelope is
// blanked before any comparison — this happens unconditionally, even when
// the patcher is otherwise disabled by PatchReleaseVersion.
func (p *Patcher) Apply(ctx context.Context, c Envelope) (keep bool, err error) {
	env := c.Envelope()
	if p.opts.ClearEffectiveTimes {
		env.Clear()
	}

	if p.opts.PatchReleaseVersion != PatchReleaseVersion && env.EffectiveTime != nil {
		t := *env.EffectiveTime
		strict := t == p.opts.PatchReleaseVersion
		exists, err := p.lookup.ExistingAtOrAfter(ctx, c.ComponentID(), t, strict)
		if err != nil {
			return false, err
		}
		if exists {
			p.stats.Skipped++
			return false, nil
		}
	}

	if err := p.copyReleaseFields(ctx, c, env); err != nil {
		return false, err
	}
	return true, nil
}

// copyReleaseFields implements the copyReleaseFields step: for a surviving
// row with no effectiveTime, look up the last released version; if the
// incoming row's content hash matches what was released, the row reuses
// that release's effectiveTime (it is, in substance, unchanged).
func (p *Patcher) copyReleaseFields(ctx context.Context, c Envelope, env *types.ComponentEnvelope) error {
	if !p.opts.CopyReleaseFields || env.EffectiveTime != nil {
		return nil
	}
	prior, priorHash, ok, err := p.lookup.PriorRelease(ctx, c.ComponentID())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	env.ReleaseEnvelope = prior
	if c.ContentHash() == priorHash {
		env.EffectiveTime = prior.ReleasedEffectiveTime
	}
	return nil
}
