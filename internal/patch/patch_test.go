package patch

import (
	"context"
	"testing"

	"github.com/snomed-core/termcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	id   string
	env  types.ComponentEnvelope
	hash string
}

func (c *fakeComponent) ComponentID() string                { return c.id }
func (c *fakeComponent) Envelope() *types.ComponentEnvelope { return &c.env }
func (c *fakeComponent) ContentHash() string                { return c.hash }

type fakeLookup struct {
	existing     map[string]bool
	priorRelease map[string]struct {
		env  types.ReleaseEnvelope
		hash string
	}
}

func (l *fakeLookup) ExistingAtOrAfter(ctx context.Context, id string, t int, strict bool) (bool, error) {
	return l.existing[id], nil
}

func (l *fakeLookup) PriorRelease(ctx context.Context, id string) (types.ReleaseEnvelope, string, bool, error) {
	v, ok := l.priorRelease[id]
	if !ok {
		return types.ReleaseEnvelope{}, "", false, nil
	}
	return v.env, v.hash, true, nil
}

func TestApplyDropsRowAtOrAfterExistingEffectiveTime(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{existing: map[string]bool{"100000": true}}
	p := New(Options{PatchReleaseVersion: 0}, lookup)

	et := 20230101
	c := &fakeComponent{id: "100000", env: types.ComponentEnvelope{EffectiveTime: &et}}
	keep, err := p.Apply(ctx, c)
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Equal(t, 1, p.Stats().Skipped)
}

func TestApplyDisabledPatcherAcceptsEverything(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{existing: map[string]bool{"100000": true}}
	p := New(Options{PatchReleaseVersion: PatchReleaseVersion}, lookup)

	et := 20230101
	c := &fakeComponent{id: "100000", env: types.ComponentEnvelope{EffectiveTime: &et}}
	keep, err := p.Apply(ctx, c)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Equal(t, 0, p.Stats().Skipped)
}

func TestApplyClearEffectiveTimesBlanksEnvelopeBeforeComparison(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{}
	p := New(Options{ClearEffectiveTimes: true, PatchReleaseVersion: 0}, lookup)

	et := 20230101
	c := &fakeComponent{id: "1", env: types.ComponentEnvelope{EffectiveTime: &et, ReleaseEnvelope: types.ReleaseEnvelope{Released: true}}}
	keep, err := p.Apply(ctx, c)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Nil(t, c.env.EffectiveTime)
	assert.False(t, c.env.Released)
}

func TestCopyReleaseFieldsReusesEffectiveTimeOnMatchingHash(t *testing.T) {
	ctx := context.Background()
	ret := 20220101
	lookup := &fakeLookup{
		priorRelease: map[string]struct {
			env  types.ReleaseEnvelope
			hash string
		}{
			"1": {env: types.ReleaseEnvelope{Released: true, ReleasedEffectiveTime: &ret}, hash: "same-content"},
		},
	}
	p := New(Options{CopyReleaseFields: true, PatchReleaseVersion: 0}, lookup)

	c := &fakeComponent{id: "1", hash: "same-content"}
	keep, err := p.Apply(ctx, c)
	require.NoError(t, err)
	assert.True(t, keep)
	require.NotNil(t, c.env.EffectiveTime)
	assert.Equal(t, ret, *c.env.EffectiveTime)
}

func TestCopyReleaseFieldsLeavesEffectiveTimeNullOnContentChange(t *testing.T) {
	ctx := context.Background()
	ret := 20220101
	lookup := &fakeLookup{
		priorRelease: map[string]struct {
			env  types.ReleaseEnvelope
			hash string
		}{
			"1": {env: types.ReleaseEnvelope{Released: true, ReleasedEffectiveTime: &ret}, hash: "old-content"},
		},
	}
	p := New(Options{CopyReleaseFields: true, PatchReleaseVersion: 0}, lookup)

	c := &fakeComponent{id: "1", hash: "new-content"}
	keep, err := p.Apply(ctx, c)
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Nil(t, c.env.EffectiveTime)
	assert.True(t, c.env.Released) // release envelope is still copied over
}
