package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAutoFlushesAtInterval(t *testing.T) {
	ctx := context.Background()
	var flushed [][]interface{}
	b := New(func(ctx context.Context, entities []interface{}) error {
		flushed = append(flushed, entities)
		return nil
	})

	for i := 0; i < FlushInterval-1; i++ {
		require.NoError(t, b.Save(ctx, i))
	}
	assert.Equal(t, FlushInterval-1, b.Len())
	assert.Empty(t, flushed)

	require.NoError(t, b.Save(ctx, FlushInterval-1))
	assert.Equal(t, 0, b.Len())
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0], FlushInterval)
}

func TestSetDependentBufferTriggersCoreFlushFirst(t *testing.T) {
	ctx := context.Background()
	var order []Kind

	set := NewSet(map[Kind]PersistFunc{
		KindConcept: func(ctx context.Context, entities []interface{}) error {
			order = append(order, KindConcept)
			return nil
		},
		KindReferenceSetMember: func(ctx context.Context, entities []interface{}) error {
			order = append(order, KindReferenceSetMember)
			return nil
		},
	})

	require.NoError(t, set.Save(ctx, KindReferenceSetMember, "member-1"))
	assert.True(t, set.coreFlushed.Load()) // saving a dependent kind forces the core flush first

	require.NoError(t, set.buffers[KindConcept].Save(ctx, "concept-1"))
	require.NoError(t, set.FlushAll(ctx))

	require.Contains(t, order, KindConcept)
	require.Contains(t, order, KindReferenceSetMember)
}

func TestCoreFlushedLatchIsOneWay(t *testing.T) {
	ctx := context.Background()
	set := NewSet(map[Kind]PersistFunc{
		KindConcept: func(ctx context.Context, entities []interface{}) error { return nil },
	})

	require.NoError(t, set.Save(ctx, KindConcept, "c1"))
	require.False(t, set.coreFlushed.Load())

	require.NoError(t, set.flushCore(ctx))
	assert.True(t, set.coreFlushed.Load())

	require.NoError(t, set.flushCore(ctx))
	assert.True(t, set.coreFlushed.Load())
}
