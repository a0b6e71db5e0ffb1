package codesystem

import (
	"context"
	"testing"

	"github.com/snomed-core/termcore/internal/branchstore/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwningCodeSystemBranchResolvesToNearestRegisteredAncestor(t *testing.T) {
	branches := memstore.New()
	_, err := branches.CreateBranch("MAIN/SNOMEDCT-US", "MAIN")
	require.NoError(t, err)
	_, err = branches.CreateBranch("MAIN/SNOMEDCT-US/task1", "MAIN/SNOMEDCT-US")
	require.NoError(t, err)

	reg := New(branches)
	reg.Register("SNOMEDCT-US", "MAIN/SNOMEDCT-US")

	owning, err := reg.OwningCodeSystemBranch(context.Background(), "MAIN/SNOMEDCT-US/task1")
	require.NoError(t, err)
	assert.Equal(t, "MAIN/SNOMEDCT-US", owning)
}

func TestOwningCodeSystemBranchFallsBackToMain(t *testing.T) {
	branches := memstore.New()
	reg := New(branches)

	owning, err := reg.OwningCodeSystemBranch(context.Background(), "MAIN")
	require.NoError(t, err)
	assert.Equal(t, "MAIN", owning)
}

func TestExistsReflectsBranchPresence(t *testing.T) {
	branches := memstore.New()
	reg := New(branches)

	ok, err := reg.Exists(context.Background(), "MAIN")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Exists(context.Background(), "MAIN/NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}
