package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWellKnownIDsEmbedded(t *testing.T) {
	ids, err := LoadWellKnownIDs("")
	require.NoError(t, err)

	assert.Equal(t, "CONCEPT_MODEL_DATA_ATTRIBUTE", ids.MRCM.ConceptModelDataAttribute)
	assert.Equal(t, "OWL_AXIOM_REFERENCE_SET", ids.ReferenceSets.OWLAxiomReferenceSet)

	refsets := ids.MRCMRefsetIDs()
	assert.Equal(t, ids.ReferenceSets.MRCMDomainReferenceSet, refsets[0])
	assert.Equal(t, ids.ReferenceSets.MRCMAttributeDomainReferenceSet, refsets[1])
	assert.Equal(t, ids.ReferenceSets.MRCMAttributeRangeReferenceSet, refsets[2])
}
