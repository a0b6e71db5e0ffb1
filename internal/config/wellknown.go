package config

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

//go:embed wellknown.toml
var wellKnownTOML []byte

// WellKnownIDs is the static table of symbolic concept identifiers the
// ingestion, integrity, and MRCM packages compare against by value. SNOMED
// deployments bind each symbol to a real SCT id at install time; termcore
// itself never interprets the string beyond equality.
type WellKnownIDs struct {
	CharacteristicTypes struct {
		InferredRelationship string `toml:"inferredRelationship"`
		StatedRelationship   string `toml:"statedRelationship"`
	} `toml:"characteristicTypes"`
	ReferenceSets struct {
		OWLAxiomReferenceSet            string `toml:"owlAxiomReferenceSet"`
		MRCMDomainReferenceSet          string `toml:"mrcmDomainReferenceSet"`
		MRCMAttributeDomainReferenceSet string `toml:"mrcmAttributeDomainReferenceSet"`
		MRCMAttributeRangeReferenceSet  string `toml:"mrcmAttributeRangeReferenceSet"`
	} `toml:"referenceSets"`
	MRCM struct {
		ConceptModelDataAttribute string `toml:"conceptModelDataAttribute"`
	} `toml:"mrcm"`
	DescriptionTypes struct {
		FSN string `toml:"fsn"`
	} `toml:"descriptionTypes"`
	RelationshipTypes struct {
		IsA string `toml:"isA"`
	} `toml:"relationshipTypes"`
}

// LoadWellKnownIDs decodes the baked-in wellknown.toml table. Passing a
// non-empty override path decodes that file instead, for deployments that
// bind the symbols to real SCT identifiers.
func LoadWellKnownIDs(overridePath string) (WellKnownIDs, error) {
	var ids WellKnownIDs
	if overridePath == "" {
		if _, err := toml.Decode(string(wellKnownTOML), &ids); err != nil {
			return ids, fmt.Errorf("decoding embedded well-known id table: %w", err)
		}
		return ids, nil
	}
	if _, err := toml.DecodeFile(overridePath, &ids); err != nil {
		return ids, fmt.Errorf("decoding well-known id table %s: %w", overridePath, err)
	}
	return ids, nil
}

// MRCMRefsetIDs returns the three refset ids the MRCM commit listener
// watches for changes, in (domain, attributeDomain, attributeRange) order.
func (w WellKnownIDs) MRCMRefsetIDs() [3]string {
	return [3]string{
		w.ReferenceSets.MRCMDomainReferenceSet,
		w.ReferenceSets.MRCMAttributeDomainReferenceSet,
		w.ReferenceSets.MRCMAttributeRangeReferenceSet,
	}
}
