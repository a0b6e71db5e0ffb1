// Package mrcm implements the commit-time MRCM auto-maintenance hook (C7):
// whenever a commit touches an MRCM reference set member, the active
// rulebook is reloaded and handed to an external pure generator, whose
// output is written back onto the changed members before the commit
// completes.
package mrcm

import "context"

// ShortTerm is the display label fetched for a concept id referenced from
// the rulebook: FSN for domain ids, preferred term for everything else.
type ShortTerm struct {
	ConceptID string
	Term      string
}

// RulebookMember is one reference-set member belonging to the active MRCM
// rulebook, reduced to what the generator needs.
type RulebookMember struct {
	MemberID              string
	RefsetID              string
	ReferencedComponentID string
	AdditionalFields      map[string]string
}

// Rulebook is the full MRCM rule state visible on the branch at the moment
// the listener runs, used as the generator's primary input.
type Rulebook struct {
	Domains          []RulebookMember
	AttributeDomains []RulebookMember
	AttributeRanges  []RulebookMember
}

// GeneratorInput is everything the external rule generator needs to
// recompute attribute rules and domain templates for one commit.
type GeneratorInput struct {
	Rulebook       Rulebook
	ShortTerms     map[string]string // conceptId -> display term
	DataAttributes map[string]bool   // descendants of CONCEPT_MODEL_DATA_ATTRIBUTE
}

// GeneratedMember carries one member's recomputed additional fields. Only
// the well-known generator output keys need be present:
// attributeRule, rangeConstraint, domainTemplateForPrecoordination,
// domainTemplateForPostcoordination.
type GeneratedMember struct {
	MemberID string
	Fields   map[string]string

	// ContentChanged reports whether the generated content differs from
	// this member's last released state, so the caller knows whether to
	// null out effectiveTime (§4.7 step 6).
	ContentChanged bool
}

// Generator is the external, side-effect-free MRCM rule generator this
// module defers to: given the current rulebook, it recomputes attribute
// rules and domain templates for every member that needs one. It is pure
// with respect to the store — generation errors are fatal to the commit.
type Generator interface {
	Generate(ctx context.Context, input GeneratorInput) ([]GeneratedMember, error)
}

// Well-known additional-field keys the generator's output is written into.
const (
	FieldAttributeRule                     = "attributeRule"
	FieldRangeConstraint                   = "rangeConstraint"
	FieldDomainTemplateForPrecoordination   = "domainTemplateForPrecoordination"
	FieldDomainTemplateForPostcoordination  = "domainTemplateForPostcoordination"
)
