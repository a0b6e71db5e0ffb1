package types

// CharacteristicType enumerates how a relationship was derived.
type CharacteristicType string

const (
	CharacteristicStated     CharacteristicType = "STATED"
	CharacteristicInferred   CharacteristicType = "INFERRED"
	CharacteristicAdditional CharacteristicType = "ADDITIONAL"
)

// Concept is the minimal ontology node: an id plus a definition status.
type Concept struct {
	ComponentEnvelope
	DefinitionStatusID string `json:"definitionStatusId"`
}

// Description carries a human-readable term attached to a concept.
type Description struct {
	ComponentEnvelope
	ConceptID         string `json:"conceptId"`
	LanguageCode      string `json:"languageCode"`
	TypeID            string `json:"typeId"`
	Term              string `json:"term"`
	CaseSignificanceID string `json:"caseSignificanceId"`
}

// Relationship links a source concept to a destination concept (or a
// concrete value) via a typed, grouped edge.
type Relationship struct {
	ComponentEnvelope
	SourceID             string             `json:"sourceId"`
	DestinationID        string             `json:"destinationId,omitempty"`
	Value                string             `json:"value,omitempty"`
	RelationshipGroup    int                `json:"relationshipGroup"`
	TypeID               string             `json:"typeId"`
	CharacteristicTypeID CharacteristicType `json:"characteristicTypeId"`
	ModifierID           string             `json:"modifierId"`
}

// Concrete reports whether the relationship carries a literal value instead
// of a destination concept id.
func (r *Relationship) Concrete() bool {
	return r.Value != "" && r.DestinationID == ""
}

// Identifier maps an alternate identifier scheme onto a referenced component.
type Identifier struct {
	ComponentEnvelope
	AlternateIdentifier    string `json:"alternateIdentifier"`
	IdentifierSchemeID     string `json:"identifierSchemeId"`
	ReferencedComponentID  string `json:"referencedComponentId"`
}

// ReferenceSetMember is a row in an arbitrary reference set, with an
// open-ended set of additional fields keyed by RF2 header name.
type ReferenceSetMember struct {
	ComponentEnvelope
	MemberID              string            `json:"memberId"`
	RefsetID              string            `json:"refsetId"`
	ReferencedComponentID string            `json:"referencedComponentId"`
	AdditionalFields      map[string]string `json:"additionalFields"`
}

// Field returns an additional field value, or "" if absent.
func (m *ReferenceSetMember) Field(name string) string {
	if m.AdditionalFields == nil {
		return ""
	}
	return m.AdditionalFields[name]
}

// SetField assigns an additional field value and marks the member changed.
func (m *ReferenceSetMember) SetField(name, value string) {
	if m.AdditionalFields == nil {
		m.AdditionalFields = make(map[string]string)
	}
	m.AdditionalFields[name] = value
	m.Changed = true
}

// OWLExpressionField is the well-known additional-field key carrying an
// axiom's logical definition.
const OWLExpressionField = "owlExpression"

// QueryConcept is a derived semantic-index row summarising a concept's
// attribute map on one branch, for either the stated or inferred view.
type QueryConcept struct {
	Branch     string
	ConceptID  string
	Stated     bool
	Attributes map[string]map[string]bool // ATTR.<typeId> -> set of destIds
}

// HasAttributeValue reports whether the semantic index row carries the
// given concept id as the value of any attribute.
func (q *QueryConcept) HasAttributeValue(conceptID string) bool {
	for _, dests := range q.Attributes {
		if dests[conceptID] {
			return true
		}
	}
	return false
}

// CodeSystem locates the owning system for a branch path.
type CodeSystem struct {
	ID         string
	BranchPath string
}
