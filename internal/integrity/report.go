package integrity

// ConceptMini is the compact concept descriptor attached to an axiom report
// entry: the axiom's own concept plus the ids it wrongly references.
type ConceptMini struct {
	ID                        string   `json:"id"`
	FSN                       string   `json:"fsn,omitempty"`
	PT                        string   `json:"pt,omitempty"`
	MissingOrInactiveConcepts []string `json:"missingOrInactiveConcepts"`
}

// Report is the JSON-serialisable shape every entry point returns: the
// relationships and axioms that reference a concept which is missing or
// inactive on the branch the check ran against. Empty sub-maps are omitted
// from JSON, and the report itself is "empty" iff all four are.
type Report struct {
	RelationshipsWithMissingOrInactiveSource      map[string]string      `json:"relationshipsWithMissingOrInactiveSource,omitempty"`
	RelationshipsWithMissingOrInactiveType        map[string]string      `json:"relationshipsWithMissingOrInactiveType,omitempty"`
	RelationshipsWithMissingOrInactiveDestination map[string]string      `json:"relationshipsWithMissingOrInactiveDestination,omitempty"`
	AxiomsWithMissingOrInactiveReferencedConcept  map[string]ConceptMini `json:"axiomsWithMissingOrInactiveReferencedConcept,omitempty"`
}

// Empty reports whether the report carries no findings at all.
func (r *Report) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.RelationshipsWithMissingOrInactiveSource) == 0 &&
		len(r.RelationshipsWithMissingOrInactiveType) == 0 &&
		len(r.RelationshipsWithMissingOrInactiveDestination) == 0 &&
		len(r.AxiomsWithMissingOrInactiveReferencedConcept) == 0
}

// badRefMaps accumulates the three relationship-reference maps while a scan
// is in progress, before they are attached to a Report.
type badRefMaps struct {
	source      map[string]string
	typ         map[string]string
	destination map[string]string
}

func newBadRefMaps() *badRefMaps {
	return &badRefMaps{
		source:      make(map[string]string),
		typ:         make(map[string]string),
		destination: make(map[string]string),
	}
}

// axiomEntry accumulates one axiom member's bad references before display
// enrichment attaches FSN/PT terms and turns it into a ConceptMini.
type axiomEntry struct {
	referencedComponentID string
	badRefs                map[string]bool
}

// inverseMaps is Phase D's output: for every concept id that some changed
// relationship or axiom member on the branch depends on being active, the
// ids of the relationships/members that depend on it.
type inverseMaps struct {
	bySource       map[string][]string
	byType         map[string][]string
	byDestination  map[string][]string
	byAxiomConcept map[string][]string
	memberConcept  map[string]string // axiom member id -> its own referencedComponentId
}
