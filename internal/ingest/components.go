// Package ingest implements the RF2 ingestion coordinator (C5): the
// importer that drives an archive reader's callbacks into the persist
// buffers, via the effective-time patcher, inside one (or, for FULL
// imports, several) open commits.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/snomed-core/termcore/internal/docstore/memindex"
	"github.com/snomed-core/termcore/internal/types"
)

// conceptDoc wraps types.Concept to satisfy patch.Envelope and
// docstore/memindex.Doc, which describe a component through interface
// methods rather than its concrete type.
type conceptDoc struct{ *types.Concept }

func (d *conceptDoc) ComponentID() string                { return d.ID }
func (d *conceptDoc) Envelope() *types.ComponentEnvelope { return &d.ComponentEnvelope }
func (d *conceptDoc) ContentHash() string                { return hashFields(d.DefinitionStatusID) }
func (d *conceptDoc) Unwrap() *types.Concept              { return d.Concept }
func (d *conceptDoc) DocID() string                      { return d.ID }
func (d *conceptDoc) DocBranch() string                  { return "" }
func (d *conceptDoc) DocFields() map[string]string {
	return map[string]string{
		"id":                 d.ID,
		"active":             boolString(d.Active),
		"moduleId":           d.ModuleID,
		"effectiveTime":      effectiveTimeString(d.EffectiveTime),
		"definitionStatusId": d.DefinitionStatusID,
	}
}

type descriptionDoc struct{ *types.Description }

func (d *descriptionDoc) ComponentID() string                { return d.ID }
func (d *descriptionDoc) Envelope() *types.ComponentEnvelope { return &d.ComponentEnvelope }
func (d *descriptionDoc) ContentHash() string {
	return hashFields(d.ConceptID, d.TypeID, d.Term, d.LanguageCode, d.CaseSignificanceID)
}
func (d *descriptionDoc) Unwrap() *types.Description { return d.Description }
func (d *descriptionDoc) DocID() string     { return d.ID }
func (d *descriptionDoc) DocBranch() string { return "" }
func (d *descriptionDoc) DocFields() map[string]string {
	return map[string]string{
		"id":            d.ID,
		"active":        boolString(d.Active),
		"moduleId":      d.ModuleID,
		"effectiveTime": effectiveTimeString(d.EffectiveTime),
		"conceptId":     d.ConceptID,
		"typeId":        d.TypeID,
	}
}

type relationshipDoc struct{ *types.Relationship }

func (d *relationshipDoc) ComponentID() string                { return d.ID }
func (d *relationshipDoc) Envelope() *types.ComponentEnvelope { return &d.ComponentEnvelope }
func (d *relationshipDoc) ContentHash() string {
	return hashFields(d.SourceID, d.DestinationID, d.Value, d.TypeID, string(d.CharacteristicTypeID), d.ModifierID)
}
func (d *relationshipDoc) Unwrap() *types.Relationship { return d.Relationship }
func (d *relationshipDoc) DocID() string     { return d.ID }
func (d *relationshipDoc) DocBranch() string { return "" }
func (d *relationshipDoc) DocFields() map[string]string {
	return map[string]string{
		"id":                   d.ID,
		"active":               boolString(d.Active),
		"moduleId":             d.ModuleID,
		"effectiveTime":        effectiveTimeString(d.EffectiveTime),
		"sourceId":             d.SourceID,
		"destinationId":        d.DestinationID,
		"typeId":               d.TypeID,
		"characteristicTypeId": string(d.CharacteristicTypeID),
	}
}

type identifierDoc struct{ *types.Identifier }

func (d *identifierDoc) ComponentID() string                { return d.ID }
func (d *identifierDoc) Envelope() *types.ComponentEnvelope { return &d.ComponentEnvelope }
func (d *identifierDoc) ContentHash() string {
	return hashFields(d.AlternateIdentifier, d.IdentifierSchemeID, d.ReferencedComponentID)
}
func (d *identifierDoc) Unwrap() *types.Identifier { return d.Identifier }
func (d *identifierDoc) DocID() string     { return d.ID }
func (d *identifierDoc) DocBranch() string { return "" }
func (d *identifierDoc) DocFields() map[string]string {
	return map[string]string{
		"id":                    d.ID,
		"active":                boolString(d.Active),
		"moduleId":              d.ModuleID,
		"effectiveTime":         effectiveTimeString(d.EffectiveTime),
		"referencedComponentId": d.ReferencedComponentID,
	}
}

type refsetMemberDoc struct{ *types.ReferenceSetMember }

func (d *refsetMemberDoc) ComponentID() string                { return d.MemberID }
func (d *refsetMemberDoc) Envelope() *types.ComponentEnvelope { return &d.ComponentEnvelope }
func (d *refsetMemberDoc) ContentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", d.RefsetID, d.ReferencedComponentID, boolString(d.Active))
	keys := make([]string, 0, len(d.AdditionalFields))
	for k := range d.AdditionalFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, d.AdditionalFields[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
func (d *refsetMemberDoc) Unwrap() *types.ReferenceSetMember { return d.ReferenceSetMember }
func (d *refsetMemberDoc) DocID() string     { return d.MemberID }
func (d *refsetMemberDoc) DocBranch() string { return "" }
func (d *refsetMemberDoc) DocFields() map[string]string {
	fields := map[string]string{
		"id":                    d.MemberID,
		"active":                boolString(d.Active),
		"moduleId":              d.ModuleID,
		"effectiveTime":         effectiveTimeString(d.EffectiveTime),
		"refsetId":              d.RefsetID,
		"referencedComponentId": d.ReferencedComponentID,
	}
	for k, v := range d.AdditionalFields {
		fields[k] = v
	}
	return fields
}
func hashFields(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%s|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// effectiveTimeString renders a nullable effectiveTime as the decimal string
// the document store's range queries parse back with strconv.Atoi, or "" for
// an unreleased (nil) component.
func effectiveTimeString(t *int) string {
	if t == nil {
		return ""
	}
	return strconv.Itoa(*t)
}

var _ memindex.Doc = (*conceptDoc)(nil)
var _ memindex.Doc = (*descriptionDoc)(nil)
var _ memindex.Doc = (*relationshipDoc)(nil)
var _ memindex.Doc = (*identifierDoc)(nil)
var _ memindex.Doc = (*refsetMemberDoc)(nil)
var _ memindex.FieldSetter = (*refsetMemberDoc)(nil)
