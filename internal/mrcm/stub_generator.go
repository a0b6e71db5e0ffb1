package mrcm

import "context"

// PassthroughGenerator is a trivial Generator that leaves every member's
// fields untouched and reports no content change. It exists so callers
// that have not yet wired a real rule generator (the external component
// that actually computes attributeRule/rangeConstraint/domain templates)
// can still exercise the commit hook's plumbing end to end.
type PassthroughGenerator struct{}

func (PassthroughGenerator) Generate(ctx context.Context, input GeneratorInput) ([]GeneratedMember, error) {
	out := make([]GeneratedMember, 0, len(input.Rulebook.Domains)+len(input.Rulebook.AttributeDomains)+len(input.Rulebook.AttributeRanges))
	add := func(m RulebookMember) {
		out = append(out, GeneratedMember{MemberID: m.MemberID, Fields: m.AdditionalFields, ContentChanged: false})
	}
	for _, m := range input.Rulebook.Domains {
		add(m)
	}
	for _, m := range input.Rulebook.AttributeDomains {
		add(m)
	}
	for _, m := range input.Rulebook.AttributeRanges {
		add(m)
	}
	return out, nil
}
