// Package ecl implements the narrow subset of the SNOMED Expression
// Constraint Language the MRCM updater needs: descendant-or-self and
// proper-descendant constraints over a single focus concept, e.g.
// "<< 609096000". Set-theoretic operators, refinements, and wildcards are
// out of scope — nothing in the commit listener's algorithm needs them.
package ecl

import (
	"fmt"
	"strings"

	"github.com/snomed-core/termcore/internal/types"
)

// Operator distinguishes the two constraint forms this package parses.
type Operator int

const (
	// DescendantOrSelf is "<<": the focus concept plus every descendant.
	DescendantOrSelf Operator = iota
	// DescendantOf is "<": every descendant, excluding the focus concept.
	DescendantOf
)

// Expression is a parsed ECL constraint.
type Expression struct {
	Operator Operator
	FocusID  string
}

// ParseExpression parses a "<<" or "<" constraint followed by a concept id,
// optionally wrapped the way an axiom's IRI form is (e.g. "<609096000>"),
// surrounding whitespace ignored.
func ParseExpression(expr string) (*Expression, error) {
	s := strings.TrimSpace(expr)
	var op Operator
	switch {
	case strings.HasPrefix(s, "<<"):
		op = DescendantOrSelf
		s = s[2:]
	case strings.HasPrefix(s, "<"):
		op = DescendantOf
		s = s[1:]
	default:
		return nil, types.NewConversionError("parsing ECL expression", fmt.Errorf("expected '<' or '<<' prefix in %q", expr))
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, types.NewConversionError("parsing ECL expression", fmt.Errorf("missing focus concept id in %q", expr))
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, types.NewConversionError("parsing ECL expression", fmt.Errorf("focus concept id %q in %q is not numeric", s, expr))
		}
	}
	return &Expression{Operator: op, FocusID: s}, nil
}
