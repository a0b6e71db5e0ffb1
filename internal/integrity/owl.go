// Package integrity implements the reference-integrity engine (C6): the
// incremental and full-sweep checks that find relationships and OWL axioms
// referencing a missing-or-inactive concept, plus the commit-time hook that
// keeps a branch's integrityIssue flag in sync with the current state.
package integrity

import (
	"fmt"
	"unicode"

	"github.com/snomed-core/termcore/internal/types"
)

// owlTokenType enumerates the lexical categories of a SNOMED OWL
// functional-syntax axiom, e.g.
//
//	SubClassOf(:73211009 ObjectIntersectionOf(:64572001 ObjectSomeValuesFrom(:609096000 :74732009)))
type owlTokenType int

const (
	owlTokenEOF owlTokenType = iota
	owlTokenIdent
	owlTokenConceptID
	owlTokenLParen
	owlTokenRParen
	owlTokenComma
)

type owlToken struct {
	typ owlTokenType
	val string
	pos int
}

// owlLexer tokenizes an OWL functional-syntax expression. Concept ids appear
// either bare, prefixed with ':', or embedded in a "<...>" IRI whose final
// path segment is the SCTID; all three forms are recognized.
type owlLexer struct {
	input string
	pos   int
}

func newOWLLexer(input string) *owlLexer {
	return &owlLexer{input: input}
}

func (l *owlLexer) peekByte() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *owlLexer) skipSpace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *owlLexer) next() (owlToken, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.input) {
		return owlToken{typ: owlTokenEOF, pos: start}, nil
	}

	c := l.input[l.pos]
	switch c {
	case '(':
		l.pos++
		return owlToken{typ: owlTokenLParen, val: "(", pos: start}, nil
	case ')':
		l.pos++
		return owlToken{typ: owlTokenRParen, val: ")", pos: start}, nil
	case ',':
		l.pos++
		return owlToken{typ: owlTokenComma, val: ",", pos: start}, nil
	case ':':
		l.pos++
		digitsStart := l.pos
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
		if l.pos == digitsStart {
			return owlToken{}, fmt.Errorf("expected digits after ':' at position %d", start)
		}
		return owlToken{typ: owlTokenConceptID, val: l.input[digitsStart:l.pos], pos: start}, nil
	case '<':
		l.pos++
		iriStart := l.pos
		for l.pos < len(l.input) && l.input[l.pos] != '>' {
			l.pos++
		}
		if l.pos >= len(l.input) {
			return owlToken{}, fmt.Errorf("unterminated IRI starting at position %d", start)
		}
		iri := l.input[iriStart:l.pos]
		l.pos++ // consume '>'
		id := trailingDigits(iri)
		if id == "" {
			return owlToken{}, fmt.Errorf("IRI %q at position %d carries no trailing SCTID", iri, start)
		}
		return owlToken{typ: owlTokenConceptID, val: id, pos: start}, nil
	default:
		if isDigit(c) {
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
			return owlToken{typ: owlTokenConceptID, val: l.input[start:l.pos], pos: start}, nil
		}
		if isIdentStart(c) {
			for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
				l.pos++
			}
			return owlToken{typ: owlTokenIdent, val: l.input[start:l.pos], pos: start}, nil
		}
		return owlToken{}, fmt.Errorf("unexpected character %q at position %d", c, start)
	}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return unicode.IsLetter(rune(c)) }
func isIdentChar(c byte) bool  { return unicode.IsLetter(rune(c)) || isDigit(c) }

func trailingDigits(s string) string {
	end := len(s)
	start := end
	for start > 0 && isDigit(s[start-1]) {
		start--
	}
	if start == end {
		return ""
	}
	return s[start:end]
}

// owlNode is a node of the parsed axiom: either a bare concept reference or
// a function application (ObjectSomeValuesFrom, SubClassOf, ...) over
// further nodes.
type owlNode interface {
	owlNode()
}

type owlConceptRef struct{ id string }

func (owlConceptRef) owlNode() {}

type owlCall struct {
	name string
	args []owlNode
}

func (owlCall) owlNode() {}

// owlParser is a small recursive-descent parser over the functional-syntax
// subset of OWL that SNOMED's axiom refset uses: nested function
// applications over concept references, with no operators or literals.
type owlParser struct {
	lexer   *owlLexer
	current owlToken
}

func newOWLParser(input string) (*owlParser, error) {
	p := &owlParser{lexer: newOWLLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *owlParser) advance() error {
	tok, err := p.lexer.next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *owlParser) parseNode() (owlNode, error) {
	switch p.current.typ {
	case owlTokenConceptID:
		id := p.current.val
		if err := p.advance(); err != nil {
			return nil, err
		}
		return owlConceptRef{id: id}, nil
	case owlTokenIdent:
		name := p.current.val
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.current.typ != owlTokenLParen {
			return owlCall{name: name}, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []owlNode
		for p.current.typ != owlTokenRParen {
			arg, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current.typ == owlTokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else if p.current.typ != owlTokenRParen {
				return nil, fmt.Errorf("expected ',' or ')' at position %d", p.current.pos)
			}
		}
		if err := p.advance(); err != nil { // consume ')'
			return nil, err
		}
		return owlCall{name: name, args: args}, nil
	default:
		return nil, fmt.Errorf("unexpected token at position %d", p.current.pos)
	}
}

// parseAll parses every top-level expression in the axiom (normally just
// one) and returns them, so a trailing EOF isn't required after the first.
func (p *owlParser) parseAll() ([]owlNode, error) {
	var nodes []owlNode
	for p.current.typ != owlTokenEOF {
		n, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ParseOWLExpression parses a SNOMED OWL functional-syntax axiom and
// returns the set of SNOMED CT concept ids referenced anywhere within it.
func ParseOWLExpression(expr string) (map[string]bool, error) {
	if expr == "" {
		return map[string]bool{}, nil
	}
	p, err := newOWLParser(expr)
	if err != nil {
		return nil, types.NewConversionError("parsing OWL expression", err)
	}
	nodes, err := p.parseAll()
	if err != nil {
		return nil, types.NewConversionError("parsing OWL expression", err)
	}
	ids := make(map[string]bool)
	for _, n := range nodes {
		collectConceptIDs(n, ids)
	}
	return ids, nil
}

func collectConceptIDs(n owlNode, out map[string]bool) {
	switch v := n.(type) {
	case owlConceptRef:
		out[v.id] = true
	case owlCall:
		for _, a := range v.args {
			collectConceptIDs(a, out)
		}
	}
}
