package detect

import (
	"fmt"
	"strings"
)

// condNode is one node of a parsed condition expression.
type condNode interface {
	eval(lookup func(name string) bool) bool
}

type andNode struct{ children []condNode }

func (n andNode) eval(lookup func(string) bool) bool {
	for _, c := range n.children {
		if !c.eval(lookup) {
			return false
		}
	}
	return true
}

type orNode struct{ children []condNode }

func (n orNode) eval(lookup func(string) bool) bool {
	for _, c := range n.children {
		if c.eval(lookup) {
			return true
		}
	}
	return false
}

type notNode struct{ child condNode }

func (n notNode) eval(lookup func(string) bool) bool {
	return !n.child.eval(lookup)
}

type identNode struct{ name string }

func (n identNode) eval(lookup func(string) bool) bool {
	return lookup(n.name)
}

// ofNode implements "1 of x*" / "all of them" quantifiers over the
// selections matching its pattern.
type ofNode struct {
	all   bool
	names []string
}

func (n ofNode) eval(lookup func(string) bool) bool {
	for _, name := range n.names {
		matched := lookup(name)
		if n.all && !matched {
			return false
		}
		if !n.all && matched {
			return true
		}
	}
	return n.all && len(n.names) > 0
}

// condParser is a recursive-descent parser for Sigma condition
// expressions: identifiers, and/or/not, parentheses, and the
// "1 of"/"all of" quantifiers.
type condParser struct {
	tokens     []string
	pos        int
	selections []string
}

func parseCondition(expr string, selections []string) (condNode, error) {
	p := &condParser{tokens: tokenizeCondition(expr), selections: selections}
	if len(p.tokens) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q", p.tokens[p.pos])
	}
	return node, nil
}

func tokenizeCondition(expr string) []string {
	expr = strings.ReplaceAll(expr, "(", " ( ")
	expr = strings.ReplaceAll(expr, ")", " ) ")
	return strings.Fields(expr)
}

func (p *condParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *condParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *condParser) parseOr() (condNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []condNode{left}
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return orNode{children: children}, nil
}

func (p *condParser) parseAnd() (condNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []condNode{left}
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return andNode{children: children}, nil
}

func (p *condParser) parseUnary() (condNode, error) {
	switch tok := p.peek(); {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of condition")
	case strings.EqualFold(tok, "not"):
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil
	case tok == "(":
		p.next()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return node, nil
	case tok == "1" || strings.EqualFold(tok, "all") || strings.EqualFold(tok, "any"):
		return p.parseOf()
	default:
		return identNode{name: p.next()}, nil
	}
}

func (p *condParser) parseOf() (condNode, error) {
	quant := p.next()
	if !strings.EqualFold(p.peek(), "of") {
		// A selection can legitimately be named "all"; treat the
		// token as an identifier when "of" does not follow.
		return identNode{name: quant}, nil
	}
	p.next()
	pattern := p.next()
	if pattern == "" {
		return nil, fmt.Errorf("missing selection pattern after %q of", quant)
	}
	node := ofNode{all: strings.EqualFold(quant, "all")}
	for _, name := range p.selections {
		if matchSelectionPattern(pattern, name) {
			node.names = append(node.names, name)
		}
	}
	if len(node.names) == 0 {
		return nil, fmt.Errorf("no selection matches pattern %q", pattern)
	}
	return node, nil
}

func matchSelectionPattern(pattern, name string) bool {
	if strings.EqualFold(pattern, "them") {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}
