package dub

import (
	"fmt"
	"strconv"
)

type Node interface {
	isNode()
}

func (Identifier) isNode() {}
func (Int) isNode()        {}
func (Float) isNode()      {}
func (String) isNode()     {}
func (MatchExpr) isNode()  {}

type Command struct {
	Name Identifier
	Args []Node
}

type Identifier string
type Int int
type Float float64
type String string

// MatchExpr selects channel ids: '1,3 matches 1 and 3, '2:4 matches 2 to 4
// inclusive, '* matches everything. Items can be combined: '1,4:6.
type MatchExpr struct {
	matchers []matcher
}

func Parse(input string) (Command, error) {
	tokens, err := lex(input)
	if err != nil {
		return Command{}, err
	}
	p := parser{tokens: tokens}
	return p.parse()
}

type parser struct {
	pos    int
	tokens []token
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) peek() token {
	t := p.next()
	p.pos--
	return t
}

func (p *parser) parse() (Command, error) {
	var cmd Command
	token := p.next()
	if token.typ != typeIdentifier {
		return cmd, unexpected(token)
	}
	cmd.Name = Identifier(token.text)
	for token := p.next(); token.typ != typeEOF; token = p.next() {
		var arg Node
		switch token.typ {
		case typeIdentifier:
			arg = Identifier(token.text)
		case typeString:
			s, err := strconv.Unquote(token.text)
			if err != nil {
				return cmd, fmt.Errorf("invalid string at position %d: %w", token.pos, err)
			}
			arg = String(s)
		case typeFloat:
			f, err := strconv.ParseFloat(token.text, 64)
			if err != nil {
				return cmd, err
			}
			arg = Float(f)
		case typeInt:
			n, err := strconv.Atoi(token.text)
			if err != nil {
				return cmd, err
			}
			arg = Int(n)
		case typeQuote:
			matchExpr, err := p.matchExpr()
			if err != nil {
				return cmd, err
			}
			arg = matchExpr
		default:
			return cmd, unexpected(token)
		}
		cmd.Args = append(cmd.Args, arg)
	}
	return cmd, nil
}

func (p *parser) matchExpr() (MatchExpr, error) {
	var match MatchExpr
	for {
		m, err := p.matchItem()
		if err != nil {
			return match, err
		}
		match.matchers = append(match.matchers, m)
		if p.peek().typ != typeComma {
			return match, nil
		}
		p.next()
	}
}

func (p *parser) matchItem() (matcher, error) {
	token := p.next()
	switch token.typ {
	case typeAsterisk:
		return matchAll, nil
	case typeInt:
		start, err := strconv.Atoi(token.text)
		if err != nil {
			return nil, err
		}
		if p.peek().typ != typeColon {
			return listMatch{start}, nil
		}
		p.next()
		t := p.next()
		if t.typ != typeInt {
			return nil, unexpected(t)
		}
		end, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, err
		}
		if end < start {
			return nil, fmt.Errorf("empty range %d:%d at position %d", start, end, token.pos)
		}
		return rangeMatch{start: start, end: end}, nil
	default:
		return nil, unexpected(token)
	}
}

func unexpected(t token) error {
	if t.typ == typeEOF {
		return fmt.Errorf("unexpected end of input")
	}
	return fmt.Errorf("unexpected token %q at position %d", t.text, t.pos)
}
