// Copyright 2024 The topicgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The rule expression language is a small, side-effect-free subset of the
// predicate syntax rule authors write: string/number/boolean literals,
// property access on bound names, ===/!==/==/!= equality, </<=/>/>=
// ordering, !, &&, || and parentheses. Expressions run against a closed
// binding (user plus captured $variables) fetched from remote
// configuration, so there is no ambient scope and no way to call out of the
// evaluator; anything outside the grammar is a parse error, and parse or
// evaluation errors deny.
//
// Grammar, in precedence order:
//
//	expression := or
//	or         := and ( "||" and )*
//	and        := comparison ( "&&" comparison )*
//	comparison := unary ( ("===" | "!==" | "==" | "!=" | "<=" | ">=" | "<" | ">") unary )?
//	unary      := "!" unary | primary
//	primary    := "(" expression ")" | literal | reference
//	reference  := name ( "." ident )*
//
// where name is an identifier or a $-prefixed variable token. The loose
// equality forms are accepted for author convenience but evaluate with
// strict semantics: operands of different types are simply unequal.

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOperator
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

func lexExpr(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != quote {
				if runes[j] == '\\' && j+1 < len(runes) {
					j++
				}
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{tokenString, sb.String()})
			i = j + 1
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, string(runes[i:j])})
			i = j
		case r == '$' || r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[i:j])})
			i = j
		case strings.ContainsRune("=!<>&|", r):
			j := i
			for j < len(runes) && strings.ContainsRune("=!<>&|", runes[j]) {
				j++
			}
			op := string(runes[i:j])
			switch op {
			case "===", "!==", "==", "!=", "<", "<=", ">", ">=", "&&", "||", "!":
				tokens = append(tokens, token{tokenOperator, op})
			default:
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			i = j
		case r == '(' || r == ')' || r == '.':
			tokens = append(tokens, token{tokenPunct, string(r)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return append(tokens, token{kind: tokenEOF}), nil
}

// exprParser is a recursive-descent parser and evaluator in one pass: the
// grammar is small enough that building an AST buys nothing.
type exprParser struct {
	tokens  []token
	pos     int
	binding map[string]interface{}
}

func evalExpr(src string, binding map[string]interface{}) (bool, error) {
	tokens, err := lexExpr(src)
	if err != nil {
		return false, err
	}
	p := &exprParser{tokens: tokens, binding: binding}
	value, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokenEOF {
		return false, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	result, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}
	return result, nil
}

func (p *exprParser) peek() token {
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) acceptOperator(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokenOperator {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.next()
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (interface{}, error) {
	left, err := p.parseAnd()
	for err == nil {
		if _, ok := p.acceptOperator("||"); !ok {
			break
		}
		lb, lok := left.(bool)
		if !lok {
			return nil, fmt.Errorf("left operand of || is not a boolean")
		}
		var right interface{}
		right, err = p.parseAnd()
		if err != nil {
			break
		}
		rb, rok := right.(bool)
		if !rok {
			return nil, fmt.Errorf("right operand of || is not a boolean")
		}
		left = lb || rb
	}
	return left, err
}

func (p *exprParser) parseAnd() (interface{}, error) {
	left, err := p.parseComparison()
	for err == nil {
		if _, ok := p.acceptOperator("&&"); !ok {
			break
		}
		lb, lok := left.(bool)
		if !lok {
			return nil, fmt.Errorf("left operand of && is not a boolean")
		}
		var right interface{}
		right, err = p.parseComparison()
		if err != nil {
			break
		}
		rb, rok := right.(bool)
		if !rok {
			return nil, fmt.Errorf("right operand of && is not a boolean")
		}
		left = lb && rb
	}
	return left, err
}

func (p *exprParser) parseComparison() (interface{}, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOperator("===", "!==", "==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compare(op, left, right)
}

func (p *exprParser) parseUnary() (interface{}, error) {
	if _, ok := p.acceptOperator("!"); ok {
		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, isBool := value.(bool)
		if !isBool {
			return nil, fmt.Errorf("operand of ! is not a boolean")
		}
		return !b, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (interface{}, error) {
	t := p.next()
	switch t.kind {
	case tokenPunct:
		if t.text != "(" {
			return nil, fmt.Errorf("unexpected token %q", t.text)
		}
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenPunct || closing.text != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return value, nil
	case tokenString:
		return t.text, nil
	case tokenNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number literal %q", t.text)
		}
		return n, nil
	case tokenIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return p.parseReference(t.text)
	default:
		return nil, fmt.Errorf("unexpected end of expression")
	}
}

func (p *exprParser) parseReference(name string) (interface{}, error) {
	value, bound := p.binding[name]
	if !bound {
		return nil, fmt.Errorf("unknown name %q", name)
	}
	for p.peek().kind == tokenPunct && p.peek().text == "." {
		p.next()
		field := p.next()
		if field.kind != tokenIdent {
			return nil, fmt.Errorf("expected property name after '.'")
		}
		object, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot access property %q of non-object value", field.text)
		}
		// A missing property yields null rather than an error, so rules
		// like user.role === 'admin' deny cleanly for users without the
		// attribute.
		value = object[field.text]
	}
	return value, nil
}

func compare(op string, left, right interface{}) (interface{}, error) {
	switch op {
	case "===", "==":
		return looseEqual(left, right), nil
	case "!==", "!=":
		return !looseEqual(left, right), nil
	}

	// Ordering operators require two numbers or two strings.
	if ln, lok := left.(float64); lok {
		rn, rok := right.(float64)
		if !rok {
			return nil, fmt.Errorf("cannot compare number with non-number using %s", op)
		}
		return orderResult(op, ln < rn, ln == rn), nil
	}
	if ls, lok := left.(string); lok {
		rs, rok := right.(string)
		if !rok {
			return nil, fmt.Errorf("cannot compare string with non-string using %s", op)
		}
		return orderResult(op, ls < rs, ls == rs), nil
	}
	return nil, fmt.Errorf("operands of %s must be numbers or strings", op)
}

func orderResult(op string, less, equal bool) bool {
	switch op {
	case "<":
		return less
	case "<=":
		return less || equal
	case ">":
		return !less && !equal
	default:
		return !less
	}
}

// looseEqual compares scalar values. Operands of different dynamic types
// are unequal, never an error; comparing composite values (objects) is
// always unequal.
func looseEqual(left, right interface{}) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	switch l := left.(type) {
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case float64:
		r, ok := right.(float64)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	default:
		return false
	}
}
