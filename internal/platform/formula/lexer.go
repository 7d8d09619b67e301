// Package formula evaluates small arithmetic expressions over decimal values.
// Only numbers, named variables, parentheses and the operators + - * / are
// accepted; nothing in an expression can call into the host program.
package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
)

type token struct {
	typ     tokenType
	literal string
	pos     int
}

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of expression"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	}
	return "unknown"
}

// tokenize splits src into tokens, rejecting any character outside the
// grammar.
func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '+':
			tokens = append(tokens, token{tokPlus, "+", i})
			i++
		case ch == '-':
			tokens = append(tokens, token{tokMinus, "-", i})
			i++
		case ch == '*':
			tokens = append(tokens, token{tokStar, "*", i})
			i++
		case ch == '/':
			tokens = append(tokens, token{tokSlash, "/", i})
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case unicode.IsDigit(ch) || ch == '.':
			start := i
			dots := 0
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					dots++
				}
				i++
			}
			lit := string(runes[start:i])
			if dots > 1 || lit == "." {
				return nil, fmt.Errorf("formula: malformed number %q at %d", lit, start)
			}
			tokens = append(tokens, token{tokNumber, lit, start})
		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{tokIdent, strings.ToLower(string(runes[start:i])), start})
		default:
			return nil, fmt.Errorf("formula: unexpected character %q at %d", ch, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(runes)})
	return tokens, nil
}
