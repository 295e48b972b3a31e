package dsl

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenColon
	tokenLBrace
	tokenRBrace
	tokenLParen
	tokenRParen
	tokenInvalid
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of input"
	case tokenIdent:
		return "identifier"
	case tokenString:
		return "string"
	case tokenNumber:
		return "number"
	case tokenColon:
		return "':'"
	case tokenLBrace:
		return "'{'"
	case tokenRBrace:
		return "'}'"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	default:
		return "invalid token"
	}
}

type token struct {
	kind tokenKind
	lit  string
	line int
	col  int
}

// lexer turns DSL source into tokens, tracking line and column for error
// positions. `#` starts a line comment. Identifiers may also be written as
// single- or double-quoted strings.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
	errs []CompileError
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) tokens() []token {
	var out []token
	for {
		tok := l.next()
		out = append(out, tok)
		if tok.kind == tokenEOF {
			return out
		}
	}
}

func (l *lexer) peekRune() (rune, int) {
	if l.pos >= len(l.src) {
		return 0, 0
	}
	return utf8.DecodeRuneInString(l.src[l.pos:])
}

func (l *lexer) advance() rune {
	r, size := l.peekRune()
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpaceAndComments() {
	for {
		r, _ := l.peekRune()
		switch {
		case r == '#':
			for {
				r, _ = l.peekRune()
				if r == 0 || r == '\n' {
					break
				}
				l.advance()
			}
		case unicode.IsSpace(r):
			l.advance()
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) next() token {
	l.skipSpaceAndComments()

	line, col := l.line, l.col
	r, _ := l.peekRune()
	if r == 0 {
		return token{kind: tokenEOF, line: line, col: col}
	}

	switch r {
	case ':':
		l.advance()
		return token{kind: tokenColon, lit: ":", line: line, col: col}
	case '{':
		l.advance()
		return token{kind: tokenLBrace, lit: "{", line: line, col: col}
	case '}':
		l.advance()
		return token{kind: tokenRBrace, lit: "}", line: line, col: col}
	case '(':
		l.advance()
		return token{kind: tokenLParen, lit: "(", line: line, col: col}
	case ')':
		l.advance()
		return token{kind: tokenRParen, lit: ")", line: line, col: col}
	case '\'', '"':
		return l.scanString(line, col)
	}

	if unicode.IsDigit(r) {
		return l.scanNumber(line, col)
	}
	if isIdentStart(r) {
		return l.scanIdent(line, col)
	}

	l.advance()
	l.errs = append(l.errs, errorf(line, col, "unexpected character %q", r))
	return token{kind: tokenInvalid, lit: string(r), line: line, col: col}
}

func (l *lexer) scanString(line, col int) token {
	quote := l.advance()
	var sb strings.Builder
	for {
		r, _ := l.peekRune()
		if r == 0 || r == '\n' {
			l.errs = append(l.errs, errorf(line, col, "unterminated string"))
			return token{kind: tokenInvalid, lit: sb.String(), line: line, col: col}
		}
		l.advance()
		if r == quote {
			return token{kind: tokenString, lit: sb.String(), line: line, col: col}
		}
		sb.WriteRune(r)
	}
}

func (l *lexer) scanNumber(line, col int) token {
	var sb strings.Builder
	for {
		r, _ := l.peekRune()
		if !unicode.IsDigit(r) && r != '.' {
			return token{kind: tokenNumber, lit: sb.String(), line: line, col: col}
		}
		sb.WriteRune(r)
		l.advance()
	}
}

func (l *lexer) scanIdent(line, col int) token {
	var sb strings.Builder
	for {
		r, _ := l.peekRune()
		if !isIdentPart(r) {
			return token{kind: tokenIdent, lit: sb.String(), line: line, col: col}
		}
		sb.WriteRune(r)
		l.advance()
	}
}
