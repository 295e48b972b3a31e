package dsl

// AST nodes carry source positions so resolution errors can point at the
// offending reference, not just the enclosing declaration.

type exprNode interface {
	pos() (line, col int)
}

type selfNode struct {
	line, col int
}

type identNode struct {
	name      string
	line, col int
}

type fromNode struct {
	computed identNode
	tupleset identNode
}

type unionNode struct {
	children []exprNode
}

type intersectNode struct {
	children []exprNode
}

type exclusionNode struct {
	base     exprNode
	subtract exprNode
}

func (n selfNode) pos() (int, int)      { return n.line, n.col }
func (n identNode) pos() (int, int)     { return n.line, n.col }
func (n fromNode) pos() (int, int)      { return n.computed.pos() }
func (n unionNode) pos() (int, int)     { return n.children[0].pos() }
func (n intersectNode) pos() (int, int) { return n.children[0].pos() }
func (n exclusionNode) pos() (int, int) { return n.base.pos() }

type relationDecl struct {
	name      string
	line, col int
	expr      exprNode // nil means direct tuples only (This)
}

type typeDecl struct {
	name      string
	line, col int
	relations []relationDecl
}

type modelAST struct {
	schemaVersion string
	types         []typeDecl
}

type parser struct {
	toks []token
	idx  int
	errs []CompileError
}

func newParser(toks []token) *parser {
	return &parser{toks: toks}
}

func (p *parser) cur() token {
	return p.toks[p.idx]
}

func (p *parser) advance() token {
	tok := p.toks[p.idx]
	if tok.kind != tokenEOF {
		p.idx++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) {
	p.errs = append(p.errs, errorf(tok.line, tok.col, format, args...))
}

// keyword reports whether the current token is the given bare identifier.
func (p *parser) keyword(word string) bool {
	tok := p.cur()
	return tok.kind == tokenIdent && tok.lit == word
}

func (p *parser) expect(kind tokenKind) (token, bool) {
	tok := p.cur()
	if tok.kind != kind {
		p.errorf(tok, "expected %s, got %s", kind, describe(tok))
		return tok, false
	}
	return p.advance(), true
}

func describe(tok token) string {
	if tok.kind == tokenIdent {
		return "'" + tok.lit + "'"
	}
	return tok.kind.String()
}

// name accepts an identifier or a quoted string as a name.
func (p *parser) name(what string) (token, bool) {
	tok := p.cur()
	if tok.kind != tokenIdent && tok.kind != tokenString {
		p.errorf(tok, "expected %s name, got %s", what, describe(tok))
		return tok, false
	}
	return p.advance(), true
}

// sync skips tokens until the next declaration boundary after a parse error.
func (p *parser) sync() {
	for {
		tok := p.cur()
		if tok.kind == tokenEOF || tok.kind == tokenRBrace ||
			(tok.kind == tokenIdent && (tok.lit == "type" || tok.lit == "define")) {
			return
		}
		p.advance()
	}
}

func (p *parser) parseModel() modelAST {
	var ast modelAST

	if p.keyword("model") {
		p.advance()
		ast.schemaVersion = p.parseHeader()
	}

	for {
		tok := p.cur()
		switch {
		case tok.kind == tokenEOF:
			return ast
		case p.keyword("type"):
			p.advance()
			if td, ok := p.parseType(); ok {
				ast.types = append(ast.types, td)
			}
		default:
			p.errorf(tok, "expected 'type' declaration, got %s", describe(tok))
			p.advance()
			p.sync()
		}
	}
}

// parseHeader reads `{ schema <version> }` after the model keyword.
func (p *parser) parseHeader() string {
	if _, ok := p.expect(tokenLBrace); !ok {
		p.sync()
		return ""
	}
	if !p.keyword("schema") {
		p.errorf(p.cur(), "expected 'schema' in model header")
		p.sync()
		return ""
	}
	p.advance()

	version := ""
	tok := p.cur()
	if tok.kind == tokenString || tok.kind == tokenNumber || tok.kind == tokenIdent {
		version = p.advance().lit
	} else {
		p.errorf(tok, "expected schema version, got %s", describe(tok))
	}
	p.expect(tokenRBrace)
	return version
}

func (p *parser) parseType() (typeDecl, bool) {
	nameTok, ok := p.name("type")
	if !ok {
		p.sync()
		return typeDecl{}, false
	}
	td := typeDecl{name: nameTok.lit, line: nameTok.line, col: nameTok.col}

	// A type without a body declares no relations (e.g. `type user`).
	if p.cur().kind != tokenLBrace {
		return td, true
	}
	p.advance()

	if !p.keyword("relations") {
		p.errorf(p.cur(), "expected 'relations' block in type %q", td.name)
		p.sync()
		return td, true
	}
	p.advance()
	if _, ok := p.expect(tokenLBrace); !ok {
		p.sync()
		return td, true
	}

	for {
		tok := p.cur()
		switch {
		case tok.kind == tokenRBrace:
			p.advance()
			p.expect(tokenRBrace) // close the type block
			return td, true
		case tok.kind == tokenEOF:
			p.errorf(tok, "unexpected end of input in type %q", td.name)
			return td, true
		case p.keyword("define"):
			p.advance()
			if rd, ok := p.parseDefine(); ok {
				td.relations = append(td.relations, rd)
			}
		default:
			p.errorf(tok, "expected 'define' in relations of type %q, got %s", td.name, describe(tok))
			p.advance()
			p.sync()
		}
	}
}

func (p *parser) parseDefine() (relationDecl, bool) {
	nameTok, ok := p.name("relation")
	if !ok {
		p.sync()
		return relationDecl{}, false
	}
	rd := relationDecl{name: nameTok.lit, line: nameTok.line, col: nameTok.col}

	if p.cur().kind != tokenColon {
		return rd, true // bare define: direct tuples
	}
	p.advance()

	expr, ok := p.parseExpr()
	if !ok {
		p.sync()
		return rd, false
	}
	rd.expr = expr
	return rd, true
}

// parseExpr parses `orExpr [but not orExpr]`. `but not` has the lowest
// precedence and excludes the whole expression on its left.
func (p *parser) parseExpr() (exprNode, bool) {
	base, ok := p.parseOr()
	if !ok {
		return nil, false
	}
	if !p.keyword("but") {
		return base, true
	}
	p.advance()
	if !p.keyword("not") {
		p.errorf(p.cur(), "expected 'not' after 'but'")
		return nil, false
	}
	p.advance()
	subtract, ok := p.parseOr()
	if !ok {
		return nil, false
	}
	return exclusionNode{base: base, subtract: subtract}, true
}

func (p *parser) parseOr() (exprNode, bool) {
	first, ok := p.parseAnd()
	if !ok {
		return nil, false
	}
	children := []exprNode{first}
	for p.keyword("or") {
		p.advance()
		next, ok := p.parseAnd()
		if !ok {
			return nil, false
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, true
	}
	return unionNode{children: children}, true
}

func (p *parser) parseAnd() (exprNode, bool) {
	first, ok := p.parseTerm()
	if !ok {
		return nil, false
	}
	children := []exprNode{first}
	for p.keyword("and") {
		p.advance()
		next, ok := p.parseTerm()
		if !ok {
			return nil, false
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, true
	}
	return intersectNode{children: children}, true
}

func (p *parser) parseTerm() (exprNode, bool) {
	tok := p.cur()
	switch {
	case tok.kind == tokenLParen:
		p.advance()
		inner, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(tokenRParen); !ok {
			return nil, false
		}
		return inner, true
	case p.keyword("self"):
		p.advance()
		return selfNode{line: tok.line, col: tok.col}, true
	case tok.kind == tokenIdent || tok.kind == tokenString:
		p.advance()
		ident := identNode{name: tok.lit, line: tok.line, col: tok.col}
		if p.keyword("from") {
			p.advance()
			tsTok, ok := p.name("tupleset relation")
			if !ok {
				return nil, false
			}
			return fromNode{
				computed: ident,
				tupleset: identNode{name: tsTok.lit, line: tsTok.line, col: tsTok.col},
			}, true
		}
		return ident, true
	default:
		p.errorf(tok, "malformed rewrite expression: unexpected %s", describe(tok))
		return nil, false
	}
}
