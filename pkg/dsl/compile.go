// Package dsl compiles authorization model source into a schema.TypeSystem.
//
// Compilation is a pure function over the source text and runs in two passes:
// tokenize/parse into an AST, then resolve every relation reference across
// the declared types into a rewrite-rule tree. Any error aborts the model;
// there is no partial compilation.
package dsl

import (
	"fmt"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

// DefaultSchemaVersion is assumed when the source has no model header.
const DefaultSchemaVersion = "1.0"

// Compile parses and resolves DSL source. On success the error slice is
// empty and the TypeSystem is fully resolved: every relation reference in
// every rewrite rule points at a declared relation.
//
// Cyclic definitions that involve tuple indirection (userset or `from` hops)
// are legal here; termination on cyclic data is the evaluator's
// responsibility. Only a relation that names itself directly in its own
// expression is rejected, because no tuple can ever satisfy it.
func Compile(source string) (*schema.TypeSystem, []CompileError) {
	lex := newLexer(source)
	toks := lex.tokens()

	p := newParser(toks)
	ast := p.parseModel()

	errs := append(lex.errs, p.errs...)

	r := &resolver{ast: ast}
	ts := r.resolve()
	errs = append(errs, r.errs...)

	if len(errs) > 0 {
		return nil, errs
	}
	return ts, nil
}

type resolver struct {
	ast  modelAST
	errs []CompileError
	dups map[string]struct{} // duplicate type/relation declarations to skip
}

func (r *resolver) resolve() *schema.TypeSystem {
	version := r.ast.schemaVersion
	if version == "" {
		version = DefaultSchemaVersion
	}
	ts := &schema.TypeSystem{SchemaVersion: version, Types: map[string]*schema.TypeDefinition{}}
	r.dups = map[string]struct{}{}

	// First pass: declare all types and relation names so references can
	// resolve forward as well as backward.
	for i, td := range r.ast.types {
		if _, ok := ts.Types[td.name]; ok {
			r.errs = append(r.errs, errorf(td.line, td.col, "duplicate type %q", td.name))
			r.dups[typeKey(i)] = struct{}{}
			continue
		}
		def := &schema.TypeDefinition{Name: td.name, Relations: map[string]schema.RewriteRule{}}
		for j, rd := range td.relations {
			if _, ok := def.Relations[rd.name]; ok {
				r.errs = append(r.errs, errorf(rd.line, rd.col, "duplicate relation %q on type %q", rd.name, td.name))
				r.dups[relationKey(i, j)] = struct{}{}
				continue
			}
			def.Relations[rd.name] = nil // declared, resolved below
		}
		ts.Types[td.name] = def
	}

	for i, td := range r.ast.types {
		if _, skip := r.dups[typeKey(i)]; skip {
			continue
		}
		def := ts.Types[td.name]
		for j, rd := range td.relations {
			if _, skip := r.dups[relationKey(i, j)]; skip {
				continue
			}
			def.Relations[rd.name] = r.resolveRelation(ts, td, rd)
		}
	}
	return ts
}

func typeKey(i int) string {
	return fmt.Sprintf("t%d", i)
}

func relationKey(i, j int) string {
	return fmt.Sprintf("t%d.r%d", i, j)
}

func (r *resolver) resolveRelation(ts *schema.TypeSystem, td typeDecl, rd relationDecl) schema.RewriteRule {
	if rd.expr == nil {
		return schema.This{}
	}
	return r.resolveExpr(ts, td, rd, rd.expr)
}

func (r *resolver) resolveExpr(ts *schema.TypeSystem, td typeDecl, rd relationDecl, expr exprNode) schema.RewriteRule {
	switch n := expr.(type) {
	case selfNode:
		return schema.This{}

	case identNode:
		if n.name == rd.name {
			r.errs = append(r.errs, errorf(n.line, n.col, "relation %q references itself", rd.name))
			return nil
		}
		if _, ok := ts.Types[td.name].Relations[n.name]; !ok {
			r.errs = append(r.errs, errorf(n.line, n.col, "unknown relation %q on type %q", n.name, td.name))
			return nil
		}
		return schema.ComputedUserset{Relation: n.name}

	case fromNode:
		if _, ok := ts.Types[td.name].Relations[n.tupleset.name]; !ok {
			r.errs = append(r.errs, errorf(n.tupleset.line, n.tupleset.col,
				"unknown tupleset relation %q on type %q", n.tupleset.name, td.name))
			return nil
		}
		// The tupleset tuples name the target object whose type is only
		// known at evaluation time, so the computed relation resolves
		// against the whole model.
		if !declaredAnywhere(ts, n.computed.name) {
			r.errs = append(r.errs, errorf(n.computed.line, n.computed.col,
				"relation %q is not defined on any type", n.computed.name))
			return nil
		}
		return schema.TupleToUserset{TuplesetRelation: n.tupleset.name, ComputedRelation: n.computed.name}

	case unionNode:
		children := make([]schema.RewriteRule, 0, len(n.children))
		for _, c := range n.children {
			child := r.resolveExpr(ts, td, rd, c)
			if child == nil {
				return nil
			}
			children = append(children, child)
		}
		return schema.Union{Children: children}

	case intersectNode:
		children := make([]schema.RewriteRule, 0, len(n.children))
		for _, c := range n.children {
			child := r.resolveExpr(ts, td, rd, c)
			if child == nil {
				return nil
			}
			children = append(children, child)
		}
		return schema.Intersection{Children: children}

	case exclusionNode:
		base := r.resolveExpr(ts, td, rd, n.base)
		subtract := r.resolveExpr(ts, td, rd, n.subtract)
		if base == nil || subtract == nil {
			return nil
		}
		return schema.Exclusion{Base: base, Subtract: subtract}

	default:
		line, col := expr.pos()
		r.errs = append(r.errs, errorf(line, col, "malformed rewrite expression"))
		return nil
	}
}

func declaredAnywhere(ts *schema.TypeSystem, relation string) bool {
	for _, def := range ts.Types {
		if _, ok := def.Relations[relation]; ok {
			return true
		}
	}
	return false
}
