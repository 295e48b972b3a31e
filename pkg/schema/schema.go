// Package schema defines the compiled representation of an authorization
// model: object types, their relations, and the rewrite rules that describe
// how a relation is computed from stored tuples and other relations.
//
// A TypeSystem is immutable once built. The DSL compiler (pkg/dsl) is the
// only producer; stores and the evaluation engine only read it.
package schema

import (
	"encoding/json"
	"fmt"
)

// ObjectRef identifies a single object, e.g. document:doc1.
type ObjectRef struct {
	Type string
	ID   string
}

func (o ObjectRef) String() string {
	return o.Type + ":" + o.ID
}

// UserRef identifies the subject of a tuple. With an empty Relation it is a
// concrete user (user:alice). With a Relation it is a userset reference
// (team:eng#member), meaning "every user satisfying member on team:eng".
type UserRef struct {
	Type     string
	ID       string
	Relation string
}

// IsUserset reports whether the reference points at a userset rather than a
// concrete user.
func (u UserRef) IsUserset() bool {
	return u.Relation != ""
}

// Object returns the object part of the reference.
func (u UserRef) Object() ObjectRef {
	return ObjectRef{Type: u.Type, ID: u.ID}
}

func (u UserRef) String() string {
	if u.Relation == "" {
		return u.Type + ":" + u.ID
	}
	return u.Type + ":" + u.ID + "#" + u.Relation
}

// TupleKey is the logical identity of a relationship tuple:
// object#relation@user.
type TupleKey struct {
	Object   ObjectRef
	Relation string
	User     UserRef
}

func (t TupleKey) String() string {
	return t.Object.String() + "#" + t.Relation + "@" + t.User.String()
}

// RewriteRule is the closed set of expressions a relation can be defined by.
// The variants mirror the DSL: direct tuples (This), `or` (Union), `and`
// (Intersection), `but not` (Exclusion), a reference to a sibling relation
// (ComputedUserset) and `from` (TupleToUserset).
type RewriteRule interface {
	isRewriteRule()
}

// This matches tuples written directly against the relation.
type This struct{}

// ComputedUserset delegates to another relation on the same object.
type ComputedUserset struct {
	Relation string
}

// TupleToUserset follows tuples of TuplesetRelation on the current object and
// evaluates ComputedRelation on each referenced object.
type TupleToUserset struct {
	TuplesetRelation string
	ComputedRelation string
}

// Union succeeds when any child succeeds.
type Union struct {
	Children []RewriteRule
}

// Intersection succeeds when every child succeeds.
type Intersection struct {
	Children []RewriteRule
}

// Exclusion succeeds when Base succeeds and Subtract does not.
type Exclusion struct {
	Base     RewriteRule
	Subtract RewriteRule
}

func (This) isRewriteRule()            {}
func (ComputedUserset) isRewriteRule() {}
func (TupleToUserset) isRewriteRule()  {}
func (Union) isRewriteRule()           {}
func (Intersection) isRewriteRule()    {}
func (Exclusion) isRewriteRule()       {}

// TypeDefinition is a named object type with its relation rewrite rules.
type TypeDefinition struct {
	Name      string
	Relations map[string]RewriteRule
}

// TypeSystem is a complete compiled authorization model.
type TypeSystem struct {
	SchemaVersion string
	Types         map[string]*TypeDefinition
}

// NewTypeSystem builds a TypeSystem from type definitions.
func NewTypeSystem(version string, types ...*TypeDefinition) *TypeSystem {
	ts := &TypeSystem{SchemaVersion: version, Types: make(map[string]*TypeDefinition, len(types))}
	for _, td := range types {
		ts.Types[td.Name] = td
	}
	return ts
}

// HasType reports whether the type is declared.
func (ts *TypeSystem) HasType(name string) bool {
	_, ok := ts.Types[name]
	return ok
}

// Relation returns the rewrite rule for (objectType, relation).
func (ts *TypeSystem) Relation(objectType, relation string) (RewriteRule, bool) {
	td, ok := ts.Types[objectType]
	if !ok {
		return nil, false
	}
	rule, ok := td.Relations[relation]
	return rule, ok
}

// HasRelation reports whether any declared type defines the relation. Used to
// resolve TupleToUserset computed relations, whose target type is only known
// from live tuples.
func (ts *TypeSystem) HasRelation(relation string) bool {
	for _, td := range ts.Types {
		if _, ok := td.Relations[relation]; ok {
			return true
		}
	}
	return false
}

// Validate re-checks the structural invariants the compiler enforces. It is
// run when a model is decoded from storage, so a corrupted row fails closed
// instead of producing undefined evaluation behavior.
func (ts *TypeSystem) Validate() error {
	for typeName, td := range ts.Types {
		for relName, rule := range td.Relations {
			if err := ts.validateRule(typeName, relName, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ts *TypeSystem) validateRule(typeName, relName string, rule RewriteRule) error {
	switch r := rule.(type) {
	case This:
		return nil
	case ComputedUserset:
		if r.Relation == relName {
			return fmt.Errorf("relation %s.%s references itself", typeName, relName)
		}
		if _, ok := ts.Relation(typeName, r.Relation); !ok {
			return fmt.Errorf("relation %s.%s references undefined relation %q", typeName, relName, r.Relation)
		}
		return nil
	case TupleToUserset:
		if _, ok := ts.Relation(typeName, r.TuplesetRelation); !ok {
			return fmt.Errorf("relation %s.%s references undefined tupleset relation %q", typeName, relName, r.TuplesetRelation)
		}
		if !ts.HasRelation(r.ComputedRelation) {
			return fmt.Errorf("relation %s.%s references relation %q not defined on any type", typeName, relName, r.ComputedRelation)
		}
		return nil
	case Union:
		for _, c := range r.Children {
			if err := ts.validateRule(typeName, relName, c); err != nil {
				return err
			}
		}
		return nil
	case Intersection:
		for _, c := range r.Children {
			if err := ts.validateRule(typeName, relName, c); err != nil {
				return err
			}
		}
		return nil
	case Exclusion:
		if err := ts.validateRule(typeName, relName, r.Base); err != nil {
			return err
		}
		return ts.validateRule(typeName, relName, r.Subtract)
	default:
		return fmt.Errorf("relation %s.%s has unknown rewrite rule %T", typeName, relName, rule)
	}
}

// RelevantRelations computes the closure of relation names whose tuples can
// contribute to (objectType, relation): the target itself plus every relation
// reachable through computed usersets and tuple-to-userset hops. The closure
// is type-agnostic on purpose; reverse expansion over-approximates and the
// final Check filter restores exactness.
func (ts *TypeSystem) RelevantRelations(objectType, relation string) map[string]struct{} {
	closure := map[string]struct{}{relation: {}}
	for {
		before := len(closure)
		for name := range closure {
			for _, td := range ts.Types {
				rule, ok := td.Relations[name]
				if !ok {
					continue
				}
				collectRelationNames(rule, closure)
			}
		}
		if len(closure) == before {
			return closure
		}
	}
}

func collectRelationNames(rule RewriteRule, into map[string]struct{}) {
	switch r := rule.(type) {
	case ComputedUserset:
		into[r.Relation] = struct{}{}
	case TupleToUserset:
		into[r.TuplesetRelation] = struct{}{}
		into[r.ComputedRelation] = struct{}{}
	case Union:
		for _, c := range r.Children {
			collectRelationNames(c, into)
		}
	case Intersection:
		for _, c := range r.Children {
			collectRelationNames(c, into)
		}
	case Exclusion:
		collectRelationNames(r.Base, into)
		collectRelationNames(r.Subtract, into)
	}
}

// ruleJSON is the tagged storage representation of a RewriteRule.
type ruleJSON struct {
	Kind     string      `json:"kind"`
	Relation string      `json:"relation,omitempty"`
	Tupleset string      `json:"tupleset,omitempty"`
	Computed string      `json:"computed,omitempty"`
	Children []*ruleJSON `json:"children,omitempty"`
	Base     *ruleJSON   `json:"base,omitempty"`
	Subtract *ruleJSON   `json:"subtract,omitempty"`
}

type typeJSON struct {
	Name      string               `json:"name"`
	Relations map[string]*ruleJSON `json:"relations"`
}

type typeSystemJSON struct {
	SchemaVersion string      `json:"schema_version"`
	Types         []*typeJSON `json:"types"`
}

func encodeRule(rule RewriteRule) *ruleJSON {
	switch r := rule.(type) {
	case This:
		return &ruleJSON{Kind: "this"}
	case ComputedUserset:
		return &ruleJSON{Kind: "computed", Relation: r.Relation}
	case TupleToUserset:
		return &ruleJSON{Kind: "tuple_to_userset", Tupleset: r.TuplesetRelation, Computed: r.ComputedRelation}
	case Union:
		out := &ruleJSON{Kind: "union"}
		for _, c := range r.Children {
			out.Children = append(out.Children, encodeRule(c))
		}
		return out
	case Intersection:
		out := &ruleJSON{Kind: "intersection"}
		for _, c := range r.Children {
			out.Children = append(out.Children, encodeRule(c))
		}
		return out
	case Exclusion:
		return &ruleJSON{Kind: "exclusion", Base: encodeRule(r.Base), Subtract: encodeRule(r.Subtract)}
	default:
		return nil
	}
}

func decodeRule(in *ruleJSON) (RewriteRule, error) {
	if in == nil {
		return nil, fmt.Errorf("missing rewrite rule")
	}
	switch in.Kind {
	case "this":
		return This{}, nil
	case "computed":
		return ComputedUserset{Relation: in.Relation}, nil
	case "tuple_to_userset":
		return TupleToUserset{TuplesetRelation: in.Tupleset, ComputedRelation: in.Computed}, nil
	case "union", "intersection":
		children := make([]RewriteRule, 0, len(in.Children))
		for _, c := range in.Children {
			child, err := decodeRule(c)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if in.Kind == "union" {
			return Union{Children: children}, nil
		}
		return Intersection{Children: children}, nil
	case "exclusion":
		base, err := decodeRule(in.Base)
		if err != nil {
			return nil, err
		}
		subtract, err := decodeRule(in.Subtract)
		if err != nil {
			return nil, err
		}
		return Exclusion{Base: base, Subtract: subtract}, nil
	default:
		return nil, fmt.Errorf("unknown rewrite rule kind %q", in.Kind)
	}
}

// MarshalJSON serializes the type system for storage alongside the model row.
func (ts *TypeSystem) MarshalJSON() ([]byte, error) {
	out := &typeSystemJSON{SchemaVersion: ts.SchemaVersion}
	for _, td := range ts.Types {
		tj := &typeJSON{Name: td.Name, Relations: make(map[string]*ruleJSON, len(td.Relations))}
		for name, rule := range td.Relations {
			tj.Relations[name] = encodeRule(rule)
		}
		out.Types = append(out.Types, tj)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a stored type system.
func (ts *TypeSystem) UnmarshalJSON(data []byte) error {
	var in typeSystemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts.SchemaVersion = in.SchemaVersion
	ts.Types = make(map[string]*TypeDefinition, len(in.Types))
	for _, tj := range in.Types {
		td := &TypeDefinition{Name: tj.Name, Relations: make(map[string]RewriteRule, len(tj.Relations))}
		for name, rj := range tj.Relations {
			rule, err := decodeRule(rj)
			if err != nil {
				return fmt.Errorf("type %s, relation %s: %w", tj.Name, name, err)
			}
			td.Relations[name] = rule
		}
		ts.Types[tj.Name] = td
	}
	return nil
}
