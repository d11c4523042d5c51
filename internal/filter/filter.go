// Package filter compiles the client-supplied, loosely-typed filter structure
// into a boolean expression tree over store field paths. The compiler is pure:
// it never touches the store, and the same input always yields the same tree.
package filter

import (
	"sort"

	"cfdb/internal/apperr"
	"cfdb/internal/catalog"
)

// Expr is the recursive filter input: a leaf scalar, an ordered sequence, or
// a mapping from field name to sub-expression. Modeled as a tagged variant so
// the OR/AND reduction is exhaustive.
type Expr interface{ isExpr() }

// Leaf is a scalar filter value.
type Leaf struct{ Value interface{} }

// Sequence combines its elements with logical OR.
type Sequence struct{ Items []Expr }

// Mapping combines its key/value pairs with logical AND. Pairs are kept in
// sorted key order so compilation is deterministic.
type Mapping struct{ Pairs []Pair }

// Pair is one field constraint inside a Mapping.
type Pair struct {
	Key   string
	Value Expr
}

func (Leaf) isExpr()     {}
func (Sequence) isExpr() {}
func (Mapping) isExpr()  {}

// Parse builds an Expr from decoded JSON. nil stays nil (absent filter).
func Parse(v interface{}) Expr {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		items := make([]Expr, 0, len(t))
		for _, item := range t {
			items = append(items, Parse(item))
		}
		return Sequence{Items: items}
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]Pair, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, Pair{Key: k, Value: Parse(t[k])})
		}
		return Mapping{Pairs: pairs}
	default:
		return Leaf{Value: v}
	}
}

// Op is a boolean expression tree operator.
type Op int

const (
	OpMatchAll Op = iota
	OpAnd
	OpOr
	OpEq
)

// Node is one level of the compiled expression tree. Each level carries
// exactly one operator; mixed AND/OR always materializes a child node.
type Node struct {
	Op       Op
	Children []*Node     // OpAnd, OpOr
	Path     string      // OpEq: dotted store field path
	Value    interface{} // OpEq
}

// MatchAll reports whether the node matches every record.
func (n *Node) MatchAll() bool { return n == nil || n.Op == OpMatchAll }

// Compile reduces an Expr to its expression tree and the set of relationships
// its paths reference. Degenerate inputs (nil, empty sequence, empty mapping)
// compile to match-everything.
func Compile(e Expr, cat *catalog.Catalog) (*Node, map[string]bool, error) {
	c := &compiler{cat: cat, touched: map[string]bool{}}
	n, err := c.compile(e, cat.Root(), "", "")
	if err != nil {
		return nil, nil, err
	}
	return n, c.touched, nil
}

type compiler struct {
	cat     *catalog.Catalog
	touched map[string]bool
}

// compile walks an expression relative to entity. prefix is the dotted store
// path of the joined document ("" at the root); apiPath is the dotted input
// path used in error messages.
func (c *compiler) compile(e Expr, entity *catalog.Entity, prefix, apiPath string) (*Node, error) {
	switch t := e.(type) {
	case nil:
		return &Node{Op: OpMatchAll}, nil
	case Leaf:
		// A bare scalar carries no field to test against.
		return nil, apperr.New(apperr.BadRequest, "filter value %v is not under a field", t.Value)
	case Sequence:
		if len(t.Items) == 0 {
			return &Node{Op: OpMatchAll}, nil
		}
		or := &Node{Op: OpOr}
		for _, item := range t.Items {
			child, err := c.compile(item, entity, prefix, apiPath)
			if err != nil {
				return nil, err
			}
			or.Children = append(or.Children, child)
		}
		return or, nil
	case Mapping:
		if len(t.Pairs) == 0 {
			return &Node{Op: OpMatchAll}, nil
		}
		and := &Node{Op: OpAnd}
		for _, pair := range t.Pairs {
			child, err := c.compileField(pair.Key, pair.Value, entity, prefix, apiPath)
			if err != nil {
				return nil, err
			}
			and.Children = append(and.Children, child)
		}
		return and, nil
	}
	return nil, apperr.New(apperr.BadRequest, "unrecognized filter shape at %q", apiPath)
}

// compileField compiles the constraint under a single mapping key, which is
// either a nested entity field (recurse through the join graph) or a plain
// field (equality, or OR of equalities for a sequence of scalars).
func (c *compiler) compileField(key string, value Expr, entity *catalog.Entity, prefix, apiPath string) (*Node, error) {
	fieldPath := joinPath(apiPath, key)

	if rel, ok := entity.Relationships[key]; ok {
		c.touched[rel.Name] = true
		target := c.cat.Entity(rel.Entity)
		switch v := value.(type) {
		case Mapping:
			return c.compile(v, target, rel.Path+".", fieldPath)
		case Sequence:
			if len(v.Items) == 0 {
				return &Node{Op: OpMatchAll}, nil
			}
			or := &Node{Op: OpOr}
			for _, item := range v.Items {
				child, err := c.compile(item, target, rel.Path+".", fieldPath)
				if err != nil {
					return nil, err
				}
				or.Children = append(or.Children, child)
			}
			return or, nil
		default:
			return nil, apperr.New(apperr.BadRequest, "filter for %q must be an object or list of objects", fieldPath)
		}
	}

	store, err := c.cat.ResolveField(entity, key, fieldPath)
	if err != nil {
		return nil, err
	}
	path := prefix + store

	switch v := value.(type) {
	case Leaf:
		return &Node{Op: OpEq, Path: path, Value: v.Value}, nil
	case Sequence:
		if len(v.Items) == 0 {
			return &Node{Op: OpMatchAll}, nil
		}
		or := &Node{Op: OpOr}
		for _, item := range v.Items {
			leaf, ok := item.(Leaf)
			if !ok {
				return nil, apperr.New(apperr.UnknownField, "unknown field %q", fieldPath)
			}
			or.Children = append(or.Children, &Node{Op: OpEq, Path: path, Value: leaf.Value})
		}
		return or, nil
	case Mapping:
		// Scalar fields have no subfields; report the first nested key.
		sub := fieldPath
		if len(v.Pairs) > 0 {
			sub = joinPath(fieldPath, v.Pairs[0].Key)
		}
		return nil, apperr.New(apperr.UnknownField, "unknown field %q", sub)
	}
	return nil, apperr.New(apperr.BadRequest, "unrecognized filter shape at %q", fieldPath)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
