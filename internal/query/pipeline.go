// Package query turns the catalog's static join graph plus a compiled filter
// tree into an ordered document-store aggregation pipeline: join stages, a
// match stage, pagination and a projection shaping the nested output graph.
package query

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"cfdb/internal/apperr"
	"cfdb/internal/catalog"
	"cfdb/internal/filter"
)

// Plan builds the pipeline for a paginated files query. rels is the set of
// relationship names referenced by the filter or the requested output shape;
// it is closed over dependencies here. Join rules: each relationship is joined
// at most once; one-to-one joins come first and the match stage is emitted as
// soon as everything it reads is joined, so cardinality-expanding joins happen
// as late as possible.
func Plan(node *filter.Node, rels map[string]bool, page, pageSize int, cat *catalog.Catalog) ([]bson.D, error) {
	if page < 0 || pageSize < 1 {
		return nil, apperr.New(apperr.InvalidPagination, "page must be >= 0 and pageSize >= 1, got page=%d pageSize=%d", page, pageSize)
	}

	needed := cat.Closure(rels)
	pipeline := joinStages(needed, cat, matchPoint(node, needed, cat))

	// Stable sort keeps successive pages disjoint and contiguous.
	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		bson.D{{Key: "$skip", Value: page * pageSize}},
		bson.D{{Key: "$limit", Value: pageSize}},
	)
	pipeline = append(pipeline, projectStage(needed, cat))
	return pipeline, nil
}

// PlanOne builds the pipeline for a single-entity lookup by a concrete match
// document. No pagination and no compiled filter apply; shape joins still run
// so the nested graph comes back.
func PlanOne(match bson.D, rels map[string]bool, cat *catalog.Catalog) []bson.D {
	needed := cat.Closure(rels)
	pipeline := []bson.D{{{Key: "$match", Value: match}}}
	pipeline = append(pipeline, joinStages(needed, cat, nil)...)
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: 1}})
	pipeline = append(pipeline, projectStage(needed, cat))
	return pipeline
}

// matchPoint returns the match stage to splice between the one-to-one joins
// and the expanding joins when the filter only reads one-to-one paths, or
// after every join otherwise. nil node means match-everything: no stage.
func matchPoint(node *filter.Node, needed map[string]bool, cat *catalog.Catalog) *matchPlacement {
	if node.MatchAll() {
		return nil
	}
	stage := bson.D{{Key: "$match", Value: ToMongo(node)}}
	for name := range needed {
		if r := cat.Relationship(name); r != nil && r.Kind == catalog.Many && nodeReads(node, r.Path) {
			return &matchPlacement{stage: stage, afterMany: true}
		}
	}
	return &matchPlacement{stage: stage}
}

type matchPlacement struct {
	stage     bson.D
	afterMany bool
}

// nodeReads reports whether any equality path in the tree lies under prefix.
func nodeReads(n *filter.Node, prefix string) bool {
	if n == nil {
		return false
	}
	if n.Op == filter.OpEq {
		return len(n.Path) > len(prefix) && n.Path[:len(prefix)] == prefix && n.Path[len(prefix)] == '.'
	}
	for _, c := range n.Children {
		if nodeReads(c, prefix) {
			return true
		}
	}
	return false
}

// joinStages emits one lookup per needed root relationship, in catalog order;
// nested relationships (biosamples, anatomy) are realized inside their
// parent's sub-pipeline and never appear as top-level stages.
func joinStages(needed map[string]bool, cat *catalog.Catalog, match *matchPlacement) []bson.D {
	var stages []bson.D
	matched := false
	for _, rel := range cat.Relationships() {
		if rel.Requires != "" || !needed[rel.Name] {
			continue
		}
		if match != nil && !match.afterMany && !matched && rel.Kind == catalog.Many {
			stages = append(stages, match.stage)
			matched = true
		}
		stages = append(stages, relStages(rel, needed, cat)...)
	}
	if match != nil && !matched {
		stages = append(stages, match.stage)
	}
	return stages
}

// relStages builds the lookup (and unwind, for one-to-one edges) for one
// relationship, embedding the stages of its needed children.
func relStages(rel *catalog.Relationship, needed map[string]bool, cat *catalog.Catalog) []bson.D {
	children := childStages(rel, needed, cat)
	as := lastSegment(rel.Path)

	switch rel.Style {
	case catalog.BySubmission:
		lookup := bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: rel.From},
			{Key: "let", Value: bson.D{{Key: "sub", Value: "$submission"}}},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
					{Key: "$eq", Value: bson.A{"$submission", "$$sub"}},
				}}}}},
			}},
			{Key: "as", Value: as},
		}}}
		return append([]bson.D{lookup}, unwind(as)...)

	case catalog.ByCVTerm:
		lookup := bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: rel.From},
			{Key: "let", Value: bson.D{
				{Key: "sub", Value: "$submission"},
				{Key: "id", Value: "$" + rel.LocalField},
			}},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
					{Key: "$and", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$submission", "$$sub"}}},
						bson.D{{Key: "$eq", Value: bson.A{"$id", "$$id"}}},
					}},
				}}}}},
			}},
			{Key: "as", Value: as},
		}}}
		return append([]bson.D{lookup}, unwind(as)...)

	case catalog.ByJunction:
		// Walk the junction rows matching the source's composite key, resolve
		// each to its target document, then keep only the target (plus any
		// nested child joins applied to it).
		inner := bson.A{
			bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
				{Key: "$and", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$" + rel.JunctionLocal[0], "$$ns"}}},
					bson.D{{Key: "$eq", Value: bson.A{"$" + rel.JunctionLocal[1], "$$lid"}}},
				}},
			}}}}},
			bson.D{{Key: "$lookup", Value: bson.D{
				{Key: "from", Value: rel.From},
				{Key: "let", Value: bson.D{
					{Key: "tns", Value: "$" + rel.JunctionForeign[0]},
					{Key: "tlid", Value: "$" + rel.JunctionForeign[1]},
				}},
				{Key: "pipeline", Value: bson.A{
					bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
						{Key: "$and", Value: bson.A{
							bson.D{{Key: "$eq", Value: bson.A{"$id_namespace", "$$tns"}}},
							bson.D{{Key: "$eq", Value: bson.A{"$local_id", "$$tlid"}}},
						}},
					}}}}},
				}},
				{Key: "as", Value: "doc"},
			}}},
			bson.D{{Key: "$unwind", Value: "$doc"}},
			bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}},
		}
		for _, child := range children {
			inner = append(inner, child)
		}
		lookup := bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: rel.Junction},
			{Key: "let", Value: bson.D{
				{Key: "ns", Value: "$id_namespace"},
				{Key: "lid", Value: "$local_id"},
			}},
			{Key: "pipeline", Value: inner},
			{Key: "as", Value: as},
		}}}
		return []bson.D{lookup}
	}
	return nil
}

// childStages builds the stages of every needed relationship nested under rel.
func childStages(rel *catalog.Relationship, needed map[string]bool, cat *catalog.Catalog) []bson.D {
	var stages []bson.D
	for _, child := range cat.Relationships() {
		if child.Requires != rel.Name || !needed[child.Name] {
			continue
		}
		stages = append(stages, relStages(child, needed, cat)...)
	}
	return stages
}

func unwind(path string) []bson.D {
	return []bson.D{{{Key: "$unwind", Value: bson.D{
		{Key: "path", Value: "$" + path},
		{Key: "preserveNullAndEmptyArrays", Value: true},
	}}}}
}

// projectStage shapes the output to the root entity's fields plus the joined
// relationship paths.
func projectStage(needed map[string]bool, cat *catalog.Catalog) bson.D {
	fields := bson.D{}
	seen := map[string]bool{}
	for _, store := range sortedValues(cat.Root().Fields) {
		if !seen[store] {
			seen[store] = true
			fields = append(fields, bson.E{Key: store, Value: 1})
		}
	}
	for _, rel := range cat.Relationships() {
		if rel.Requires == "" && needed[rel.Name] && !seen[rel.Path] {
			seen[rel.Path] = true
			fields = append(fields, bson.E{Key: rel.Path, Value: 1})
		}
	}
	return bson.D{{Key: "$project", Value: fields}}
}

// ToMongo renders the compiled expression tree as a store filter document.
func ToMongo(n *filter.Node) bson.D {
	if n.MatchAll() {
		return bson.D{}
	}
	switch n.Op {
	case filter.OpEq:
		return bson.D{{Key: n.Path, Value: n.Value}}
	case filter.OpAnd, filter.OpOr:
		op := "$and"
		if n.Op == filter.OpOr {
			op = "$or"
		}
		children := make(bson.A, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, ToMongo(c))
		}
		return bson.D{{Key: op, Value: children}}
	}
	return bson.D{}
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}

// sortedValues returns m's values sorted; deterministic projection order
// keeps plans reproducible.
func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
