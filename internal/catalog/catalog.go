// Package catalog is the static description of the C2M2 entity graph: the
// field naming of each entity (API display name to store field name) and the
// join paths connecting entities. The query-side components consume it; no
// runtime schema introspection happens anywhere.
package catalog

import (
	"cfdb/internal/apperr"
	"cfdb/internal/model"
)

// Cardinality of a relationship as seen from its source entity.
type Cardinality int

const (
	One  Cardinality = iota // one-to-one, does not expand rows
	Many                    // one-to-many, cardinality-expanding
)

// JoinStyle selects how a relationship's keys line up across collections.
type JoinStyle int

const (
	// BySubmission joins on the shared submission tag alone (file -> dcc).
	BySubmission JoinStyle = iota
	// ByCVTerm joins a controlled-vocabulary term on (submission, id), the id
	// coming from LocalField on the source document.
	ByCVTerm
	// ByJunction joins through an association collection keyed by the
	// composite keys of both sides.
	ByJunction
)

// Relationship is one edge of the join graph.
type Relationship struct {
	Name   string // API field name on the source entity
	Entity string // target entity, for nested field resolution
	Path   string // dotted store path of the joined document(s)
	From   string // target store collection
	Kind   Cardinality
	Style  JoinStyle
	// Requires names the relationship this one is nested under ("" = file).
	Requires string

	// ByCVTerm: source field holding the term id.
	LocalField string
	// ByJunction: junction collection and its key fields. JunctionLocal match
	// the source's (id_namespace, local_id); JunctionForeign the target's.
	Junction        string
	JunctionLocal   [2]string
	JunctionForeign [2]string
}

// Entity describes one entity type's queryable fields.
type Entity struct {
	Name string
	// Fields maps API display names to store field names.
	Fields map[string]string
	// Relationships maps API field names to outgoing edges.
	Relationships map[string]*Relationship
}

// Catalog is the full static entity graph.
type Catalog struct {
	entities map[string]*Entity
	ordered  []*Relationship
}

var def = build()

// Default returns the C2M2 catalog.
func Default() *Catalog { return def }

func cvFields() map[string]string {
	return map[string]string{
		"id":          "id",
		"name":        "name",
		"description": "description",
		"submission":  "submission",
	}
}

func build() *Catalog {
	rels := []*Relationship{
		{
			Name: "dcc", Entity: "dcc", Path: "dcc", From: model.CollDCC,
			Kind: One, Style: BySubmission,
		},
		{
			Name: "fileFormat", Entity: "file_format", Path: "file_format",
			From: model.CollFileFormat, Kind: One, Style: ByCVTerm, LocalField: "file_format",
		},
		{
			Name: "dataType", Entity: "data_type", Path: "data_type",
			From: model.CollDataType, Kind: One, Style: ByCVTerm, LocalField: "data_type",
		},
		{
			Name: "assayType", Entity: "assay_type", Path: "assay_type",
			From: model.CollAssayType, Kind: One, Style: ByCVTerm, LocalField: "assay_type",
		},
		{
			Name: "collections", Entity: "collection", Path: "collections",
			From: model.CollCollection, Kind: Many, Style: ByJunction,
			Junction:        model.CollFileInCollection,
			JunctionLocal:   [2]string{"file_id_namespace", "file_local_id"},
			JunctionForeign: [2]string{"collection_id_namespace", "collection_local_id"},
		},
		{
			Name: "biosamples", Entity: "biosample", Path: "collections.biosamples",
			From: model.CollBiosample, Kind: Many, Style: ByJunction,
			Requires:        "collections",
			Junction:        model.CollBiosampleInCollection,
			JunctionLocal:   [2]string{"collection_id_namespace", "collection_local_id"},
			JunctionForeign: [2]string{"biosample_id_namespace", "biosample_local_id"},
		},
		{
			Name: "anatomy", Entity: "anatomy", Path: "collections.biosamples.anatomy",
			From: model.CollAnatomy, Kind: One, Style: ByCVTerm,
			Requires: "biosamples", LocalField: "anatomy",
		},
	}
	byName := map[string]*Relationship{}
	for _, r := range rels {
		byName[r.Name] = r
	}

	entities := map[string]*Entity{
		"file": {
			Name: "file",
			Fields: map[string]string{
				"idNamespace":                 "id_namespace",
				"localId":                     "local_id",
				"projectIdNamespace":          "project_id_namespace",
				"projectLocalId":              "project_local_id",
				"persistentId":                "persistent_id",
				"creationTime":                "creation_time",
				"sizeInBytes":                 "size_in_bytes",
				"sha256":                      "sha256",
				"md5":                         "md5",
				"filename":                    "filename",
				"compressionFormat":           "compression_format",
				"analysisType":                "analysis_type",
				"mimeType":                    "mime_type",
				"bundleCollectionIdNamespace": "bundle_collection_id_namespace",
				"bundleCollectionLocalId":     "bundle_collection_local_id",
				"dbgapStudyId":                "dbgap_study_id",
				"accessUrl":                   "access_url",
				"status":                      "status",
				"dataAccessLevel":             "data_access_level",
				"submission":                  "submission",
			},
			Relationships: map[string]*Relationship{
				"dcc":         byName["dcc"],
				"fileFormat":  byName["fileFormat"],
				"dataType":    byName["dataType"],
				"assayType":   byName["assayType"],
				"collections": byName["collections"],
			},
		},
		"dcc": {
			Name: "dcc",
			Fields: map[string]string{
				"id":                 "id",
				"dccName":            "dcc_name",
				"dccAbbreviation":    "dcc_abbreviation",
				"dccDescription":     "dcc_description",
				"contactEmail":       "contact_email",
				"contactName":        "contact_name",
				"dccUrl":             "dcc_url",
				"projectIdNamespace": "project_id_namespace",
				"projectLocalId":     "project_local_id",
				"submission":         "submission",
			},
			Relationships: map[string]*Relationship{},
		},
		"collection": {
			Name: "collection",
			Fields: map[string]string{
				"idNamespace":  "id_namespace",
				"localId":      "local_id",
				"persistentId": "persistent_id",
				"creationTime": "creation_time",
				"abbreviation": "abbreviation",
				"name":         "name",
				"description":  "description",
				"submission":   "submission",
			},
			Relationships: map[string]*Relationship{
				"biosamples": byName["biosamples"],
			},
		},
		"biosample": {
			Name: "biosample",
			Fields: map[string]string{
				"idNamespace":        "id_namespace",
				"localId":            "local_id",
				"projectIdNamespace": "project_id_namespace",
				"projectLocalId":     "project_local_id",
				"persistentId":       "persistent_id",
				"creationTime":       "creation_time",
				"samplePrepMethod":   "sample_prep_method",
				"biofluid":           "biofluid",
				"submission":         "submission",
			},
			Relationships: map[string]*Relationship{
				"anatomy": byName["anatomy"],
			},
		},
		"file_format": {Name: "file_format", Fields: cvFields(), Relationships: map[string]*Relationship{}},
		"data_type":   {Name: "data_type", Fields: cvFields(), Relationships: map[string]*Relationship{}},
		"assay_type":  {Name: "assay_type", Fields: cvFields(), Relationships: map[string]*Relationship{}},
		"anatomy":     {Name: "anatomy", Fields: cvFields(), Relationships: map[string]*Relationship{}},
	}

	return &Catalog{entities: entities, ordered: rels}
}

// Entity returns the named entity description.
func (c *Catalog) Entity(name string) *Entity { return c.entities[name] }

// Root returns the File entity, the root of every query.
func (c *Catalog) Root() *Entity { return c.entities["file"] }

// ResolveField translates an API display field name to its store name within
// entity. fullPath is the complete dotted input path, used only for the error.
func (c *Catalog) ResolveField(entity *Entity, display, fullPath string) (string, error) {
	if store, ok := entity.Fields[display]; ok {
		return store, nil
	}
	return "", apperr.New(apperr.UnknownField, "unknown field %q", fullPath)
}

// Relationship returns the edge with the given name, or nil.
func (c *Catalog) Relationship(name string) *Relationship {
	for _, r := range c.ordered {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Relationships returns all edges in join emission order: one-to-one edges
// first, cardinality-expanding edges last, nested edges after their parents.
func (c *Catalog) Relationships() []*Relationship { return c.ordered }

// Closure expands a relationship set with every edge the members depend on,
// so a constraint on anatomy also pulls in biosamples and collections.
func (c *Catalog) Closure(names map[string]bool) map[string]bool {
	out := map[string]bool{}
	for name := range names {
		for name != "" {
			r := c.Relationship(name)
			if r == nil {
				break
			}
			out[r.Name] = true
			name = r.Requires
		}
	}
	return out
}
