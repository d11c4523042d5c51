// Package handler wires the HTTP surface: the GraphQL metadata endpoint, the
// file streaming endpoint and the sync control endpoints.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"cfdb/internal/catalog"
	"cfdb/internal/service"
	"cfdb/pkg/log"
)

// QueryHandler serves the GraphQL metadata API.
type QueryHandler struct {
	queryService service.QueryService
	cat          *catalog.Catalog
	schema       graphql.Schema
}

// NewQueryHandler creates a QueryHandler and builds its schema.
func NewQueryHandler(queryService service.QueryService, cat *catalog.Catalog) (*QueryHandler, error) {
	h := &QueryHandler{queryService: queryService, cat: cat}
	schema, err := h.buildSchema()
	if err != nil {
		return nil, err
	}
	h.schema = schema
	return h, nil
}

// graphQLRequest is the standard GraphQL-over-HTTP request envelope.
type graphQLRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// Metadata handles POST and GET GraphQL requests.
func (h *QueryHandler) Metadata(c *gin.Context) {
	var req graphQLRequest
	if c.Request.Method == http.MethodGet {
		req.Query = c.Query("query")
		req.OperationName = c.Query("operationName")
		if vars := c.Query("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "variables must be a JSON object"})
				return
			}
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid GraphQL request body"})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no query supplied"})
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        c.Request.Context(),
	})
	if len(result.Errors) > 0 {
		log.Warnf("[QueryHandler] query finished with %d error(s): %v", len(result.Errors), result.Errors[0])
	}
	c.JSON(http.StatusOK, result)
}

// jsonScalar passes filter input through untyped; the filter compiler owns
// its validation.
var jsonScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:         "Filter",
	Description:  "Arbitrary filter expression: scalars, lists (OR) and objects (AND).",
	Serialize:    func(value interface{}) interface{} { return value },
	ParseValue:   func(value interface{}) interface{} { return value },
	ParseLiteral: astToValue,
})

// longScalar carries 64-bit sizes that overflow GraphQL's Int.
var longScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Long",
	Description: "64-bit integer.",
	Serialize:   func(value interface{}) interface{} { return value },
	ParseValue:  func(value interface{}) interface{} { return value },
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if v, ok := valueAST.(*ast.IntValue); ok {
			if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
				return n
			}
		}
		return nil
	},
})

// astToValue converts a GraphQL literal into the plain JSON shape the filter
// compiler consumes.
func astToValue(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n
		}
		return v.Value
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f
		}
		return v.Value
	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, astToValue(item))
		}
		return out
	case *ast.ObjectValue:
		out := map[string]interface{}{}
		for _, f := range v.Fields {
			out[f.Name.Value] = astToValue(f.Value)
		}
		return out
	}
	return nil
}

// storeField resolves a GraphQL field from the underlying store field name.
func storeField(store string, typ graphql.Output) *graphql.Field {
	return &graphql.Field{
		Type: typ,
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			switch m := p.Source.(type) {
			case bson.M:
				return m[store], nil
			case map[string]interface{}:
				return m[store], nil
			}
			return nil, nil
		},
	}
}

func cvTermObject(name string) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: name,
		Fields: graphql.Fields{
			"id":          storeField("id", graphql.String),
			"name":        storeField("name", graphql.String),
			"description": storeField("description", graphql.String),
			"submission":  storeField("submission", graphql.String),
		},
	})
}

func (h *QueryHandler) buildSchema() (graphql.Schema, error) {
	fileFormatType := cvTermObject("FileFormat")
	dataTypeType := cvTermObject("DataType")
	assayTypeType := cvTermObject("AssayType")
	anatomyType := cvTermObject("Anatomy")

	dccType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DCC",
		Fields: graphql.Fields{
			"id":                 storeField("id", graphql.String),
			"dccName":            storeField("dcc_name", graphql.String),
			"dccAbbreviation":    storeField("dcc_abbreviation", graphql.String),
			"dccDescription":     storeField("dcc_description", graphql.String),
			"contactEmail":       storeField("contact_email", graphql.String),
			"contactName":        storeField("contact_name", graphql.String),
			"dccUrl":             storeField("dcc_url", graphql.String),
			"projectIdNamespace": storeField("project_id_namespace", graphql.String),
			"projectLocalId":     storeField("project_local_id", graphql.String),
			"submission":         storeField("submission", graphql.String),
		},
	})

	biosampleType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Biosample",
		Fields: graphql.Fields{
			"idNamespace":        storeField("id_namespace", graphql.String),
			"localId":            storeField("local_id", graphql.String),
			"projectIdNamespace": storeField("project_id_namespace", graphql.String),
			"projectLocalId":     storeField("project_local_id", graphql.String),
			"persistentId":       storeField("persistent_id", graphql.String),
			"creationTime":       storeField("creation_time", graphql.String),
			"samplePrepMethod":   storeField("sample_prep_method", graphql.String),
			"biofluid":           storeField("biofluid", graphql.String),
			"submission":         storeField("submission", graphql.String),
			"anatomy":            storeField("anatomy", anatomyType),
		},
	})

	collectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Collection",
		Fields: graphql.Fields{
			"idNamespace":  storeField("id_namespace", graphql.String),
			"localId":      storeField("local_id", graphql.String),
			"persistentId": storeField("persistent_id", graphql.String),
			"creationTime": storeField("creation_time", graphql.String),
			"abbreviation": storeField("abbreviation", graphql.String),
			"name":         storeField("name", graphql.String),
			"description":  storeField("description", graphql.String),
			"submission":   storeField("submission", graphql.String),
			"biosamples":   storeField("biosamples", graphql.NewList(biosampleType)),
		},
	})

	fileType := graphql.NewObject(graphql.ObjectConfig{
		Name: "File",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.ID,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if m, ok := p.Source.(bson.M); ok {
						if oid, ok := m["_id"].(primitive.ObjectID); ok {
							return oid.Hex(), nil
						}
						return m["_id"], nil
					}
					return nil, nil
				},
			},
			"idNamespace":                 storeField("id_namespace", graphql.String),
			"localId":                     storeField("local_id", graphql.String),
			"projectIdNamespace":          storeField("project_id_namespace", graphql.String),
			"projectLocalId":              storeField("project_local_id", graphql.String),
			"persistentId":                storeField("persistent_id", graphql.String),
			"creationTime":                storeField("creation_time", graphql.String),
			"sizeInBytes":                 storeField("size_in_bytes", longScalar),
			"sha256":                      storeField("sha256", graphql.String),
			"md5":                         storeField("md5", graphql.String),
			"filename":                    storeField("filename", graphql.String),
			"compressionFormat":           storeField("compression_format", graphql.String),
			"analysisType":                storeField("analysis_type", graphql.String),
			"mimeType":                    storeField("mime_type", graphql.String),
			"bundleCollectionIdNamespace": storeField("bundle_collection_id_namespace", graphql.String),
			"bundleCollectionLocalId":     storeField("bundle_collection_local_id", graphql.String),
			"dbgapStudyId":                storeField("dbgap_study_id", graphql.String),
			"accessUrl":                   storeField("access_url", graphql.String),
			"status":                      storeField("status", graphql.String),
			"dataAccessLevel":             storeField("data_access_level", graphql.String),
			"submission":                  storeField("submission", graphql.String),
			"dcc":                         storeField("dcc", dccType),
			"fileFormat":                  storeField("file_format", fileFormatType),
			"dataType":                    storeField("data_type", dataTypeType),
			"assayType":                   storeField("assay_type", assayTypeType),
			"collections":                 storeField("collections", graphql.NewList(collectionType)),
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"files": &graphql.Field{
				Type: graphql.NewList(fileType),
				Args: graphql.FieldConfigArgument{
					"input":    &graphql.ArgumentConfig{Type: jsonScalar},
					"filter":   &graphql.ArgumentConfig{Type: jsonScalar},
					"page":     &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"pageSize": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					page, _ := p.Args["page"].(int)
					pageSize, _ := p.Args["pageSize"].(int)
					shape := h.requestedShape(p)
					raw := p.Args["input"]
					if raw == nil {
						raw = p.Args["filter"]
					}
					return h.queryService.Files(p.Context, raw, shape, page, pageSize)
				},
			},
			"file": &graphql.Field{
				Type: fileType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					return h.queryService.File(p.Context, id, h.requestedShape(p))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
}

// requestedShape derives the relationship set to join from the query's
// selection set, so unselected relationships never cost a lookup.
func (h *QueryHandler) requestedShape(p graphql.ResolveParams) map[string]bool {
	shape := map[string]bool{}
	for _, fieldAST := range p.Info.FieldASTs {
		h.collectShape("file", fieldAST.SelectionSet, p.Info.Fragments, shape)
	}
	return shape
}

func (h *QueryHandler) collectShape(entity string, set *ast.SelectionSet, fragments map[string]ast.Definition, shape map[string]bool) {
	if set == nil {
		return
	}
	ent := h.cat.Entity(entity)
	if ent == nil {
		return
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if rel, ok := ent.Relationships[s.Name.Value]; ok {
				shape[rel.Name] = true
				h.collectShape(rel.Entity, s.SelectionSet, fragments, shape)
			}
		case *ast.InlineFragment:
			h.collectShape(entity, s.SelectionSet, fragments, shape)
		case *ast.FragmentSpread:
			if def, ok := fragments[s.Name.Value]; ok {
				h.collectShape(entity, def.GetSelectionSet(), fragments, shape)
			}
		}
	}
}
